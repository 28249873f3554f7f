package session

import (
	"context"
	"encoding/json"
	"time"
)

// Outcome names the winners of a finished session. Shares are relative
// weights aligned with Winners; an empty Shares means an equal split.
type Outcome struct {
	Winners []string `json:"winners"`
	Shares  []int64  `json:"shares,omitempty"`
}

// Game is implemented by every concrete mini-game. All methods are called
// with the session lock held and must not block.
type Game interface {
	Name() string
	ApplyAction(s *Session, playerID string, payload json.RawMessage) ([]string, error)
	Tick(s *Session) []string
	IsTerminal(s *Session) bool
	Outcome(s *Session) Outcome
}

// Starter is an optional Game hook run when a session enters Active.
type Starter interface {
	Start(s *Session) []string
}

// Accounts is the ledger port. Debit must fail with an error wrapping
// ErrInsufficientFunds when the balance cannot cover amount. ref is unique
// per money movement so a replayed call has no second effect.
type Accounts interface {
	Debit(ctx context.Context, playerID string, amount int64, ref string) error
	Credit(ctx context.Context, playerID string, amount int64, ref string) error
}

type Failure struct {
	ArenaID   string `json:"arena_id"`
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
	Amount    int64  `json:"amount"`
	Pot       int64  `json:"pot"`
	Reason    string `json:"reason"`
	Ref       string `json:"ref"`
	Error     string `json:"error"`
}

// Reconciler stores money movements that failed and need a human.
type Reconciler interface {
	RecordFailure(ctx context.Context, f Failure) error
}

type Event struct {
	ArenaID   string    `json:"arena_id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	Version   uint64    `json:"version"`
	At        time.Time `json:"at"`
}

type Announcer interface {
	Announce(ctx context.Context, ev Event) error
}
