package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arenabot/internal/session"
)

var (
	ErrInsufficientFunds = fmt.Errorf("ledger: %w", session.ErrInsufficientFunds)
	ErrInvalidAmount     = errors.New("amount must be > 0")
	ErrInvalidRef        = errors.New("reference is required")
	ErrTxConflict        = errors.New("transaction conflict, retry")
	ErrNotFound          = errors.New("reconciliation item not found")
)

// Store is the full ledger surface used by the API and the worker. The
// engine only needs the session.Accounts and session.Reconciler parts.
type Store interface {
	session.Accounts
	session.Reconciler
	Grant(ctx context.Context, playerID string, amount int64, ref string) (int64, error)
	Balance(ctx context.Context, playerID string) (int64, error)
	OpenFailures(ctx context.Context, limit int) ([]FailureRecord, error)
	ResolveFailure(ctx context.Context, id int64, note string) error
	PruneIdempotency(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Entry struct {
	TxGroupID string    `json:"tx_group_id"`
	PlayerID  string    `json:"player_id"`
	Account   string    `json:"account"`
	Delta     int64     `json:"delta"`
	Action    string    `json:"action"`
	Ref       string    `json:"ref"`
	CreatedAt time.Time `json:"created_at"`
}

type FailureRecord struct {
	ID int64 `json:"id"`
	session.Failure
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Resolution string     `json:"resolution,omitempty"`
}

// Summary totals the open reconciliation items.
func Summary(items []FailureRecord) (count int, amount int64) {
	for _, it := range items {
		if it.ResolvedAt != nil {
			continue
		}
		count++
		amount += it.Amount
	}
	return count, amount
}

func validate(playerID string, amount int64, ref string) (string, string, error) {
	playerID = strings.TrimSpace(playerID)
	ref = strings.TrimSpace(ref)
	if playerID == "" {
		return "", "", fmt.Errorf("player id is required")
	}
	if amount <= 0 {
		return "", "", ErrInvalidAmount
	}
	if ref == "" {
		return "", "", ErrInvalidRef
	}
	return playerID, ref, nil
}
