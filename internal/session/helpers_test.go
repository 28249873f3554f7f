package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

type fakeAccounts struct {
	mu         sync.Mutex
	balances   map[string]int64
	refs       map[string]struct{}
	credits    []Credit
	debits     int
	failCredit map[string]bool
	failures   []Failure

	// when set, Debit signals entered and waits on release
	entered chan string
	release chan struct{}
}

func newFakeAccounts(balances map[string]int64) *fakeAccounts {
	return &fakeAccounts{
		balances:   balances,
		refs:       make(map[string]struct{}),
		failCredit: make(map[string]bool),
	}
}

func (f *fakeAccounts) Debit(ctx context.Context, playerID string, amount int64, ref string) error {
	if f.entered != nil {
		f.entered <- playerID
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.refs[ref]; ok {
		return nil
	}
	if f.balances[playerID] < amount {
		return fmt.Errorf("debit %s: %w", playerID, ErrInsufficientFunds)
	}
	f.refs[ref] = struct{}{}
	f.balances[playerID] -= amount
	f.debits++
	return nil
}

func (f *fakeAccounts) Credit(ctx context.Context, playerID string, amount int64, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCredit[playerID] {
		return errors.New("ledger unavailable")
	}
	if _, ok := f.refs[ref]; ok {
		return nil
	}
	f.refs[ref] = struct{}{}
	f.balances[playerID] += amount
	f.credits = append(f.credits, Credit{PlayerID: playerID, Amount: amount, Ref: ref})
	return nil
}

func (f *fakeAccounts) RecordFailure(ctx context.Context, fl Failure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, fl)
	return nil
}

func (f *fakeAccounts) balance(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[id]
}

func (f *fakeAccounts) creditTotal() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, c := range f.credits {
		total += c.Amount
	}
	return total
}

func (f *fakeAccounts) creditCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.credits)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Announce(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

// duel ends when a player sends {"win": true}; anything else just counts.
type duel struct {
	mu      sync.Mutex
	applied int
}

type duelState struct {
	winner string
	ticks  int
}

func (d *duel) Name() string { return "duel" }

func (d *duel) Start(s *Session) []string {
	s.State = &duelState{}
	return []string{"fight"}
}

func (d *duel) ApplyAction(s *Session, playerID string, payload json.RawMessage) ([]string, error) {
	var req struct {
		Win bool `json:"win"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("%w: bad payload", ErrUnknownAction)
		}
	}
	d.mu.Lock()
	d.applied++
	d.mu.Unlock()
	if req.Win {
		s.State.(*duelState).winner = playerID
		return []string{playerID + " wins"}, nil
	}
	return []string{playerID + " swings"}, nil
}

func (d *duel) Tick(s *Session) []string {
	s.State.(*duelState).ticks++
	return nil
}

func (d *duel) IsTerminal(s *Session) bool {
	st, ok := s.State.(*duelState)
	return ok && st.winner != ""
}

func (d *duel) Outcome(s *Session) Outcome {
	st, ok := s.State.(*duelState)
	if !ok || st.winner == "" {
		return Outcome{}
	}
	return Outcome{Winners: []string{st.winner}}
}

func (d *duel) appliedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applied
}

// leakyClock hands out timers whose Stop never cancels anything, so only
// the engine's own staleness checks stand between a late callback and the
// session.
type leakyClock struct {
	*ManualClock
}

type leakyTimer struct{ Timer }

func (leakyTimer) Stop() bool { return false }

func (c leakyClock) AfterFunc(d time.Duration, f func()) Timer {
	return leakyTimer{c.ManualClock.AfterFunc(d, f)}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(accounts Accounts, clock Clock, opts ...Option) (*Engine, *duel) {
	g := &duel{}
	n := 0
	base := []Option{
		WithClock(clock),
		WithLogger(quietLogger()),
		WithSeed(func() int64 { return 7 }),
		WithIDs(func() string { n++; return fmt.Sprintf("s%d", n) }),
	}
	return NewEngine(accounts, []Game{g}, append(base, opts...)...), g
}

func testConfig() Config {
	return Config{
		EntryFee:           100,
		MinParticipants:    2,
		MaxParticipants:    4,
		RegistrationWindow: time.Minute,
		ConfirmationWindow: time.Minute,
		TickInterval:       10 * time.Second,
		ActiveBudget:       5 * time.Minute,
	}
}

func join(t *testing.T, e *Engine, arena string, players ...string) {
	t.Helper()
	for _, p := range players {
		if _, err := e.Submit(context.Background(), arena, Action{Kind: ActionJoin, PlayerID: p}); err != nil {
			t.Fatalf("join %s: %v", p, err)
		}
	}
}

func confirm(t *testing.T, e *Engine, arena string, players ...string) {
	t.Helper()
	for _, p := range players {
		if _, err := e.Submit(context.Background(), arena, Action{Kind: ActionConfirm, PlayerID: p}); err != nil {
			t.Fatalf("confirm %s: %v", p, err)
		}
	}
}

func mustSession(t *testing.T, e *Engine, arena string) *Session {
	t.Helper()
	s, ok := e.Registry().Get(arena)
	if !ok {
		t.Fatalf("no session in %s", arena)
	}
	return s
}

// validHistory reports whether h is a prefix of the happy path, or a
// registration/confirmation prefix ending in Cancelled.
func validHistory(h []Phase) bool {
	happy := []Phase{PhaseRegistration, PhaseConfirmation, PhaseActive, PhaseSettlement, PhaseClosed}
	for i, p := range h {
		if p == PhaseCancelled {
			return i == len(h)-1 && i >= 1 && i <= 2
		}
		if i >= len(happy) || happy[i] != p {
			return false
		}
	}
	return len(h) > 0
}
