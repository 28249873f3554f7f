package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"arenabot/internal/session"
)

// Memory keeps balances in process. Balances are lost on restart.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	balances map[string]int64
	refs     map[string]time.Time
	entries  []Entry
	failures []FailureRecord
}

func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		balances: make(map[string]int64),
		refs:     make(map[string]time.Time),
	}
}

func (m *Memory) Debit(ctx context.Context, playerID string, amount int64, ref string) error {
	playerID, ref, err := validate(playerID, amount, ref)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refs[ref]; ok {
		return nil
	}
	if m.balances[playerID] < amount {
		return ErrInsufficientFunds
	}
	m.refs[ref] = m.now()
	m.balances[playerID] -= amount
	m.appendLocked(playerID, "debit", ref, -amount)
	return nil
}

func (m *Memory) Credit(ctx context.Context, playerID string, amount int64, ref string) error {
	_, err := m.credit(playerID, amount, ref, "credit")
	return err
}

func (m *Memory) Grant(ctx context.Context, playerID string, amount int64, ref string) (int64, error) {
	return m.credit(playerID, amount, ref, "grant")
}

func (m *Memory) credit(playerID string, amount int64, ref, action string) (int64, error) {
	playerID, ref, err := validate(playerID, amount, ref)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refs[ref]; ok {
		return m.balances[playerID], nil
	}
	m.refs[ref] = m.now()
	m.balances[playerID] += amount
	m.appendLocked(playerID, action, ref, amount)
	return m.balances[playerID], nil
}

func (m *Memory) appendLocked(playerID, action, ref string, delta int64) {
	group := uuid.NewString()
	at := m.now()
	m.entries = append(m.entries,
		Entry{TxGroupID: group, PlayerID: playerID, Account: "wallet", Delta: delta, Action: action, Ref: ref, CreatedAt: at},
		Entry{TxGroupID: group, PlayerID: playerID, Account: "arena", Delta: -delta, Action: action, Ref: ref, CreatedAt: at},
	)
}

func (m *Memory) Balance(ctx context.Context, playerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[strings.TrimSpace(playerID)], nil
}

// Entries returns a copy of the journal.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

func (m *Memory) RecordFailure(ctx context.Context, f session.Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, FailureRecord{
		ID:        int64(len(m.failures) + 1),
		Failure:   f,
		CreatedAt: m.now(),
	})
	return nil
}

func (m *Memory) OpenFailures(ctx context.Context, limit int) ([]FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FailureRecord, 0)
	for _, f := range m.failures {
		if f.ResolvedAt == nil {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ResolveFailure(ctx context.Context, id int64, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.failures {
		f := &m.failures[i]
		if f.ID != id || f.ResolvedAt != nil {
			continue
		}
		at := m.now()
		f.ResolvedAt = &at
		f.Resolution = strings.TrimSpace(note)
		return nil
	}
	return ErrNotFound
}

func (m *Memory) PruneIdempotency(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-olderThan)
	var n int64
	for ref, at := range m.refs {
		if at.Before(cutoff) {
			delete(m.refs, ref)
			n++
		}
	}
	return n, nil
}
