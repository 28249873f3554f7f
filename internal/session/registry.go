package session

import (
	"sort"
	"sync"
)

// Registry maps an arena to its single live session. The lock is only held
// for map operations, never while a session is being mutated.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create inserts s unless the arena already has a live session.
func (r *Registry) Create(arenaID string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[arenaID]; ok {
		return ErrAlreadyActive
	}
	r.sessions[arenaID] = s
	return nil
}

func (r *Registry) Get(arenaID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[arenaID]
	return s, ok
}

// Remove is idempotent.
func (r *Registry) Remove(arenaID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, arenaID)
}

// release removes the arena entry only if it still points at s, so a late
// cleanup can never evict a newer session in the same arena.
func (r *Registry) release(arenaID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[arenaID]; ok && cur == s {
		delete(r.sessions, arenaID)
		return true
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns live sessions ordered by arena id.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ArenaID < out[j].ArenaID })
	return out
}
