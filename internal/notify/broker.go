package notify

import (
	"context"
	"encoding/json"
	"sync"

	"arenabot/internal/session"
)

// Broker is an in-process pub/sub for SSE subscribers, keyed by arena.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan []byte]struct{})}
}

// Subscribe returns a channel that receives JSON-encoded events for arenaID.
func (b *Broker) Subscribe(arenaID string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[arenaID] == nil {
		b.subs[arenaID] = make(map[chan []byte]struct{})
	}
	b.subs[arenaID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(arenaID string, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[arenaID], ch)
	if len(b.subs[arenaID]) == 0 {
		delete(b.subs, arenaID)
	}
	b.mu.Unlock()
}

func (b *Broker) Subscribers(arenaID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[arenaID])
}

// Announce publishes ev to the arena's subscribers. Slow subscribers miss
// events rather than stall the publisher.
func (b *Broker) Announce(ctx context.Context, ev session.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b.mu.RLock()
	for ch := range b.subs[ev.ArenaID] {
		select {
		case ch <- data:
		default:
		}
	}
	b.mu.RUnlock()
	return nil
}
