package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"arenabot/internal/session"
)

type captureSink struct {
	mu     sync.Mutex
	events []session.Event
	err    error
}

func (c *captureSink) Announce(ctx context.Context, ev session.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return c.err
}

func (c *captureSink) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Kind)
	}
	return out
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMultiDeliversToEverySink(t *testing.T) {
	boom := errors.New("boom")
	failing := &captureSink{err: boom}
	ok := &captureSink{}
	err := Multi{failing, nil, ok}.Announce(context.Background(), session.Event{Kind: "payout"})
	if !errors.Is(err, boom) {
		t.Fatalf("err %v want boom", err)
	}
	if len(ok.kinds()) != 1 || len(failing.kinds()) != 1 {
		t.Fatalf("every sink should see the event: ok=%v failing=%v", ok.kinds(), failing.kinds())
	}
}

func TestQueueDrainsInOrderOnShutdown(t *testing.T) {
	sink := &captureSink{}
	q := NewQueue(sink, 3, quiet())
	for _, kind := range []string{"a", "b", "c"} {
		if err := q.Announce(context.Background(), session.Event{Kind: kind}); err != nil {
			t.Fatalf("announce %s: %v", kind, err)
		}
	}
	if err := q.Announce(context.Background(), session.Event{Kind: "d"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("fourth event err %v want ErrQueueFull", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := sink.kinds()
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("delivered %v", got)
	}
}

func TestBrokerScopesByArena(t *testing.T) {
	b := NewBroker()
	one := b.Subscribe("discord:1")
	two := b.Subscribe("discord:2")
	if b.Subscribers("discord:1") != 1 {
		t.Fatalf("subscribers %d", b.Subscribers("discord:1"))
	}

	if err := b.Announce(context.Background(), session.Event{ArenaID: "discord:1", Kind: "player_joined", Version: 4}); err != nil {
		t.Fatalf("announce: %v", err)
	}
	select {
	case data := <-one:
		var ev session.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Version != 4 {
			t.Fatalf("event %+v, %v", ev, err)
		}
	default:
		t.Fatalf("subscriber of discord:1 got nothing")
	}
	select {
	case <-two:
		t.Fatalf("discord:2 must not see discord:1 events")
	default:
	}

	b.Unsubscribe("discord:1", one)
	if b.Subscribers("discord:1") != 0 {
		t.Fatalf("unsubscribe left %d", b.Subscribers("discord:1"))
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("discord:1")
	for i := 0; i < cap(ch)+5; i++ {
		if err := b.Announce(context.Background(), session.Event{ArenaID: "discord:1"}); err != nil {
			t.Fatalf("announce: %v", err)
		}
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffered %d want %d", len(ch), cap(ch))
	}
}

func TestFormatEvent(t *testing.T) {
	if got := formatEvent(session.Event{Kind: "cancelled", Text: "session cancelled"}); got != "**session cancelled**" {
		t.Fatalf("got %q", got)
	}
	if got := formatEvent(session.Event{Kind: "game", Text: "ann shields"}); got != "ann shields" {
		t.Fatalf("got %q", got)
	}
}
