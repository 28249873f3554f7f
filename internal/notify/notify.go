package notify

import (
	"context"
	"errors"
	"log/slog"

	"arenabot/internal/session"
)

var ErrQueueFull = errors.New("announce queue full")

// Log writes every event to the structured log.
type Log struct {
	log *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{log: logger}
}

func (l *Log) Announce(ctx context.Context, ev session.Event) error {
	l.log.Info("announce", "arena_id", ev.ArenaID, "session_id", ev.SessionID, "kind", ev.Kind, "version", ev.Version, "text", ev.Text)
	return nil
}

// Multi fans an event out to every sink. One failing sink does not stop
// the others; the errors are joined.
type Multi []session.Announcer

func (m Multi) Announce(ctx context.Context, ev session.Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Announce(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Queue decouples slow chat sinks from the engine. Events are delivered
// in the order they were queued by a single Run loop.
type Queue struct {
	next session.Announcer
	log  *slog.Logger
	ch   chan session.Event
}

func NewQueue(next session.Announcer, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{next: next, log: logger, ch: make(chan session.Event, size)}
}

// Announce never blocks; when the buffer is full the event is dropped.
func (q *Queue) Announce(ctx context.Context, ev session.Event) error {
	select {
	case q.ch <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is done, then drains what is left.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-q.ch:
			q.deliver(ctx, ev)
		case <-ctx.Done():
			drain := context.WithoutCancel(ctx)
			for {
				select {
				case ev := <-q.ch:
					q.deliver(drain, ev)
				default:
					return nil
				}
			}
		}
	}
}

func (q *Queue) deliver(ctx context.Context, ev session.Event) {
	if err := q.next.Announce(ctx, ev); err != nil {
		q.log.Warn("announce delivery failed", "arena_id", ev.ArenaID, "kind", ev.Kind, "err", err)
	}
}
