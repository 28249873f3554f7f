package notify

import (
	"context"
	"fmt"

	"arenabot/internal/session"
)

// Message is one inbound chat line from a player.
type Message struct {
	ArenaID     string
	PlayerID    string
	DisplayName string
	Text        string
	MessageID   string
}

// MessageHandler turns a chat line into an optional reply.
type MessageHandler func(ctx context.Context, m Message) string

func formatEvent(ev session.Event) string {
	switch ev.Kind {
	case "session_created", "confirmation_open", "round_started", "settlement", "cancelled":
		return fmt.Sprintf("**%s**", ev.Text)
	default:
		return ev.Text
	}
}
