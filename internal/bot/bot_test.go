package bot

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"arenabot/internal/games"
	"arenabot/internal/ledger"
	"arenabot/internal/notify"
	"arenabot/internal/session"
)

func newCommands(t *testing.T) (*Commands, *session.ManualClock, *ledger.Memory, *session.Engine) {
	t.Helper()
	clock := session.NewManualClock(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))
	mem := ledger.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := session.NewEngine(mem, games.All(), session.WithClock(clock), session.WithLogger(logger))
	defaults := session.Config{
		EntryFee:           50,
		MinParticipants:    2,
		MaxParticipants:    8,
		RegistrationWindow: time.Minute,
		ConfirmationWindow: time.Minute,
		TickInterval:       10 * time.Second,
		ActiveBudget:       5 * time.Minute,
	}
	for _, p := range []string{"discord:1", "discord:2"} {
		if _, err := mem.Grant(context.Background(), p, 100, "seed:"+p); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}
	return New(e, mem, defaults, "royale", []string{"discord:1"}, logger), clock, mem, e
}

func msg(player, name, text string) notify.Message {
	return notify.Message{ArenaID: "discord:chan", PlayerID: player, DisplayName: name, Text: text, MessageID: text + player}
}

func TestCommandsFlow(t *testing.T) {
	c, clock, mem, e := newCommands(t)
	ctx := context.Background()

	if got := c.Handle(ctx, msg("discord:1", "ann", "hello there")); got != "" {
		t.Fatalf("plain chat got reply %q", got)
	}
	if got := c.Handle(ctx, msg("discord:1", "ann", "!status")); !strings.Contains(got, "no game running") {
		t.Fatalf("status without game: %q", got)
	}
	if got := c.Handle(ctx, msg("discord:1", "ann", "!arena battle 20")); got != "" {
		t.Fatalf("create: %q", got)
	}
	v, err := e.Snapshot("discord:chan")
	if err != nil || v.Game != "battle" || v.EntryFee != 20 {
		t.Fatalf("snapshot %+v, %v", v, err)
	}
	if got := c.Handle(ctx, msg("discord:1", "ann", "!arena")); !strings.Contains(got, "already running") {
		t.Fatalf("second create: %q", got)
	}

	c.Handle(ctx, msg("discord:1", "ann", "!join"))
	c.Handle(ctx, msg("discord:2", "bo", "!join"))
	if got := c.Handle(ctx, msg("discord:2", "bo", "!join")); got != "you already joined" {
		t.Fatalf("double join: %q", got)
	}
	if got := c.Handle(ctx, msg("discord:2", "bo", "!confirm")); got != "that is not possible right now" {
		t.Fatalf("early confirm: %q", got)
	}
	if got := c.Handle(ctx, msg("discord:2", "bo", "!status")); !strings.Contains(got, "registration") || !strings.Contains(got, "- bo (waiting)") {
		t.Fatalf("status: %q", got)
	}

	clock.Advance(time.Minute)
	c.Handle(ctx, msg("discord:1", "ann", "!confirm"))
	c.Handle(ctx, msg("discord:2", "bo", "!confirm"))
	if v, _ := e.Snapshot("discord:chan"); v.Phase != session.PhaseActive {
		t.Fatalf("phase %s want active", v.Phase)
	}

	if got := c.Handle(ctx, msg("discord:1", "ann", "!attack nobody")); !strings.Contains(got, "no player named") {
		t.Fatalf("attack unknown: %q", got)
	}
	if got := c.Handle(ctx, msg("discord:1", "ann", "!attack @Bo")); got != "" {
		t.Fatalf("attack: %q", got)
	}
	if got := c.Handle(ctx, msg("discord:2", "bo", "!abort")); !strings.Contains(got, "only arena admins") {
		t.Fatalf("non-admin abort: %q", got)
	}
	if got := c.Handle(ctx, msg("discord:1", "ann", "!abort")); got != "" {
		t.Fatalf("admin abort: %q", got)
	}
	if _, err := e.Snapshot("discord:chan"); err == nil {
		t.Fatalf("session still live after abort")
	}

	a, _ := mem.Balance(ctx, "discord:1")
	b, _ := mem.Balance(ctx, "discord:2")
	if a+b != 200 {
		t.Fatalf("balances %d + %d want 200", a, b)
	}
	if got := c.Handle(ctx, msg("discord:1", "ann", "!balance")); !strings.Contains(got, "your balance is") {
		t.Fatalf("balance: %q", got)
	}
}

func TestCommandsUnknownGame(t *testing.T) {
	c, _, _, _ := newCommands(t)
	got := c.Handle(context.Background(), msg("discord:1", "ann", "!arena chess"))
	if !strings.Contains(got, "unknown game") {
		t.Fatalf("got %q", got)
	}
	if got := c.Handle(context.Background(), msg("discord:1", "ann", "!games")); !strings.Contains(got, "mission") {
		t.Fatalf("games: %q", got)
	}
}
