package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	cl "arenabot/internal/cli"
	"arenabot/internal/session"

	tea "github.com/charmbracelet/bubbletea"
)

func TestWatchModelTracksSnapshotsAndEvents(t *testing.T) {
	view := session.View{
		ArenaID: "discord:1", Game: "royale", Phase: session.PhaseActive, Version: 7, Pot: 300, EntryFee: 100, Min: 2, Max: 4,
		Participants: []session.ParticipantView{
			{PlayerID: "discord:a", DisplayName: "ann", Confirmed: true},
			{PlayerID: "discord:b", DisplayName: "bo", Confirmed: true, Eliminated: true},
		},
	}
	m := newWatchModel(context.Background(), "discord:1", func(context.Context) (session.View, error) { return view, nil })

	next, _ := m.Update(snapshotMsg{view: view})
	m = next.(watchModel)
	out := m.View()
	for _, want := range []string{"ROYALE", "v7", "pot 300", "ann", "out"} {
		if !strings.Contains(out, want) {
			t.Fatalf("view missing %q:\n%s", want, out)
		}
	}

	for i := 0; i < watchLogSize+3; i++ {
		next, cmd := m.Update(eventMsg(session.Event{Kind: "game", Text: "tick", At: time.Now()}))
		m = next.(watchModel)
		if cmd == nil {
			t.Fatalf("event should trigger a refresh")
		}
	}
	if len(m.log) != watchLogSize {
		t.Fatalf("log size %d want %d", len(m.log), watchLogSize)
	}

	next, _ = m.Update(snapshotMsg{err: &cl.APIError{Status: 404, Message: "no active session"}})
	m = next.(watchModel)
	if m.view != nil || m.status != "waiting for a session" {
		t.Fatalf("after 404 view=%v status=%q", m.view, m.status)
	}

	next, cmd := m.Update(streamEndedMsg{err: errors.New("gone")})
	m = next.(watchModel)
	if m.err == nil || cmd == nil {
		t.Fatalf("stream end should record the error and quit")
	}
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); cmd == nil {
		t.Fatalf("q should quit")
	}
}

func TestComma(t *testing.T) {
	tests := map[int64]string{0: "0", 999: "999", 1000: "1,000", -1234567: "-1,234,567", 100000: "100,000"}
	for in, want := range tests {
		if got := comma(in); got != want {
			t.Fatalf("comma(%d) = %q want %q", in, got, want)
		}
	}
}
