package games

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"arenabot/internal/ledger"
	"arenabot/internal/session"
)

type arena struct {
	engine *session.Engine
	clock  *session.ManualClock
	ledger *ledger.Memory
	s      *session.Session
}

func startArena(t *testing.T, game string, players ...string) *arena {
	t.Helper()
	ctx := context.Background()
	clock := session.NewManualClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	mem := ledger.NewMemory()
	e := session.NewEngine(mem, All(),
		session.WithClock(clock),
		session.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		session.WithSeed(func() int64 { return 42 }),
	)
	cfg := session.Config{
		EntryFee:           100,
		MinParticipants:    2,
		MaxParticipants:    len(players),
		RegistrationWindow: time.Minute,
		ConfirmationWindow: time.Minute,
		TickInterval:       10 * time.Second,
		ActiveBudget:       5 * time.Minute,
	}
	if _, err := e.Create(ctx, "chat", game, cfg); err != nil {
		t.Fatalf("create: %v", err)
	}
	s, _ := e.Registry().Get("chat")
	for _, p := range players {
		if _, err := mem.Grant(ctx, p, 100, "seed:"+p); err != nil {
			t.Fatalf("grant: %v", err)
		}
		if _, err := e.Submit(ctx, "chat", session.Action{Kind: session.ActionJoin, PlayerID: p}); err != nil {
			t.Fatalf("join %s: %v", p, err)
		}
	}
	for _, p := range players {
		if _, err := e.Submit(ctx, "chat", session.Action{Kind: session.ActionConfirm, PlayerID: p}); err != nil {
			t.Fatalf("confirm %s: %v", p, err)
		}
	}
	if got := s.View().Phase; got != session.PhaseActive {
		t.Fatalf("phase %s want active", got)
	}
	return &arena{engine: e, clock: clock, ledger: mem, s: s}
}

func (a *arena) act(playerID, raw string) error {
	_, err := a.engine.Submit(context.Background(), "chat", session.Action{
		Kind:     session.ActionPlay,
		PlayerID: playerID,
		Payload:  json.RawMessage(raw),
	})
	return err
}

func (a *arena) total(t *testing.T, players ...string) int64 {
	t.Helper()
	var sum int64
	for _, p := range players {
		b, err := a.ledger.Balance(context.Background(), p)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		sum += b
	}
	return sum
}

func TestAllNames(t *testing.T) {
	want := map[string]bool{"royale": true, "battle": true, "mission": true}
	for _, g := range All() {
		if !want[g.Name()] {
			t.Fatalf("unexpected game %q", g.Name())
		}
		delete(want, g.Name())
	}
	if len(want) != 0 {
		t.Fatalf("missing games %v", want)
	}
}

func TestDecodeMove(t *testing.T) {
	if _, err := decodeMove(nil); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("empty payload got %v", err)
	}
	if _, err := decodeMove(json.RawMessage(`{`)); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("broken json got %v", err)
	}
	m, err := decodeMove(json.RawMessage(`{"move":" Attack ","target":" bob "}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Move != "attack" || m.Target != "bob" {
		t.Fatalf("got %+v", m)
	}
}

func TestRoyaleShieldAndLastStanding(t *testing.T) {
	players := []string{"a", "b", "c"}
	a := startArena(t, "royale", players...)

	if err := a.act("a", `{"move":"shield"}`); err != nil {
		t.Fatalf("shield: %v", err)
	}
	if err := a.act("a", `{"move":"shield"}`); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("second shield got %v", err)
	}
	if err := a.act("b", `{"move":"dance"}`); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("unknown move got %v", err)
	}

	a.clock.Advance(10 * time.Second)
	if p, _ := a.s.Participant("a"); p.Eliminated {
		t.Fatalf("shielded player was eliminated")
	}
	if got := len(a.s.View().Participants); got != 3 {
		t.Fatalf("participants %d", got)
	}

	a.clock.Advance(10 * time.Second)
	v := a.s.View()
	if v.Phase != session.PhaseClosed {
		t.Fatalf("phase %s want closed", v.Phase)
	}
	winners := 0
	for _, p := range players {
		b, _ := a.ledger.Balance(context.Background(), p)
		if b == 300 {
			winners++
		} else if b != 0 {
			t.Fatalf("%s balance %d", p, b)
		}
	}
	if winners != 1 {
		t.Fatalf("winners %d want 1", winners)
	}
}

func TestBattleKnockoutPaysTopTwo(t *testing.T) {
	a := startArena(t, "battle", "a", "b")

	if err := a.act("a", `{"move":"attack","target":"a"}`); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("self attack got %v", err)
	}
	if err := a.act("a", `{"move":"attack","target":"zed"}`); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("unknown target got %v", err)
	}

	for i := 0; i < 20 && a.s.View().Phase == session.PhaseActive; i++ {
		if err := a.act("a", `{"move":"attack","target":"b"}`); err != nil {
			t.Fatalf("attack %d: %v", i, err)
		}
	}
	if got := a.s.View().Phase; got != session.PhaseClosed {
		t.Fatalf("phase %s want closed", got)
	}
	winner, _ := a.ledger.Balance(context.Background(), "a")
	loser, _ := a.ledger.Balance(context.Background(), "b")
	if winner+loser != 200 {
		t.Fatalf("paid %d want 200", winner+loser)
	}
	if winner != 134 || loser != 66 {
		t.Fatalf("winner=%d loser=%d want 134/66", winner, loser)
	}
}

func TestBattleRegenCapped(t *testing.T) {
	a := startArena(t, "battle", "a", "b", "c")
	if err := a.act("a", `{"move":"attack","target":"b"}`); err != nil {
		t.Fatalf("attack: %v", err)
	}
	a.clock.Advance(10 * time.Second)
	st := battle(a.s)
	if st.hp["a"] != battleMaxHP {
		t.Fatalf("untouched fighter at %d HP", st.hp["a"])
	}
	if st.hp["b"] >= battleMaxHP || st.hp["b"] < battleMaxHP-battleMaxDamage+battleRegen {
		t.Fatalf("damaged fighter at %d HP", st.hp["b"])
	}
}

func TestBattleOutcomeRanking(t *testing.T) {
	a := startArena(t, "battle", "a", "b", "c", "d")
	st := battle(a.s)
	st.hp["a"], st.hp["b"] = 40, 90
	a.s.Eliminate("c")
	a.s.Eliminate("d")
	st.out = []string{"d", "c"}

	out := Battle{}.Outcome(a.s)
	want := []string{"b", "a", "c"}
	if len(out.Winners) != 3 {
		t.Fatalf("winners %v", out.Winners)
	}
	for i := range want {
		if out.Winners[i] != want[i] {
			t.Fatalf("winners %v want %v", out.Winners, want)
		}
	}
	if out.Shares[0] != 60 || out.Shares[2] != 10 {
		t.Fatalf("shares %v", out.Shares)
	}
}

func TestMissionOneAdvancePerRound(t *testing.T) {
	a := startArena(t, "mission", "a", "b")
	if err := a.act("a", `{"move":"advance"}`); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := a.act("a", `{"move":"advance"}`); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("second advance got %v", err)
	}
	if err := a.act("b", `{"move":"attack"}`); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("wrong move got %v", err)
	}
}

func TestMissionRunsToEndAndConserves(t *testing.T) {
	players := []string{"a", "b", "c"}
	a := startArena(t, "mission", players...)
	for round := 0; round < 40 && a.s.View().Phase == session.PhaseActive; round++ {
		for _, p := range players {
			err := a.act(p, `{"move":"advance"}`)
			if err != nil && !errors.Is(err, session.ErrNotEligible) && !errors.Is(err, session.ErrWrongPhase) && !errors.Is(err, session.ErrNoActiveSession) {
				t.Fatalf("advance %s: %v", p, err)
			}
		}
		a.clock.Advance(10 * time.Second)
	}
	if got := a.s.View().Phase; got != session.PhaseClosed {
		t.Fatalf("phase %s want closed", got)
	}
	if got := a.total(t, players...); got != 300 {
		t.Fatalf("balances total %d want 300", got)
	}
}

func TestMissionFailureHasNoWinners(t *testing.T) {
	a := startArena(t, "mission", "a", "b")
	a.s.Eliminate("a")
	a.s.Eliminate("b")
	if !(Mission{}).IsTerminal(a.s) {
		t.Fatalf("wiped out crew should end the mission")
	}
	if out := (Mission{}).Outcome(a.s); len(out.Winners) != 0 {
		t.Fatalf("failed mission has winners %v", out.Winners)
	}
}
