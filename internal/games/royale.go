package games

import (
	"encoding/json"
	"fmt"
	"strings"

	"arenabot/internal/session"
)

// Royale knocks out one random player per tick until one is left.
// A player may raise a shield once, which protects them on the next tick.
type Royale struct{}

type royaleState struct {
	shielded   map[string]bool
	shieldUsed map[string]bool
	out        []string
}

func (Royale) Name() string { return "royale" }

func (Royale) Start(s *session.Session) []string {
	s.State = &royaleState{
		shielded:   make(map[string]bool),
		shieldUsed: make(map[string]bool),
	}
	return []string{fmt.Sprintf("%d fighters enter the ring, one falls every round", len(s.Alive()))}
}

func royale(s *session.Session) *royaleState {
	st, _ := s.State.(*royaleState)
	return st
}

func (Royale) ApplyAction(s *session.Session, playerID string, payload json.RawMessage) ([]string, error) {
	m, err := decodeMove(payload)
	if err != nil {
		return nil, err
	}
	st := royale(s)
	switch m.Move {
	case "shield":
		if st.shieldUsed[playerID] {
			return nil, fmt.Errorf("%w: shield already used", ErrInvalidMove)
		}
		st.shieldUsed[playerID] = true
		st.shielded[playerID] = true
		return []string{name(s, playerID) + " raises a shield"}, nil
	default:
		return nil, fmt.Errorf("%w: royale knows only \"shield\", got %q", ErrInvalidMove, m.Move)
	}
}

func (Royale) Tick(s *session.Session) []string {
	st := royale(s)
	alive := aliveIDs(s)
	if len(alive) <= 1 {
		return nil
	}
	exposed := make([]string, 0, len(alive))
	var saved []string
	for _, id := range alive {
		if st.shielded[id] {
			saved = append(saved, name(s, id))
			continue
		}
		exposed = append(exposed, id)
	}
	st.shielded = make(map[string]bool)

	var notes []string
	if len(saved) > 0 {
		notes = append(notes, "shielded this round: "+strings.Join(saved, ", "))
	}
	id, ok := eliminateRandom(s, exposed)
	if !ok {
		return append(notes, "everyone hid behind a shield, nobody falls")
	}
	st.out = append(st.out, id)
	return append(notes, fmt.Sprintf("%s is eliminated, %d left", name(s, id), len(alive)-1))
}

func (Royale) IsTerminal(s *session.Session) bool {
	return len(s.Alive()) <= 1
}

// Outcome names the last one standing, or everyone still alive when the
// time budget ran out first.
func (Royale) Outcome(s *session.Session) session.Outcome {
	return session.Outcome{Winners: aliveIDs(s)}
}
