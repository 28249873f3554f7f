package games

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"arenabot/internal/session"
)

var ErrInvalidMove = errors.New("invalid move")

// All returns every built-in game.
func All() []session.Game {
	return []session.Game{Royale{}, Battle{}, Mission{}}
}

// Move is the action payload every built-in game understands.
type Move struct {
	Move   string `json:"move"`
	Target string `json:"target,omitempty"`
}

func decodeMove(payload json.RawMessage) (Move, error) {
	var m Move
	if len(payload) == 0 {
		return m, fmt.Errorf("%w: payload is required", ErrInvalidMove)
	}
	if err := json.Unmarshal(payload, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidMove, err)
	}
	m.Move = strings.ToLower(strings.TrimSpace(m.Move))
	m.Target = strings.TrimSpace(m.Target)
	return m, nil
}

func name(s *session.Session, playerID string) string {
	if p, ok := s.Participant(playerID); ok {
		return p.DisplayName
	}
	return playerID
}

func aliveIDs(s *session.Session) []string {
	alive := s.Alive()
	out := make([]string, 0, len(alive))
	for _, p := range alive {
		out = append(out, p.PlayerID)
	}
	return out
}

// eliminateRandom removes one uniformly chosen player from candidates.
func eliminateRandom(s *session.Session, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	id := candidates[s.Rand().Intn(len(candidates))]
	return id, s.Eliminate(id)
}
