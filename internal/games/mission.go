package games

import (
	"encoding/json"
	"fmt"

	"arenabot/internal/session"
)

const (
	missionGoal        = 100
	missionMinStep     = 5
	missionMaxStep     = 15
	missionHazardOneIn = 4
)

// Mission is cooperative: the crew pushes progress to the goal while
// hazards pick members off. Survivors share the pot on success.
type Mission struct{}

type missionState struct {
	progress int
	advanced map[string]bool // reset every tick
	hazards  int
}

func (Mission) Name() string { return "mission" }

func (Mission) Start(s *session.Session) []string {
	s.State = &missionState{advanced: make(map[string]bool)}
	return []string{fmt.Sprintf("mission start: reach %d progress before time runs out, one advance per player per round", missionGoal)}
}

func mission(s *session.Session) *missionState {
	st, _ := s.State.(*missionState)
	return st
}

func (Mission) ApplyAction(s *session.Session, playerID string, payload json.RawMessage) ([]string, error) {
	m, err := decodeMove(payload)
	if err != nil {
		return nil, err
	}
	if m.Move != "advance" {
		return nil, fmt.Errorf("%w: mission knows only \"advance\", got %q", ErrInvalidMove, m.Move)
	}
	st := mission(s)
	if st.advanced[playerID] {
		return nil, fmt.Errorf("%w: already advanced this round", ErrInvalidMove)
	}
	st.advanced[playerID] = true
	step := missionMinStep + s.Rand().Intn(missionMaxStep-missionMinStep+1)
	st.progress += step
	if st.progress >= missionGoal {
		st.progress = missionGoal
		return []string{fmt.Sprintf("%s pushes the last %d, mission complete", name(s, playerID), step)}, nil
	}
	return []string{fmt.Sprintf("%s advances %d (%d/%d)", name(s, playerID), step, st.progress, missionGoal)}, nil
}

func (Mission) Tick(s *session.Session) []string {
	st := mission(s)
	st.advanced = make(map[string]bool)
	if s.Rand().Intn(missionHazardOneIn) != 0 {
		return nil
	}
	id, ok := eliminateRandom(s, aliveIDs(s))
	if !ok {
		return nil
	}
	st.hazards++
	return []string{fmt.Sprintf("hazard! %s is lost, %d crew left", name(s, id), len(s.Alive()))}
}

func (Mission) IsTerminal(s *session.Session) bool {
	st := mission(s)
	if st == nil {
		return false
	}
	return st.progress >= missionGoal || len(s.Alive()) == 0
}

// Outcome pays survivors equally on success. A failed mission has no
// winners.
func (Mission) Outcome(s *session.Session) session.Outcome {
	st := mission(s)
	if st == nil || st.progress < missionGoal {
		return session.Outcome{}
	}
	return session.Outcome{Winners: aliveIDs(s)}
}
