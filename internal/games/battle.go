package games

import (
	"encoding/json"
	"fmt"
	"sort"

	"arenabot/internal/session"
)

const (
	battleMaxHP     = 100
	battleMinDamage = 10
	battleMaxDamage = 25
	battleRegen     = 5
)

// battlePrizeWeights split the pot between the top three finishers.
var battlePrizeWeights = []int64{60, 30, 10}

// Battle is a free-for-all: players attack each other and the last one
// with hit points wins.
type Battle struct{}

type battleState struct {
	hp  map[string]int
	out []string // in elimination order
}

func (Battle) Name() string { return "battle" }

func (Battle) Start(s *session.Session) []string {
	st := &battleState{hp: make(map[string]int)}
	for _, p := range s.Alive() {
		st.hp[p.PlayerID] = battleMaxHP
	}
	s.State = st
	return []string{fmt.Sprintf("%d fighters at %d HP, attack with {\"move\":\"attack\",\"target\":\"<player>\"}", len(st.hp), battleMaxHP)}
}

func battle(s *session.Session) *battleState {
	st, _ := s.State.(*battleState)
	return st
}

func (Battle) ApplyAction(s *session.Session, playerID string, payload json.RawMessage) ([]string, error) {
	m, err := decodeMove(payload)
	if err != nil {
		return nil, err
	}
	if m.Move != "attack" {
		return nil, fmt.Errorf("%w: battle knows only \"attack\", got %q", ErrInvalidMove, m.Move)
	}
	if m.Target == "" || m.Target == playerID {
		return nil, fmt.Errorf("%w: pick another player as target", ErrInvalidMove)
	}
	target, ok := s.Participant(m.Target)
	if !ok || !target.Confirmed || target.Eliminated {
		return nil, fmt.Errorf("%w: %q is not in the fight", ErrInvalidMove, m.Target)
	}

	st := battle(s)
	dmg := battleMinDamage + s.Rand().Intn(battleMaxDamage-battleMinDamage+1)
	st.hp[m.Target] -= dmg
	notes := []string{fmt.Sprintf("%s hits %s for %d", name(s, playerID), target.DisplayName, dmg)}
	if st.hp[m.Target] <= 0 {
		st.hp[m.Target] = 0
		s.Eliminate(m.Target)
		st.out = append(st.out, m.Target)
		notes = append(notes, target.DisplayName+" is knocked out")
	}
	return notes, nil
}

func (Battle) Tick(s *session.Session) []string {
	st := battle(s)
	for _, id := range aliveIDs(s) {
		st.hp[id] += battleRegen
		if st.hp[id] > battleMaxHP {
			st.hp[id] = battleMaxHP
		}
	}
	return nil
}

func (Battle) IsTerminal(s *session.Session) bool {
	return len(s.Alive()) <= 1
}

// Outcome ranks survivors by remaining HP, then the knocked out players
// from last to first, and pays the top three.
func (Battle) Outcome(s *session.Session) session.Outcome {
	st := battle(s)
	if st == nil {
		return session.Outcome{}
	}
	ranking := aliveIDs(s)
	sort.SliceStable(ranking, func(i, j int) bool { return st.hp[ranking[i]] > st.hp[ranking[j]] })
	for i := len(st.out) - 1; i >= 0; i-- {
		ranking = append(ranking, st.out[i])
	}
	n := len(battlePrizeWeights)
	if len(ranking) < n {
		n = len(ranking)
	}
	return session.Outcome{
		Winners: ranking[:n],
		Shares:  append([]int64(nil), battlePrizeWeights[:n]...),
	}
}
