package session

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

type Phase int

const (
	PhaseRegistration Phase = iota + 1
	PhaseConfirmation
	PhaseActive
	PhaseSettlement
	PhaseClosed
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseRegistration:
		return "registration"
	case PhaseConfirmation:
		return "confirmation"
	case PhaseActive:
		return "active"
	case PhaseSettlement:
		return "settlement"
	case PhaseClosed:
		return "closed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) Terminal() bool {
	return p == PhaseClosed || p == PhaseCancelled
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(raw []byte) error {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return err
	}
	parsed, err := ParsePhase(name)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func ParsePhase(name string) (Phase, error) {
	for p := PhaseRegistration; p <= PhaseCancelled; p++ {
		if p.String() == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", name)
}

type RemainderPolicy string

const (
	RemainderFirstWinner RemainderPolicy = "first_winner"
	RemainderHouse       RemainderPolicy = "house"
)

const BpsScale = int64(10_000)

// Config is fixed for the lifetime of a session.
type Config struct {
	EntryFee           int64           `json:"entry_fee"`
	MinParticipants    int             `json:"min_participants"`
	MaxParticipants    int             `json:"max_participants"`
	RegistrationWindow time.Duration   `json:"registration_window"`
	ConfirmationWindow time.Duration   `json:"confirmation_window"`
	TickInterval       time.Duration   `json:"tick_interval"`
	ActiveBudget       time.Duration   `json:"active_budget"`
	CommissionBps      int64           `json:"commission_bps"`
	HouseAccount       string          `json:"house_account,omitempty"`
	Remainder          RemainderPolicy `json:"remainder"`
}

func (c Config) Validate() error {
	switch {
	case c.EntryFee < 0:
		return fmt.Errorf("%w: entry fee must be >= 0", ErrInvalidConfig)
	case c.MinParticipants < 1:
		return fmt.Errorf("%w: min participants must be >= 1", ErrInvalidConfig)
	case c.MaxParticipants < c.MinParticipants:
		return fmt.Errorf("%w: max participants must be >= min participants", ErrInvalidConfig)
	case c.RegistrationWindow <= 0 || c.ConfirmationWindow <= 0:
		return fmt.Errorf("%w: registration and confirmation windows must be > 0", ErrInvalidConfig)
	case c.ActiveBudget <= 0:
		return fmt.Errorf("%w: active budget must be > 0", ErrInvalidConfig)
	case c.TickInterval < 0:
		return fmt.Errorf("%w: tick interval must be >= 0", ErrInvalidConfig)
	case c.CommissionBps < 0 || c.CommissionBps > BpsScale:
		return fmt.Errorf("%w: commission must be within 0..%d bps", ErrInvalidConfig, BpsScale)
	}
	switch c.Remainder {
	case "", RemainderFirstWinner:
	case RemainderHouse:
		if c.HouseAccount == "" {
			return fmt.Errorf("%w: remainder to house requires a house account", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown remainder policy %q", ErrInvalidConfig, c.Remainder)
	}
	return nil
}

type Participant struct {
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	Confirmed   bool      `json:"confirmed"`
	Eliminated  bool      `json:"eliminated"`
	JoinedAt    time.Time `json:"joined_at"`

	paying bool
}

// Session is one game instance in one arena. Fields are guarded by mu and
// are only touched by the engine or by a Game callback the engine invoked
// while holding it.
type Session struct {
	ArenaID   string
	ID        string
	CreatedAt time.Time

	cfg  Config
	game Game

	mu           sync.Mutex
	phase        Phase
	history      []Phase
	version      uint64
	phaseVersion uint64
	participants []*Participant
	index        map[string]*Participant
	pot          int64
	timer        Timer
	timerSeq     uint64
	deadline     time.Time
	activeEnd    time.Time
	payments     int
	deadlineDue  bool
	actionKeys   map[string]struct{}
	rng          *rand.Rand

	// State belongs to the game plugin.
	State any
}

func newSession(arenaID, id string, cfg Config, g Game, now time.Time, seed int64) *Session {
	return &Session{
		ArenaID:    arenaID,
		ID:         id,
		CreatedAt:  now,
		cfg:        cfg,
		game:       g,
		phase:      PhaseRegistration,
		history:    []Phase{PhaseRegistration},
		index:      make(map[string]*Participant),
		actionKeys: make(map[string]struct{}),
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// The accessors below do not lock; they are meant for Game callbacks.

func (s *Session) Config() Config { return s.cfg }

func (s *Session) Phase() Phase { return s.phase }

func (s *Session) Version() uint64 { return s.version }

func (s *Session) Pot() int64 { return s.pot }

func (s *Session) Rand() *rand.Rand { return s.rng }

func (s *Session) Participant(playerID string) (*Participant, bool) {
	p, ok := s.index[playerID]
	return p, ok
}

// Confirmed returns confirmed participants in join order.
func (s *Session) Confirmed() []*Participant {
	out := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		if p.Confirmed {
			out = append(out, p)
		}
	}
	return out
}

// Alive returns confirmed participants that are not eliminated.
func (s *Session) Alive() []*Participant {
	out := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		if p.Confirmed && !p.Eliminated {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) Eliminate(playerID string) bool {
	p, ok := s.index[playerID]
	if !ok || !p.Confirmed || p.Eliminated {
		return false
	}
	p.Eliminated = true
	return true
}

func (s *Session) confirmedCount() int {
	n := 0
	for _, p := range s.participants {
		if p.Confirmed {
			n++
		}
	}
	return n
}

func (s *Session) setPhase(next Phase) {
	s.phase = next
	s.history = append(s.history, next)
	s.version++
	s.phaseVersion = s.version
}

type ParticipantView struct {
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	Confirmed   bool      `json:"confirmed"`
	Eliminated  bool      `json:"eliminated"`
	JoinedAt    time.Time `json:"joined_at"`
}

type View struct {
	ArenaID      string            `json:"arena_id"`
	SessionID    string            `json:"session_id"`
	Game         string            `json:"game"`
	Phase        Phase             `json:"phase"`
	History      []Phase           `json:"history"`
	Version      uint64            `json:"version"`
	Pot          int64             `json:"pot"`
	EntryFee     int64             `json:"entry_fee"`
	Min          int               `json:"min_participants"`
	Max          int               `json:"max_participants"`
	Deadline     time.Time         `json:"deadline,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Participants []ParticipantView `json:"participants"`
}

func (s *Session) viewLocked() View {
	v := View{
		ArenaID:      s.ArenaID,
		SessionID:    s.ID,
		Game:         s.game.Name(),
		Phase:        s.phase,
		History:      append([]Phase(nil), s.history...),
		Version:      s.version,
		Pot:          s.pot,
		EntryFee:     s.cfg.EntryFee,
		Min:          s.cfg.MinParticipants,
		Max:          s.cfg.MaxParticipants,
		Deadline:     s.deadline,
		CreatedAt:    s.CreatedAt,
		Participants: make([]ParticipantView, 0, len(s.participants)),
	}
	for _, p := range s.participants {
		v.Participants = append(v.Participants, ParticipantView{
			PlayerID:    p.PlayerID,
			DisplayName: p.DisplayName,
			Confirmed:   p.Confirmed,
			Eliminated:  p.Eliminated,
			JoinedAt:    p.JoinedAt,
		})
	}
	return v
}

// View returns a consistent snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}
