package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ActionKind string

const (
	ActionJoin    ActionKind = "join"
	ActionConfirm ActionKind = "confirm"
	ActionPlay    ActionKind = "act"
)

// Action is one player-initiated event. Key deduplicates in-round actions
// delivered more than once; BaseVersion is the session version the client
// last saw and is optional.
type Action struct {
	Kind        ActionKind      `json:"kind"`
	PlayerID    string          `json:"player_id"`
	DisplayName string          `json:"display_name,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Key         string          `json:"key,omitempty"`
	BaseVersion uint64          `json:"base_version,omitempty"`
}

type Result struct {
	Phase     Phase   `json:"phase"`
	Version   uint64  `json:"version"`
	Duplicate bool    `json:"duplicate,omitempty"`
	Events    []Event `json:"events,omitempty"`
}

const DefaultDebitTimeout = 15 * time.Second

type Engine struct {
	reg        *Registry
	games      map[string]Game
	accounts   Accounts
	reconciler Reconciler
	announcer  Announcer
	clock      Clock
	log        *slog.Logger
	newID      func() string

	debitTimeout time.Duration

	seedMu sync.Mutex
	seed   func() int64
}

type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithAnnouncer(a Announcer) Option { return func(e *Engine) { e.announcer = a } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithReconciler(r Reconciler) Option { return func(e *Engine) { e.reconciler = r } }

// WithSeed overrides the per-session random seed source.
func WithSeed(seed func() int64) Option { return func(e *Engine) { e.seed = seed } }

func WithIDs(newID func() string) Option { return func(e *Engine) { e.newID = newID } }

// WithDebitTimeout bounds each entry-fee debit. A debit that times out
// fails the confirmation and lets a deferred deadline run.
func WithDebitTimeout(d time.Duration) Option { return func(e *Engine) { e.debitTimeout = d } }

func NewEngine(accounts Accounts, games []Game, opts ...Option) *Engine {
	e := &Engine{
		reg:      NewRegistry(),
		games:    make(map[string]Game, len(games)),
		accounts: accounts,
		clock:    SystemClock(),
		log:      slog.Default(),
		newID:    uuid.NewString,
		seed:     func() int64 { return time.Now().UnixNano() },

		debitTimeout: DefaultDebitTimeout,
	}
	for _, g := range games {
		e.games[strings.ToLower(g.Name())] = g
	}
	if r, ok := accounts.(Reconciler); ok {
		e.reconciler = r
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.debitTimeout <= 0 {
		e.debitTimeout = DefaultDebitTimeout
	}
	return e
}

func (e *Engine) Registry() *Registry { return e.reg }

func (e *Engine) Games() []string {
	out := make([]string, 0, len(e.games))
	for name := range e.games {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) nextSeed() int64 {
	e.seedMu.Lock()
	defer e.seedMu.Unlock()
	return e.seed()
}

// effects are side effects produced under the session lock and carried out
// after it is released.
type effects struct {
	events []Event
	payout *Payout
	cancel *cancellation
}

type cancellation struct {
	reason  string
	refunds []Credit
}

func (f *effects) add(ev ...Event) *effects {
	if f == nil {
		f = &effects{}
	}
	f.events = append(f.events, ev...)
	return f
}

func (f *effects) merge(o *effects) *effects {
	if o == nil {
		return f
	}
	if f == nil {
		return o
	}
	f.events = append(f.events, o.events...)
	if o.payout != nil {
		f.payout = o.payout
	}
	if o.cancel != nil {
		f.cancel = o.cancel
	}
	return f
}

func (f *effects) eventList() []Event {
	if f == nil {
		return nil
	}
	return f.events
}

func (e *Engine) eventLocked(s *Session, kind, format string, args ...any) Event {
	return Event{
		ArenaID:   s.ArenaID,
		SessionID: s.ID,
		Kind:      kind,
		Text:      fmt.Sprintf(format, args...),
		Version:   s.version,
		At:        e.clock.Now(),
	}
}

func (e *Engine) gameEventsLocked(s *Session, notes []string) []Event {
	out := make([]Event, 0, len(notes))
	for _, n := range notes {
		out = append(out, e.eventLocked(s, "game", "%s", n))
	}
	return out
}

// Create opens a new session in Registration for arenaID.
func (e *Engine) Create(ctx context.Context, arenaID, game string, cfg Config) (View, error) {
	arenaID = strings.TrimSpace(arenaID)
	if arenaID == "" {
		return View{}, fmt.Errorf("%w: arena id is required", ErrInvalidConfig)
	}
	g, ok := e.games[strings.ToLower(strings.TrimSpace(game))]
	if !ok {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownGame, game)
	}
	if err := cfg.Validate(); err != nil {
		return View{}, err
	}
	if cfg.Remainder == "" {
		cfg.Remainder = RemainderFirstWinner
	}

	seed := e.nextSeed()
	s := newSession(arenaID, e.newID(), cfg, g, e.clock.Now(), seed)

	// The registration timer is armed before the session becomes visible;
	// joins that find it in the registry wait on s.mu until Create is done.
	s.mu.Lock()
	s.deadline = e.clock.Now().Add(cfg.RegistrationWindow)
	e.scheduleLocked(s, cfg.RegistrationWindow, e.registrationDeadlineLocked)
	if err := e.reg.Create(arenaID, s); err != nil {
		e.stopTimerLocked(s)
		s.mu.Unlock()
		return View{}, err
	}
	ev := e.eventLocked(s, "session_created", "%s is open for registration: entry fee %d, %d-%d players, closes in %s",
		g.Name(), cfg.EntryFee, cfg.MinParticipants, cfg.MaxParticipants, cfg.RegistrationWindow)
	v := s.viewLocked()
	s.mu.Unlock()

	e.log.Info("session created", "arena_id", arenaID, "session_id", s.ID, "game", g.Name(), "seed", seed)
	e.announce(ctx, ev)
	return v, nil
}

func (e *Engine) Snapshot(arenaID string) (View, error) {
	s, ok := e.reg.Get(arenaID)
	if !ok {
		return View{}, ErrNoActiveSession
	}
	return s.View(), nil
}

func (e *Engine) Sessions() []View {
	sessions := e.reg.List()
	out := make([]View, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.View())
	}
	return out
}

// Submit applies one player action against the arena's live session.
func (e *Engine) Submit(ctx context.Context, arenaID string, a Action) (Result, error) {
	s, ok := e.reg.Get(arenaID)
	if !ok {
		return Result{}, ErrNoActiveSession
	}
	a.PlayerID = strings.TrimSpace(a.PlayerID)
	if a.PlayerID == "" {
		return Result{}, fmt.Errorf("%w: player id is required", ErrNotParticipant)
	}
	switch a.Kind {
	case ActionJoin:
		return e.join(ctx, s, a)
	case ActionConfirm:
		return e.confirm(ctx, s, a)
	case ActionPlay:
		return e.play(ctx, s, a)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}
}

func isStale(s *Session, a Action) bool {
	return a.BaseVersion != 0 && a.BaseVersion < s.phaseVersion
}

func resultLocked(s *Session, eff *effects) Result {
	return Result{Phase: s.phase, Version: s.version, Events: eff.eventList()}
}

func (e *Engine) join(ctx context.Context, s *Session, a Action) (Result, error) {
	s.mu.Lock()
	switch {
	case s.phase.Terminal():
		s.mu.Unlock()
		return Result{}, ErrNoActiveSession
	case isStale(s, a):
		s.mu.Unlock()
		return Result{}, ErrStaleAction
	}
	if _, ok := s.index[a.PlayerID]; ok {
		s.mu.Unlock()
		return Result{}, ErrAlreadyJoined
	}
	// A session that filled up moves to Confirmation at once; late joiners
	// still hear that it is full.
	if len(s.participants) >= s.cfg.MaxParticipants {
		s.mu.Unlock()
		return Result{}, ErrFull
	}
	if s.phase != PhaseRegistration {
		s.mu.Unlock()
		return Result{}, ErrWrongPhase
	}

	name := strings.TrimSpace(a.DisplayName)
	if name == "" {
		name = a.PlayerID
	}
	p := &Participant{PlayerID: a.PlayerID, DisplayName: name, JoinedAt: e.clock.Now()}
	s.participants = append(s.participants, p)
	s.index[p.PlayerID] = p
	s.version++

	var eff *effects
	eff = eff.add(e.eventLocked(s, "player_joined", "%s joined (%d/%d)", name, len(s.participants), s.cfg.MaxParticipants))
	if len(s.participants) == s.cfg.MaxParticipants {
		eff = eff.merge(e.enterConfirmationLocked(s))
	}
	res := resultLocked(s, eff)
	s.mu.Unlock()

	e.run(ctx, s, eff)
	return res, nil
}

func (e *Engine) confirm(ctx context.Context, s *Session, a Action) (Result, error) {
	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		return Result{}, ErrNoActiveSession
	}
	p, ok := s.index[a.PlayerID]
	if ok && (p.Confirmed || p.paying) {
		res := Result{Phase: s.phase, Version: s.version, Duplicate: true}
		s.mu.Unlock()
		return res, nil
	}
	switch {
	case isStale(s, a):
		s.mu.Unlock()
		return Result{}, ErrStaleAction
	case s.phase != PhaseConfirmation:
		s.mu.Unlock()
		return Result{}, ErrWrongPhase
	case !ok:
		s.mu.Unlock()
		return Result{}, ErrNotParticipant
	}
	p.paying = true
	s.payments++
	fee := s.cfg.EntryFee
	ref := s.ID + ":entry:" + p.PlayerID
	s.mu.Unlock()

	// The debit happens outside the lock; the result is re-applied below
	// against whatever state the session is in by then.
	actx := context.WithoutCancel(ctx)
	var err error
	if fee > 0 {
		dctx, cancel := context.WithTimeout(actx, e.debitTimeout)
		err = e.accounts.Debit(dctx, p.PlayerID, fee, ref)
		cancel()
	}

	s.mu.Lock()
	p.paying = false
	s.payments--
	var eff *effects
	if err != nil {
		eff = e.resumeDeadlineLocked(s)
		s.mu.Unlock()
		e.run(ctx, s, eff)
		if errors.Is(err, ErrInsufficientFunds) {
			return Result{}, ErrInsufficientFunds
		}
		e.log.Error("entry debit failed", "arena_id", s.ArenaID, "session_id", s.ID, "player_id", p.PlayerID, "amount", fee, "err", err)
		return Result{}, fmt.Errorf("%w: debit: %v", ErrAdapter, err)
	}
	if s.phase != PhaseConfirmation || s.index[p.PlayerID] != p {
		phase := s.phase
		s.mu.Unlock()
		if fee > 0 {
			e.credit(actx, s, Credit{PlayerID: p.PlayerID, Amount: fee, Reason: "late_refund", Ref: ref + ":late_refund"}, fee)
		}
		e.log.Warn("confirmation landed after phase change, refunded", "arena_id", s.ArenaID, "session_id", s.ID, "player_id", p.PlayerID, "phase", phase.String())
		return Result{}, ErrWrongPhase
	}

	p.Confirmed = true
	s.pot += fee
	s.version++
	eff = eff.add(e.eventLocked(s, "player_confirmed", "%s paid %d and is in (%d confirmed)", p.DisplayName, fee, s.confirmedCount()))
	if s.deadlineDue {
		eff = eff.merge(e.resumeDeadlineLocked(s))
	} else if s.payments == 0 && s.confirmedCount() == len(s.participants) && len(s.participants) >= s.cfg.MinParticipants {
		eff = eff.merge(e.closeConfirmationLocked(s))
	}
	res := resultLocked(s, eff)
	s.mu.Unlock()

	e.run(ctx, s, eff)
	return res, nil
}

func (e *Engine) play(ctx context.Context, s *Session, a Action) (Result, error) {
	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		return Result{}, ErrNoActiveSession
	}
	if a.Key != "" {
		if _, seen := s.actionKeys[a.Key]; seen {
			res := Result{Phase: s.phase, Version: s.version, Duplicate: true}
			s.mu.Unlock()
			return res, nil
		}
	}
	switch {
	case isStale(s, a):
		s.mu.Unlock()
		return Result{}, ErrStaleAction
	case s.phase != PhaseActive:
		s.mu.Unlock()
		return Result{}, ErrWrongPhase
	}
	p, ok := s.index[a.PlayerID]
	if !ok || !p.Confirmed {
		s.mu.Unlock()
		return Result{}, ErrNotParticipant
	}
	if p.Eliminated {
		s.mu.Unlock()
		return Result{}, ErrNotEligible
	}

	notes, err := s.game.ApplyAction(s, p.PlayerID, a.Payload)
	if err != nil {
		s.mu.Unlock()
		return Result{}, err
	}
	s.version++
	if a.Key != "" {
		s.actionKeys[a.Key] = struct{}{}
	}
	var eff *effects
	eff = eff.add(e.gameEventsLocked(s, notes)...)
	if s.game.IsTerminal(s) {
		eff = eff.merge(e.settleLocked(s, "game over"))
	}
	res := resultLocked(s, eff)
	s.mu.Unlock()

	e.run(ctx, s, eff)
	return res, nil
}

// Abort stops a session early. Before Active it is cancelled with full
// refunds; an Active session is forced into settlement with its current
// outcome, the same way an exhausted time budget is.
func (e *Engine) Abort(ctx context.Context, arenaID, reason string) (View, error) {
	s, ok := e.reg.Get(arenaID)
	if !ok {
		return View{}, ErrNoActiveSession
	}
	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		return View{}, ErrNoActiveSession
	}
	if s.phase == PhaseSettlement {
		s.mu.Unlock()
		return View{}, ErrWrongPhase
	}
	if strings.TrimSpace(reason) == "" {
		reason = "aborted by operator"
	}
	var eff *effects
	if s.phase == PhaseActive {
		eff = e.settleLocked(s, reason)
	} else {
		eff = e.cancelLocked(s, reason)
	}
	v := s.viewLocked()
	s.mu.Unlock()

	e.run(ctx, s, eff)
	return v, nil
}

// Shutdown aborts every live session so no entry fee stays in limbo when
// the process stops.
func (e *Engine) Shutdown(ctx context.Context) {
	for _, s := range e.reg.List() {
		if _, err := e.Abort(ctx, s.ArenaID, "server shutting down"); err != nil && !errors.Is(err, ErrNoActiveSession) && !errors.Is(err, ErrWrongPhase) {
			e.log.Error("abort on shutdown failed", "arena_id", s.ArenaID, "err", err)
		}
	}
}

func (e *Engine) announce(ctx context.Context, events ...Event) {
	if e.announcer == nil {
		return
	}
	for _, ev := range events {
		if err := e.announcer.Announce(ctx, ev); err != nil {
			e.log.Warn("announce failed", "arena_id", ev.ArenaID, "kind", ev.Kind, "err", err)
		}
	}
}

func (e *Engine) run(ctx context.Context, s *Session, eff *effects) {
	if eff == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	e.announce(ctx, eff.events...)
	switch {
	case eff.payout != nil:
		e.finishSettlement(ctx, s, *eff.payout)
	case eff.cancel != nil:
		e.finishCancellation(ctx, s, *eff.cancel)
	}
}
