package session

import (
	"context"
	"time"
)

type timerStep func(s *Session) *effects

// scheduleLocked replaces the session's pending timer. The callback carries
// the phase version and timer sequence it was armed for; if either moved by
// the time it runs, it is discarded.
func (e *Engine) scheduleLocked(s *Session, d time.Duration, step timerStep) {
	e.stopTimerLocked(s)
	s.timerSeq++
	seq := s.timerSeq
	epoch := s.phaseVersion
	s.timer = e.clock.AfterFunc(d, func() { e.fire(s, epoch, seq, step) })
}

func (e *Engine) stopTimerLocked(s *Session) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (e *Engine) fire(s *Session, epoch, seq uint64, step timerStep) {
	s.mu.Lock()
	if s.phase.Terminal() || s.phaseVersion != epoch || s.timerSeq != seq {
		phase := s.phase
		s.mu.Unlock()
		e.log.Debug("stale timer discarded", "arena_id", s.ArenaID, "session_id", s.ID, "phase", phase.String())
		return
	}
	s.timer = nil
	eff := step(s)
	s.mu.Unlock()
	e.run(context.Background(), s, eff)
}

func (e *Engine) registrationDeadlineLocked(s *Session) *effects {
	if s.phase != PhaseRegistration {
		return nil
	}
	if n := len(s.participants); n < s.cfg.MinParticipants {
		return e.cancelLocked(s, belowMinimum(n, s.cfg.MinParticipants))
	}
	return e.enterConfirmationLocked(s)
}

func (e *Engine) enterConfirmationLocked(s *Session) *effects {
	s.setPhase(PhaseConfirmation)
	s.deadline = e.clock.Now().Add(s.cfg.ConfirmationWindow)
	e.scheduleLocked(s, s.cfg.ConfirmationWindow, e.confirmationDeadlineLocked)
	e.log.Info("session phase", "arena_id", s.ArenaID, "session_id", s.ID, "phase", s.phase.String(), "registered", len(s.participants))
	var eff *effects
	return eff.add(e.eventLocked(s, "confirmation_open", "registration closed with %d players: confirm within %s to pay the %d entry fee",
		len(s.participants), s.cfg.ConfirmationWindow, s.cfg.EntryFee))
}

func (e *Engine) confirmationDeadlineLocked(s *Session) *effects {
	if s.phase != PhaseConfirmation {
		return nil
	}
	if s.payments > 0 {
		// Settle the deadline once the in-flight debits come back.
		s.deadlineDue = true
		return nil
	}
	return e.closeConfirmationLocked(s)
}

// resumeDeadlineLocked runs a deferred confirmation deadline once no debit
// is outstanding.
func (e *Engine) resumeDeadlineLocked(s *Session) *effects {
	if !s.deadlineDue || s.payments > 0 || s.phase != PhaseConfirmation {
		return nil
	}
	s.deadlineDue = false
	return e.closeConfirmationLocked(s)
}

func (e *Engine) closeConfirmationLocked(s *Session) *effects {
	confirmed := s.confirmedCount()
	if confirmed < s.cfg.MinParticipants {
		return e.cancelLocked(s, belowMinimum(confirmed, s.cfg.MinParticipants))
	}
	kept := s.participants[:0]
	dropped := 0
	for _, p := range s.participants {
		if p.Confirmed {
			kept = append(kept, p)
			continue
		}
		delete(s.index, p.PlayerID)
		dropped++
	}
	s.participants = kept
	if dropped > 0 {
		e.log.Info("unconfirmed players dropped", "arena_id", s.ArenaID, "session_id", s.ID, "dropped", dropped)
	}
	return e.enterActiveLocked(s)
}

func (e *Engine) enterActiveLocked(s *Session) *effects {
	s.setPhase(PhaseActive)
	now := e.clock.Now()
	s.activeEnd = now.Add(s.cfg.ActiveBudget)
	e.log.Info("session phase", "arena_id", s.ArenaID, "session_id", s.ID, "phase", s.phase.String(), "players", len(s.participants), "pot", s.pot)

	var eff *effects
	eff = eff.add(e.eventLocked(s, "round_started", "%s starts with %d players, pot %d", s.game.Name(), len(s.participants), s.pot))
	if st, ok := s.game.(Starter); ok {
		eff = eff.add(e.gameEventsLocked(s, st.Start(s))...)
	}
	if s.game.IsTerminal(s) {
		return eff.merge(e.settleLocked(s, "game over"))
	}
	e.scheduleActiveLocked(s)
	return eff
}

// scheduleActiveLocked arms the next tick, or the end of the active budget
// if that comes first.
func (e *Engine) scheduleActiveLocked(s *Session) {
	remaining := s.activeEnd.Sub(e.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	d := s.cfg.TickInterval
	if d <= 0 || d > remaining {
		d = remaining
	}
	s.deadline = s.activeEnd
	e.scheduleLocked(s, d, e.activeTimerLocked)
}

func (e *Engine) activeTimerLocked(s *Session) *effects {
	if s.phase != PhaseActive {
		return nil
	}
	var eff *effects
	if !e.clock.Now().Before(s.activeEnd) {
		eff = eff.add(e.eventLocked(s, "time_up", "time is up"))
		return eff.merge(e.settleLocked(s, "time budget exhausted"))
	}
	notes := s.game.Tick(s)
	s.version++
	eff = eff.add(e.gameEventsLocked(s, notes)...)
	if s.game.IsTerminal(s) {
		return eff.merge(e.settleLocked(s, "game over"))
	}
	e.scheduleActiveLocked(s)
	return eff
}
