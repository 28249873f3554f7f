package session

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var errConservation = errors.New("payout does not conserve the pot")

// Credit is one planned money movement out of the pot.
type Credit struct {
	PlayerID string `json:"player_id"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason"`
	Ref      string `json:"ref"`
}

type Payout struct {
	Pot        int64    `json:"pot"`
	Commission int64    `json:"commission"`
	Credits    []Credit `json:"credits"`
}

// Distributed is the sum of everything that leaves the pot, commission
// included even when no house account receives it.
func (p Payout) Distributed() int64 {
	total := p.Commission
	for _, c := range p.Credits {
		if c.Reason != "commission" {
			total += c.Amount
		}
	}
	return total
}

func mulDiv(a, b, c int64) (int64, error) {
	if c == 0 {
		return 0, fmt.Errorf("division by zero")
	}
	v := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	v = v.Quo(v, big.NewInt(c))
	if !v.IsInt64() {
		return 0, fmt.Errorf("amount overflow")
	}
	return v.Int64(), nil
}

// ComputePayout splits pot between commission and winners using integer
// arithmetic only. Division remainders go to the first-ranked winner or to
// the house per cfg.Remainder. confirmed lists eligible payees in join order
// and is the fallback when an outcome names no winners and no house account
// is set.
func ComputePayout(pot int64, cfg Config, out Outcome, confirmed []string) (Payout, error) {
	plan := Payout{Pot: pot}
	if pot < 0 {
		return plan, fmt.Errorf("negative pot %d", pot)
	}
	commission, err := mulDiv(pot, cfg.CommissionBps, BpsScale)
	if err != nil {
		return plan, err
	}
	plan.Commission = commission
	distributable := pot - commission

	allowed := make(map[string]struct{}, len(confirmed))
	for _, id := range confirmed {
		allowed[id] = struct{}{}
	}
	winners := out.Winners
	weights := out.Shares
	if len(weights) != 0 && len(weights) != len(winners) {
		return plan, fmt.Errorf("outcome has %d winners but %d shares", len(winners), len(weights))
	}
	seen := make(map[string]struct{}, len(winners))
	for _, w := range winners {
		if _, ok := allowed[w]; !ok {
			return plan, fmt.Errorf("winner %q is not a confirmed participant", w)
		}
		if _, dup := seen[w]; dup {
			return plan, fmt.Errorf("winner %q listed twice", w)
		}
		seen[w] = struct{}{}
	}

	houseTakesAll := false
	if len(winners) == 0 {
		if cfg.HouseAccount != "" {
			houseTakesAll = true
		} else {
			winners = confirmed
			weights = nil
		}
	}
	if len(weights) == 0 {
		weights = make([]int64, len(winners))
		for i := range weights {
			weights[i] = 1
		}
	}
	var totalWeight int64
	for _, w := range weights {
		if w < 0 {
			return plan, fmt.Errorf("negative share weight %d", w)
		}
		totalWeight += w
	}

	if cfg.HouseAccount != "" && commission > 0 {
		plan.Credits = append(plan.Credits, Credit{PlayerID: cfg.HouseAccount, Amount: commission, Reason: "commission"})
	}
	switch {
	case distributable == 0:
	case houseTakesAll:
		plan.Credits = append(plan.Credits, Credit{PlayerID: cfg.HouseAccount, Amount: distributable, Reason: "unclaimed"})
	case len(winners) == 0 || totalWeight == 0:
		return plan, fmt.Errorf("no payees for a distributable amount of %d", distributable)
	default:
		shares := make([]int64, len(winners))
		var assigned int64
		for i, w := range weights {
			share, err := mulDiv(distributable, w, totalWeight)
			if err != nil {
				return plan, err
			}
			shares[i] = share
			assigned += share
		}
		remainder := distributable - assigned
		if remainder > 0 && cfg.Remainder == RemainderHouse {
			plan.Credits = append(plan.Credits, Credit{PlayerID: cfg.HouseAccount, Amount: remainder, Reason: "remainder"})
		} else {
			shares[0] += remainder
		}
		for i, id := range winners {
			if shares[i] > 0 {
				plan.Credits = append(plan.Credits, Credit{PlayerID: id, Amount: shares[i], Reason: "prize"})
			}
		}
	}

	if plan.Distributed() != pot {
		return plan, fmt.Errorf("%w: pot %d, distributed %d", errConservation, pot, plan.Distributed())
	}
	return plan, nil
}

func belowMinimum(have, need int) string {
	return fmt.Sprintf("not enough players: %d of %d required", have, need)
}

func confirmedIDs(s *Session) []string {
	out := make([]string, 0, len(s.participants))
	for _, p := range s.Confirmed() {
		out = append(out, p.PlayerID)
	}
	return out
}

// settleLocked moves the session into Settlement and plans the payout.
// The credits themselves run in finishSettlement, outside the lock.
func (e *Engine) settleLocked(s *Session, reason string) *effects {
	e.stopTimerLocked(s)
	s.setPhase(PhaseSettlement)
	s.deadline = time.Time{}
	outcome := s.game.Outcome(s)
	plan, err := ComputePayout(s.pot, s.cfg, outcome, confirmedIDs(s))
	if err != nil {
		// A broken outcome must not swallow the pot: everyone gets the
		// entry fee back and no commission is taken.
		e.log.Error("payout rejected, refunding entries", "arena_id", s.ArenaID, "session_id", s.ID, "pot", s.pot, "err", err)
		outcome = Outcome{}
		plan = Payout{Pot: s.pot}
		for _, p := range s.Confirmed() {
			if s.cfg.EntryFee > 0 {
				plan.Credits = append(plan.Credits, Credit{PlayerID: p.PlayerID, Amount: s.cfg.EntryFee, Reason: "refund"})
			}
		}
		reason = "payout rejected"
	}
	for i := range plan.Credits {
		c := &plan.Credits[i]
		c.Ref = s.ID + ":" + c.Reason + ":" + c.PlayerID
	}
	e.log.Info("session phase", "arena_id", s.ArenaID, "session_id", s.ID, "phase", s.phase.String(), "reason", reason, "pot", s.pot, "commission", plan.Commission)

	var eff *effects
	names := make([]string, 0, len(outcome.Winners))
	for _, id := range outcome.Winners {
		if p, ok := s.index[id]; ok {
			names = append(names, p.DisplayName)
		}
	}
	text := "no winners this time"
	if len(names) > 0 {
		text = "winners: " + strings.Join(names, ", ")
	}
	eff = eff.add(e.eventLocked(s, "settlement", "%s (%s), pot %d, commission %d", text, reason, s.pot, plan.Commission))
	eff.payout = &plan
	return eff
}

// cancelLocked ends the session without a game result. Confirmed players
// get their entry fee back; nobody else was charged.
func (e *Engine) cancelLocked(s *Session, reason string) *effects {
	e.stopTimerLocked(s)
	s.setPhase(PhaseCancelled)
	return e.refundPlanLocked(s, reason)
}

func (e *Engine) refundPlanLocked(s *Session, reason string) *effects {
	s.deadline = time.Time{}
	var refunds []Credit
	var total int64
	if s.cfg.EntryFee > 0 {
		for _, p := range s.Confirmed() {
			refunds = append(refunds, Credit{
				PlayerID: p.PlayerID,
				Amount:   s.cfg.EntryFee,
				Reason:   "refund",
				Ref:      s.ID + ":refund:" + p.PlayerID,
			})
			total += s.cfg.EntryFee
		}
	}
	if total != s.pot {
		e.log.Error("pot does not match confirmed entries", "arena_id", s.ArenaID, "session_id", s.ID, "pot", s.pot, "refunds", total)
	}
	e.log.Info("session cancelled", "arena_id", s.ArenaID, "session_id", s.ID, "reason", reason, "refunds", len(refunds))

	var eff *effects
	text := "session cancelled: " + reason
	if len(refunds) > 0 {
		text += fmt.Sprintf("; %d players refunded %d each", len(refunds), s.cfg.EntryFee)
	}
	eff = eff.add(e.eventLocked(s, "cancelled", "%s", text))
	eff.cancel = &cancellation{reason: reason, refunds: refunds}
	return eff
}

// credit applies one credit and records a reconciliation item on failure.
// Failures are never retried here.
func (e *Engine) credit(ctx context.Context, s *Session, c Credit, pot int64) bool {
	if c.Amount <= 0 {
		return true
	}
	err := e.accounts.Credit(ctx, c.PlayerID, c.Amount, c.Ref)
	if err == nil {
		return true
	}
	e.log.Error("credit failed, needs manual reconciliation",
		"arena_id", s.ArenaID, "session_id", s.ID, "player_id", c.PlayerID,
		"amount", c.Amount, "reason", c.Reason, "pot", pot, "err", err)
	if e.reconciler != nil {
		f := Failure{
			ArenaID:   s.ArenaID,
			SessionID: s.ID,
			PlayerID:  c.PlayerID,
			Amount:    c.Amount,
			Pot:       pot,
			Reason:    c.Reason,
			Ref:       c.Ref,
			Error:     err.Error(),
		}
		if rerr := e.reconciler.RecordFailure(ctx, f); rerr != nil {
			e.log.Error("record reconciliation item failed", "arena_id", s.ArenaID, "session_id", s.ID, "err", rerr)
		}
	}
	return false
}

func (e *Engine) finishSettlement(ctx context.Context, s *Session, plan Payout) {
	var paid int64
	failed := 0
	for _, c := range plan.Credits {
		if e.credit(ctx, s, c, plan.Pot) {
			paid += c.Amount
		} else {
			failed++
		}
	}

	var events []Event
	s.mu.Lock()
	if s.phase == PhaseSettlement {
		s.setPhase(PhaseClosed)
		for _, c := range plan.Credits {
			if c.Reason == "prize" {
				name := c.PlayerID
				if p, ok := s.index[c.PlayerID]; ok {
					name = p.DisplayName
				}
				events = append(events, e.eventLocked(s, "payout", "%s receives %d", name, c.Amount))
			}
		}
		events = append(events, e.eventLocked(s, "closed", "session closed"))
	}
	s.mu.Unlock()

	e.reg.release(s.ArenaID, s)
	e.log.Info("session closed", "arena_id", s.ArenaID, "session_id", s.ID, "pot", plan.Pot, "paid", paid, "failed_credits", failed)
	e.announce(ctx, events...)
}

func (e *Engine) finishCancellation(ctx context.Context, s *Session, c cancellation) {
	var refunded int64
	for _, r := range c.refunds {
		if e.credit(ctx, s, r, r.Amount*int64(len(c.refunds))) {
			refunded += r.Amount
		}
	}
	e.reg.release(s.ArenaID, s)
	e.log.Info("session removed", "arena_id", s.ArenaID, "session_id", s.ID, "reason", c.reason, "refunded", refunded)
}
