// Package session provides the time-driven state machine gating which trading
// actions are legal over the course of one trading day.
package session

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
)

// State represents the scheduler's position in the trading day.
type State string

const (
	// StatePreMarket precedes the session open; no actions are legal.
	StatePreMarket State = "pre_market"
	// StateActive allows both opening and closing positions.
	StateActive State = "active"
	// StateClosingOnly rejects new openings; closes remain legal. While in
	// this state open positions are swept into forced closes.
	StateClosingOnly State = "closing_only"
	// StateClosed is terminal for the day. The sweep keeps running as a
	// backstop for closes that did not complete earlier.
	StateClosed State = "closed"
)

// Transition records one state change and the instant that caused it.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// validTransitions is the complete forward path of a trading day. The
// scheduler is purely time-driven, so no other edges exist.
var validTransitions = []struct {
	From State
	To   State
}{
	{StatePreMarket, StateActive},
	{StateActive, StateClosingOnly},
	{StateClosingOnly, StateClosed},
}

// Clock abstracts wall-clock access so the scheduler is deterministic under
// test. Implementations must return times in the exchange timezone.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock in a fixed location.
type RealClock struct {
	Location *time.Location
}

// Now returns the current time in the clock's location.
func (c RealClock) Now() time.Time {
	now := time.Now()
	if c.Location != nil {
		now = now.In(c.Location)
	}
	return now
}

// Scheduler drives one TradingSession through its states. One instance covers
// one trading day; a new session object governs the next day. Not safe for
// concurrent use; it lives inside a single ticker pipeline.
type Scheduler struct {
	session models.TradingSession
	clock   Clock
	state   State
}

// NewScheduler creates a scheduler for one trading day. The initial state is
// derived from the clock so a mid-day restart resumes in the right state
// without replaying transitions.
func NewScheduler(session models.TradingSession, clock Clock) *Scheduler {
	s := &Scheduler{
		session: session,
		clock:   clock,
		state:   StatePreMarket,
	}
	s.state = s.stateAt(clock.Now())
	return s
}

// Session returns the trading day configuration the scheduler enforces.
func (s *Scheduler) Session() models.TradingSession {
	return s.session
}

// State returns the current state without advancing the machine.
func (s *Scheduler) State() State {
	return s.state
}

// CanOpen reports whether a new sell-to-open action is legal right now.
func (s *Scheduler) CanOpen() bool {
	return s.state == StateActive
}

// CanClose reports whether a buy-to-close action is legal right now. Closes
// are legal from the session open onward, including after the session end:
// the forced-close backstop must always be able to exit.
func (s *Scheduler) CanClose() bool {
	return s.state != StatePreMarket
}

// WithinTradingHours reports whether t falls inside the session's regular
// trading hours. The cross detector uses this as its clock predicate.
func (s *Scheduler) WithinTradingHours(t time.Time) bool {
	return s.session.Contains(t)
}

// Advance moves the machine forward to the state implied by the clock and
// returns every transition crossed, in order. Each transition is returned
// exactly once for the lifetime of the scheduler.
func (s *Scheduler) Advance() []Transition {
	now := s.clock.Now()
	target := s.stateAt(now)

	var transitions []Transition
	for s.state != target {
		next, err := s.successor(s.state)
		if err != nil {
			// Unreachable with the forward-only table; bail rather than spin.
			break
		}
		transitions = append(transitions, Transition{From: s.state, To: next, At: now})
		s.state = next
	}
	return transitions
}

// stateAt computes the state the session clock dictates at instant t.
func (s *Scheduler) stateAt(t time.Time) State {
	switch {
	case t.Before(s.session.OpenTime):
		return StatePreMarket
	case t.Before(s.session.ActiveEndTime):
		return StateActive
	case t.Before(s.session.SessionEndTime):
		return StateClosingOnly
	default:
		return StateClosed
	}
}

// successor returns the next state along the forward-only path.
func (s *Scheduler) successor(from State) (State, error) {
	for _, tr := range validTransitions {
		if tr.From == from {
			return tr.To, nil
		}
	}
	return from, fmt.Errorf("state %s has no successor", from)
}

// Describe returns a human-readable state description for the dashboard.
func (s *Scheduler) Describe() string {
	switch s.state {
	case StatePreMarket:
		return "Pre-market: waiting for the session open"
	case StateActive:
		return "Active: opening and closing positions on signals"
	case StateClosingOnly:
		return "Closing-only: new entries rejected, managing open risk"
	case StateClosed:
		return "Closed: session over, forced-close backstop only"
	default:
		return "Unknown state"
	}
}
