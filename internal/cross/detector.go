// Package cross watches an indicator stream for sign changes between SMA9 and
// the session VWAP during regular trading hours.
package cross

import (
	"time"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
)

// HoursFunc reports whether an instant falls inside regular trading hours.
type HoursFunc func(time.Time) bool

// Detector emits Cross events for one ticker. Points outside trading hours are
// skipped entirely: they are not used as prev or curr. Not safe for concurrent
// use; each ticker pipeline owns its own instance.
type Detector struct {
	ticker        string
	withinHours   HoursFunc
	lastDirection models.CrossDirection
}

// NewDetector creates a detector for one ticker with the given trading-hours
// predicate.
func NewDetector(ticker string, withinHours HoursFunc) *Detector {
	return &Detector{
		ticker:      ticker,
		withinHours: withinHours,
	}
}

// Reset clears the emitted-direction guard for a new trading session.
func (d *Detector) Reset() {
	d.lastDirection = ""
}

// LastDirection returns the direction of the most recently emitted cross, or
// empty if none has been emitted this session.
func (d *Detector) LastDirection() models.CrossDirection {
	return d.lastDirection
}

// Observe compares two adjacent indicator points and returns a Cross when
// SMA9-VWAP changed sign between them, or nil otherwise.
func (d *Detector) Observe(prev, curr models.IndicatorPoint) *models.Cross {
	if !d.withinHours(prev.Timestamp) || !d.withinHours(curr.Timestamp) {
		return nil
	}
	if !prev.Defined() || !curr.Defined() {
		return nil
	}

	diffPrev := prev.Diff()
	diffCurr := curr.Diff()
	if diffPrev*diffCurr >= 0 {
		return nil
	}

	direction := models.CrossDown
	if diffCurr > 0 {
		direction = models.CrossUp
	}

	// Sign-change detection alternates direction by construction, so this
	// guard never fires in practice. Kept as a cheap invariant check against
	// a future refactor of the detection math.
	if d.lastDirection == direction {
		return nil
	}
	d.lastDirection = direction

	return &models.Cross{
		Ticker:    d.ticker,
		Timestamp: curr.Timestamp,
		Price:     curr.Price,
		SMA9:      *curr.SMA9,
		VWAP:      *curr.VWAP,
		Direction: direction,
	}
}
