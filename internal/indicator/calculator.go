// Package indicator converts raw ticks into rolling SMA9 and session VWAP
// values. One Calculator instance serves exactly one ticker's pipeline.
package indicator

import (
	"time"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
)

// SMAWindow is the number of samples in the rolling simple moving average.
const SMAWindow = 9

// Calculator accumulates per-session indicator state. It is not safe for
// concurrent use; each ticker pipeline owns its own instance. The owning
// pipeline calls Reset at each session boundary so neither the SMA window nor
// the VWAP accumulators span trading days.
type Calculator struct {
	ticker string

	// rolling SMA window, oldest first
	window []float64

	// session VWAP accumulators
	priceVolumeSum float64
	volumeSum      float64

	sessionStart time.Time
	lastSeen     time.Time
	seenAny      bool
}

// NewCalculator creates a calculator for one ticker. sessionStart is the
// wall-clock instant the session's VWAP accumulation begins; ticks stamped
// before it contribute nothing to VWAP.
func NewCalculator(ticker string, sessionStart time.Time) *Calculator {
	return &Calculator{
		ticker:       ticker,
		window:       make([]float64, 0, SMAWindow),
		sessionStart: sessionStart,
	}
}

// Ticker returns the ticker this calculator serves.
func (c *Calculator) Ticker() string {
	return c.ticker
}

// Reset clears all accumulators for a new trading session.
func (c *Calculator) Reset(sessionStart time.Time) {
	c.window = c.window[:0]
	c.priceVolumeSum = 0
	c.volumeSum = 0
	c.sessionStart = sessionStart
	c.lastSeen = time.Time{}
	c.seenAny = false
}

// Update folds one tick into the indicator state and returns the derived
// point. Ticks arrive in timestamp order; a duplicate (or stale) timestamp is
// an idempotent no-op and the returned point reflects the state unchanged.
func (c *Calculator) Update(tick models.Tick) models.IndicatorPoint {
	duplicate := c.seenAny && !tick.Timestamp.After(c.lastSeen)
	if !duplicate {
		c.applyTick(tick)
		c.lastSeen = tick.Timestamp
		c.seenAny = true
	}

	point := models.IndicatorPoint{
		Timestamp: tick.Timestamp,
		Price:     tick.Price,
	}
	if len(c.window) == SMAWindow {
		sma := mean(c.window)
		point.SMA9 = &sma
	}
	if c.volumeSum > 0 {
		vwap := c.priceVolumeSum / c.volumeSum
		point.VWAP = &vwap
	}
	return point
}

func (c *Calculator) applyTick(tick models.Tick) {
	if len(c.window) == SMAWindow {
		c.window = append(c.window[1:], tick.Price)
	} else {
		c.window = append(c.window, tick.Price)
	}

	if !tick.Timestamp.Before(c.sessionStart) && tick.Volume > 0 {
		c.priceVolumeSum += tick.Price * float64(tick.Volume)
		c.volumeSum += float64(tick.Volume)
	}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
