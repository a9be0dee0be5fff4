// Package storage persists positions, trade records, and running statistics.
// Two backends ship: a JSON file store and a SQLite store. Both guard every
// lifecycle invariant they can enforce locally, most importantly one open
// position per ticker.
package storage

import (
	"errors"
	"time"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
)

var (
	// ErrPositionExists means the ticker already has an open position.
	ErrPositionExists = errors.New("open position already exists for ticker")
	// ErrPositionNotFound means no open position matched the lookup.
	ErrPositionNotFound = errors.New("position not found")
)

// Statistics summarizes closed-position performance.
type Statistics struct {
	TotalPositions   int       `json:"total_positions"`
	WinningPositions int       `json:"winning_positions"`
	LosingPositions  int       `json:"losing_positions"`
	TotalPnL         float64   `json:"total_pnl"`
	WinRate          float64   `json:"win_rate"`
	LargestWin       float64   `json:"largest_win"`
	LargestLoss      float64   `json:"largest_loss"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Interface defines the persistence contract the engine consumes.
type Interface interface {
	// GetOpenPosition returns the open position for a ticker, or nil when
	// there is none.
	GetOpenPosition(ticker string) (*models.Position, error)
	// GetOpenPositions returns all open positions.
	GetOpenPositions() ([]models.Position, error)
	// AddPosition records a newly opened position. Returns
	// ErrPositionExists when the ticker already has one open.
	AddPosition(pos *models.Position) error
	// UpdatePosition overwrites the stored copy of an open position.
	UpdatePosition(pos *models.Position) error
	// ClosePosition archives an open position with its final P&L and exit
	// reason and folds it into daily P&L and statistics.
	ClosePosition(id string, finalPnL float64, reason string, closedAt time.Time) error
	// AppendTrade records one executed order fill.
	AppendTrade(trade models.Trade) error
	// GetTradesByPosition returns the fills recorded for a position.
	GetTradesByPosition(positionID string) ([]models.Trade, error)
	// GetHistory returns closed positions, oldest first.
	GetHistory() ([]models.Position, error)
	// GetStatistics returns the running performance summary.
	GetStatistics() (*Statistics, error)
	// GetDailyPnL returns realized P&L for a calendar date.
	GetDailyPnL(date time.Time) (float64, error)
	// Save flushes state to the backing store.
	Save() error
	// Close releases backend resources.
	Close() error
}

// dateKey is the canonical map key for daily P&L buckets.
func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// applyClose folds one closed position into the statistics summary.
func (s *Statistics) applyClose(finalPnL float64, closedAt time.Time) {
	s.TotalPositions++
	s.TotalPnL += finalPnL
	if finalPnL >= 0 {
		s.WinningPositions++
		if finalPnL > s.LargestWin {
			s.LargestWin = finalPnL
		}
	} else {
		s.LosingPositions++
		if finalPnL < s.LargestLoss {
			s.LargestLoss = finalPnL
		}
	}
	if s.TotalPositions > 0 {
		s.WinRate = float64(s.WinningPositions) / float64(s.TotalPositions)
	}
	s.LastUpdated = closedAt
}
