package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
)

// jsonData is the on-disk layout of the JSON backend.
type jsonData struct {
	Version    string                      `json:"version"`
	Open       map[string]*models.Position `json:"open_positions"`
	History    []models.Position           `json:"history"`
	Trades     []models.Trade              `json:"trades"`
	DailyPnL   map[string]float64          `json:"daily_pnl"`
	Statistics Statistics                  `json:"statistics"`
}

// JSONStorage persists state to a single JSON file. Writes go through a temp
// file and rename so a crash mid-save never leaves a torn file behind.
type JSONStorage struct {
	mu   sync.RWMutex
	path string
	data jsonData
}

// Ensure JSONStorage implements the storage interface at compile time.
var _ Interface = (*JSONStorage)(nil)

// NewJSONStorage creates a JSON-backed store, loading existing state from
// path when present.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		path: path,
		data: newJSONData(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func newJSONData() jsonData {
	return jsonData{
		Version:  "1.0",
		Open:     make(map[string]*models.Position),
		DailyPnL: make(map[string]float64),
	}
}

func (s *JSONStorage) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read storage file: %w", err)
	}

	var data jsonData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to parse storage file: %w", err)
	}
	if data.Open == nil {
		data.Open = make(map[string]*models.Position)
	}
	if data.DailyPnL == nil {
		data.DailyPnL = make(map[string]float64)
	}

	s.data = data
	return nil
}

// Save writes the current state atomically.
func (s *JSONStorage) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

// saveLocked writes state to disk. Callers must hold at least the read lock.
func (s *JSONStorage) saveLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage data: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write temp storage file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}

// GetOpenPosition returns the open position for a ticker, or nil.
func (s *JSONStorage) GetOpenPosition(ticker string) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.data.Open[ticker]
	if !ok {
		return nil, nil
	}
	copied := *pos
	return &copied, nil
}

// GetOpenPositions returns all open positions sorted by ticker.
func (s *JSONStorage) GetOpenPositions() ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Position, 0, len(s.data.Open))
	for _, pos := range s.data.Open {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

// AddPosition records a new open position and persists immediately.
func (s *JSONStorage) AddPosition(pos *models.Position) error {
	if err := pos.Validate(); err != nil {
		return fmt.Errorf("invalid position: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.Open[pos.Ticker]; exists {
		return fmt.Errorf("%w: %s", ErrPositionExists, pos.Ticker)
	}
	copied := *pos
	s.data.Open[pos.Ticker] = &copied
	return s.saveLocked()
}

// UpdatePosition overwrites the stored copy of an open position.
func (s *JSONStorage) UpdatePosition(pos *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data.Open[pos.Ticker]
	if !ok || existing.ID != pos.ID {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, pos.ID)
	}
	copied := *pos
	s.data.Open[pos.Ticker] = &copied
	return s.saveLocked()
}

// ClosePosition archives an open position and updates daily P&L and
// statistics in the same save.
func (s *JSONStorage) ClosePosition(id string, finalPnL float64, reason string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ticker string
	var pos *models.Position
	for tk, p := range s.data.Open {
		if p.ID == id {
			ticker, pos = tk, p
			break
		}
	}
	if pos == nil {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}

	pos.Status = models.StatusClosed
	pos.RealizedPnL = finalPnL
	pos.ExitReason = reason
	pos.ExitTime = closedAt

	delete(s.data.Open, ticker)
	s.data.History = append(s.data.History, *pos)
	s.data.DailyPnL[dateKey(closedAt)] += finalPnL
	s.data.Statistics.applyClose(finalPnL, closedAt)
	return s.saveLocked()
}

// AppendTrade records one executed fill.
func (s *JSONStorage) AppendTrade(trade models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Trades = append(s.data.Trades, trade)
	return s.saveLocked()
}

// GetTradesByPosition returns the fills recorded against a position.
func (s *JSONStorage) GetTradesByPosition(positionID string) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Trade
	for _, tr := range s.data.Trades {
		if tr.PositionID == positionID {
			out = append(out, tr)
		}
	}
	return out, nil
}

// GetHistory returns closed positions, oldest first.
func (s *JSONStorage) GetHistory() ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Position, len(s.data.History))
	copy(out, s.data.History)
	return out, nil
}

// GetStatistics returns a copy of the running statistics.
func (s *JSONStorage) GetStatistics() (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.data.Statistics
	return &stats, nil
}

// GetDailyPnL returns realized P&L for a calendar date.
func (s *JSONStorage) GetDailyPnL(date time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.data.DailyPnL[dateKey(date)], nil
}

// Close is a no-op for the JSON backend.
func (s *JSONStorage) Close() error {
	return nil
}
