package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
)

// MockStorage is an in-memory store for tests with optional failure
// injection on each operation.
type MockStorage struct {
	mu       sync.RWMutex
	open     map[string]*models.Position
	history  []models.Position
	trades   []models.Trade
	dailyPnL map[string]float64
	stats    Statistics

	// Failure injection. When set, the matching operation returns the error.
	AddError    error
	UpdateError error
	CloseError  error
	TradeError  error
	ReadError   error
	SaveError   error

	SaveCalls int
}

// Ensure MockStorage implements the storage interface at compile time.
var _ Interface = (*MockStorage)(nil)

// NewMockStorage creates an empty in-memory store.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		open:     make(map[string]*models.Position),
		dailyPnL: make(map[string]float64),
	}
}

func (m *MockStorage) GetOpenPosition(ticker string) (*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ReadError != nil {
		return nil, m.ReadError
	}
	pos, ok := m.open[ticker]
	if !ok {
		return nil, nil
	}
	copied := *pos
	return &copied, nil
}

func (m *MockStorage) GetOpenPositions() ([]models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ReadError != nil {
		return nil, m.ReadError
	}
	out := make([]models.Position, 0, len(m.open))
	for _, pos := range m.open {
		out = append(out, *pos)
	}
	return out, nil
}

func (m *MockStorage) AddPosition(pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AddError != nil {
		return m.AddError
	}
	if _, exists := m.open[pos.Ticker]; exists {
		return fmt.Errorf("%w: %s", ErrPositionExists, pos.Ticker)
	}
	copied := *pos
	m.open[pos.Ticker] = &copied
	return nil
}

func (m *MockStorage) UpdatePosition(pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateError != nil {
		return m.UpdateError
	}
	existing, ok := m.open[pos.Ticker]
	if !ok || existing.ID != pos.ID {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, pos.ID)
	}
	copied := *pos
	m.open[pos.Ticker] = &copied
	return nil
}

func (m *MockStorage) ClosePosition(id string, finalPnL float64, reason string, closedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CloseError != nil {
		return m.CloseError
	}
	for ticker, pos := range m.open {
		if pos.ID == id {
			pos.Status = models.StatusClosed
			pos.RealizedPnL = finalPnL
			pos.ExitReason = reason
			pos.ExitTime = closedAt
			delete(m.open, ticker)
			m.history = append(m.history, *pos)
			m.dailyPnL[dateKey(closedAt)] += finalPnL
			m.stats.applyClose(finalPnL, closedAt)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
}

func (m *MockStorage) AppendTrade(trade models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.TradeError != nil {
		return m.TradeError
	}
	m.trades = append(m.trades, trade)
	return nil
}

func (m *MockStorage) GetTradesByPosition(positionID string) ([]models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ReadError != nil {
		return nil, m.ReadError
	}
	var out []models.Trade
	for _, tr := range m.trades {
		if tr.PositionID == positionID {
			out = append(out, tr)
		}
	}
	return out, nil
}

// Trades returns every recorded fill, for assertions.
func (m *MockStorage) Trades() []models.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

func (m *MockStorage) GetHistory() ([]models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ReadError != nil {
		return nil, m.ReadError
	}
	out := make([]models.Position, len(m.history))
	copy(out, m.history)
	return out, nil
}

func (m *MockStorage) GetStatistics() (*Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ReadError != nil {
		return nil, m.ReadError
	}
	stats := m.stats
	return &stats, nil
}

func (m *MockStorage) GetDailyPnL(date time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ReadError != nil {
		return 0, m.ReadError
	}
	return m.dailyPnL[dateKey(date)], nil
}

func (m *MockStorage) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveCalls++
	return m.SaveError
}

func (m *MockStorage) Close() error {
	return nil
}
