// Package lifecycle owns open positions from fill to close. It applies order
// fills to storage, marks positions against live option quotes, and decides
// when a position must be bought back: profit target, stop loss, or the
// forced close at the end of the entry window.
package lifecycle

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/schrute_scalper/internal/mapper"
	"github.com/eddiefleurent/schrute_scalper/internal/models"
	"github.com/eddiefleurent/schrute_scalper/internal/storage"
)

// ratioEpsilon absorbs float noise when comparing cost ratios against the
// configured thresholds, so a buy-back cost of exactly half the credit
// triggers the profit target.
const ratioEpsilon = 1e-9

// Config holds the exit thresholds.
type Config struct {
	// ProfitTargetRatio closes when buy-back cost falls to this fraction
	// of the entry credit or below.
	ProfitTargetRatio float64
	// StopLossRatio closes when buy-back cost rises to this multiple of
	// the entry credit or above.
	StopLossRatio float64
}

// Manager applies fills and price marks to positions and emits close intents
// when an exit threshold is hit.
type Manager struct {
	store  storage.Interface
	cfg    Config
	logger *log.Logger

	mu           sync.Mutex
	storeHealthy bool
}

// NewManager creates a lifecycle manager.
func NewManager(store storage.Interface, cfg Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		store:        store,
		cfg:          cfg,
		logger:       logger,
		storeHealthy: true,
	}
}

// StorageHealthy reports whether the last storage operation succeeded. While
// unhealthy, the engine stops opening new risk but keeps closing.
func (m *Manager) StorageHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storeHealthy
}

func (m *Manager) noteStorageResult(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	healthy := err == nil
	if healthy != m.storeHealthy {
		if healthy {
			m.logger.Printf("storage recovered, resuming entries")
		} else {
			m.logger.Printf("storage error, halting new entries: %v", err)
		}
	}
	m.storeHealthy = healthy
}

// OnOrderFilled applies a filled order to storage: entry fills create the
// position and its opening trade record, exit fills close the position and
// record the buy-back.
func (m *Manager) OnOrderFilled(intent models.OrderIntent, orderID string, fillPrice float64, filledAt time.Time) error {
	if intent.IsOpen() {
		return m.applyEntryFill(intent, orderID, fillPrice, filledAt)
	}
	return m.applyExitFill(intent, orderID, fillPrice, filledAt)
}

func (m *Manager) applyEntryFill(intent models.OrderIntent, orderID string, fillPrice float64, filledAt time.Time) error {
	pos := models.NewPosition(uuid.New().String(), intent.Ticker, intent.OptionType,
		intent.OptionSymbol, intent.Strike, intent.Expiration, intent.Contracts,
		fillPrice, filledAt)
	pos.EntryOrderID = orderID

	if err := m.store.AddPosition(pos); err != nil {
		m.noteStorageResult(err)
		return fmt.Errorf("failed to persist entry fill for %s: %w", intent.Ticker, err)
	}

	trade := models.Trade{
		ID:         uuid.New().String(),
		PositionID: pos.ID,
		Action:     models.SellToOpen,
		Contracts:  intent.Contracts,
		Price:      fillPrice,
		Timestamp:  filledAt,
	}
	err := m.store.AppendTrade(trade)
	m.noteStorageResult(err)
	if err != nil {
		return fmt.Errorf("failed to record entry trade for %s: %w", pos.ID, err)
	}

	m.logger.Printf("[%s] opened %s %s x%d at %.2f, credit $%.2f",
		pos.Ticker, pos.OptionType, pos.OptionSymbol, pos.Contracts, fillPrice, pos.EntryCredit)
	return nil
}

func (m *Manager) applyExitFill(intent models.OrderIntent, orderID string, fillPrice float64, filledAt time.Time) error {
	pos, err := m.store.GetOpenPosition(intent.Ticker)
	if err != nil {
		m.noteStorageResult(err)
		return fmt.Errorf("failed to load position for exit fill: %w", err)
	}
	if pos == nil || (intent.PositionID != "" && pos.ID != intent.PositionID) {
		return fmt.Errorf("%w: exit fill for %s position %s",
			storage.ErrPositionNotFound, intent.Ticker, intent.PositionID)
	}

	pos.ExitOrderID = orderID
	if err := m.store.UpdatePosition(pos); err != nil {
		m.noteStorageResult(err)
		return fmt.Errorf("failed to record exit order id: %w", err)
	}

	finalPnL := pos.EntryCredit - float64(pos.Contracts)*fillPrice*models.ContractMultiplier
	if err := m.store.ClosePosition(pos.ID, finalPnL, intent.Reason, filledAt); err != nil {
		m.noteStorageResult(err)
		return fmt.Errorf("failed to close position %s: %w", pos.ID, err)
	}

	trade := models.Trade{
		ID:         uuid.New().String(),
		PositionID: pos.ID,
		Action:     models.BuyToClose,
		Contracts:  pos.Contracts,
		Price:      fillPrice,
		Timestamp:  filledAt,
	}
	err = m.store.AppendTrade(trade)
	m.noteStorageResult(err)
	if err != nil {
		return fmt.Errorf("failed to record exit trade for %s: %w", pos.ID, err)
	}

	m.logger.Printf("[%s] closed %s at %.2f (%s), P&L $%.2f",
		pos.Ticker, pos.OptionSymbol, fillPrice, intent.Reason, finalPnL)
	return nil
}

// OnPriceUpdate marks the open position for a ticker against the latest
// option mid and returns a close intent when an exit threshold is hit, nil
// otherwise.
func (m *Manager) OnPriceUpdate(ticker string, optionMid float64, at time.Time) (*models.OrderIntent, error) {
	pos, err := m.store.GetOpenPosition(ticker)
	if err != nil {
		m.noteStorageResult(err)
		return nil, fmt.Errorf("failed to load position for mark: %w", err)
	}
	if pos == nil || optionMid <= 0 {
		return nil, nil
	}

	pos.MarkPrice(optionMid)
	err = m.store.UpdatePosition(pos)
	m.noteStorageResult(err)
	if err != nil {
		return nil, fmt.Errorf("failed to persist mark for %s: %w", pos.ID, err)
	}

	reason := m.exitReason(pos)
	if reason == "" {
		return nil, nil
	}

	m.logger.Printf("[%s] %s hit at cost ratio %.4f (mark %.2f, entry %.2f)",
		ticker, reason, pos.CostRatio(), optionMid, pos.EntryPrice)

	intent := models.OrderIntent{
		Ticker:       pos.Ticker,
		Action:       models.BuyToClose,
		OptionType:   pos.OptionType,
		OptionSymbol: pos.OptionSymbol,
		Strike:       pos.Strike,
		Expiration:   pos.Expiration,
		Contracts:    pos.Contracts,
		LimitPrice:   optionMid,
		Reason:       reason,
		PositionID:   pos.ID,
	}
	return &intent, nil
}

// exitReason returns the triggered exit threshold, or empty when the
// position stays open. Ratios strictly between the thresholds never trigger.
func (m *Manager) exitReason(pos *models.Position) string {
	ratio := pos.CostRatio()
	if ratio <= 0 {
		return ""
	}
	if m.cfg.ProfitTargetRatio > 0 && ratio <= m.cfg.ProfitTargetRatio+ratioEpsilon {
		return models.ReasonProfitTarget
	}
	if m.cfg.StopLossRatio > 0 && ratio >= m.cfg.StopLossRatio-ratioEpsilon {
		return models.ReasonStopLoss
	}
	return ""
}

// ForcedCloseIntents returns buy-back intents for every open position, for
// the sweep when the entry window ends.
func (m *Manager) ForcedCloseIntents() ([]models.OrderIntent, error) {
	open, err := m.store.GetOpenPositions()
	if err != nil {
		m.noteStorageResult(err)
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}

	intents := make([]models.OrderIntent, 0, len(open))
	for i := range open {
		intents = append(intents, mapper.ForcedCloseIntent(&open[i], 0))
	}
	return intents, nil
}

// OpenPosition returns the open position for a ticker, or nil.
func (m *Manager) OpenPosition(ticker string) (*models.Position, error) {
	pos, err := m.store.GetOpenPosition(ticker)
	if err != nil {
		m.noteStorageResult(err)
		return nil, err
	}
	return pos, nil
}
