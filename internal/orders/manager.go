// Package orders submits order intents to the execution gateway and tracks
// them to a terminal status.
package orders

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/eddiefleurent/schrute_scalper/internal/broker"
	"github.com/eddiefleurent/schrute_scalper/internal/models"
)

// Config contains configuration for the order manager.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	CallTimeout  time.Duration
}

// DefaultConfig is the default configuration for the order manager.
var DefaultConfig = Config{
	PollInterval: 2 * time.Second,
	Timeout:      2 * time.Minute,
	CallTimeout:  5 * time.Second,
}

// Manager handles order submission and status polling.
type Manager struct {
	broker broker.Broker
	logger *log.Logger
	config Config
}

// NewManager creates a new order manager instance.
func NewManager(b broker.Broker, logger *log.Logger, config ...Config) *Manager {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = log.New(os.Stderr, "orders: ", log.LstdFlags)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}
	if b == nil {
		panic("orders.NewManager: broker must not be nil")
	}

	return &Manager{broker: b, logger: logger, config: cfg}
}

// Place submits one intent as a limit order.
func (m *Manager) Place(ctx context.Context, intent models.OrderIntent) (*broker.OrderResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	req := broker.OrderRequest{
		Ticker:       intent.Ticker,
		OptionSymbol: intent.OptionSymbol,
		Action:       intent.Action,
		Contracts:    intent.Contracts,
		LimitPrice:   intent.LimitPrice,
		Tag:          fmt.Sprintf("%s-%s", intent.Ticker, intent.Reason),
	}

	result, err := m.broker.PlaceOrder(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to place order %s: %w", intent, err)
	}
	m.logger.Printf("[%s] placed %s, order %s status %s",
		intent.Ticker, intent, result.OrderID, result.Status)
	return result, nil
}

// CheckOrder performs a single status poll.
func (m *Manager) CheckOrder(ctx context.Context, orderID string) (*broker.OrderResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()
	return m.broker.GetOrderStatus(callCtx, orderID)
}

// AwaitTerminal polls an order until it reaches a terminal status or the
// manager's timeout elapses.
func (m *Manager) AwaitTerminal(ctx context.Context, orderID string) (*broker.OrderResult, error) {
	pollCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		result, err := m.CheckOrder(pollCtx, orderID)
		if err == nil && result.Status.Terminal() {
			return result, nil
		}
		if err != nil {
			m.logger.Printf("order %s status poll failed: %v", orderID, err)
		}

		select {
		case <-pollCtx.Done():
			return nil, fmt.Errorf("%w: order %s", broker.ErrOrderTimeout, orderID)
		case <-ticker.C:
		}
	}
}
