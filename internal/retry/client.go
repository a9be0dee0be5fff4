// Package retry wraps order submission with bounded exponential backoff, and
// an unbounded variant for forced closes that must not give up while the
// session is still open.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/eddiefleurent/schrute_scalper/internal/broker"
	"github.com/eddiefleurent/schrute_scalper/internal/models"
	"github.com/eddiefleurent/schrute_scalper/internal/orders"
)

// Config controls retry behavior.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is the default retry configuration.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client retries order placement on transient failures.
type Client struct {
	orders *orders.Manager
	logger *log.Logger
	config Config
}

// NewClient creates a retrying order client.
func NewClient(om *orders.Manager, logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{orders: om, logger: logger, config: cfg}
}

// PlaceWithRetry submits an intent, retrying transient failures up to
// MaxRetries times. Permanent failures return immediately.
func (c *Client) PlaceWithRetry(ctx context.Context, intent models.OrderIntent) (*broker.OrderResult, error) {
	placeCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if placeCtx.Err() != nil {
			return nil, fmt.Errorf("order placement timed out: %w", placeCtx.Err())
		}

		result, err := c.orders.Place(placeCtx, intent)
		if err == nil {
			if attempt > 0 {
				c.logger.Printf("[%s] order placed on attempt %d", intent.Ticker, attempt+1)
			}
			return result, nil
		}

		lastErr = err
		c.logger.Printf("[%s] place attempt %d/%d failed: %v",
			intent.Ticker, attempt+1, c.config.MaxRetries+1, err)

		if !c.isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-placeCtx.Done():
			return nil, fmt.Errorf("order placement timed out during backoff: %w", placeCtx.Err())
		}
	}

	return nil, fmt.Errorf("failed to place order after %d attempts: %w",
		c.config.MaxRetries+1, lastErr)
}

// ForceCloseWithRetry submits a buy-back intent and keeps retrying transient
// failures until it lands or the context is done. A position left open past
// the entry window is worse than a late fill.
func (c *Client) ForceCloseWithRetry(ctx context.Context, intent models.OrderIntent) (*broker.OrderResult, error) {
	backoff := c.config.InitialBackoff

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("forced close abandoned: %w", ctx.Err())
		}

		result, err := c.orders.Place(ctx, intent)
		if err == nil {
			return result, nil
		}

		if !c.isTransientError(err) {
			return nil, fmt.Errorf("forced close rejected permanently: %w", err)
		}

		c.logger.Printf("[%s] forced close attempt %d failed, retrying in %v: %v",
			intent.Ticker, attempt, backoff, err)

		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-ctx.Done():
			return nil, fmt.Errorf("forced close abandoned during backoff: %w", ctx.Err())
		}
	}
}

// nextBackoff grows the delay by 1.5x, caps it, and adds jitter so retries
// from multiple tickers do not synchronize.
func (c *Client) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.Printf("failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

// transientPatterns matches transport-level failures that sit behind
// wrapped errors without a typed cause.
var transientPatterns = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"temporary failure",
	"service unavailable",
	"too many requests",
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if broker.IsTransient(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
