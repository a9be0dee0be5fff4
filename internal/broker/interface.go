// Package broker defines the order execution gateway the engine consumes and
// the adapters shipped with it. The live brokerage wire protocol is an
// external concern; the core depends only on this contract and its failure
// modes.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
)

// OrderStatus is the broker-side status of a placed order.
type OrderStatus string

const (
	// StatusPending means the order is accepted but not yet filled.
	StatusPending OrderStatus = "pending"
	// StatusFilled means the order executed completely.
	StatusFilled OrderStatus = "filled"
	// StatusRejected means the broker refused the order.
	StatusRejected OrderStatus = "rejected"
	// StatusCanceled means the order was canceled before filling.
	StatusCanceled OrderStatus = "canceled"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusRejected || s == StatusCanceled
}

// Sentinel errors the engine branches on. Adapters wrap their transport
// failures with these so the retry policy stays transport-agnostic.
var (
	// ErrOrderRejected is terminal for a specific order; never retried.
	ErrOrderRejected = errors.New("order rejected by broker")
	// ErrOrderTimeout means an order action did not resolve in time.
	ErrOrderTimeout = errors.New("order action timed out")
	// ErrBrokerUnavailable is transient; retried with backoff.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrNoOptionChain means the chain query returned nothing usable.
	ErrNoOptionChain = errors.New("no option chain available")
)

// APIError represents a brokerage API error with status code and body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// IsTransient reports whether the error is worth retrying. 4xx responses
// other than 429 are permanent; everything else at the transport level is
// assumed recoverable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOrderRejected) {
		return false
	}
	if errors.Is(err, ErrBrokerUnavailable) || errors.Is(err, ErrOrderTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == 429 || apiErr.Status >= 500 {
			return true
		}
		return false
	}
	return false
}

// OrderRequest describes a single-leg option order.
type OrderRequest struct {
	Ticker       string
	OptionSymbol string
	Action       models.TradeAction
	Contracts    int
	LimitPrice   float64
	// Tag is an idempotency hint passed through to the broker.
	Tag string
}

// OrderResult is the broker's view of one order.
type OrderResult struct {
	OrderID   string
	Status    OrderStatus
	FillPrice float64
}

// OptionQuote describes one strike row of an option chain.
type OptionQuote struct {
	Symbol     string
	OptionType models.OptionType
	Strike     float64
	Bid        float64
	Ask        float64
	Greeks     *Greeks
}

// Greeks carries the option sensitivities returned with a chain.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
}

// Mid returns the quote midpoint, or zero when the market is one-sided.
func (q OptionQuote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// Broker is the order execution gateway contract the engine consumes.
type Broker interface {
	// PlaceOrder submits a single-leg option order.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	// GetOrderStatus reports the current status of a previously placed order.
	GetOrderStatus(ctx context.Context, orderID string) (*OrderResult, error)
	// GetOptionChain returns the strike rows for a ticker and expiration.
	GetOptionChain(ctx context.Context, ticker string, expiration time.Time) ([]OptionQuote, error)
}

// SpotMarker is implemented by gateways that synthesize option chains from
// the tape and need to see each underlying print. Wrappers around such a
// gateway must forward marks to keep its chains current.
type SpotMarker interface {
	MarkSpot(ticker string, price float64)
}
