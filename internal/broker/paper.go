package broker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
	"github.com/eddiefleurent/schrute_scalper/internal/util"
)

const (
	// paperChainLevels is how many strikes the synthetic chain spans on each
	// side of spot.
	paperChainLevels = 10
	// paperMinPremium floors the synthetic time value.
	paperMinPremium = 0.05
	// paperBaseTimeValue is the at-the-money synthetic premium.
	paperBaseTimeValue = 2.50
	// paperDecayPerDollar is how fast time value bleeds per dollar of
	// moneyness distance.
	paperDecayPerDollar = 0.50
	// paperHalfSpread is applied around the synthetic mid.
	paperHalfSpread = 0.05
)

// PaperBroker is an in-memory order execution gateway for paper trading and
// tests. Limit orders fill immediately at their limit price; option chains are
// synthesized on a strike grid around the most recent spot mark.
type PaperBroker struct {
	mu              sync.RWMutex
	spots           map[string]float64
	orders          map[string]*OrderResult
	strikeIncrement float64
}

// Ensure PaperBroker implements Broker and SpotMarker at compile time.
var (
	_ Broker     = (*PaperBroker)(nil)
	_ SpotMarker = (*PaperBroker)(nil)
)

// NewPaperBroker creates a paper broker with the given strike grid increment.
func NewPaperBroker(strikeIncrement float64) *PaperBroker {
	if strikeIncrement <= 0 {
		strikeIncrement = 5.0
	}
	return &PaperBroker{
		spots:           make(map[string]float64),
		orders:          make(map[string]*OrderResult),
		strikeIncrement: strikeIncrement,
	}
}

// MarkSpot records the latest underlying price for a ticker. The engine calls
// this on every tick so synthetic chains track the tape.
func (p *PaperBroker) MarkSpot(ticker string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spots[ticker] = price
}

// PlaceOrder fills the order immediately at its limit price.
func (p *PaperBroker) PlaceOrder(_ context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Contracts <= 0 {
		return nil, fmt.Errorf("%w: contracts must be > 0", ErrOrderRejected)
	}
	if req.LimitPrice <= 0 {
		return nil, fmt.Errorf("%w: limit price must be > 0", ErrOrderRejected)
	}
	if req.Action != models.SellToOpen && req.Action != models.BuyToClose {
		return nil, fmt.Errorf("%w: unknown action %q", ErrOrderRejected, req.Action)
	}

	result := &OrderResult{
		OrderID:   uuid.New().String(),
		Status:    StatusFilled,
		FillPrice: req.LimitPrice,
	}

	p.mu.Lock()
	p.orders[result.OrderID] = result
	p.mu.Unlock()

	return result, nil
}

// GetOrderStatus returns the stored result for a previously placed order.
func (p *PaperBroker) GetOrderStatus(_ context.Context, orderID string) (*OrderResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	out := *result
	return &out, nil
}

// GetOptionChain synthesizes a chain on the strike grid around the latest
// spot mark. Both puts and calls are returned for each strike.
func (p *PaperBroker) GetOptionChain(_ context.Context, ticker string, expiration time.Time) ([]OptionQuote, error) {
	p.mu.RLock()
	spot, ok := p.spots[ticker]
	p.mu.RUnlock()
	if !ok || spot <= 0 {
		return nil, fmt.Errorf("%w: no spot mark for %s", ErrNoOptionChain, ticker)
	}

	atm := util.RoundToTick(spot, p.strikeIncrement)
	quotes := make([]OptionQuote, 0, (2*paperChainLevels+1)*2)
	for i := -paperChainLevels; i <= paperChainLevels; i++ {
		strike := atm + float64(i)*p.strikeIncrement
		if strike <= 0 {
			continue
		}
		for _, optionType := range []models.OptionType{models.OptionPut, models.OptionCall} {
			mid := syntheticPremium(spot, strike, optionType)
			quotes = append(quotes, OptionQuote{
				Symbol:     FormatOptionSymbol(ticker, expiration, optionType, strike),
				OptionType: optionType,
				Strike:     strike,
				Bid:        math.Max(paperMinPremium-paperHalfSpread, mid-paperHalfSpread),
				Ask:        mid + paperHalfSpread,
			})
		}
	}
	return quotes, nil
}

// QuoteOption returns the synthetic mid for one contract, used by pipelines
// to mark open positions.
func (p *PaperBroker) QuoteOption(ticker string, optionType models.OptionType, strike float64) (float64, error) {
	p.mu.RLock()
	spot, ok := p.spots[ticker]
	p.mu.RUnlock()
	if !ok || spot <= 0 {
		return 0, fmt.Errorf("%w: no spot mark for %s", ErrNoOptionChain, ticker)
	}
	return syntheticPremium(spot, strike, optionType), nil
}

// syntheticPremium is intrinsic value plus a time value that bleeds linearly
// with distance from the money. Crude, but monotone in the right direction
// for exercising profit-target and stop-loss paths.
func syntheticPremium(spot, strike float64, optionType models.OptionType) float64 {
	var intrinsic float64
	if optionType == models.OptionPut {
		intrinsic = math.Max(0, strike-spot)
	} else {
		intrinsic = math.Max(0, spot-strike)
	}
	timeValue := math.Max(paperMinPremium, paperBaseTimeValue-paperDecayPerDollar*math.Abs(spot-strike))
	return intrinsic + timeValue
}
