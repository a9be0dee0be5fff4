// Package mapper turns confirmed indicator crosses into order intents. A
// cross down means sell a put at or below spot; a cross up means sell a call
// at or above spot. When a position of the opposite type is already open, the
// mapper emits its close ahead of the new entry.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/eddiefleurent/schrute_scalper/internal/broker"
	"github.com/eddiefleurent/schrute_scalper/internal/models"
	"github.com/eddiefleurent/schrute_scalper/internal/util"
)

// ErrStrikeNotFound means the option chain had no usable strike on the
// required side of the spot price.
var ErrStrikeNotFound = errors.New("no suitable strike found in option chain")

// priceTick is the limit price rounding increment.
const priceTick = 0.01

// Config controls mapping behavior.
type Config struct {
	// Contracts is the fixed size of every entry.
	Contracts int
	// TieBreak picks between an at-the-money strike and the next strike
	// out when spot lands exactly on the grid: "otm" steps one strike
	// further out of the money, "nearest" keeps the at-the-money strike.
	TieBreak string
}

// Mapper maps crosses to order intents using a broker's option chains.
type Mapper struct {
	broker broker.Broker
	cfg    Config
	logger *log.Logger
}

// New creates a Mapper.
func New(b broker.Broker, cfg Config, logger *log.Logger) *Mapper {
	if cfg.Contracts <= 0 {
		cfg.Contracts = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Mapper{broker: b, cfg: cfg, logger: logger}
}

// OnCross returns the ordered intents for one confirmed cross: at most one
// close for an opposite-type open position, followed by one entry. A cross
// that agrees with the existing position's type yields nothing. When the
// chain offers no usable entry strike, the close is still returned alone.
func (m *Mapper) OnCross(ctx context.Context, cross *models.Cross, existing *models.Position) ([]models.OrderIntent, error) {
	if cross == nil {
		return nil, nil
	}

	targetType := models.OptionPut
	if cross.Direction == models.CrossUp {
		targetType = models.OptionCall
	}

	if existing != nil && existing.OptionType == targetType {
		m.logger.Printf("[%s] cross %s agrees with open %s position %s, no action",
			cross.Ticker, cross.Direction, existing.OptionType, existing.ID)
		return nil, nil
	}

	expiration := sameDayExpiry(cross.Timestamp)
	chain, err := m.broker.GetOptionChain(ctx, cross.Ticker, expiration)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch option chain for %s: %w", cross.Ticker, err)
	}

	var intents []models.OrderIntent
	if existing != nil {
		closeIntent, err := m.closeIntent(existing, chain)
		if err != nil {
			return nil, err
		}
		intents = append(intents, closeIntent)
	}

	entry, err := m.entryIntent(cross, targetType, expiration, chain)
	if err != nil {
		// The reverse close must still run: the open position disagrees
		// with the signal whether or not a new entry is possible.
		if len(intents) > 0 {
			m.logger.Printf("[%s] no entry for cross %s, closing %s only: %v",
				cross.Ticker, cross.Direction, existing.ID, err)
			return intents, nil
		}
		return nil, err
	}
	intents = append(intents, entry)
	return intents, nil
}

// ForcedCloseIntent builds the buy-back intent for an open position outside
// the mapping flow, used by the end-of-window sweep.
func ForcedCloseIntent(pos *models.Position, limitPrice float64) models.OrderIntent {
	if limitPrice <= 0 {
		limitPrice = pos.CurrentPrice
	}
	if limitPrice <= 0 {
		limitPrice = pos.EntryPrice
	}
	return models.OrderIntent{
		Ticker:       pos.Ticker,
		Action:       models.BuyToClose,
		OptionType:   pos.OptionType,
		OptionSymbol: pos.OptionSymbol,
		Strike:       pos.Strike,
		Expiration:   pos.Expiration,
		Contracts:    pos.Contracts,
		LimitPrice:   util.RoundToTick(limitPrice, priceTick),
		Reason:       models.ReasonForcedClose,
		PositionID:   pos.ID,
	}
}

func (m *Mapper) closeIntent(pos *models.Position, chain []broker.OptionQuote) (models.OrderIntent, error) {
	limit := pos.CurrentPrice
	for _, q := range chain {
		if q.Symbol == pos.OptionSymbol && q.Mid() > 0 {
			limit = q.Mid()
			break
		}
	}
	if limit <= 0 {
		limit = pos.EntryPrice
	}
	return models.OrderIntent{
		Ticker:       pos.Ticker,
		Action:       models.BuyToClose,
		OptionType:   pos.OptionType,
		OptionSymbol: pos.OptionSymbol,
		Strike:       pos.Strike,
		Expiration:   pos.Expiration,
		Contracts:    pos.Contracts,
		LimitPrice:   util.RoundToTick(limit, priceTick),
		Reason:       models.ReasonCrossReverse,
		PositionID:   pos.ID,
	}, nil
}

func (m *Mapper) entryIntent(cross *models.Cross, optionType models.OptionType,
	expiration time.Time, chain []broker.OptionQuote) (models.OrderIntent, error) {

	quote, err := selectStrike(chain, optionType, cross.Price, m.cfg.TieBreak)
	if err != nil {
		return models.OrderIntent{}, fmt.Errorf("%s %s at spot %.2f: %w",
			cross.Ticker, optionType, cross.Price, err)
	}

	limit := quote.Mid()
	if limit <= 0 {
		return models.OrderIntent{}, fmt.Errorf("%w: strike %.2f has no two-sided market",
			ErrStrikeNotFound, quote.Strike)
	}

	m.logger.Printf("[%s] cross %s at %.2f: selling %s strike %.2f limit %.2f",
		cross.Ticker, cross.Direction, cross.Price, optionType, quote.Strike, limit)

	return models.OrderIntent{
		Ticker:       cross.Ticker,
		Action:       models.SellToOpen,
		OptionType:   optionType,
		OptionSymbol: quote.Symbol,
		Strike:       quote.Strike,
		Expiration:   expiration,
		Contracts:    m.cfg.Contracts,
		LimitPrice:   util.RoundToTick(limit, priceTick),
		Reason:       models.ReasonCrossEntry,
	}, nil
}

// selectStrike picks the strike nearest spot on the out-of-the-money side:
// at or below spot for puts, at or above for calls. Quotes without a bid are
// skipped. With the "otm" tie break, a strike exactly at spot is passed over
// in favor of the next strike out when one is quoted.
func selectStrike(chain []broker.OptionQuote, optionType models.OptionType,
	spot float64, tieBreak string) (broker.OptionQuote, error) {

	var best *broker.OptionQuote
	var next *broker.OptionQuote
	for i := range chain {
		q := &chain[i]
		if q.OptionType != optionType || q.Bid <= 0 {
			continue
		}
		if optionType == models.OptionPut && q.Strike > spot {
			continue
		}
		if optionType == models.OptionCall && q.Strike < spot {
			continue
		}
		dist := math.Abs(q.Strike - spot)
		if best == nil || dist < math.Abs(best.Strike-spot) {
			next = best
			best = q
		} else if next == nil || dist < math.Abs(next.Strike-spot) {
			next = q
		}
	}
	if best == nil {
		return broker.OptionQuote{}, ErrStrikeNotFound
	}
	if tieBreak == "otm" && best.Strike == spot && next != nil {
		return *next, nil
	}
	return *best, nil
}

// sameDayExpiry pins the contract expiration to the cross's trading day.
func sameDayExpiry(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
