package models

import (
	"fmt"
	"time"
)

// Intent reasons recorded on order intents and exit trades.
const (
	ReasonCrossEntry   = "cross_entry"
	ReasonCrossReverse = "cross_reverse"
	ReasonProfitTarget = "profit_target"
	ReasonStopLoss     = "stop_loss"
	ReasonForcedClose  = "forced_close"
)

// OrderIntent is a concrete order decision produced by the signal mapper or
// the lifecycle manager, consumed by the order execution gateway. Intents for
// a ticker are dispatched strictly in the order they were generated.
type OrderIntent struct {
	Ticker       string      `json:"ticker"`
	Action       TradeAction `json:"action"`
	OptionType   OptionType  `json:"option_type"`
	OptionSymbol string      `json:"option_symbol"`
	Strike       float64     `json:"strike"`
	Expiration   time.Time   `json:"expiration"`
	Contracts    int         `json:"contracts"`
	LimitPrice   float64     `json:"limit_price"`
	Reason       string      `json:"reason"`
	// PositionID is set on close intents so the fill can be applied to the
	// right position without a lookup race.
	PositionID string `json:"position_id,omitempty"`
}

// String renders the intent for logs.
func (i OrderIntent) String() string {
	return fmt.Sprintf("%s %s %s %.2f x%d limit $%.2f (%s)",
		i.Action, i.Ticker, i.OptionType, i.Strike, i.Contracts, i.LimitPrice, i.Reason)
}

// IsOpen reports whether the intent opens new risk.
func (i OrderIntent) IsOpen() bool {
	return i.Action == SellToOpen
}
