package models

import (
	"fmt"
	"time"
)

// ContractMultiplier is the number of shares controlled by one option contract.
const ContractMultiplier = 100.0

// OptionType represents the type of option contract.
type OptionType string

const (
	// OptionCall represents a call option contract.
	OptionCall OptionType = "call"
	// OptionPut represents a put option contract.
	OptionPut OptionType = "put"
)

// Valid returns true if the OptionType is one of the defined constants.
func (t OptionType) Valid() bool {
	return t == OptionCall || t == OptionPut
}

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	// StatusOpen means the short option position is live and managed.
	StatusOpen PositionStatus = "open"
	// StatusClosed means the position has been bought back.
	StatusClosed PositionStatus = "closed"
)

// TradeAction is the broker-side action recorded for a trade.
type TradeAction string

const (
	// SellToOpen opens a short option position for a credit.
	SellToOpen TradeAction = "sell_to_open"
	// BuyToClose buys back a short option position.
	BuyToClose TradeAction = "buy_to_close"
)

// Position represents a single short option position sold for a credit.
// At most one position per ticker may be OPEN at any time; the lifecycle
// manager owns all mutation.
type Position struct {
	ID            string         `json:"id"`
	Ticker        string         `json:"ticker"`
	OptionType    OptionType     `json:"option_type"`
	OptionSymbol  string         `json:"option_symbol"`
	Strike        float64        `json:"strike"`
	Expiration    time.Time      `json:"expiration"`
	Contracts     int            `json:"contracts"`
	EntryPrice    float64        `json:"entry_price"`
	EntryCredit   float64        `json:"entry_credit"`
	Status        PositionStatus `json:"status"`
	CurrentPrice  float64        `json:"current_price"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	RealizedPnL   float64        `json:"realized_pnl"`
	EntryOrderID  string         `json:"entry_order_id,omitempty"`
	ExitOrderID   string         `json:"exit_order_id,omitempty"`
	ExitReason    string         `json:"exit_reason,omitempty"`
	EntryTime     time.Time      `json:"entry_time"`
	ExitTime      time.Time      `json:"exit_time,omitempty"`
}

// NewPosition creates an OPEN position from a confirmed sell-to-open fill.
// fillPrice is the per-share option premium received.
func NewPosition(id, ticker string, optionType OptionType, optionSymbol string,
	strike float64, expiration time.Time, contracts int, fillPrice float64, filledAt time.Time) *Position {
	return &Position{
		ID:           id,
		Ticker:       ticker,
		OptionType:   optionType,
		OptionSymbol: optionSymbol,
		Strike:       strike,
		Expiration:   expiration,
		Contracts:    contracts,
		EntryPrice:   fillPrice,
		EntryCredit:  float64(contracts) * fillPrice * ContractMultiplier,
		Status:       StatusOpen,
		CurrentPrice: fillPrice,
		EntryTime:    filledAt,
	}
}

// BuyBackCost returns the current dollar cost of closing the position.
func (p *Position) BuyBackCost() float64 {
	return float64(p.Contracts) * p.CurrentPrice * ContractMultiplier
}

// CostRatio returns buy-back cost as a fraction of the entry credit.
// A falling ratio means the short premium is decaying in our favor.
func (p *Position) CostRatio() float64 {
	if p.EntryCredit == 0 {
		return 0
	}
	return p.BuyBackCost() / p.EntryCredit
}

// MarkPrice updates the position's quote and recomputes unrealized P&L using
// the credit-spread convention: profit accrues as buy-back cost falls below
// the credit received.
func (p *Position) MarkPrice(price float64) {
	p.CurrentPrice = price
	p.UnrealizedPnL = p.EntryCredit - p.BuyBackCost()
}

// Close finalizes the position against a buy-to-close fill.
func (p *Position) Close(fillPrice float64, reason string, closedAt time.Time) error {
	if p.Status == StatusClosed {
		return fmt.Errorf("position %s already closed", p.ID)
	}
	p.MarkPrice(fillPrice)
	p.Status = StatusClosed
	p.RealizedPnL = p.UnrealizedPnL
	p.ExitReason = reason
	p.ExitTime = closedAt
	return nil
}

// Validate ensures the position's data is internally consistent.
func (p *Position) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("position missing id")
	}
	if p.Ticker == "" {
		return fmt.Errorf("position %s missing ticker", p.ID)
	}
	if !p.OptionType.Valid() {
		return fmt.Errorf("position %s has invalid option type %q", p.ID, p.OptionType)
	}
	if p.Contracts <= 0 {
		return fmt.Errorf("position %s contracts must be > 0 (got %d)", p.ID, p.Contracts)
	}
	if p.EntryCredit <= 0 {
		return fmt.Errorf("position %s entry credit must be positive (got %.2f)", p.ID, p.EntryCredit)
	}
	switch p.Status {
	case StatusOpen:
		if !p.ExitTime.IsZero() {
			return fmt.Errorf("position %s is open but has exit time %v", p.ID, p.ExitTime)
		}
		if p.ExitReason != "" {
			return fmt.Errorf("position %s is open but has exit reason %q", p.ID, p.ExitReason)
		}
	case StatusClosed:
		if p.ExitTime.IsZero() {
			return fmt.Errorf("position %s is closed but has no exit time", p.ID)
		}
		if p.ExitReason == "" {
			return fmt.Errorf("position %s is closed but has no exit reason", p.ID)
		}
		if p.EntryTime.After(p.ExitTime) {
			return fmt.Errorf("position %s entry time %v is after exit time %v", p.ID, p.EntryTime, p.ExitTime)
		}
	default:
		return fmt.Errorf("position %s has invalid status %q", p.ID, p.Status)
	}
	return nil
}

// Trade is an append-only execution record. Trades reference their position by
// id; positions do not hold a back-pointer to their trades.
type Trade struct {
	ID         string      `json:"id"`
	PositionID string      `json:"position_id"`
	Action     TradeAction `json:"action"`
	Contracts  int         `json:"contracts"`
	Price      float64     `json:"price"`
	Timestamp  time.Time   `json:"timestamp"`
}
