// Package models provides data structures for ticks, indicators, cross events,
// and trading positions.
package models

import "time"

// CrossDirection indicates which way the SMA9 crossed the session VWAP.
type CrossDirection string

const (
	// CrossUp means SMA9 moved from below the VWAP to above it.
	CrossUp CrossDirection = "up"
	// CrossDown means SMA9 moved from above the VWAP to below it.
	CrossDown CrossDirection = "down"
)

// Valid returns true if the CrossDirection is one of the defined constants.
func (d CrossDirection) Valid() bool {
	return d == CrossUp || d == CrossDown
}

// Tick is a single price/volume observation for a ticker.
// Ticks arrive in timestamp order and are deduplicated by (ticker, timestamp).
type Tick struct {
	Ticker    string    `json:"ticker"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
}

// IndicatorPoint is the derived indicator state after one tick.
// SMA9 is nil until nine ticks have accumulated in the current session;
// VWAP is nil until the session has traded volume.
type IndicatorPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	SMA9      *float64  `json:"sma9,omitempty"`
	VWAP      *float64  `json:"vwap,omitempty"`
}

// Defined returns true when both indicator series have values,
// making the point usable for cross detection.
func (p IndicatorPoint) Defined() bool {
	return p.SMA9 != nil && p.VWAP != nil
}

// Diff returns SMA9 - VWAP. Only meaningful when Defined() is true.
func (p IndicatorPoint) Diff() float64 {
	if !p.Defined() {
		return 0
	}
	return *p.SMA9 - *p.VWAP
}

// Cross is an immutable event recording the instant SMA9 crossed the session
// VWAP. Both indicator values are concrete because a cross can only exist once
// both series are defined.
type Cross struct {
	Ticker    string         `json:"ticker"`
	Timestamp time.Time      `json:"timestamp"`
	Price     float64        `json:"price"`
	SMA9      float64        `json:"sma9"`
	VWAP      float64        `json:"vwap"`
	Direction CrossDirection `json:"direction"`
}

// TradingSession describes one calendar trading day. It is read-only
// configuration consumed by the session scheduler.
type TradingSession struct {
	Date           time.Time `json:"date"`
	OpenTime       time.Time `json:"open_time"`
	ActiveEndTime  time.Time `json:"active_end_time"`
	SessionEndTime time.Time `json:"session_end_time"`
}

// Contains reports whether t falls inside the session's regular trading hours
// (inclusive open, exclusive session end).
func (s TradingSession) Contains(t time.Time) bool {
	return !t.Before(s.OpenTime) && t.Before(s.SessionEndTime)
}
