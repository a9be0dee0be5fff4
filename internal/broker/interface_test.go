package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestOrderStatusTerminal(t *testing.T) {
	tests := []struct {
		status   OrderStatus
		terminal bool
	}{
		{StatusPending, false},
		{StatusFilled, true},
		{StatusRejected, true},
		{StatusCanceled, true},
		{OrderStatus("partially_filled"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, expected %v", got, tt.terminal)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"rejected", ErrOrderRejected, false},
		{"wrapped rejected", fmt.Errorf("place failed: %w", ErrOrderRejected), false},
		{"unavailable", ErrBrokerUnavailable, true},
		{"timeout", ErrOrderTimeout, true},
		{"deadline", context.DeadlineExceeded, true},
		{"rate limited", &APIError{Status: 429, Body: "slow down"}, true},
		{"server error", &APIError{Status: 502, Body: "bad gateway"}, true},
		{"bad request", &APIError{Status: 400, Body: "bad symbol"}, false},
		{"unauthorized", &APIError{Status: 401, Body: "bad token"}, false},
		{"unknown", errors.New("something odd"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient(%v) = %v, expected %v", tt.err, got, tt.transient)
			}
		})
	}
}

func TestOptionQuoteMid(t *testing.T) {
	q := OptionQuote{Bid: 2.40, Ask: 2.60}
	if mid := q.Mid(); mid != 2.50 {
		t.Errorf("Mid() = %v, expected 2.50", mid)
	}

	oneSided := OptionQuote{Bid: 0, Ask: 2.60}
	if mid := oneSided.Mid(); mid != 0 {
		t.Errorf("Mid() on one-sided quote = %v, expected 0", mid)
	}
}
