package broker

import (
	"testing"
	"time"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
)

func TestFormatOptionSymbol(t *testing.T) {
	expiry := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		ticker     string
		optionType models.OptionType
		strike     float64
		expected   string
	}{
		{"spy put", "SPY", models.OptionPut, 600, "SPY260320P00600000"},
		{"spy call", "SPY", models.OptionCall, 605, "SPY260320C00605000"},
		{"fractional strike", "QQQ", models.OptionPut, 512.5, "QQQ260320P00512500"},
		{"low strike", "F", models.OptionCall, 12, "F260320C00012000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatOptionSymbol(tt.ticker, expiry, tt.optionType, tt.strike)
			if got != tt.expected {
				t.Errorf("FormatOptionSymbol() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestParseOptionSymbolRoundTrip(t *testing.T) {
	expiry := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

	symbol := FormatOptionSymbol("SPY", expiry, models.OptionPut, 597.5)
	strike, optionType, err := ParseOptionSymbol(symbol)
	if err != nil {
		t.Fatalf("ParseOptionSymbol(%q) returned error: %v", symbol, err)
	}
	if optionType != models.OptionPut {
		t.Errorf("optionType = %q, expected put", optionType)
	}
	if strike != 597.5 {
		t.Errorf("strike = %v, expected 597.5", strike)
	}
}

func TestParseOptionSymbolInvalid(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
	}{
		{"empty", ""},
		{"too short", "SPY"},
		{"bad marker", "SPY260320X00600000"},
		{"bad strike", "SPY260320P00600xyz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseOptionSymbol(tt.symbol); err == nil {
				t.Errorf("ParseOptionSymbol(%q) expected error, got nil", tt.symbol)
			}
		})
	}
}
