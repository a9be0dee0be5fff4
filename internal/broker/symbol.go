package broker

import (
	"fmt"
	"strconv"
	"time"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
)

// FormatOptionSymbol renders an OPRA option symbol:
// TICKER[YYMMDD][C/P][STRIKE*1000 padded to 8 digits].
// Example: SPY250314P00600000 -> SPY, 2025-03-14, put, strike 600.00.
func FormatOptionSymbol(ticker string, expiration time.Time, optionType models.OptionType, strike float64) string {
	side := "C"
	if optionType == models.OptionPut {
		side = "P"
	}
	return fmt.Sprintf("%s%s%s%08d", ticker, expiration.Format("060102"), side, int64(strike*1000+0.5))
}

// ParseOptionSymbol extracts the strike and option type from an OPRA symbol.
func ParseOptionSymbol(symbol string) (float64, models.OptionType, error) {
	if len(symbol) < 15 {
		return 0, "", fmt.Errorf("option symbol too short: %s", symbol)
	}

	// The side marker sits between the 6-digit date and the 8-digit strike.
	pos := len(symbol) - 9
	var optionType models.OptionType
	switch symbol[pos] {
	case 'C':
		optionType = models.OptionCall
	case 'P':
		optionType = models.OptionPut
	default:
		return 0, "", fmt.Errorf("no option type (C/P) found in symbol: %s", symbol)
	}

	strikeInt, err := strconv.ParseInt(symbol[pos+1:], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid strike format in symbol %s: %w", symbol, err)
	}

	return float64(strikeInt) / 1000.0, optionType, nil
}
