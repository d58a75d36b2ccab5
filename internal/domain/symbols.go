package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const optionSymbolExpiryLayout = "20060102"

// FormatOptionSymbol builds the canonical options contract symbol:
// {underlyingBase}-{YYYYMMDD}-{intStrike}-{C|P}. underlying may carry a
// quote suffix ("BTC/USDT"); only the base asset is used.
func FormatOptionSymbol(underlying string, expiry time.Time, strike float64, optType OptionType) string {
	base := underlying
	if idx := strings.Index(underlying, "/"); idx >= 0 {
		base = underlying[:idx]
	}
	letter := "C"
	if optType == OptionPut {
		letter = "P"
	}
	return fmt.Sprintf("%s-%s-%d-%s", base, expiry.Format(optionSymbolExpiryLayout), int(strike), letter)
}

// ParseOptionSymbol is FormatOptionSymbol's inverse: it extracts the
// underlying base, expiry, strike, and option type from a contract symbol.
// ok is false if symbol does not match the expected 4-field shape.
func ParseOptionSymbol(symbol string) (underlyingBase string, expiry time.Time, strike float64, optType OptionType, ok bool) {
	parts := strings.Split(symbol, "-")
	if len(parts) != 4 {
		return "", time.Time{}, 0, "", false
	}

	underlyingBase = parts[0]
	expiry, err := time.Parse(optionSymbolExpiryLayout, parts[1])
	if err != nil {
		return "", time.Time{}, 0, "", false
	}
	strike, err = strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return "", time.Time{}, 0, "", false
	}
	switch parts[3] {
	case "C":
		optType = OptionCall
	case "P":
		optType = OptionPut
	default:
		return "", time.Time{}, 0, "", false
	}
	return underlyingBase, expiry, strike, optType, true
}

// IsOptionSymbol is a fast check for whether symbol looks like an options
// contract (as opposed to a spot/perpetual pair), used by risk metrics
// aggregation to decide whether to compute Greeks.
func IsOptionSymbol(symbol string) bool {
	return strings.HasSuffix(symbol, "-C") || strings.HasSuffix(symbol, "-P")
}
