package config

import (
	"fmt"
	"math/big"
	"strings"
)

const decimalPlaces = 18

// ParseDecimal converts a decimal string ("0.2", "3", "1.05") into the
// protocol's 18-decimal fixed-point representation.
func ParseDecimal(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("empty decimal")
	}
	negative := strings.HasPrefix(trimmed, "-")
	if negative {
		return nil, fmt.Errorf("negative decimal %q", value)
	}
	whole := trimmed
	frac := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		whole = trimmed[:idx]
		frac = trimmed[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimalPlaces {
		return nil, fmt.Errorf("decimal %q exceeds %d fractional digits", value, decimalPlaces)
	}
	frac += strings.Repeat("0", decimalPlaces-len(frac))
	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", value)
	}
	return result, nil
}
