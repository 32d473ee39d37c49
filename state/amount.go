package state

import (
	"fmt"
	"math/big"
	"strings"
)

// parseAmount decodes a decimal string persisted for a big.Int amount. Empty
// strings map to zero so freshly-initialised records stay usable.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", value)
	}
	return amount, nil
}
