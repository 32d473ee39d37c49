package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies a protocol participant. Addresses are twenty bytes and
// rendered as 0x-prefixed hex throughout the API surface.
type Address = common.Address

// ParseAddress decodes a 0x-prefixed hex address.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("types: invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// IsZeroAddress reports whether the address is the all-zero sentinel.
func IsZeroAddress(addr Address) bool {
	return addr == (Address{})
}

// Account captures the per-participant state tracked by the issuance engine:
// the collateral locked against issuance and the timestamp of the most recent
// issue event used to gate burns behind the minimum stake time.
type Account struct {
	Nonce             uint64
	CollateralBalance *big.Int
	LastIssueEvent    uint64
}

// EnsureDefaults replaces nil big.Int fields with zero values so callers can
// mutate the account without nil checks.
func (a *Account) EnsureDefaults() {
	if a == nil {
		return
	}
	if a.CollateralBalance == nil {
		a.CollateralBalance = big.NewInt(0)
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce, LastIssueEvent: a.LastIssueEvent}
	if a.CollateralBalance != nil {
		clone.CollateralBalance = new(big.Int).Set(a.CollateralBalance)
	}
	return clone
}
