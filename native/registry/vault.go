package registry

import (
	"errors"
	"math/big"
	"strings"
	"sync"

	"tribeone/core/types"
	"tribeone/native/common"
)

var (
	// ErrNotDeprecated is returned when redeeming against a tribe that has
	// not been routed through the vault.
	ErrNotDeprecated  = errors.New("redemption vault: tribe not deprecated")
	errVaultRate      = errors.New("redemption vault: redemption rate must be positive")
	errNothingToQueue = errors.New("redemption vault: tribe has zero supply")
)

type deprecatedTribe struct {
	token Tribe
	rate  *big.Int
}

// Vault backstops holders of removed tribes: their balances stay redeemable
// into the base tribe at the last valid rate. Until a holder redeems, the
// frozen base-denominated value of the remaining supply still counts toward
// system debt, so removal never moves the aggregate.
type Vault struct {
	mu      sync.RWMutex
	base    Tribe
	entries map[string]deprecatedTribe
}

// NewVault constructs a vault that pays out in the provided base tribe.
func NewVault(base Tribe) *Vault {
	return &Vault{base: base, entries: make(map[string]deprecatedTribe)}
}

// Deprecate freezes the redemption rate for a removed tribe. The tribe must
// still have supply outstanding; zero-supply tribes are simply removed.
func (v *Vault) Deprecate(token Tribe, rate *big.Int) error {
	if token == nil {
		return ErrUnknownTribe
	}
	if rate == nil || rate.Sign() <= 0 {
		return errVaultRate
	}
	supply, err := token.TotalSupply()
	if err != nil {
		return err
	}
	if supply.Sign() == 0 {
		return errNothingToQueue
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[token.Key()] = deprecatedTribe{token: token, rate: new(big.Int).Set(rate)}
	return nil
}

// RedemptionRate returns the frozen rate for a deprecated tribe.
func (v *Vault) RedemptionRate(key string) (*big.Int, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, ok := v.entries[strings.TrimSpace(key)]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(entry.rate), true
}

// Redeem burns the holder's entire deprecated-tribe balance and issues the
// base-asset equivalent at the frozen rate. Returns the base amount paid out.
func (v *Vault) Redeem(key string, account types.Address) (*big.Int, error) {
	v.mu.Lock()
	entry, ok := v.entries[strings.TrimSpace(key)]
	v.mu.Unlock()
	if !ok {
		return nil, ErrNotDeprecated
	}
	balance, err := entry.token.BalanceOf(account)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	baseAmount := common.MulDec(balance, entry.rate)
	if err := entry.token.Burn(account, balance); err != nil {
		return nil, err
	}
	if baseAmount.Sign() > 0 {
		if err := v.base.Issue(account, baseAmount); err != nil {
			return nil, err
		}
	}
	return baseAmount, nil
}

// OutstandingBaseValue sums the frozen base-denominated value of every
// deprecated tribe's remaining supply. The debt cache folds this in so the
// aggregate is unchanged by removal.
func (v *Vault) OutstandingBaseValue() (*big.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	total := big.NewInt(0)
	for _, entry := range v.entries {
		supply, err := entry.token.TotalSupply()
		if err != nil {
			return nil, err
		}
		total = total.Add(total, common.MulDec(supply, entry.rate))
	}
	return total, nil
}
