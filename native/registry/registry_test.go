package registry

import (
	"errors"
	"math/big"
	"testing"

	"tribeone/core/types"
	"tribeone/native/common"
	"tribeone/state"
	"tribeone/storage"
)

var holder = types.Address{0xaa}

func newTestStore() *state.KV {
	return state.NewKV(storage.NewMemDB())
}

func TestTokenIssueBurn(t *testing.T) {
	token, err := NewToken("hBTC", newTestStore())
	if err != nil {
		t.Fatalf("new token: %v", err)
	}

	if err := token.Issue(holder, common.FromUnits(5)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	balance, _ := token.BalanceOf(holder)
	if balance.Cmp(common.FromUnits(5)) != 0 {
		t.Fatalf("unexpected balance: %s", balance)
	}
	supply, _ := token.TotalSupply()
	if supply.Cmp(common.FromUnits(5)) != 0 {
		t.Fatalf("unexpected supply: %s", supply)
	}

	if err := token.Burn(holder, common.FromUnits(6)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := token.Burn(holder, common.FromUnits(2)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	supply, _ = token.TotalSupply()
	if supply.Cmp(common.FromUnits(3)) != 0 {
		t.Fatalf("supply after burn: %s", supply)
	}
}

func TestRegistryUniqueKeys(t *testing.T) {
	store := newTestStore()
	reg := NewRegistry()

	btc, _ := NewToken("hBTC", store)
	if err := reg.Add(btc); err != nil {
		t.Fatalf("add: %v", err)
	}
	dup, _ := NewToken("hBTC", store)
	if err := reg.Add(dup); !errors.Is(err, errDuplicateKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}

	if _, ok := reg.Get("hBTC"); !ok {
		t.Fatalf("lookup failed")
	}
	if err := reg.Remove("hBTC"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := reg.Remove("hBTC"); !errors.Is(err, ErrUnknownTribe) {
		t.Fatalf("expected unknown tribe, got %v", err)
	}
	if keys := reg.Keys(); len(keys) != 0 {
		t.Fatalf("expected empty key list, got %v", keys)
	}
}

func TestVaultRedeemAtFrozenRate(t *testing.T) {
	store := newTestStore()
	base, _ := NewToken("hUSD", store)
	old, _ := NewToken("hXAU", store)
	vault := NewVault(base)

	if err := old.Issue(holder, common.FromUnits(4)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	rate := common.FromUnits(1800)
	if err := vault.Deprecate(old, rate); err != nil {
		t.Fatalf("deprecate: %v", err)
	}

	outstanding, err := vault.OutstandingBaseValue()
	if err != nil {
		t.Fatalf("outstanding: %v", err)
	}
	if outstanding.Cmp(common.FromUnits(7200)) != 0 {
		t.Fatalf("unexpected outstanding value: %s", outstanding)
	}

	paid, err := vault.Redeem("hXAU", holder)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if paid.Cmp(common.FromUnits(7200)) != 0 {
		t.Fatalf("unexpected payout: %s", paid)
	}

	baseBalance, _ := base.BalanceOf(holder)
	if baseBalance.Cmp(common.FromUnits(7200)) != 0 {
		t.Fatalf("base balance: %s", baseBalance)
	}
	oldSupply, _ := old.TotalSupply()
	if oldSupply.Sign() != 0 {
		t.Fatalf("deprecated supply should be zero, got %s", oldSupply)
	}
	outstanding, _ = vault.OutstandingBaseValue()
	if outstanding.Sign() != 0 {
		t.Fatalf("outstanding should clear after redemption, got %s", outstanding)
	}
}

func TestVaultRejectsUnknownAndZeroSupply(t *testing.T) {
	store := newTestStore()
	base, _ := NewToken("hUSD", store)
	vault := NewVault(base)

	if _, err := vault.Redeem("hDOGE", holder); !errors.Is(err, ErrNotDeprecated) {
		t.Fatalf("expected ErrNotDeprecated, got %v", err)
	}

	empty, _ := NewToken("hDOGE", store)
	if err := vault.Deprecate(empty, big.NewInt(1)); !errors.Is(err, errNothingToQueue) {
		t.Fatalf("expected zero supply rejection, got %v", err)
	}
}
