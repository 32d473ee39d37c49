package state

import (
	"fmt"

	"tribeone/core/types"
)

var accountPrefix = []byte("account/")

func accountKey(addr types.Address) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return buf
}

type storedAccount struct {
	Nonce             uint64
	CollateralBalance string
	LastIssueEvent    uint64
}

// Accounts persists participant accounts through the KV layer.
type Accounts struct {
	kv *KV
}

// NewAccounts wraps the KV layer with account accessors.
func NewAccounts(kv *KV) *Accounts {
	return &Accounts{kv: kv}
}

// GetAccount loads the account for addr, returning a zero-valued account when
// none has been stored yet.
func (a *Accounts) GetAccount(addr types.Address) (*types.Account, error) {
	if a == nil || a.kv == nil {
		return nil, fmt.Errorf("state: accounts not initialised")
	}
	var stored storedAccount
	ok, err := a.kv.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	account := &types.Account{}
	account.EnsureDefaults()
	if !ok {
		return account, nil
	}
	account.Nonce = stored.Nonce
	account.LastIssueEvent = stored.LastIssueEvent
	balance, err := parseAmount(stored.CollateralBalance)
	if err != nil {
		return nil, fmt.Errorf("state: account %s collateral: %w", addr.Hex(), err)
	}
	account.CollateralBalance = balance
	return account, nil
}

// PutAccount persists the account for addr.
func (a *Accounts) PutAccount(addr types.Address, account *types.Account) error {
	if a == nil || a.kv == nil {
		return fmt.Errorf("state: accounts not initialised")
	}
	if account == nil {
		return fmt.Errorf("state: account must not be nil")
	}
	account.EnsureDefaults()
	stored := storedAccount{
		Nonce:             account.Nonce,
		CollateralBalance: account.CollateralBalance.String(),
		LastIssueEvent:    account.LastIssueEvent,
	}
	return a.kv.KVPut(accountKey(addr), stored)
}
