package registry

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"tribeone/core/types"
)

var (
	errTokenAmount = errors.New("tribe token: amount must be positive")
	// ErrInsufficientBalance is returned when a burn exceeds the holder's
	// balance.
	ErrInsufficientBalance = errors.New("tribe token: insufficient balance")
)

// Storage is the subset of the state KV layer needed by tribe tokens.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

func balanceKey(tribe string, addr types.Address) []byte {
	prefix := "tribe/" + tribe + "/balance/"
	buf := make([]byte, len(prefix)+len(addr))
	copy(buf, prefix)
	copy(buf[len(prefix):], addr[:])
	return buf
}

func supplyKey(tribe string) []byte {
	return []byte("tribe/" + tribe + "/supply")
}

// Token is a KV-backed Tribe implementation. Amounts are persisted as decimal
// strings to keep records human-readable in state dumps.
type Token struct {
	mu    sync.Mutex
	key   string
	store Storage
}

// NewToken constructs a token for the given currency key on top of the
// provided storage.
func NewToken(key string, store Storage) (*Token, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errEmptyKey
	}
	if store == nil {
		return nil, fmt.Errorf("tribe token: storage required")
	}
	return &Token{key: key, store: store}, nil
}

// Key returns the currency key.
func (t *Token) Key() string { return t.key }

func (t *Token) loadAmount(key []byte) (*big.Int, error) {
	var stored string
	ok, err := t.store.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok || strings.TrimSpace(stored) == "" {
		return big.NewInt(0), nil
	}
	amount, good := new(big.Int).SetString(stored, 10)
	if !good || amount.Sign() < 0 {
		return nil, fmt.Errorf("tribe token: corrupt amount %q for %s", stored, t.key)
	}
	return amount, nil
}

func (t *Token) storeAmount(key []byte, amount *big.Int) error {
	return t.store.KVPut(key, amount.String())
}

// Issue mints amount to account and grows the total supply.
func (t *Token) Issue(account types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errTokenAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	balance, err := t.loadAmount(balanceKey(t.key, account))
	if err != nil {
		return err
	}
	supply, err := t.loadAmount(supplyKey(t.key))
	if err != nil {
		return err
	}
	if err := t.storeAmount(balanceKey(t.key, account), new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	return t.storeAmount(supplyKey(t.key), new(big.Int).Add(supply, amount))
}

// Burn destroys amount from account and shrinks the total supply.
func (t *Token) Burn(account types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errTokenAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	balance, err := t.loadAmount(balanceKey(t.key, account))
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	supply, err := t.loadAmount(supplyKey(t.key))
	if err != nil {
		return err
	}
	if err := t.storeAmount(balanceKey(t.key, account), new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	return t.storeAmount(supplyKey(t.key), new(big.Int).Sub(supply, amount))
}

// BalanceOf returns the holder's balance.
func (t *Token) BalanceOf(account types.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadAmount(balanceKey(t.key, account))
}

// TotalSupply returns the outstanding supply.
func (t *Token) TotalSupply() (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadAmount(supplyKey(t.key))
}
