package feepool

import (
	"errors"
	"math/big"
	"sync"

	"tribeone/core/types"
	"tribeone/native/common"
)

var errNegativeFee = errors.New("fee pool: fee must not be negative")

// Pool accrues exchange fees denominated in the base asset. Distribution
// mechanics are out of scope; the pool only records what it is owed and holds
// the base tokens issued to its address.
type Pool struct {
	mu      sync.RWMutex
	address types.Address
	accrued *big.Int
}

// NewPool constructs a pool collecting at the given address.
func NewPool(address types.Address) *Pool {
	return &Pool{address: address, accrued: big.NewInt(0)}
}

// Address returns the account that receives fee-denominated base tokens.
func (p *Pool) Address() types.Address {
	return p.address
}

// RecordFeePaid accrues a base-denominated fee.
func (p *Pool) RecordFeePaid(amount *big.Int) error {
	if amount == nil {
		return nil
	}
	if amount.Sign() < 0 {
		return errNegativeFee
	}
	p.mu.Lock()
	p.accrued = new(big.Int).Add(p.accrued, amount)
	p.mu.Unlock()
	return nil
}

// FeesAccrued returns the lifetime accrued fee total.
func (p *Pool) FeesAccrued() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return common.Clone(p.accrued)
}
