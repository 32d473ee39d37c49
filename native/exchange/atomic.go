package exchange

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"tribeone/core/types"
	"tribeone/native/common"
)

var (
	errNotAtomicTribe  = errors.New("exchange: tribe not whitelisted for atomic exchange")
	errAtomicDeviation = errors.New("exchange: atomic rate deviates too much")
	errVolumeLimit     = errors.New("exchange: atomic volume limit exceeded")
	errNoSpotOracle    = errors.New("exchange: spot oracle not configured")
)

// SpotOracle prices atomic swaps from a liquidity reference instead of the
// lagging aggregator.
type SpotOracle interface {
	SpotRate(key string) (*big.Int, error)
}

// AtomicConfig parameterises the settlement-free swap path.
type AtomicConfig struct {
	// Whitelist names the tribes eligible for atomic exchange.
	Whitelist []string
	// FeeRate is the fixed-point fee applied to atomic swaps.
	FeeRate *big.Int
	// DeviationFactor bounds the disagreement between the aggregator and the
	// spot oracle before the trade is refused.
	DeviationFactor *big.Int
	// MaxVolumePerBlock caps base-denominated atomic volume per block.
	MaxVolumePerBlock *big.Int
}

// atomicVolume tracks base-denominated atomic volume per block. Blocks are
// approximated by the unix second of the engine clock.
type atomicVolume struct {
	mu     sync.Mutex
	second int64
	traded *big.Int
}

func (v *atomicVolume) record(second int64, value, limit *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.traded == nil || v.second != second {
		v.second = second
		v.traded = big.NewInt(0)
	}
	next := new(big.Int).Add(v.traded, value)
	if limit != nil && limit.Sign() > 0 && next.Cmp(limit) > 0 {
		return errVolumeLimit
	}
	v.traded = next
	return nil
}

// release returns reserved volume when the trade behind it did not execute.
func (v *atomicVolume) release(second int64, value *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.traded == nil || v.second != second {
		return
	}
	v.traded = new(big.Int).Sub(v.traded, value)
	if v.traded.Sign() < 0 {
		v.traded = big.NewInt(0)
	}
}

func (e *Engine) spotRate(key string) (*big.Int, error) {
	if key == e.cfg.BaseKey {
		return common.Clone(common.Unit), nil
	}
	return e.spot.SpotRate(key)
}

func (e *Engine) atomicWhitelisted(key string) bool {
	for _, listed := range e.cfg.Atomic.Whitelist {
		if listed == key {
			return true
		}
	}
	return false
}

// ExchangeAtomically swaps src into dest at the spot-oracle price with no
// settlement entry. Only whitelisted tribes qualify, the spot and aggregator
// prices must agree within the configured deviation, and base-denominated
// volume is capped per block.
func (e *Engine) ExchangeAtomically(caller types.Address, actor Actor, src string, srcAmount *big.Int, dest string) (*Result, error) {
	if err := e.checkCaller(caller); err != nil {
		return nil, err
	}
	if err := e.guardPair(src, dest); err != nil {
		return nil, err
	}
	if err := e.checkActor(actor); err != nil {
		return nil, err
	}
	if srcAmount == nil || srcAmount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if src == dest {
		return nil, errSameTribe
	}
	if !e.atomicWhitelisted(src) || !e.atomicWhitelisted(dest) {
		return nil, errNotAtomicTribe
	}
	if e.spot == nil {
		return nil, errNoSpotOracle
	}
	srcTribe, err := e.tribeFor(src)
	if err != nil {
		return nil, err
	}
	destTribe, err := e.tribeFor(dest)
	if err != nil {
		return nil, err
	}
	if err := e.settleBeforeSpend(actor.Account, src); err != nil {
		return nil, err
	}

	srcAggRate, _, tripped, err := e.probeRate(src)
	if err != nil {
		return nil, fmt.Errorf("exchange: src %w", err)
	}
	if tripped {
		return noOpResult(), nil
	}
	destAggRate, _, tripped, err := e.probeRate(dest)
	if err != nil {
		return nil, fmt.Errorf("exchange: dest %w", err)
	}
	if tripped {
		return noOpResult(), nil
	}

	srcSpot, err := e.spotRate(src)
	if err != nil {
		return nil, fmt.Errorf("exchange: src spot: %w", err)
	}
	destSpot, err := e.spotRate(dest)
	if err != nil {
		return nil, fmt.Errorf("exchange: dest spot: %w", err)
	}
	factor := e.cfg.Atomic.DeviationFactor
	if common.DeviationExceeds(srcAggRate, srcSpot, factor) || common.DeviationExceeds(destAggRate, destSpot, factor) {
		return nil, errAtomicDeviation
	}

	destAmount := common.DivDec(common.MulDec(srcAmount, srcSpot), destSpot)
	if destAmount.Sign() == 0 {
		return nil, errInvalidAmount
	}
	fee := big.NewInt(0)
	if e.cfg.Atomic.FeeRate != nil {
		fee = common.MulDec(destAmount, e.cfg.Atomic.FeeRate)
	}
	received := new(big.Int).Sub(destAmount, fee)

	// Volume is measured as the base value of the source side at the spot
	// price. The budget is reserved up front so the cap is checked before any
	// state moves, and handed back if the transfers fail.
	baseValue := common.MulDec(srcAmount, srcSpot)
	second := e.now().Unix()
	if err := e.volume.record(second, baseValue, e.cfg.Atomic.MaxVolumePerBlock); err != nil {
		return nil, err
	}

	if err := srcTribe.Burn(actor.Account, srcAmount); err != nil {
		e.volume.release(second, baseValue)
		return nil, err
	}
	if err := destTribe.Issue(actor.Account, received); err != nil {
		e.volume.release(second, baseValue)
		return nil, err
	}
	if err := e.routeFee(fee, destSpot); err != nil {
		return nil, err
	}
	if err := e.cache.UpdateCachedTribeDebt(src); err != nil {
		return nil, err
	}
	if err := e.cache.UpdateCachedTribeDebt(dest); err != nil {
		return nil, err
	}
	return &Result{Received: received, Fee: fee}, nil
}
