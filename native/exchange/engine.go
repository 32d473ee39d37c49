package exchange

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"tribeone/core/types"
	"tribeone/native/common"
	"tribeone/native/debtcache"
	"tribeone/native/feepool"
	"tribeone/native/oracle"
	"tribeone/native/registry"
)

var (
	errNotConfigured = errors.New("exchange: engine not configured")
	errNotSystem     = errors.New("exchange: only the system contract can perform this action")
	errNotApproved   = errors.New("exchange: delegate not approved")
	errInvalidAmount = errors.New("exchange: amount must be positive")
	errSameTribe     = errors.New("exchange: cannot exchange a tribe for itself")
	errTooVolatile   = errors.New("exchange: too volatile")
	errWaitingPeriod = errors.New("exchange: cannot exchange during waiting period")
)

// Config carries the exchange parameters sourced from configuration.
type Config struct {
	// BaseKey is the stable base tribe fees are denominated in.
	BaseKey string
	// WaitingPeriod is the delay before an entry becomes settleable.
	WaitingPeriod time.Duration
	// MaxEntriesInQueue caps pending entries per (account, dest) pair.
	MaxEntriesInQueue int
	// BaseFeeRates maps tribe keys to their fixed-point base fee rate;
	// DefaultFeeRate applies to unlisted keys.
	BaseFeeRates   map[string]*big.Int
	DefaultFeeRate *big.Int
	// DynamicFee parameterises the volatility surcharge.
	DynamicFee DynamicFeeConfig
	// Atomic parameterises the settlement-free swap path.
	Atomic AtomicConfig
}

// Engine converts value between tribes at oracle rates. Exchanges are
// two-phase: the trade executes immediately at the probed rate and a pending
// entry defers finality until the waiting period closes and Settle reconciles
// the assumed rate against the realised one.
type Engine struct {
	cfg     Config
	tribes  *registry.Registry
	rates   *oracle.Adapter
	cache   *debtcache.Cache
	pool    *feepool.Pool
	entries *Ledger
	status  common.StatusView
	spot    SpotOracle

	system types.Address
	now    func() time.Time

	approval struct {
		sync.RWMutex
		grants map[types.Address]map[types.Address]bool
	}
	volume atomicVolume
}

// NewEngine wires the exchange engine.
func NewEngine(cfg Config, tribes *registry.Registry, rates *oracle.Adapter, cache *debtcache.Cache, pool *feepool.Pool, entries *Ledger) *Engine {
	e := &Engine{
		cfg:     cfg,
		tribes:  tribes,
		rates:   rates,
		cache:   cache,
		pool:    pool,
		entries: entries,
		now:     time.Now,
	}
	e.approval.grants = make(map[types.Address]map[types.Address]bool)
	return e
}

// SetSystemCaller records the only address allowed to invoke entry points.
func (e *Engine) SetSystemCaller(addr types.Address) { e.system = addr }

// SetStatus wires the suspension registry.
func (e *Engine) SetStatus(status common.StatusView) { e.status = status }

// SetSpotOracle wires the alternate liquidity-reference oracle used by the
// atomic exchange path.
func (e *Engine) SetSpotOracle(spot SpotOracle) { e.spot = spot }

// SetNow overrides the clock, used by tests.
func (e *Engine) SetNow(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

func (e *Engine) checkCaller(caller types.Address) error {
	if e == nil || e.tribes == nil || e.rates == nil || e.cache == nil || e.pool == nil || e.entries == nil {
		return errNotConfigured
	}
	if caller != e.system {
		return errNotSystem
	}
	return nil
}

func (e *Engine) checkActor(actor Actor) error {
	if !actor.delegated() {
		return nil
	}
	e.approval.RLock()
	defer e.approval.RUnlock()
	if e.approval.grants[actor.Account][actor.Delegate] {
		return nil
	}
	return errNotApproved
}

// ApproveExchangeOnBehalf lets delegate exchange for account.
func (e *Engine) ApproveExchangeOnBehalf(account, delegate types.Address) {
	e.approval.Lock()
	defer e.approval.Unlock()
	grants, ok := e.approval.grants[account]
	if !ok {
		grants = make(map[types.Address]bool)
		e.approval.grants[account] = grants
	}
	grants[delegate] = true
}

// RemoveExchangeOnBehalf revokes a delegate's exchange approval.
func (e *Engine) RemoveExchangeOnBehalf(account, delegate types.Address) {
	e.approval.Lock()
	defer e.approval.Unlock()
	delete(e.approval.grants[account], delegate)
}

func (e *Engine) tribeFor(key string) (registry.Tribe, error) {
	tribe, ok := e.tribes.Get(key)
	if !ok {
		return nil, fmt.Errorf("exchange: %s: %w", key, registry.ErrUnknownTribe)
	}
	return tribe, nil
}

func (e *Engine) guardPair(src, dest string) error {
	if err := common.Guard(e.status, common.SectionExchange); err != nil {
		return err
	}
	if err := common.GuardTribe(e.status, src); err != nil {
		return err
	}
	return common.GuardTribe(e.status, dest)
}

// probeRate prices a tribe for an exchange. The base tribe is worth exactly
// one unit by definition and never consults the oracle.
func (e *Engine) probeRate(key string) (*big.Int, uint64, bool, error) {
	if key == e.cfg.BaseKey {
		return common.Clone(common.Unit), 0, false, nil
	}
	return e.rates.ProbeRate(key)
}

// routeFee converts the destination-denominated fee into base-asset value,
// issues it to the fee pool's address, and records it.
func (e *Engine) routeFee(fee, destRate *big.Int) error {
	if fee.Sign() == 0 {
		return nil
	}
	base, err := e.tribeFor(e.cfg.BaseKey)
	if err != nil {
		return err
	}
	feeValue := common.MulDec(fee, destRate)
	if feeValue.Sign() == 0 {
		return nil
	}
	if err := base.Issue(e.pool.Address(), feeValue); err != nil {
		return err
	}
	if err := e.pool.RecordFeePaid(feeValue); err != nil {
		return err
	}
	return e.cache.UpdateCachedTribeDebt(e.cfg.BaseKey)
}

// Exchange converts srcAmount of src into dest for the actor and appends a
// pending settlement entry. A rate probe that trips the circuit breaker turns
// the call into a silent no-op.
func (e *Engine) Exchange(caller types.Address, actor Actor, src string, srcAmount *big.Int, dest string) (*Result, error) {
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
	srcTribe, err := e.tribeFor(src)
	if err != nil {
		return nil, err
	}
	destTribe, err := e.tribeFor(dest)
	if err != nil {
		return nil, err
	}
	count, err := e.entries.Count(actor.Account, dest)
	if err != nil {
		return nil, err
	}
	if count >= e.cfg.MaxEntriesInQueue {
		return nil, ErrQueueFull
	}

	// Spending out of src requires its pending entries to be resolved first:
	// the spendable balance is unknown until reclaim/rebate lands.
	if err := e.settleBeforeSpend(actor.Account, src); err != nil {
		return nil, err
	}

	srcRate, srcRound, tripped, err := e.probeRate(src)
	if err != nil {
		return nil, fmt.Errorf("exchange: src %w", err)
	}
	if tripped {
		return noOpResult(), nil
	}
	destRate, destRound, tripped, err := e.probeRate(dest)
	if err != nil {
		return nil, fmt.Errorf("exchange: dest %w", err)
	}
	if tripped {
		return noOpResult(), nil
	}

	feeRate, ok := e.feeRateFor(src, dest)
	if !ok {
		return nil, errTooVolatile
	}

	destAmount := common.DivDec(common.MulDec(srcAmount, srcRate), destRate)
	if destAmount.Sign() == 0 {
		return nil, errInvalidAmount
	}
	fee := common.MulDec(destAmount, feeRate)
	received := new(big.Int).Sub(destAmount, fee)

	if err := srcTribe.Burn(actor.Account, srcAmount); err != nil {
		return nil, err
	}
	if err := destTribe.Issue(actor.Account, received); err != nil {
		return nil, err
	}
	if err := e.routeFee(fee, destRate); err != nil {
		return nil, err
	}

	entry := Entry{
		ID:            uuid.NewString(),
		Src:           src,
		SrcAmount:     common.Clone(srcAmount),
		Dest:          dest,
		DestAmount:    received,
		FeeRate:       feeRate,
		Timestamp:     e.now().Unix(),
		RoundIDAtSrc:  srcRound,
		RoundIDAtDest: destRound,
	}
	if err := e.entries.Append(actor.Account, entry); err != nil {
		return nil, err
	}
	if err := e.cache.UpdateCachedTribeDebt(src); err != nil {
		return nil, err
	}
	if err := e.cache.UpdateCachedTribeDebt(dest); err != nil {
		return nil, err
	}
	return &Result{Received: received, Fee: fee, EntryID: entry.ID}, nil
}

// settleBeforeSpend force-settles the pending entries for (account, key) so
// an outgoing spend sees the post-settlement balance. Entries still inside
// the waiting period block the spend instead.
func (e *Engine) settleBeforeSpend(account types.Address, key string) error {
	pending, err := e.entries.Count(account, key)
	if err != nil {
		return err
	}
	if pending == 0 {
		return nil
	}
	if e.HasWaitingPeriod(account, key) {
		return errWaitingPeriod
	}
	_, _, _, err = e.Settle(e.system, account, key)
	return err
}
