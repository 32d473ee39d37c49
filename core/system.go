package core

import (
	"errors"
	"math/big"
	"sync"

	"tribeone/core/events"
	"tribeone/core/types"
	"tribeone/native/common"
	"tribeone/native/debtcache"
	"tribeone/native/debtshare"
	"tribeone/native/exchange"
	"tribeone/native/feepool"
	"tribeone/native/issuer"
	"tribeone/native/oracle"
	"tribeone/native/registry"
	"tribeone/observability"
)

// SystemConfig names the assets the facade needs to identify for event and
// breaker reporting.
type SystemConfig struct {
	BaseKey       string
	CollateralKey string
}

// SystemDeps carries the wired engines. All fields are required except
// Emitter, which defaults to a no-op, and Spot, without which atomic
// exchanges stay unavailable.
type SystemDeps struct {
	Status   *common.Status
	Rates    *oracle.Adapter
	Spot     *oracle.Adapter
	Tribes   *registry.Registry
	Vault    *registry.Vault
	Shares   *debtshare.Ledger
	Cache    *debtcache.Cache
	Pool     *feepool.Pool
	Issuer   *issuer.Engine
	Exchange *exchange.Engine
	Emitter  events.Emitter
}

// ErrNoSpotOracle is returned when a spot-rate operation is attempted on a
// system wired without a spot adapter.
var ErrNoSpotOracle = errors.New("core: spot oracle not configured")

// spotSource exposes a second oracle adapter under the exchange engine's
// spot-price contract.
type spotSource struct {
	rates *oracle.Adapter
}

func (s spotSource) SpotRate(key string) (*big.Int, error) {
	return s.rates.Rate(key)
}

// System is the top-level entry contract analogue: the single address the
// engines accept calls from. It routes user operations through the engines,
// emits events, and exposes the operator surface (suspensions, breaker
// resets, snapshots, tribe lifecycle).
type System struct {
	cfg     SystemConfig
	addr    types.Address
	deps    SystemDeps
	metrics *observability.TribeMetrics

	mu         sync.Mutex
	nextPeriod uint64
}

// NewSystem wires the facade. addr is handed to each engine as the sole
// authorised caller.
func NewSystem(cfg SystemConfig, addr types.Address, deps SystemDeps) *System {
	if deps.Emitter == nil {
		deps.Emitter = events.NoopEmitter{}
	}
	s := &System{cfg: cfg, addr: addr, deps: deps}
	s.nextPeriod = deps.Shares.PeriodID() + 1
	deps.Issuer.SetSystemCaller(addr)
	deps.Issuer.SetStatus(deps.Status)
	deps.Issuer.SetExchanger(deps.Exchange)
	deps.Exchange.SetSystemCaller(addr)
	deps.Exchange.SetStatus(deps.Status)
	if deps.Spot != nil {
		deps.Exchange.SetSpotOracle(spotSource{rates: deps.Spot})
	}
	return s
}

// Address returns the system caller address handed to the engines.
func (s *System) Address() types.Address { return s.addr }

// SetMetrics attaches a protocol metrics registry. A nil receiver on the
// registry methods keeps recording optional.
func (s *System) SetMetrics(metrics *observability.TribeMetrics) { s.metrics = metrics }

func (s *System) emit(event events.Event) {
	s.deps.Emitter.Emit(event)
}

// ---- issuance entry points ----

// DepositCollateral credits staked collateral to the account.
func (s *System) DepositCollateral(account types.Address, amount *big.Int) error {
	return s.deps.Issuer.DepositCollateral(s.addr, account, amount)
}

// WithdrawCollateral releases staked collateral if the position stays healthy.
func (s *System) WithdrawCollateral(account types.Address, amount *big.Int) error {
	return s.deps.Issuer.WithdrawCollateral(s.addr, account, amount)
}

// IssueTribes mints the base tribe against the actor's collateral.
func (s *System) IssueTribes(actor issuer.Actor, amount *big.Int) (*issuer.Result, error) {
	result, err := s.deps.Issuer.IssueTribes(s.addr, actor, amount)
	if err != nil {
		return nil, err
	}
	if result.NoOp {
		s.reportBreaker(s.cfg.CollateralKey)
		return result, nil
	}
	s.metrics.RecordIssuance("issue")
	s.emit(events.TribeIssued{Account: actor.Account, Amount: result.Amount, Shares: result.Shares})
	return result, nil
}

// IssueMaxTribes issues the remaining headroom under the actor's ceiling.
func (s *System) IssueMaxTribes(actor issuer.Actor) (*issuer.Result, error) {
	result, err := s.deps.Issuer.IssueMaxTribes(s.addr, actor)
	if err != nil {
		return nil, err
	}
	if result.NoOp {
		s.reportBreaker(s.cfg.CollateralKey)
		return result, nil
	}
	s.metrics.RecordIssuance("issue_max")
	s.emit(events.TribeIssued{Account: actor.Account, Amount: result.Amount, Shares: result.Shares})
	return result, nil
}

// BurnTribes repays up to amount of the actor's debt.
func (s *System) BurnTribes(actor issuer.Actor, amount *big.Int) (*issuer.Result, error) {
	result, err := s.deps.Issuer.BurnTribes(s.addr, actor, amount)
	if err != nil {
		return nil, err
	}
	if !result.NoOp && result.Amount.Sign() > 0 {
		s.metrics.RecordIssuance("burn")
		s.emit(events.TribeBurned{Account: actor.Account, Amount: result.Amount, Shares: result.Shares})
	}
	return result, nil
}

// BurnTribesToTarget repays exactly enough debt to restore the target ratio.
func (s *System) BurnTribesToTarget(actor issuer.Actor) (*issuer.Result, error) {
	result, err := s.deps.Issuer.BurnTribesToTarget(s.addr, actor)
	if err != nil {
		return nil, err
	}
	if !result.NoOp && result.Amount.Sign() > 0 {
		s.metrics.RecordIssuance("burn_to_target")
		s.emit(events.TribeBurned{Account: actor.Account, Amount: result.Amount, Shares: result.Shares})
	}
	return result, nil
}

// ---- exchange entry points ----

// Exchange converts src into dest and queues a settlement entry.
func (s *System) Exchange(actor exchange.Actor, src string, amount *big.Int, dest string) (*exchange.Result, error) {
	result, err := s.deps.Exchange.Exchange(s.addr, actor, src, amount, dest)
	if err != nil {
		return nil, err
	}
	if result.NoOp {
		s.reportBreaker(src)
		s.reportBreaker(dest)
		return result, nil
	}
	s.metrics.RecordExchange(src, dest)
	s.emit(events.ExchangeExecuted{
		Account:  actor.Account,
		Src:      src,
		Amount:   amount,
		Dest:     dest,
		Received: result.Received,
		Fee:      result.Fee,
	})
	return result, nil
}

// ExchangeAtomically swaps whitelisted tribes at the spot price with no
// settlement entry.
func (s *System) ExchangeAtomically(actor exchange.Actor, src string, amount *big.Int, dest string) (*exchange.Result, error) {
	result, err := s.deps.Exchange.ExchangeAtomically(s.addr, actor, src, amount, dest)
	if err != nil {
		return nil, err
	}
	if result.NoOp {
		s.reportBreaker(src)
		s.reportBreaker(dest)
		return result, nil
	}
	s.metrics.RecordExchange(src, dest)
	s.emit(events.ExchangeExecuted{
		Account:  actor.Account,
		Src:      src,
		Amount:   amount,
		Dest:     dest,
		Received: result.Received,
		Fee:      result.Fee,
		Atomic:   true,
	})
	return result, nil
}

// Settle reconciles the pending entries for (account, key).
func (s *System) Settle(account types.Address, key string) (*exchange.Settlement, error) {
	reclaimed, rebated, settled, err := s.deps.Exchange.Settle(s.addr, account, key)
	if err != nil {
		return nil, err
	}
	if settled > 0 {
		s.metrics.RecordSettlement(settled, reclaimed.Sign() > 0, rebated.Sign() > 0)
		s.emit(events.ExchangeSettled{Account: account, Key: key, Reclaimed: reclaimed, Rebated: rebated, Settled: settled})
	}
	return &exchange.Settlement{Reclaimed: reclaimed, Rebated: rebated, Settled: settled}, nil
}

func (s *System) reportBreaker(key string) {
	if s.deps.Rates.IsBroken(key) {
		s.metrics.RecordBreakerTrip(key)
		s.emit(events.BreakerTripped{Key: key})
	}
	if s.deps.Cache.Broken() {
		s.metrics.RecordBreakerTrip(s.cfg.BaseKey)
		s.emit(events.BreakerTripped{Key: s.cfg.BaseKey})
	}
}

// ---- delegate approvals ----

// ApproveIssueOnBehalf lets delegate issue and withdraw for account.
func (s *System) ApproveIssueOnBehalf(account, delegate types.Address) {
	s.deps.Issuer.ApproveIssueOnBehalf(account, delegate)
}

// RemoveIssueOnBehalf revokes a delegate's issue approval.
func (s *System) RemoveIssueOnBehalf(account, delegate types.Address) {
	s.deps.Issuer.RemoveIssueOnBehalf(account, delegate)
}

// ApproveBurnOnBehalf lets delegate burn for account.
func (s *System) ApproveBurnOnBehalf(account, delegate types.Address) {
	s.deps.Issuer.ApproveBurnOnBehalf(account, delegate)
}

// RemoveBurnOnBehalf revokes a delegate's burn approval.
func (s *System) RemoveBurnOnBehalf(account, delegate types.Address) {
	s.deps.Issuer.RemoveBurnOnBehalf(account, delegate)
}

// ApproveExchangeOnBehalf lets delegate exchange for account.
func (s *System) ApproveExchangeOnBehalf(account, delegate types.Address) {
	s.deps.Exchange.ApproveExchangeOnBehalf(account, delegate)
}

// RemoveExchangeOnBehalf revokes a delegate's exchange approval.
func (s *System) RemoveExchangeOnBehalf(account, delegate types.Address) {
	s.deps.Exchange.RemoveExchangeOnBehalf(account, delegate)
}

// ---- queries ----

// DebtBalanceOf returns the account's base-denominated debt.
func (s *System) DebtBalanceOf(account types.Address) *big.Int {
	return s.deps.Issuer.DebtBalanceOf(account)
}

// CollateralisationRatio returns debt over collateral value for the account.
func (s *System) CollateralisationRatio(account types.Address) (*big.Int, error) {
	return s.deps.Issuer.CollateralisationRatio(account)
}

// RemainingIssuableTribes returns the actor's unused issuance headroom.
func (s *System) RemainingIssuableTribes(account types.Address) (*big.Int, error) {
	return s.deps.Issuer.RemainingIssuableTribes(account)
}

// MaxIssuableTribes returns the account's debt ceiling.
func (s *System) MaxIssuableTribes(account types.Address) (*big.Int, error) {
	return s.deps.Issuer.MaxIssuableTribes(account)
}

// TotalIssuedTribes reports aggregate system debt denominated in key.
func (s *System) TotalIssuedTribes(key string, excludeOtherCollateral bool) (*big.Int, error) {
	return s.deps.Issuer.TotalIssuedTribes(key, excludeOtherCollateral)
}

// SettlementOwing previews the reclaim/rebate for (account, key).
func (s *System) SettlementOwing(account types.Address, key string) (*big.Int, *big.Int, int, error) {
	return s.deps.Exchange.SettlementOwing(account, key)
}

// DebtCacheInfo returns the cached aggregate debt entry.
func (s *System) DebtCacheInfo() debtcache.Entry {
	return s.deps.Cache.Info()
}

// RecentEvents pages through the newest emitted events, oldest first. It
// returns nil unless the configured emitter records events.
func (s *System) RecentEvents(n int) []*types.Event {
	if recorder, ok := s.deps.Emitter.(*events.Recorder); ok {
		return recorder.Recent(n)
	}
	return nil
}

// ---- operator surface ----

// TakeSnapshots closes the current debt-share period and recomputes the debt
// cache aggregate.
func (s *System) TakeSnapshots() error {
	s.mu.Lock()
	period := s.nextPeriod
	s.nextPeriod++
	s.mu.Unlock()
	if err := s.deps.Shares.TakeSnapshot(s.addr, period); err != nil {
		return err
	}
	if err := s.deps.Cache.TakeDebtSnapshot(); err != nil {
		return err
	}
	total, invalid, _ := s.deps.Cache.CachedDebt()
	units, _ := new(big.Float).Quo(new(big.Float).SetInt(total), new(big.Float).SetInt(common.Unit)).Float64()
	s.metrics.RecordSnapshot(units)
	s.emit(events.DebtSnapshot{CachedDebt: total, Invalid: invalid})
	if s.deps.Cache.Broken() {
		s.metrics.RecordBreakerTrip(s.cfg.BaseKey)
		s.emit(events.BreakerTripped{Key: s.cfg.BaseKey})
	}
	return nil
}

// SuspendSection pauses a protocol section.
func (s *System) SuspendSection(section string) { s.deps.Status.SuspendSection(section) }

// ResumeSection lifts a section suspension.
func (s *System) ResumeSection(section string) { s.deps.Status.ResumeSection(section) }

// SuspendTribe pauses a single tribe.
func (s *System) SuspendTribe(key string) { s.deps.Status.SuspendTribe(key) }

// ResumeTribe lifts a tribe suspension.
func (s *System) ResumeTribe(key string) { s.deps.Status.ResumeTribe(key) }

// ResetBreaker clears a feed's circuit-breaker latch.
func (s *System) ResetBreaker(key string) error { return s.deps.Rates.ResetBreaker(key) }

// ResetDebtBreaker clears the aggregate debt-jump latch.
func (s *System) ResetDebtBreaker() { s.deps.Cache.ResetBroken() }

// UpdateRate pushes a fresh oracle observation.
func (s *System) UpdateRate(key string, rate *big.Int) (uint64, error) {
	return s.deps.Rates.UpdateRate(key, rate)
}

// UpdateSpotRate pushes a fresh observation into the spot adapter backing
// atomic exchanges.
func (s *System) UpdateSpotRate(key string, rate *big.Int) (uint64, error) {
	if s.deps.Spot == nil {
		return 0, ErrNoSpotOracle
	}
	return s.deps.Spot.UpdateRate(key, rate)
}

// AddTribe registers a new synthetic asset.
func (s *System) AddTribe(tribe registry.Tribe) error {
	return s.deps.Tribes.Add(tribe)
}

// RemoveTribe retires a tribe. A non-zero supply is deprecated into the
// redemption vault at the current rate so holders keep a base-asset claim and
// total system debt is unchanged by the removal.
func (s *System) RemoveTribe(key string) error {
	tribe, ok := s.deps.Tribes.Get(key)
	if !ok {
		return registry.ErrUnknownTribe
	}
	rate, err := s.deps.Rates.Rate(key)
	if err != nil {
		return err
	}
	supply, err := tribe.TotalSupply()
	if err != nil {
		return err
	}
	if supply.Sign() > 0 {
		if err := s.deps.Vault.Deprecate(tribe, rate); err != nil {
			return err
		}
	}
	if err := s.deps.Tribes.Remove(key); err != nil {
		return err
	}
	if err := s.deps.Cache.TakeDebtSnapshot(); err != nil {
		return err
	}
	s.emit(events.TribeRemoved{Key: key, RedeemedSupply: supply})
	return nil
}

// Redeem pays out an account's balance of a deprecated tribe in the base
// asset at the frozen redemption rate.
func (s *System) Redeem(key string, account types.Address) (*big.Int, error) {
	redeemed, err := s.deps.Vault.Redeem(key, account)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Cache.TakeDebtSnapshot(); err != nil {
		return nil, err
	}
	return redeemed, nil
}
