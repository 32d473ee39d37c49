package issuer

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"tribeone/core/types"
	"tribeone/native/common"
	"tribeone/native/debtcache"
	"tribeone/native/debtshare"
	"tribeone/native/oracle"
	"tribeone/native/registry"
)

var (
	errNotConfigured  = errors.New("issuer: engine not configured")
	errNotSystem      = errors.New("issuer: only the system contract can perform this action")
	errNotApproved    = errors.New("issuer: delegate not approved")
	errInvalidAmount  = errors.New("issuer: amount must be positive")
	errAmountTooLarge = errors.New("issuer: amount too large")
	errMinStakeTime   = errors.New("issuer: minimum stake time not reached")
	errNoDebt         = errors.New("issuer: account has no debt")
	errWaitingPeriod  = errors.New("issuer: cannot burn during waiting period")
	errUnknownBase    = errors.New("issuer: base tribe not registered")
)

const (
	opIssue = "issue"
	opBurn  = "burn"
)

// exchanger is the settlement surface the issuer needs before burning: burns
// cannot proceed while base-asset exchange entries are still price-pending.
type exchanger interface {
	HasWaitingPeriod(account types.Address, key string) bool
	Settle(caller, account types.Address, key string) (*big.Int, *big.Int, int, error)
}

// accountState persists collateral balances and issue timestamps.
type accountState interface {
	GetAccount(addr types.Address) (*types.Account, error)
	PutAccount(addr types.Address, account *types.Account) error
}

// Config carries the issuance parameters sourced from configuration.
type Config struct {
	// BaseKey is the stable base tribe minted against collateral.
	BaseKey string
	// CollateralKey prices the staked collateral token.
	CollateralKey string
	// IssuanceRatio is the fixed-point fraction of collateral value that may
	// be issued as debt (0.2e18 for a 500% collateralisation target).
	IssuanceRatio *big.Int
	// MinStakeTime gates burns after the most recent issue event.
	MinStakeTime time.Duration
}

// Engine mints and burns the base tribe against staked collateral, keeping
// the debt share ledger and debt cache in step. Entry points are gated to the
// system contract address; end users never call the engine directly.
type Engine struct {
	cfg    Config
	state  accountState
	shares *debtshare.Ledger
	cache  *debtcache.Cache
	tribes *registry.Registry
	rates  *oracle.Adapter
	status common.StatusView

	system   types.Address
	self     types.Address
	settler  exchanger
	now      func() time.Time
	approval struct {
		sync.RWMutex
		grants map[string]map[types.Address]map[types.Address]bool
	}
}

// NewEngine wires the issuance engine. self is the address the engine uses as
// the debt share ledger's issuer role.
func NewEngine(cfg Config, state accountState, shares *debtshare.Ledger, cache *debtcache.Cache, tribes *registry.Registry, rates *oracle.Adapter, self types.Address) *Engine {
	e := &Engine{
		cfg:    cfg,
		state:  state,
		shares: shares,
		cache:  cache,
		tribes: tribes,
		rates:  rates,
		self:   self,
		now:    time.Now,
	}
	e.approval.grants = make(map[string]map[types.Address]map[types.Address]bool)
	return e
}

// SetSystemCaller records the only address allowed to invoke entry points.
func (e *Engine) SetSystemCaller(addr types.Address) { e.system = addr }

// SetStatus wires the suspension registry.
func (e *Engine) SetStatus(status common.StatusView) { e.status = status }

// SetExchanger wires the settlement dependency used before burns.
func (e *Engine) SetExchanger(settler exchanger) { e.settler = settler }

// SetNow overrides the clock, used by tests.
func (e *Engine) SetNow(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

func (e *Engine) checkCaller(caller types.Address) error {
	if e == nil || e.state == nil || e.shares == nil || e.cache == nil || e.tribes == nil || e.rates == nil {
		return errNotConfigured
	}
	if caller != e.system {
		return errNotSystem
	}
	return nil
}

func (e *Engine) checkActor(op string, actor Actor) error {
	if !actor.delegated() {
		return nil
	}
	e.approval.RLock()
	defer e.approval.RUnlock()
	if e.approval.grants[op][actor.Account][actor.Delegate] {
		return nil
	}
	return errNotApproved
}

func (e *Engine) setApproval(op string, account, delegate types.Address, granted bool) {
	e.approval.Lock()
	defer e.approval.Unlock()
	byAccount, ok := e.approval.grants[op]
	if !ok {
		byAccount = make(map[types.Address]map[types.Address]bool)
		e.approval.grants[op] = byAccount
	}
	grants, ok := byAccount[account]
	if !ok {
		grants = make(map[types.Address]bool)
		byAccount[account] = grants
	}
	if granted {
		grants[delegate] = true
	} else {
		delete(grants, delegate)
	}
}

// ApproveIssueOnBehalf lets delegate issue for account.
func (e *Engine) ApproveIssueOnBehalf(account, delegate types.Address) {
	e.setApproval(opIssue, account, delegate, true)
}

// RemoveIssueOnBehalf revokes a delegate's issue approval.
func (e *Engine) RemoveIssueOnBehalf(account, delegate types.Address) {
	e.setApproval(opIssue, account, delegate, false)
}

// ApproveBurnOnBehalf lets delegate burn for account.
func (e *Engine) ApproveBurnOnBehalf(account, delegate types.Address) {
	e.setApproval(opBurn, account, delegate, true)
}

// RemoveBurnOnBehalf revokes a delegate's burn approval.
func (e *Engine) RemoveBurnOnBehalf(account, delegate types.Address) {
	e.setApproval(opBurn, account, delegate, false)
}

// DebtRatio converts debt shares to base-denominated debt: total system debt
// divided by total shares. The first issuer sees a 1:1 ratio.
func (e *Engine) DebtRatio() *big.Int {
	totalShares := e.shares.TotalSupply()
	if totalShares.Sign() == 0 {
		return common.Clone(common.Unit)
	}
	totalDebt, _, _ := e.cache.CachedDebt()
	return common.DivDec(totalDebt, totalShares)
}

// DebtBalanceOf returns the account's base-denominated debt.
func (e *Engine) DebtBalanceOf(account types.Address) *big.Int {
	return common.MulDec(e.shares.Balance(account), e.DebtRatio())
}

func (e *Engine) collateralValue(account *types.Account, collateralRate *big.Int) *big.Int {
	return common.MulDec(account.CollateralBalance, collateralRate)
}

// MaxIssuableTribes returns the debt ceiling for the account at the current
// collateral rate.
func (e *Engine) MaxIssuableTribes(account types.Address) (*big.Int, error) {
	acc, err := e.state.GetAccount(account)
	if err != nil {
		return nil, err
	}
	rate, err := e.rates.Rate(e.cfg.CollateralKey)
	if err != nil {
		return nil, fmt.Errorf("issuer: collateral %w", err)
	}
	return common.MulDec(e.collateralValue(acc, rate), e.cfg.IssuanceRatio), nil
}

// RemainingIssuableTribes returns how much more the account can issue.
func (e *Engine) RemainingIssuableTribes(account types.Address) (*big.Int, error) {
	max, err := e.MaxIssuableTribes(account)
	if err != nil {
		return nil, err
	}
	debt := e.DebtBalanceOf(account)
	remaining := new(big.Int).Sub(max, debt)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	return remaining, nil
}

// CollateralisationRatio returns debt divided by collateral value; zero when
// the account holds no collateral.
func (e *Engine) CollateralisationRatio(account types.Address) (*big.Int, error) {
	acc, err := e.state.GetAccount(account)
	if err != nil {
		return nil, err
	}
	rate, err := e.rates.Rate(e.cfg.CollateralKey)
	if err != nil {
		return nil, fmt.Errorf("issuer: collateral %w", err)
	}
	value := e.collateralValue(acc, rate)
	return common.DivDec(e.DebtBalanceOf(account), value), nil
}

// TotalIssuedTribes reports the aggregate system debt denominated in the
// given tribe. excludeOtherCollateral drops debt contributed by sources
// outside the registry (redemption vault claims).
func (e *Engine) TotalIssuedTribes(key string, excludeOtherCollateral bool) (*big.Int, error) {
	total, _, _ := e.cache.CachedDebt()
	if excludeOtherCollateral {
		total = new(big.Int).Sub(total, e.cache.ExtraDebt())
	}
	if key == e.cfg.BaseKey {
		return total, nil
	}
	rate, err := e.rates.Rate(key)
	if err != nil {
		return nil, fmt.Errorf("issuer: %s %w", key, err)
	}
	return common.DivDec(total, rate), nil
}

func (e *Engine) baseTribe() (registry.Tribe, error) {
	tribe, ok := e.tribes.Get(e.cfg.BaseKey)
	if !ok {
		return nil, errUnknownBase
	}
	return tribe, nil
}

// IssueTribes mints amount of the base tribe against the actor's collateral.
// A tripped rate breaker or a latched debt-jump breaker turns the call into a
// silent no-op.
func (e *Engine) IssueTribes(caller types.Address, actor Actor, amount *big.Int) (*Result, error) {
	if err := e.checkCaller(caller); err != nil {
		return nil, err
	}
	if err := common.Guard(e.status, common.SectionIssuance); err != nil {
		return nil, err
	}
	if err := common.GuardTribe(e.status, e.cfg.BaseKey); err != nil {
		return nil, err
	}
	if err := e.checkActor(opIssue, actor); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	// Availability over strictness: a runaway aggregate freezes mutations
	// without failing them.
	if e.cache.Broken() {
		return noOpResult(), nil
	}

	collateralRate, _, tripped, err := e.rates.ProbeRate(e.cfg.CollateralKey)
	if err != nil {
		return nil, fmt.Errorf("issuer: collateral %w", err)
	}
	if tripped {
		return noOpResult(), nil
	}

	account, err := e.state.GetAccount(actor.Account)
	if err != nil {
		return nil, err
	}

	debt := e.DebtBalanceOf(actor.Account)
	ceiling := common.MulDec(e.collateralValue(account, collateralRate), e.cfg.IssuanceRatio)
	projected := new(big.Int).Add(debt, amount)
	if projected.Cmp(ceiling) > 0 {
		return nil, errAmountTooLarge
	}

	shares := common.DivDec(amount, e.DebtRatio())
	if shares.Sign() == 0 {
		return nil, errInvalidAmount
	}
	if err := e.shares.MintShare(e.self, actor.Account, shares); err != nil {
		return nil, err
	}
	tribe, err := e.baseTribe()
	if err != nil {
		return nil, err
	}
	if err := tribe.Issue(actor.Account, amount); err != nil {
		return nil, err
	}
	if err := e.cache.UpdateCachedTribeDebt(e.cfg.BaseKey); err != nil {
		return nil, err
	}

	account.LastIssueEvent = uint64(e.now().Unix())
	if err := e.state.PutAccount(actor.Account, account); err != nil {
		return nil, err
	}
	return &Result{Amount: common.Clone(amount), Shares: shares}, nil
}

// IssueMaxTribes issues the remaining headroom under the account's ceiling.
func (e *Engine) IssueMaxTribes(caller types.Address, actor Actor) (*Result, error) {
	if err := e.checkCaller(caller); err != nil {
		return nil, err
	}
	remaining, err := e.RemainingIssuableTribes(actor.Account)
	if err != nil {
		return nil, err
	}
	if remaining.Sign() == 0 {
		return nil, errAmountTooLarge
	}
	return e.IssueTribes(caller, actor, remaining)
}

func (e *Engine) settleBaseEntries(actor Actor) error {
	if e.settler == nil {
		return nil
	}
	if e.settler.HasWaitingPeriod(actor.Account, e.cfg.BaseKey) {
		return errWaitingPeriod
	}
	if _, _, _, err := e.settler.Settle(e.system, actor.Account, e.cfg.BaseKey); err != nil {
		return err
	}
	return nil
}

func (e *Engine) burn(actor Actor, amount *big.Int, checkStakeTime bool) (*Result, error) {
	if err := common.Guard(e.status, common.SectionIssuance); err != nil {
		return nil, err
	}
	if err := common.GuardTribe(e.status, e.cfg.BaseKey); err != nil {
		return nil, err
	}
	if e.cache.Broken() {
		return noOpResult(), nil
	}

	account, err := e.state.GetAccount(actor.Account)
	if err != nil {
		return nil, err
	}
	if checkStakeTime && e.cfg.MinStakeTime > 0 {
		elapsed := e.now().Unix() - int64(account.LastIssueEvent)
		if elapsed < int64(e.cfg.MinStakeTime/time.Second) {
			return nil, errMinStakeTime
		}
	}

	// Pending exchange entries for the base asset hide the true balance;
	// settle them (or refuse) before burning.
	if err := e.settleBaseEntries(actor); err != nil {
		return nil, err
	}

	debt := e.DebtBalanceOf(actor.Account)
	if debt.Sign() == 0 {
		return nil, errNoDebt
	}
	burnAmount := common.Clone(amount)
	if burnAmount.Cmp(debt) > 0 {
		burnAmount = debt
	}

	ratio := e.DebtRatio()
	sharesToBurn := common.DivDec(burnAmount, ratio)
	if balance := e.shares.Balance(actor.Account); sharesToBurn.Cmp(balance) > 0 {
		sharesToBurn = balance
	}
	if sharesToBurn.Sign() == 0 {
		return nil, errInvalidAmount
	}

	tribe, err := e.baseTribe()
	if err != nil {
		return nil, err
	}
	if err := tribe.Burn(actor.Account, burnAmount); err != nil {
		return nil, err
	}
	if err := e.shares.BurnShare(e.self, actor.Account, sharesToBurn); err != nil {
		return nil, err
	}
	if err := e.cache.UpdateCachedTribeDebt(e.cfg.BaseKey); err != nil {
		return nil, err
	}
	return &Result{Amount: burnAmount, Shares: sharesToBurn}, nil
}

// BurnTribes burns up to amount of the actor's debt after the minimum stake
// time has elapsed.
func (e *Engine) BurnTribes(caller types.Address, actor Actor, amount *big.Int) (*Result, error) {
	if err := e.checkCaller(caller); err != nil {
		return nil, err
	}
	if err := e.checkActor(opBurn, actor); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	return e.burn(actor, amount, true)
}

// BurnTribesToTarget burns exactly enough debt to restore the target
// collateralisation ratio. No stake-time gate: restoring health is always
// allowed.
func (e *Engine) BurnTribesToTarget(caller types.Address, actor Actor) (*Result, error) {
	if err := e.checkCaller(caller); err != nil {
		return nil, err
	}
	if err := e.checkActor(opBurn, actor); err != nil {
		return nil, err
	}

	debt := e.DebtBalanceOf(actor.Account)
	if debt.Sign() == 0 {
		return nil, errNoDebt
	}
	ceiling, err := e.MaxIssuableTribes(actor.Account)
	if err != nil {
		return nil, err
	}
	excess := new(big.Int).Sub(debt, ceiling)
	if excess.Sign() <= 0 {
		return &Result{Amount: big.NewInt(0), Shares: big.NewInt(0)}, nil
	}
	return e.burn(actor, excess, false)
}
