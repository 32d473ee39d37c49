package debtshare

import (
	"errors"
	"math/big"
	"sync"

	"tribeone/core/types"
	"tribeone/native/common"
)

var (
	errNotIssuer        = errors.New("debt share: caller is not the issuer")
	errNotBroker        = errors.New("debt share: caller is not an authorised broker")
	errNotSnapshotter   = errors.New("debt share: caller is not the snapshot taker")
	errInvalidAmount    = errors.New("debt share: amount must be positive")
	errBurnUnderflow    = errors.New("debt share: burn amount exceeds balance")
	errPeriodNotGreater = errors.New("debt share: period id must exceed all recorded periods")
	// ErrNotInRecentHistory is returned when a period query predates the
	// bounded lookback window.
	ErrNotInRecentHistory = errors.New("debt share: not found in recent history")
)

// Snapshot records the total supply at the moment a period closed.
type Snapshot struct {
	PeriodID    uint64
	TotalSupply *big.Int
}

type periodBalance struct {
	periodID uint64
	balance  *big.Int
}

const defaultHistoryDepth = 12

// Ledger is the fungible, non-transferable debt share accounting unit. Only
// the issuer mints and burns; only authorised brokers may force transfers
// (debt migration); balances are snapshotted per accounting period so
// historical proportions remain queryable over a bounded window.
type Ledger struct {
	mu           sync.RWMutex
	issuer       types.Address
	snapshotter  types.Address
	brokers      map[types.Address]bool
	historyDepth int

	periodID    uint64
	totalSupply *big.Int
	balances    map[types.Address]*big.Int

	history        []Snapshot
	accountHistory map[types.Address][]periodBalance
	// evictedBefore holds, per account, the first period still retained after
	// ring entries were discarded. Absent until an eviction happens.
	evictedBefore map[types.Address]uint64
}

// NewLedger constructs a ledger opened on period 1 with the supplied issuer
// and snapshot-taker roles.
func NewLedger(issuer, snapshotter types.Address, historyDepth int) *Ledger {
	if historyDepth <= 0 {
		historyDepth = defaultHistoryDepth
	}
	return &Ledger{
		issuer:         issuer,
		snapshotter:    snapshotter,
		brokers:        make(map[types.Address]bool),
		historyDepth:   historyDepth,
		periodID:       1,
		totalSupply:    big.NewInt(0),
		balances:       make(map[types.Address]*big.Int),
		accountHistory: make(map[types.Address][]periodBalance),
		evictedBefore:  make(map[types.Address]uint64),
	}
}

// SetBroker grants or revokes the forced-transfer role for addr.
func (l *Ledger) SetBroker(addr types.Address, authorised bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if authorised {
		l.brokers[addr] = true
	} else {
		delete(l.brokers, addr)
	}
}

func (l *Ledger) recordBalanceLocked(account types.Address) {
	balance := common.Clone(l.balances[account])
	ring := l.accountHistory[account]
	if n := len(ring); n > 0 && ring[n-1].periodID == l.periodID {
		ring[n-1].balance = balance
	} else {
		ring = append(ring, periodBalance{periodID: l.periodID, balance: balance})
		if len(ring) > l.historyDepth {
			ring = ring[len(ring)-l.historyDepth:]
			l.evictedBefore[account] = ring[0].periodID
		}
	}
	l.accountHistory[account] = ring
}

// MintShare credits account and the total supply within the current period.
func (l *Ledger) MintShare(caller, account types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.issuer {
		return errNotIssuer
	}
	current := l.balances[account]
	if current == nil {
		current = big.NewInt(0)
	}
	l.balances[account] = new(big.Int).Add(current, amount)
	l.totalSupply = new(big.Int).Add(l.totalSupply, amount)
	l.recordBalanceLocked(account)
	return nil
}

// BurnShare debits account and the total supply within the current period.
func (l *Ledger) BurnShare(caller, account types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.issuer {
		return errNotIssuer
	}
	current := l.balances[account]
	if current == nil || current.Cmp(amount) < 0 {
		return errBurnUnderflow
	}
	l.balances[account] = new(big.Int).Sub(current, amount)
	l.totalSupply = new(big.Int).Sub(l.totalSupply, amount)
	l.recordBalanceLocked(account)
	return nil
}

// Transfer force-moves shares between accounts. Reserved for authorised
// brokers handling cross-layer debt migration; holders cannot move shares.
func (l *Ledger) Transfer(caller, from, to types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.brokers[caller] {
		return errNotBroker
	}
	current := l.balances[from]
	if current == nil || current.Cmp(amount) < 0 {
		return errBurnUnderflow
	}
	l.balances[from] = new(big.Int).Sub(current, amount)
	dest := l.balances[to]
	if dest == nil {
		dest = big.NewInt(0)
	}
	l.balances[to] = new(big.Int).Add(dest, amount)
	l.recordBalanceLocked(from)
	l.recordBalanceLocked(to)
	return nil
}

// TakeSnapshot closes the current period, records its total supply into the
// bounded history, and opens newPeriodID. Period ids must be strictly
// increasing; out-of-order calls fail rather than reordering history.
func (l *Ledger) TakeSnapshot(caller types.Address, newPeriodID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.snapshotter {
		return errNotSnapshotter
	}
	if newPeriodID <= l.periodID {
		return errPeriodNotGreater
	}
	l.history = append(l.history, Snapshot{
		PeriodID:    l.periodID,
		TotalSupply: common.Clone(l.totalSupply),
	})
	if len(l.history) > l.historyDepth {
		l.history = l.history[len(l.history)-l.historyDepth:]
	}
	l.periodID = newPeriodID
	return nil
}

// PeriodID returns the currently open accounting period.
func (l *Ledger) PeriodID() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.periodID
}

// Balance returns the live share balance for account.
func (l *Ledger) Balance(account types.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return common.Clone(l.balances[account])
}

// TotalSupply returns the live aggregate share supply.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return common.Clone(l.totalSupply)
}

// BalanceOfOnPeriod returns the account balance as of the snapshot closest to
// (but not after) periodID. Queries that predate the retained window fail
// with ErrNotInRecentHistory instead of answering incorrectly.
func (l *Ledger) BalanceOfOnPeriod(account types.Address, periodID uint64) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ring := l.accountHistory[account]
	for i := len(ring) - 1; i >= 0; i-- {
		if ring[i].periodID <= periodID {
			return common.Clone(ring[i].balance), nil
		}
	}
	if oldest, evicted := l.evictedBefore[account]; evicted && periodID < oldest {
		// Entries covering the queried period have been discarded.
		return nil, ErrNotInRecentHistory
	}
	// The account had no balance mutations at or before the period.
	return big.NewInt(0), nil
}

// TotalSupplyOnPeriod returns the aggregate supply as of the given period.
func (l *Ledger) TotalSupplyOnPeriod(periodID uint64) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if periodID >= l.periodID {
		return common.Clone(l.totalSupply), nil
	}
	for i := len(l.history) - 1; i >= 0; i-- {
		if l.history[i].PeriodID <= periodID {
			return common.Clone(l.history[i].TotalSupply), nil
		}
	}
	return nil, ErrNotInRecentHistory
}

// SharePercent returns the account's fixed-point share of total supply; zero
// when no shares exist.
func (l *Ledger) SharePercent(account types.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return common.DivDec(l.balances[account], l.totalSupply)
}

// SharePercentOnPeriod returns the historical proportional share for account.
func (l *Ledger) SharePercentOnPeriod(account types.Address, periodID uint64) (*big.Int, error) {
	balance, err := l.BalanceOfOnPeriod(account, periodID)
	if err != nil {
		return nil, err
	}
	supply, err := l.TotalSupplyOnPeriod(periodID)
	if err != nil {
		return nil, err
	}
	return common.DivDec(balance, supply), nil
}
