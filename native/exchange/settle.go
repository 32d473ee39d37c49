package exchange

import (
	"math/big"

	"tribeone/core/types"
	"tribeone/native/common"
)

// entryOutcome reconciles one expired entry against the rates in force when
// its waiting period closed. A round-id gap on either side settles cleanly:
// reconstructing intermediate rates across an aggregator restart is worse
// than forgoing the adjustment.
func (e *Engine) entryOutcome(entry Entry) (reclaim, rebate *big.Int) {
	reclaim = big.NewInt(0)
	rebate = big.NewInt(0)
	cutoff := entry.Timestamp + int64(e.cfg.WaitingPeriod.Seconds())

	srcRate, ok := e.periodEndRate(entry.Src, entry.RoundIDAtSrc, cutoff)
	if !ok {
		return reclaim, rebate
	}
	destRate, ok := e.periodEndRate(entry.Dest, entry.RoundIDAtDest, cutoff)
	if !ok || destRate.Sign() == 0 {
		return reclaim, rebate
	}

	// Re-run the trade at period-end rates with the fee rate frozen in the
	// entry; the difference against what was credited is the adjustment.
	destAmount := common.DivDec(common.MulDec(entry.SrcAmount, srcRate), destRate)
	fee := common.MulDec(destAmount, entry.FeeRate)
	shouldHaveReceived := new(big.Int).Sub(destAmount, fee)

	delta := new(big.Int).Sub(entry.DestAmount, shouldHaveReceived)
	switch {
	case delta.Sign() > 0:
		reclaim = delta
	case delta.Sign() < 0:
		rebate = delta.Neg(delta)
	}
	return reclaim, rebate
}

// periodEndRate resolves the rate in force when the waiting period closed.
// The base tribe is constant at one unit.
func (e *Engine) periodEndRate(key string, fromRound uint64, cutoff int64) (*big.Int, bool) {
	if key == e.cfg.BaseKey {
		return common.Clone(common.Unit), true
	}
	rate, _, ok := e.rates.RateAtPeriodEnd(key, fromRound, cutoff)
	return rate, ok
}

// SettlementOwing reports the reclaim and rebate that settling the
// (account, key) queue would produce right now, plus the number of pending
// entries. Entries still inside the waiting period contribute nothing.
func (e *Engine) SettlementOwing(account types.Address, key string) (*big.Int, *big.Int, int, error) {
	if e == nil || e.entries == nil {
		return nil, nil, 0, errNotConfigured
	}
	entries, err := e.entries.EntriesFor(account, key)
	if err != nil {
		return nil, nil, 0, err
	}
	reclaimTotal := big.NewInt(0)
	rebateTotal := big.NewInt(0)
	now := e.now().Unix()
	for _, entry := range entries {
		if !e.expired(entry, now) {
			continue
		}
		reclaim, rebate := e.entryOutcome(entry)
		reclaimTotal.Add(reclaimTotal, reclaim)
		rebateTotal.Add(rebateTotal, rebate)
	}
	return reclaimTotal, rebateTotal, len(entries), nil
}

func (e *Engine) expired(entry Entry, now int64) bool {
	return now >= entry.Timestamp+int64(e.cfg.WaitingPeriod.Seconds())
}

// HasWaitingPeriod reports whether any pending entry for (account, key) is
// still inside its waiting period.
func (e *Engine) HasWaitingPeriod(account types.Address, key string) bool {
	entries, err := e.entries.EntriesFor(account, key)
	if err != nil {
		return false
	}
	now := e.now().Unix()
	for _, entry := range entries {
		if !e.expired(entry, now) {
			return true
		}
	}
	return false
}

// Settle reconciles every expired entry for (account, key) in insertion
// order: a reclaim burns the overvaluation from the account, a rebate issues
// the shortfall. Settling with zero pending entries is a no-op; pending
// entries that are all still inside the waiting period error instead.
func (e *Engine) Settle(caller, account types.Address, key string) (*big.Int, *big.Int, int, error) {
	if err := e.checkCaller(caller); err != nil {
		return nil, nil, 0, err
	}
	if err := common.GuardTribe(e.status, key); err != nil {
		return nil, nil, 0, err
	}
	entries, err := e.entries.EntriesFor(account, key)
	if err != nil {
		return nil, nil, 0, err
	}
	reclaimTotal := big.NewInt(0)
	rebateTotal := big.NewInt(0)
	if len(entries) == 0 {
		return reclaimTotal, rebateTotal, 0, nil
	}

	tribe, err := e.tribeFor(key)
	if err != nil {
		return nil, nil, 0, err
	}
	now := e.now().Unix()
	settled := 0
	for _, entry := range entries {
		if !e.expired(entry, now) {
			continue
		}
		reclaim, rebate := e.entryOutcome(entry)
		if reclaim.Sign() > 0 {
			// The account may have spent part of the credited amount into
			// other tribes already; burn what is actually held.
			balance, err := tribe.BalanceOf(account)
			if err != nil {
				return nil, nil, 0, err
			}
			if reclaim.Cmp(balance) > 0 {
				reclaim = balance
			}
			if reclaim.Sign() > 0 {
				if err := tribe.Burn(account, reclaim); err != nil {
					return nil, nil, 0, err
				}
			}
			reclaimTotal.Add(reclaimTotal, reclaim)
		}
		if rebate.Sign() > 0 {
			if err := tribe.Issue(account, rebate); err != nil {
				return nil, nil, 0, err
			}
			rebateTotal.Add(rebateTotal, rebate)
		}
		if err := e.entries.Remove(account, key, entry.ID); err != nil {
			return nil, nil, 0, err
		}
		settled++
	}
	if settled == 0 {
		return nil, nil, 0, errWaitingPeriod
	}
	if err := e.cache.UpdateCachedTribeDebt(key); err != nil {
		return nil, nil, 0, err
	}
	return reclaimTotal, rebateTotal, settled, nil
}
