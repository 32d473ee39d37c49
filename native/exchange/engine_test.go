package exchange

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"tribeone/core/types"
	"tribeone/native/common"
	"tribeone/native/debtcache"
	"tribeone/native/feepool"
	"tribeone/native/oracle"
	"tribeone/native/registry"
	"tribeone/state"
	"tribeone/storage"
)

var (
	systemAddr = types.Address{0x71}
	poolAddr   = types.Address{0x72}
	trader     = types.Address{0xaa}
	delegate   = types.Address{0xbb}
)

type fixture struct {
	engine *Engine
	rates  *oracle.Adapter
	pool   *feepool.Pool
	tribes *registry.Registry
	base   *registry.Token
	btc    *registry.Token
	eth    *registry.Token
	now    *int64
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	now := int64(1_700_000_000)
	clock := func() time.Time { return time.Unix(now, 0) }

	rates := oracle.NewAdapter(oracle.Config{
		StaleAfter:      24 * time.Hour,
		DeviationFactor: common.FromUnits(3),
		HistoryDepth:    8,
	})
	rates.SetNow(clock)

	kv := state.NewKV(storage.NewMemDB())
	tribes := registry.NewRegistry()
	newToken := func(key string) *registry.Token {
		token, err := registry.NewToken(key, kv)
		if err != nil {
			t.Fatalf("token %s: %v", key, err)
		}
		if err := tribes.Add(token); err != nil {
			t.Fatalf("add %s: %v", key, err)
		}
		return token
	}
	base := newToken("hUSD")
	btc := newToken("hBTC")
	eth := newToken("hETH")

	cache := debtcache.NewCache(debtcache.Config{
		BaseKey:         "hUSD",
		StaleAfter:      time.Hour,
		DeviationFactor: common.FromUnits(100),
	}, tribes, rates)
	cache.SetNow(clock)

	pool := feepool.NewPool(poolAddr)
	entries := NewLedger(kv, cfg.MaxEntriesInQueue)

	if cfg.BaseKey == "" {
		cfg.BaseKey = "hUSD"
	}
	if cfg.WaitingPeriod == 0 {
		cfg.WaitingPeriod = 5 * time.Minute
	}
	if cfg.MaxEntriesInQueue == 0 {
		cfg.MaxEntriesInQueue = 16
	}
	engine := NewEngine(cfg, tribes, rates, cache, pool, entries)
	engine.SetSystemCaller(systemAddr)
	engine.SetNow(clock)

	f := &fixture{engine: engine, rates: rates, pool: pool, tribes: tribes, base: base, btc: btc, eth: eth, now: &now}

	if _, err := rates.UpdateRate("hBTC", common.FromUnits(1)); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if _, err := rates.UpdateRate("hETH", common.FromUnits(2)); err != nil {
		t.Fatalf("rate: %v", err)
	}
	return f
}

func (f *fixture) fund(t *testing.T, token *registry.Token, account types.Address, units int64) {
	t.Helper()
	if err := token.Issue(account, common.FromUnits(units)); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, token *registry.Token, account types.Address) *big.Int {
	t.Helper()
	balance, err := token.BalanceOf(account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func TestExchangeRequiresSystemCaller(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, f.btc, trader, 100)

	_, err := f.engine.Exchange(trader, Direct(trader), "hBTC", common.FromUnits(100), "hETH")
	if !errors.Is(err, errNotSystem) {
		t.Fatalf("expected system gate, got %v", err)
	}
}

func TestExchangeValidation(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, f.btc, trader, 100)

	if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", big.NewInt(0), "hETH"); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("expected amount gate, got %v", err)
	}
	if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(1), "hBTC"); !errors.Is(err, errSameTribe) {
		t.Fatalf("expected same-tribe gate, got %v", err)
	}
	if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(1), "hDOGE"); !errors.Is(err, registry.ErrUnknownTribe) {
		t.Fatalf("expected unknown tribe, got %v", err)
	}
}

func TestExchangeAtRateTwoToOne(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, f.btc, trader, 100)

	// hBTC at 1, hETH at 2: 100 hBTC converts to 50 hETH with no fee.
	result, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(100), "hETH")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if result.Received.Cmp(common.FromUnits(50)) != 0 {
		t.Fatalf("received %s, want 50", result.Received)
	}
	if got := f.balance(t, f.eth, trader); got.Cmp(common.FromUnits(50)) != 0 {
		t.Fatalf("eth balance %s, want 50", got)
	}
	if got := f.balance(t, f.btc, trader); got.Sign() != 0 {
		t.Fatalf("btc balance %s, want 0", got)
	}
}

func TestExchangeChargesBaseFee(t *testing.T) {
	f := newFixture(t, Config{
		BaseFeeRates: map[string]*big.Int{
			"hBTC": common.DivDec(common.FromUnits(1), common.FromUnits(100)),
			"hETH": common.DivDec(common.FromUnits(1), common.FromUnits(100)),
		},
	})
	f.fund(t, f.btc, trader, 100)

	// 1% per side -> 2% of the 50 hETH output.
	result, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(100), "hETH")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if result.Received.Cmp(common.FromUnits(49)) != 0 {
		t.Fatalf("received %s, want 49", result.Received)
	}
	if result.Fee.Cmp(common.FromUnits(1)) != 0 {
		t.Fatalf("fee %s, want 1", result.Fee)
	}
	// Fee lands in the pool as base value: 1 hETH x 2 = 2 hUSD.
	if got := f.pool.FeesAccrued(); got.Cmp(common.FromUnits(2)) != 0 {
		t.Fatalf("pool accrued %s, want 2", got)
	}
	if got := f.balance(t, f.base, poolAddr); got.Cmp(common.FromUnits(2)) != 0 {
		t.Fatalf("pool balance %s, want 2", got)
	}
}

func TestSettleReclaimOnRateRise(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, f.btc, trader, 100)

	if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(100), "hETH"); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	// hETH doubles inside the waiting period: the 50 credited were worth
	// only 25 at the period-end rate, so half comes back.
	*f.now += 60
	if _, err := f.rates.UpdateRate("hETH", common.FromUnits(4)); err != nil {
		t.Fatalf("rate: %v", err)
	}
	*f.now += int64(5 * time.Minute / time.Second)

	reclaim, rebate, pending, err := f.engine.SettlementOwing(trader, "hETH")
	if err != nil {
		t.Fatalf("owing: %v", err)
	}
	if pending != 1 {
		t.Fatalf("pending %d, want 1", pending)
	}
	if reclaim.Cmp(common.FromUnits(25)) != 0 || rebate.Sign() != 0 {
		t.Fatalf("owing reclaim=%s rebate=%s, want 25/0", reclaim, rebate)
	}

	reclaimed, rebated, settled, err := f.engine.Settle(systemAddr, trader, "hETH")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled != 1 || reclaimed.Cmp(common.FromUnits(25)) != 0 || rebated.Sign() != 0 {
		t.Fatalf("settled=%d reclaimed=%s rebated=%s", settled, reclaimed, rebated)
	}
	if got := f.balance(t, f.eth, trader); got.Cmp(common.FromUnits(25)) != 0 {
		t.Fatalf("eth balance %s, want 25", got)
	}
}

func TestSettleRebateOnRateDrop(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, f.btc, trader, 100)

	if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(100), "hETH"); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	// hETH halves: the 50 credited undervalued the trade, which was worth
	// 100 at the period-end rate.
	*f.now += 60
	if _, err := f.rates.UpdateRate("hETH", common.FromUnits(1)); err != nil {
		t.Fatalf("rate: %v", err)
	}
	*f.now += int64(5 * time.Minute / time.Second)

	reclaimed, rebated, settled, err := f.engine.Settle(systemAddr, trader, "hETH")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled != 1 || reclaimed.Sign() != 0 || rebated.Cmp(common.FromUnits(50)) != 0 {
		t.Fatalf("settled=%d reclaimed=%s rebated=%s", settled, reclaimed, rebated)
	}
	if got := f.balance(t, f.eth, trader); got.Cmp(common.FromUnits(100)) != 0 {
		t.Fatalf("eth balance %s, want 100", got)
	}
}

func TestSettleDuringWaitingPeriodFails(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, f.btc, trader, 100)

	if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(100), "hETH"); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if _, _, _, err := f.engine.Settle(systemAddr, trader, "hETH"); !errors.Is(err, errWaitingPeriod) {
		t.Fatalf("expected waiting-period gate, got %v", err)
	}
}

func TestSettleWithNoEntriesIsNoOp(t *testing.T) {
	f := newFixture(t, Config{})

	reclaimed, rebated, settled, err := f.engine.Settle(systemAddr, trader, "hETH")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled != 0 || reclaimed.Sign() != 0 || rebated.Sign() != 0 {
		t.Fatalf("no-op settle mutated: settled=%d reclaimed=%s rebated=%s", settled, reclaimed, rebated)
	}
}

func TestExchangeOutBlockedByWaitingPeriod(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, f.btc, trader, 100)

	if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(100), "hETH"); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	// Spending the freshly received hETH before the waiting period closes
	// must refuse: its true balance is still settlement-pending.
	if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hETH", common.FromUnits(10), "hBTC"); !errors.Is(err, errWaitingPeriod) {
		t.Fatalf("expected waiting-period gate, got %v", err)
	}

	// After the waiting period the spend force-settles and proceeds.
	*f.now += int64(5 * time.Minute / time.Second)
	if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hETH", common.FromUnits(10), "hBTC"); err != nil {
		t.Fatalf("exchange after settle: %v", err)
	}
	if count, _ := f.engine.entries.Count(trader, "hETH"); count != 0 {
		t.Fatalf("src entries should be settled, %d remain", count)
	}
}

func TestQueueLengthCap(t *testing.T) {
	f := newFixture(t, Config{MaxEntriesInQueue: 2})
	f.fund(t, f.btc, trader, 100)

	for i := 0; i < 2; i++ {
		if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(10), "hETH"); err != nil {
			t.Fatalf("exchange %d: %v", i, err)
		}
	}
	if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(10), "hETH"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected queue cap, got %v", err)
	}
}

func TestExchangeNoOpOnBreakerTrip(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, f.btc, trader, 100)

	// Establish breaker baselines.
	if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(10), "hETH"); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	before := f.balance(t, f.eth, trader)

	// 10x spike on the destination trips the breaker during the probe.
	*f.now += 60
	if _, err := f.rates.UpdateRate("hETH", common.FromUnits(20)); err != nil {
		t.Fatalf("rate: %v", err)
	}
	result, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(10), "hETH")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if !result.NoOp {
		t.Fatalf("expected no-op on breaker trip")
	}
	if got := f.balance(t, f.eth, trader); got.Cmp(before) != 0 {
		t.Fatalf("balance moved during no-op: %s -> %s", before, got)
	}
	if !f.rates.IsBroken("hETH") {
		t.Fatalf("breaker should be latched")
	}

	// Latched feed now hard-errors until reset.
	if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(10), "hETH"); !errors.Is(err, oracle.ErrRateInvalid) {
		t.Fatalf("expected rate invalid, got %v", err)
	}
}

func TestSettleCleanOnRoundGap(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, f.btc, trader, 100)

	if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(100), "hETH"); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	// Push the entry's round out of the retained window (depth 8) with a
	// wall of fresh rounds; the rate also moves, but a gap settles cleanly.
	*f.now += 60
	for i := 0; i < 10; i++ {
		if _, err := f.rates.UpdateRate("hETH", common.FromUnits(3)); err != nil {
			t.Fatalf("rate: %v", err)
		}
	}
	*f.now += int64(5 * time.Minute / time.Second)

	reclaimed, rebated, settled, err := f.engine.Settle(systemAddr, trader, "hETH")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled != 1 || reclaimed.Sign() != 0 || rebated.Sign() != 0 {
		t.Fatalf("gap should settle cleanly: settled=%d reclaimed=%s rebated=%s", settled, reclaimed, rebated)
	}
	if got := f.balance(t, f.eth, trader); got.Cmp(common.FromUnits(50)) != 0 {
		t.Fatalf("balance should be untouched, got %s", got)
	}
}

func TestDynamicFeeTooVolatile(t *testing.T) {
	f := newFixture(t, Config{
		DynamicFee: DynamicFeeConfig{
			Rounds:      4,
			Threshold:   common.DivDec(common.FromUnits(1), common.FromUnits(100)),
			WeightDecay: common.DivDec(common.FromUnits(9), common.FromUnits(10)),
			MaxFee:      common.DivDec(common.FromUnits(5), common.FromUnits(100)),
		},
	})
	f.fund(t, f.btc, trader, 100)

	// A 50% move in the latest hETH round blows far past the 5% cap.
	*f.now += 60
	if _, err := f.rates.UpdateRate("hETH", common.FromUnits(3)); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if _, err := f.engine.Exchange(systemAddr, Direct(trader), "hBTC", common.FromUnits(10), "hETH"); !errors.Is(err, errTooVolatile) {
		t.Fatalf("expected too volatile, got %v", err)
	}
}

func TestDynamicFeeDecaysWithCalm(t *testing.T) {
	cfg := DynamicFeeConfig{
		Rounds:      3,
		Threshold:   common.DivDec(common.FromUnits(1), common.FromUnits(100)),
		WeightDecay: common.DivDec(common.FromUnits(9), common.FromUnits(10)),
		MaxFee:      common.FromUnits(1),
	}
	volatile := []oracle.Round{
		{Rate: common.FromUnits(2), RoundID: 1},
		{Rate: common.FromUnits(3), RoundID: 2},
	}
	spike := dynamicFeeForRounds(volatile, cfg)
	if spike.Sign() <= 0 {
		t.Fatalf("fresh spike should charge a penalty")
	}

	// One calm round later the same move is a round older and decayed.
	aged := []oracle.Round{
		{Rate: common.FromUnits(2), RoundID: 1},
		{Rate: common.FromUnits(3), RoundID: 2},
		{Rate: common.FromUnits(3), RoundID: 3},
	}
	decayed := dynamicFeeForRounds(aged, cfg)
	if decayed.Sign() <= 0 || decayed.Cmp(spike) >= 0 {
		t.Fatalf("penalty should decay: fresh=%s aged=%s", spike, decayed)
	}

	// Outside the window the move no longer contributes at all.
	calm := []oracle.Round{
		{Rate: common.FromUnits(3), RoundID: 3},
		{Rate: common.FromUnits(3), RoundID: 4},
		{Rate: common.FromUnits(3), RoundID: 5},
	}
	if fee := dynamicFeeForRounds(calm, cfg); fee.Sign() != 0 {
		t.Fatalf("calm window should be free, got %s", fee)
	}
}

func TestExchangeOnBehalfApproval(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, f.btc, trader, 100)

	if _, err := f.engine.Exchange(systemAddr, OnBehalf(trader, delegate), "hBTC", common.FromUnits(10), "hETH"); !errors.Is(err, errNotApproved) {
		t.Fatalf("expected approval gate, got %v", err)
	}
	f.engine.ApproveExchangeOnBehalf(trader, delegate)
	if _, err := f.engine.Exchange(systemAddr, OnBehalf(trader, delegate), "hBTC", common.FromUnits(10), "hETH"); err != nil {
		t.Fatalf("delegated exchange: %v", err)
	}
}
