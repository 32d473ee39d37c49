package debtcache

import (
	"math/big"
	"testing"
	"time"

	"tribeone/native/common"
)

type mockSupplies struct {
	keys     []string
	supplies map[string]*big.Int
}

func (m *mockSupplies) Keys() []string { return m.keys }

func (m *mockSupplies) SupplyOf(key string) (*big.Int, error) {
	if supply, ok := m.supplies[key]; ok {
		return new(big.Int).Set(supply), nil
	}
	return big.NewInt(0), nil
}

type mockRates struct {
	rates   map[string]*big.Int
	invalid map[string]bool
}

func (m *mockRates) RateWithValidity(key string) (*big.Int, bool) {
	if m.invalid[key] {
		return big.NewInt(0), false
	}
	if rate, ok := m.rates[key]; ok {
		return new(big.Int).Set(rate), true
	}
	return big.NewInt(0), false
}

type mockExtra struct {
	value *big.Int
}

func (m *mockExtra) OutstandingBaseValue() (*big.Int, error) {
	return new(big.Int).Set(m.value), nil
}

func newTestCache() (*Cache, *mockSupplies, *mockRates, *mockExtra, *int64) {
	supplies := &mockSupplies{
		keys: []string{"hUSD", "hBTC"},
		supplies: map[string]*big.Int{
			"hUSD": common.FromUnits(100),
			"hBTC": common.FromUnits(2),
		},
	}
	rates := &mockRates{
		rates:   map[string]*big.Int{"hBTC": common.FromUnits(50)},
		invalid: map[string]bool{},
	}
	extra := &mockExtra{value: big.NewInt(0)}
	now := int64(1_700_000_000)
	cache := NewCache(Config{
		BaseKey:         "hUSD",
		StaleAfter:      time.Hour,
		DeviationFactor: common.FromUnits(2),
	}, supplies, rates, extra)
	cache.SetNow(func() time.Time { return time.Unix(now, 0) })
	return cache, supplies, rates, extra, &now
}

func TestSnapshotComputesAggregate(t *testing.T) {
	cache, _, _, extra, _ := newTestCache()
	extra.value = common.FromUnits(10)

	if err := cache.TakeDebtSnapshot(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	total, invalid, stale := cache.CachedDebt()
	// 100 hUSD + 2 hBTC x 50 + 10 vault = 210.
	if total.Cmp(common.FromUnits(210)) != 0 {
		t.Fatalf("unexpected total: %s", total)
	}
	if invalid || stale {
		t.Fatalf("fresh snapshot flagged invalid=%v stale=%v", invalid, stale)
	}
}

func TestSnapshotFlagsInvalidRates(t *testing.T) {
	cache, _, rates, _, _ := newTestCache()
	rates.invalid["hBTC"] = true

	if err := cache.TakeDebtSnapshot(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	_, invalid, _ := cache.CachedDebt()
	if !invalid {
		t.Fatalf("expected invalid flag when a rate is unusable")
	}
}

func TestCacheStaleness(t *testing.T) {
	cache, _, _, _, now := newTestCache()

	_, _, stale := cache.CachedDebt()
	if !stale {
		t.Fatalf("never-snapshotted cache should be stale")
	}

	if err := cache.TakeDebtSnapshot(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	_, _, stale = cache.CachedDebt()
	if stale {
		t.Fatalf("fresh cache flagged stale")
	}

	*now += int64(2 * time.Hour / time.Second)
	_, _, stale = cache.CachedDebt()
	if !stale {
		t.Fatalf("aged cache should be stale")
	}
}

func TestUpdateCachedTribeDebtPatchesTotal(t *testing.T) {
	cache, supplies, _, _, _ := newTestCache()

	if err := cache.TakeDebtSnapshot(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	supplies.supplies["hBTC"] = common.FromUnits(3)
	if err := cache.UpdateCachedTribeDebt("hBTC"); err != nil {
		t.Fatalf("update: %v", err)
	}
	total, _, _ := cache.CachedDebt()
	// 100 + 3 x 50 = 250.
	if total.Cmp(common.FromUnits(250)) != 0 {
		t.Fatalf("unexpected patched total: %s", total)
	}
}

func TestDeviationLatch(t *testing.T) {
	cache, supplies, _, _, _ := newTestCache()

	if err := cache.TakeDebtSnapshot(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if cache.Broken() {
		t.Fatalf("first snapshot must not latch")
	}

	// 10x jump in base supply pushes the aggregate past the 2x factor.
	supplies.supplies["hUSD"] = common.FromUnits(10_000)
	if err := cache.TakeDebtSnapshot(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !cache.Broken() {
		t.Fatalf("expected latch on runaway aggregate")
	}

	cache.ResetBroken()
	if cache.Broken() {
		t.Fatalf("reset should clear the latch")
	}
}
