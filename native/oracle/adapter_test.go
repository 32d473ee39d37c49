package oracle

import (
	"errors"
	"testing"
	"time"

	"tribeone/native/common"
)

func testAdapter() (*Adapter, *int64) {
	now := int64(1_700_000_000)
	adapter := NewAdapter(Config{
		StaleAfter:      time.Hour,
		DeviationFactor: common.FromUnits(3),
		HistoryDepth:    8,
	})
	adapter.SetNow(func() time.Time { return time.Unix(now, 0) })
	return adapter, &now
}

func TestUpdateRateAssignsMonotonicRounds(t *testing.T) {
	adapter, _ := testAdapter()

	first, err := adapter.UpdateRate("hBTC", common.FromUnits(100))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	second, err := adapter.UpdateRate("hBTC", common.FromUnits(101))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if second != first+1 {
		t.Fatalf("round ids not sequential: %d then %d", first, second)
	}

	rate, round, err := adapter.RateWithRound("hBTC")
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if round != second || rate.Cmp(common.FromUnits(101)) != 0 {
		t.Fatalf("unexpected latest: round=%d rate=%s", round, rate)
	}
}

func TestRateStaleness(t *testing.T) {
	adapter, now := testAdapter()

	if _, err := adapter.UpdateRate("hETH", common.FromUnits(2000)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := adapter.Rate("hETH"); err != nil {
		t.Fatalf("fresh rate should be valid: %v", err)
	}

	*now += int64(2 * time.Hour / time.Second)
	if _, err := adapter.Rate("hETH"); !errors.Is(err, ErrRateInvalid) {
		t.Fatalf("expected ErrRateInvalid on stale feed, got %v", err)
	}
}

func TestProbeRateTripsBreakerOnSpike(t *testing.T) {
	adapter, _ := testAdapter()

	if _, err := adapter.UpdateRate("hBTC", common.FromUnits(100)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, _, tripped, err := adapter.ProbeRate("hBTC"); err != nil || tripped {
		t.Fatalf("baseline probe: tripped=%v err=%v", tripped, err)
	}

	// 10x spike exceeds the 3x deviation factor.
	if _, err := adapter.UpdateRate("hBTC", common.FromUnits(1000)); err != nil {
		t.Fatalf("update: %v", err)
	}
	_, _, tripped, err := adapter.ProbeRate("hBTC")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !tripped {
		t.Fatalf("expected trip on 10x move")
	}
	if !adapter.IsBroken("hBTC") {
		t.Fatalf("breaker should latch")
	}

	// Latched feed now hard-errors until reset.
	if _, _, _, err := adapter.ProbeRate("hBTC"); !errors.Is(err, ErrRateInvalid) {
		t.Fatalf("expected ErrRateInvalid after latch, got %v", err)
	}
	if _, err := adapter.Rate("hBTC"); !errors.Is(err, ErrRateInvalid) {
		t.Fatalf("expected ErrRateInvalid on query, got %v", err)
	}

	if err := adapter.ResetBreaker("hBTC"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	rate, _, tripped, err := adapter.ProbeRate("hBTC")
	if err != nil || tripped {
		t.Fatalf("post-reset probe: tripped=%v err=%v", tripped, err)
	}
	if rate.Cmp(common.FromUnits(1000)) != 0 {
		t.Fatalf("reset should accept latest value, got %s", rate)
	}
}

func TestRateAtRoundGapDetection(t *testing.T) {
	adapter, _ := testAdapter()

	var lastRound uint64
	for i := 0; i < 12; i++ {
		round, err := adapter.UpdateRate("hEUR", common.FromUnits(int64(100+i)))
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		lastRound = round
	}

	// Depth 8, so rounds 1..4 have fallen out of the window.
	if _, ok := adapter.RateAtRound("hEUR", 2); ok {
		t.Fatalf("evicted round should not resolve")
	}
	rate, ok := adapter.RateAtRound("hEUR", lastRound)
	if !ok || rate.Cmp(common.FromUnits(111)) != 0 {
		t.Fatalf("latest round lookup failed: ok=%v rate=%s", ok, rate)
	}
}

func TestRateAtPeriodEnd(t *testing.T) {
	adapter, now := testAdapter()

	start := *now
	round1, _ := adapter.UpdateRate("hBTC", common.FromUnits(100))
	*now = start + 60
	adapter.UpdateRate("hBTC", common.FromUnits(110))
	*now = start + 120
	round3, _ := adapter.UpdateRate("hBTC", common.FromUnits(120))
	*now = start + 600
	adapter.UpdateRate("hBTC", common.FromUnits(130))

	// Waiting period closed at start+180: round3 is the last round in force.
	rate, round, ok := adapter.RateAtPeriodEnd("hBTC", round1, start+180)
	if !ok {
		t.Fatalf("expected resolution")
	}
	if round != round3 || rate.Cmp(common.FromUnits(120)) != 0 {
		t.Fatalf("unexpected period-end rate: round=%d rate=%s", round, rate)
	}

	// No subsequent round inside the window: the entry's own round stands.
	rate, round, ok = adapter.RateAtPeriodEnd("hBTC", round3, start+130)
	if !ok || round != round3 || rate.Cmp(common.FromUnits(120)) != 0 {
		t.Fatalf("own-round fallback failed: ok=%v round=%d rate=%s", ok, round, rate)
	}

	// Evicted starting round is a gap.
	for i := 0; i < 10; i++ {
		adapter.UpdateRate("hBTC", common.FromUnits(130))
	}
	if _, _, ok := adapter.RateAtPeriodEnd("hBTC", round1, start+180); ok {
		t.Fatalf("gap should not resolve")
	}
}

func TestUpdateRateRejectsNonPositive(t *testing.T) {
	adapter, _ := testAdapter()
	if _, err := adapter.UpdateRate("hBTC", nil); !errors.Is(err, ErrZeroRate) {
		t.Fatalf("expected ErrZeroRate, got %v", err)
	}
	if _, err := adapter.UpdateRate("hBTC", common.FromUnits(0)); !errors.Is(err, ErrZeroRate) {
		t.Fatalf("expected ErrZeroRate, got %v", err)
	}
}
