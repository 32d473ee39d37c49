package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"tribeone/native/common"
)

var (
	// ErrRateInvalid covers stale feeds and feeds latched by the circuit
	// breaker. Callers that need the src/dest distinction wrap it.
	ErrRateInvalid  = errors.New("rate is invalid")
	ErrUnknownAsset = errors.New("oracle: unknown asset")
	ErrZeroRate     = errors.New("oracle: rate must be positive")
)

// Config captures the freshness and anomaly-detection knobs for the adapter.
type Config struct {
	// StaleAfter bounds the age of the newest round before the feed is
	// considered stale.
	StaleAfter time.Duration
	// DeviationFactor is the symmetric fixed-point ratio beyond which a new
	// observation trips the circuit breaker (2e18 trips on >2x or <0.5x).
	DeviationFactor *big.Int
	// HistoryDepth bounds the per-feed round ring buffer.
	HistoryDepth int
}

const defaultHistoryDepth = 64

type feed struct {
	rounds       []Round
	nextRoundID  uint64
	lastAccepted *big.Int
	broken       bool
}

// Adapter wraps external price feeds: it records round history per asset,
// answers rate queries with validity semantics, and hosts the per-feed
// circuit breaker consulted by every pricing path.
type Adapter struct {
	mu    sync.RWMutex
	cfg   Config
	feeds map[string]*feed
	now   func() time.Time
}

// NewAdapter constructs an adapter with the provided configuration.
func NewAdapter(cfg Config) *Adapter {
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = defaultHistoryDepth
	}
	return &Adapter{
		cfg:   cfg,
		feeds: make(map[string]*feed),
		now:   time.Now,
	}
}

// SetNow overrides the clock, used by tests.
func (a *Adapter) SetNow(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.now = now
}

func normalizeKey(key string) string {
	return strings.TrimSpace(key)
}

func (a *Adapter) feedFor(key string) *feed {
	normalized := normalizeKey(key)
	f, ok := a.feeds[normalized]
	if !ok {
		f = &feed{nextRoundID: 1}
		a.feeds[normalized] = f
	}
	return f
}

// UpdateRate records a new observation for the asset and returns the assigned
// round id. Anomaly detection happens lazily on ProbeRate, not here: the raw
// feed history always reflects what the upstream oracle reported.
func (a *Adapter) UpdateRate(key string, rate *big.Int) (uint64, error) {
	if a == nil {
		return 0, fmt.Errorf("oracle: adapter not initialised")
	}
	if rate == nil || rate.Sign() <= 0 {
		return 0, ErrZeroRate
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f := a.feedFor(key)
	round := Round{
		Rate:      new(big.Int).Set(rate),
		Timestamp: a.now().Unix(),
		RoundID:   f.nextRoundID,
	}
	f.nextRoundID++
	f.rounds = append(f.rounds, round)
	if len(f.rounds) > a.cfg.HistoryDepth {
		f.rounds = f.rounds[len(f.rounds)-a.cfg.HistoryDepth:]
	}
	return round.RoundID, nil
}

func (a *Adapter) latestLocked(key string) (*feed, *Round, error) {
	f, ok := a.feeds[normalizeKey(key)]
	if !ok || len(f.rounds) == 0 {
		return nil, nil, ErrUnknownAsset
	}
	latest := f.rounds[len(f.rounds)-1]
	return f, &latest, nil
}

func (a *Adapter) staleLocked(latest *Round) bool {
	if a.cfg.StaleAfter <= 0 {
		return false
	}
	age := a.now().Unix() - latest.Timestamp
	return age > int64(a.cfg.StaleAfter/time.Second)
}

// Rate returns the newest rate for the asset. Stale feeds and feeds latched by
// the circuit breaker yield ErrRateInvalid.
func (a *Adapter) Rate(key string) (*big.Int, error) {
	rate, _, err := a.RateWithRound(key)
	return rate, err
}

// RateWithRound returns the newest rate together with its round id.
func (a *Adapter) RateWithRound(key string) (*big.Int, uint64, error) {
	if a == nil {
		return nil, 0, fmt.Errorf("oracle: adapter not initialised")
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, latest, err := a.latestLocked(key)
	if err != nil {
		return nil, 0, err
	}
	if f.broken || a.staleLocked(latest) {
		return nil, 0, ErrRateInvalid
	}
	return new(big.Int).Set(latest.Rate), latest.RoundID, nil
}

// RateWithValidity returns the newest rate and a validity flag instead of an
// error; used by the debt cache when recomputing aggregates.
func (a *Adapter) RateWithValidity(key string) (*big.Int, bool) {
	rate, _, err := a.RateWithRound(key)
	if err != nil {
		return big.NewInt(0), false
	}
	return rate, true
}

// ProbeRate is the pricing entry point for exchanges and issuance. It applies
// the circuit-breaker comparison against the last accepted value: a fresh
// anomalous observation latches the breaker and reports tripped=true (callers
// turn the operation into a no-op), while an already-latched or stale feed
// returns ErrRateInvalid.
func (a *Adapter) ProbeRate(key string) (*big.Int, uint64, bool, error) {
	if a == nil {
		return nil, 0, false, fmt.Errorf("oracle: adapter not initialised")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f, latest, err := a.latestLocked(key)
	if err != nil {
		return nil, 0, false, err
	}
	if f.broken || a.staleLocked(latest) {
		return nil, 0, false, ErrRateInvalid
	}
	if f.lastAccepted != nil && common.DeviationExceeds(f.lastAccepted, latest.Rate, a.cfg.DeviationFactor) {
		f.broken = true
		return nil, 0, true, nil
	}
	f.lastAccepted = new(big.Int).Set(latest.Rate)
	return new(big.Int).Set(latest.Rate), latest.RoundID, false, nil
}

// IsBroken reports whether the feed is latched by the circuit breaker.
func (a *Adapter) IsBroken(key string) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, ok := a.feeds[normalizeKey(key)]
	return ok && f.broken
}

// ResetBreaker clears the circuit-breaker latch for the asset and accepts the
// newest observation as the comparison baseline.
func (a *Adapter) ResetBreaker(key string) error {
	if a == nil {
		return fmt.Errorf("oracle: adapter not initialised")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f, latest, err := a.latestLocked(key)
	if err != nil {
		return err
	}
	f.broken = false
	f.lastAccepted = new(big.Int).Set(latest.Rate)
	return nil
}

// RoundHistory returns up to n most recent rounds, oldest first.
func (a *Adapter) RoundHistory(key string, n int) []Round {
	if a == nil || n <= 0 {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, ok := a.feeds[normalizeKey(key)]
	if !ok {
		return nil
	}
	start := len(f.rounds) - n
	if start < 0 {
		start = 0
	}
	out := make([]Round, 0, len(f.rounds)-start)
	for _, round := range f.rounds[start:] {
		out = append(out, round.Clone())
	}
	return out
}

// RateAtRound returns the rate recorded at the given round id. The boolean is
// false when the round predates the retained history window (a round-id gap).
func (a *Adapter) RateAtRound(key string, roundID uint64) (*big.Int, bool) {
	if a == nil {
		return nil, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, ok := a.feeds[normalizeKey(key)]
	if !ok {
		return nil, false
	}
	for _, round := range f.rounds {
		if round.RoundID == roundID {
			return new(big.Int).Set(round.Rate), true
		}
	}
	return nil, false
}

// RateAtPeriodEnd resolves the rate in force when a settlement waiting period
// closed: the newest retained round at or after fromRound whose timestamp does
// not exceed cutoff. The boolean is false when fromRound has already fallen
// out of the retained window, which settlement treats as a clean settle.
func (a *Adapter) RateAtPeriodEnd(key string, fromRound uint64, cutoff int64) (*big.Int, uint64, bool) {
	if a == nil {
		return nil, 0, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, ok := a.feeds[normalizeKey(key)]
	if !ok || len(f.rounds) == 0 {
		return nil, 0, false
	}
	if f.rounds[0].RoundID > fromRound {
		return nil, 0, false
	}
	var chosen *Round
	for i := range f.rounds {
		round := f.rounds[i]
		if round.RoundID < fromRound {
			continue
		}
		if round.RoundID == fromRound {
			chosen = &f.rounds[i]
			continue
		}
		if round.Timestamp <= cutoff {
			chosen = &f.rounds[i]
		}
	}
	if chosen == nil {
		return nil, 0, false
	}
	return new(big.Int).Set(chosen.Rate), chosen.RoundID, true
}
