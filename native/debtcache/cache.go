package debtcache

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"tribeone/native/common"
)

var errNotConfigured = errors.New("debt cache: sources not configured")

// supplySource enumerates live tribes and their supplies (the registry).
type supplySource interface {
	Keys() []string
	SupplyOf(key string) (*big.Int, error)
}

// rateSource prices tribes in the base asset (the oracle adapter).
type rateSource interface {
	RateWithValidity(key string) (*big.Int, bool)
}

// extraDebtSource contributes base-denominated debt that lives outside the
// registry, such as the redemption vault's frozen claims.
type extraDebtSource interface {
	OutstandingBaseValue() (*big.Int, error)
}

// Entry is the queryable snapshot of the cache.
type Entry struct {
	CachedDebt *big.Int
	Timestamp  int64
	IsInvalid  bool
	IsStale    bool
}

// Config carries the staleness and anomaly thresholds for the cache.
type Config struct {
	// BaseKey is the tribe valued at exactly one unit; it never consults
	// the oracle.
	BaseKey string
	// StaleAfter bounds the cache age before reads report staleness.
	StaleAfter time.Duration
	// DeviationFactor is the fixed-point ratio between consecutive
	// snapshots beyond which the aggregate-debt breaker latches.
	DeviationFactor *big.Int
}

// Cache maintains the periodically recomputed aggregate of outstanding
// synthetic debt so issuance does not re-sum every tribe on each mint/burn.
// A latch trips when consecutive snapshots move by more than the configured
// deviation factor; the issuer turns mutations into silent no-ops while the
// latch holds.
type Cache struct {
	mu       sync.RWMutex
	cfg      Config
	supplies supplySource
	rates    rateSource
	extras   []extraDebtSource
	now      func() time.Time

	perTribe  map[string]*big.Int
	extra     *big.Int
	total     *big.Int
	timestamp int64
	invalid   bool

	lastSnapshot *big.Int
	broken       bool
}

// NewCache wires the cache to its supply and rate sources.
func NewCache(cfg Config, supplies supplySource, rates rateSource, extras ...extraDebtSource) *Cache {
	return &Cache{
		cfg:      cfg,
		supplies: supplies,
		rates:    rates,
		extras:   extras,
		now:      time.Now,
		perTribe: make(map[string]*big.Int),
		extra:    big.NewInt(0),
		total:    big.NewInt(0),
	}
}

// SetNow overrides the clock, used by tests.
func (c *Cache) SetNow(now func() time.Time) {
	if c == nil || now == nil {
		return
	}
	c.now = now
}

func (c *Cache) tribeValueLocked(key string) (*big.Int, bool, error) {
	supply, err := c.supplies.SupplyOf(key)
	if err != nil {
		return nil, false, err
	}
	if key == c.cfg.BaseKey {
		return common.Clone(supply), true, nil
	}
	rate, valid := c.rates.RateWithValidity(key)
	if !valid {
		return big.NewInt(0), false, nil
	}
	return common.MulDec(supply, rate), true, nil
}

// TakeDebtSnapshot recomputes the aggregate from scratch: every registered
// tribe's supply at its current rate plus any extra debt sources. The invalid
// flag records whether any rate was unusable at snapshot time.
func (c *Cache) TakeDebtSnapshot() error {
	if c == nil || c.supplies == nil || c.rates == nil {
		return errNotConfigured
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	total := big.NewInt(0)
	perTribe := make(map[string]*big.Int)
	invalid := false
	for _, key := range c.supplies.Keys() {
		value, valid, err := c.tribeValueLocked(key)
		if err != nil {
			return err
		}
		if !valid {
			invalid = true
		}
		perTribe[key] = value
		total = total.Add(total, value)
	}

	extra := big.NewInt(0)
	for _, source := range c.extras {
		value, err := source.OutstandingBaseValue()
		if err != nil {
			return err
		}
		extra = extra.Add(extra, value)
	}
	total = total.Add(total, extra)

	if c.lastSnapshot != nil && common.DeviationExceeds(c.lastSnapshot, total, c.cfg.DeviationFactor) {
		c.broken = true
	}
	c.lastSnapshot = new(big.Int).Set(total)

	c.perTribe = perTribe
	c.extra = extra
	c.total = total
	c.timestamp = c.now().Unix()
	c.invalid = invalid
	return nil
}

// UpdateCachedTribeDebt patches a single tribe's contribution in O(1) after
// an issue, burn, exchange, or settlement touches it. An invalid rate marks
// the cache invalid without disturbing the previous contribution.
func (c *Cache) UpdateCachedTribeDebt(key string) error {
	if c == nil || c.supplies == nil || c.rates == nil {
		return errNotConfigured
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	value, valid, err := c.tribeValueLocked(key)
	if err != nil {
		return err
	}
	if !valid {
		c.invalid = true
		return nil
	}
	previous := c.perTribe[key]
	if previous == nil {
		previous = big.NewInt(0)
	}
	c.total = new(big.Int).Sub(c.total, previous)
	c.total = c.total.Add(c.total, value)
	c.perTribe[key] = value
	return nil
}

// CachedDebt returns the aggregate plus the invalid and stale flags.
func (c *Cache) CachedDebt() (*big.Int, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stale := false
	if c.cfg.StaleAfter > 0 {
		age := c.now().Unix() - c.timestamp
		stale = c.timestamp == 0 || age > int64(c.cfg.StaleAfter/time.Second)
	}
	return common.Clone(c.total), c.invalid, stale
}

// Info returns the cache entry for RPC consumption.
func (c *Cache) Info() Entry {
	total, invalid, stale := c.CachedDebt()
	c.mu.RLock()
	ts := c.timestamp
	c.mu.RUnlock()
	return Entry{CachedDebt: total, Timestamp: ts, IsInvalid: invalid, IsStale: stale}
}

// CachedTribeDebt returns a single tribe's cached contribution.
func (c *Cache) CachedTribeDebt(key string) (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.perTribe[key]
	if !ok {
		return nil, fmt.Errorf("debt cache: no cached debt for %s", key)
	}
	return common.Clone(value), nil
}

// ExtraDebt returns the portion of the cached aggregate contributed by
// sources outside the registry (redemption vault claims).
func (c *Cache) ExtraDebt() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return common.Clone(c.extra)
}

// Broken reports whether the aggregate-deviation latch has tripped.
func (c *Cache) Broken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.broken
}

// ResetBroken clears the aggregate-deviation latch.
func (c *Cache) ResetBroken() {
	c.mu.Lock()
	c.broken = false
	c.mu.Unlock()
}
