package exchange

import (
	"errors"
	"fmt"
	"math/big"

	"tribeone/core/types"
)

var (
	errEntryNotFound = errors.New("exchange: entry not found")
	// ErrQueueFull is returned when an (account, dest) pair already holds the
	// maximum number of pending entries.
	ErrQueueFull = errors.New("exchange: max queue length reached")
)

// Storage is the narrow state surface the entry ledger persists through.
type Storage interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

type storedEntry struct {
	ID            string
	Src           string
	SrcAmount     string
	Dest          string
	DestAmount    string
	FeeRate       string
	Timestamp     uint64
	RoundIDAtSrc  uint64
	RoundIDAtDest uint64
}

func entryKey(id string) []byte {
	return []byte("exchange/entry/" + id)
}

func queueKey(account types.Address, dest string) []byte {
	return []byte(fmt.Sprintf("exchange/queue/%x/%s", account.Bytes(), dest))
}

func parseAmount(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("exchange: invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("exchange: negative amount %q", value)
	}
	return amount, nil
}

// Ledger persists pending exchange entries and the per-(account, dest) queue
// index. Entries survive restarts; the engine holds no in-memory queue state.
type Ledger struct {
	store      Storage
	maxEntries int
}

// NewLedger wraps the storage with a queue-length cap per (account, dest).
func NewLedger(store Storage, maxEntries int) *Ledger {
	if maxEntries <= 0 {
		maxEntries = 16
	}
	return &Ledger{store: store, maxEntries: maxEntries}
}

// Append persists the entry and indexes it under (account, entry.Dest).
// Returns ErrQueueFull when the pair is already at capacity.
func (l *Ledger) Append(account types.Address, entry Entry) error {
	ids, err := l.queueIDs(account, entry.Dest)
	if err != nil {
		return err
	}
	if len(ids) >= l.maxEntries {
		return ErrQueueFull
	}
	stored := storedEntry{
		ID:            entry.ID,
		Src:           entry.Src,
		SrcAmount:     entry.SrcAmount.String(),
		Dest:          entry.Dest,
		DestAmount:    entry.DestAmount.String(),
		FeeRate:       entry.FeeRate.String(),
		Timestamp:     uint64(entry.Timestamp),
		RoundIDAtSrc:  entry.RoundIDAtSrc,
		RoundIDAtDest: entry.RoundIDAtDest,
	}
	if err := l.store.KVPut(entryKey(entry.ID), stored); err != nil {
		return err
	}
	return l.store.KVAppend(queueKey(account, entry.Dest), []byte(entry.ID))
}

func (l *Ledger) queueIDs(account types.Address, dest string) ([]string, error) {
	var raw [][]byte
	if err := l.store.KVGetList(queueKey(account, dest), &raw); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, string(id))
	}
	return ids, nil
}

func (l *Ledger) load(id string) (Entry, error) {
	var stored storedEntry
	ok, err := l.store.KVGet(entryKey(id), &stored)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, errEntryNotFound
	}
	srcAmount, err := parseAmount(stored.SrcAmount)
	if err != nil {
		return Entry{}, err
	}
	destAmount, err := parseAmount(stored.DestAmount)
	if err != nil {
		return Entry{}, err
	}
	feeRate, err := parseAmount(stored.FeeRate)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:            stored.ID,
		Src:           stored.Src,
		SrcAmount:     srcAmount,
		Dest:          stored.Dest,
		DestAmount:    destAmount,
		FeeRate:       feeRate,
		Timestamp:     int64(stored.Timestamp),
		RoundIDAtSrc:  stored.RoundIDAtSrc,
		RoundIDAtDest: stored.RoundIDAtDest,
	}, nil
}

// EntriesFor returns the pending entries for (account, dest) in insertion
// order.
func (l *Ledger) EntriesFor(account types.Address, dest string) ([]Entry, error) {
	ids, err := l.queueIDs(account, dest)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := l.load(id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Count returns the queue depth for (account, dest).
func (l *Ledger) Count(account types.Address, dest string) (int, error) {
	ids, err := l.queueIDs(account, dest)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Remove deletes a settled entry and drops it from the queue index.
func (l *Ledger) Remove(account types.Address, dest, id string) error {
	ids, err := l.queueIDs(account, dest)
	if err != nil {
		return err
	}
	remaining := make([][]byte, 0, len(ids))
	found := false
	for _, existing := range ids {
		if existing == id {
			found = true
			continue
		}
		remaining = append(remaining, []byte(existing))
	}
	if !found {
		return errEntryNotFound
	}
	if err := l.store.KVDelete(entryKey(id)); err != nil {
		return err
	}
	key := queueKey(account, dest)
	if len(remaining) == 0 {
		return l.store.KVDelete(key)
	}
	return l.store.KVPut(key, remaining)
}
