package exchange

import (
	"math/big"

	"tribeone/core/types"
)

// Entry is a pending settlement record appended by every non-atomic exchange.
// DestAmount is the amount credited after fees; settlement reconciles it
// against the rates in force once the waiting period closes.
type Entry struct {
	ID            string
	Src           string
	SrcAmount     *big.Int
	Dest          string
	DestAmount    *big.Int
	FeeRate       *big.Int
	Timestamp     int64
	RoundIDAtSrc  uint64
	RoundIDAtDest uint64
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	clone := e
	if e.SrcAmount != nil {
		clone.SrcAmount = new(big.Int).Set(e.SrcAmount)
	}
	if e.DestAmount != nil {
		clone.DestAmount = new(big.Int).Set(e.DestAmount)
	}
	if e.FeeRate != nil {
		clone.FeeRate = new(big.Int).Set(e.FeeRate)
	}
	return clone
}

// Actor identifies who an exchange applies to and who requested it, mirroring
// the issuance engine's delegate model.
type Actor struct {
	Account  types.Address
	Delegate types.Address
}

// Direct builds an actor for a self-initiated exchange.
func Direct(account types.Address) Actor {
	return Actor{Account: account}
}

// OnBehalf builds an actor for a delegated exchange.
func OnBehalf(account, delegate types.Address) Actor {
	return Actor{Account: account, Delegate: delegate}
}

func (a Actor) delegated() bool {
	return !types.IsZeroAddress(a.Delegate)
}

// Result reports the outcome of an exchange. NoOp marks the silent
// degradation path taken when a rate probe trips the circuit breaker.
type Result struct {
	Received *big.Int
	Fee      *big.Int
	EntryID  string
	NoOp     bool
}

func noOpResult() *Result {
	return &Result{Received: big.NewInt(0), Fee: big.NewInt(0), NoOp: true}
}

// Settlement reports the outcome of settling an (account, tribe) queue.
type Settlement struct {
	Reclaimed *big.Int
	Rebated   *big.Int
	Settled   int
}
