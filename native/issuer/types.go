package issuer

import (
	"math/big"

	"tribeone/core/types"
)

// Actor identifies who an operation applies to and who requested it. A zero
// Delegate means the account is acting for itself; a set Delegate routes
// through the on-behalf approval table.
type Actor struct {
	Account  types.Address
	Delegate types.Address
}

// Direct builds an actor for a self-initiated operation.
func Direct(account types.Address) Actor {
	return Actor{Account: account}
}

// OnBehalf builds an actor for a delegated operation.
func OnBehalf(account, delegate types.Address) Actor {
	return Actor{Account: account, Delegate: delegate}
}

func (a Actor) delegated() bool {
	return !types.IsZeroAddress(a.Delegate)
}

// Result reports the outcome of an issue or burn. NoOp marks the silent
// degradation paths (tripped breakers) where the call succeeds with zero
// effect.
type Result struct {
	Amount *big.Int
	Shares *big.Int
	NoOp   bool
}

func noOpResult() *Result {
	return &Result{Amount: big.NewInt(0), Shares: big.NewInt(0), NoOp: true}
}
