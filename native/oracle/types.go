package oracle

import "math/big"

// Round is a single accepted price observation for an asset. Round ids are
// assigned sequentially per feed and never reused.
type Round struct {
	Rate      *big.Int
	Timestamp int64
	RoundID   uint64
}

// Clone returns a deep copy of the round.
func (r Round) Clone() Round {
	clone := Round{Timestamp: r.Timestamp, RoundID: r.RoundID}
	if r.Rate != nil {
		clone.Rate = new(big.Int).Set(r.Rate)
	}
	return clone
}
