package exchange

import (
	"math/big"

	"tribeone/native/common"
	"tribeone/native/oracle"
)

// DynamicFeeConfig parameterises the volatility surcharge of the fee model.
// The penalty is a fold over the most recent Rounds oracle updates: each
// adjacent price move larger than Threshold contributes its excess, decayed
// geometrically by WeightDecay per round of age, and the sum is capped at
// MaxFee.
type DynamicFeeConfig struct {
	// Rounds is the lookback window k.
	Rounds int
	// Threshold is the fixed-point relative move below which no penalty
	// accrues (5e15 for 0.5%).
	Threshold *big.Int
	// WeightDecay is the fixed-point geometric decay applied per round of
	// age (9e17 for 0.9).
	WeightDecay *big.Int
	// MaxFee caps the summed penalty; a penalty above the cap rejects the
	// exchange entirely.
	MaxFee *big.Int
}

func (c DynamicFeeConfig) enabled() bool {
	return c.Rounds > 1 && c.Threshold != nil && c.WeightDecay != nil && c.MaxFee != nil
}

// relativeMove returns |current-previous| / previous in fixed point; zero when
// previous is zero.
func relativeMove(previous, current *big.Int) *big.Int {
	if previous == nil || previous.Sign() == 0 || current == nil {
		return big.NewInt(0)
	}
	diff := new(big.Int).Sub(current, previous)
	diff.Abs(diff)
	return common.DivDec(diff, previous)
}

// dynamicFeeForRounds folds the decaying volatility penalty over the round
// window, newest move weighted fully and each older move decayed once more.
func dynamicFeeForRounds(rounds []oracle.Round, cfg DynamicFeeConfig) *big.Int {
	total := big.NewInt(0)
	if !cfg.enabled() || len(rounds) < 2 {
		return total
	}
	weight := common.Clone(common.Unit)
	// rounds are oldest first; walk moves newest first so the decay grows
	// with age.
	for i := len(rounds) - 1; i > 0; i-- {
		move := relativeMove(rounds[i-1].Rate, rounds[i].Rate)
		if move.Cmp(cfg.Threshold) > 0 {
			excess := new(big.Int).Sub(move, cfg.Threshold)
			total = total.Add(total, common.MulDec(excess, weight))
		}
		weight = common.MulDec(weight, cfg.WeightDecay)
	}
	return total
}

// dynamicFeeFor computes the volatility penalty for a single asset from the
// adapter's retained round history.
func (e *Engine) dynamicFeeFor(key string) *big.Int {
	if !e.cfg.DynamicFee.enabled() {
		return big.NewInt(0)
	}
	rounds := e.rates.RoundHistory(key, e.cfg.DynamicFee.Rounds)
	return dynamicFeeForRounds(rounds, e.cfg.DynamicFee)
}

// feeRateFor returns the total fee rate for a src->dest trade and whether the
// dynamic component stayed under its cap.
func (e *Engine) feeRateFor(src, dest string) (*big.Int, bool) {
	rate := new(big.Int).Add(e.baseFeeRate(src), e.baseFeeRate(dest))
	if !e.cfg.DynamicFee.enabled() {
		return rate, true
	}
	dynamic := new(big.Int).Add(e.dynamicFeeFor(src), e.dynamicFeeFor(dest))
	if dynamic.Cmp(e.cfg.DynamicFee.MaxFee) > 0 {
		return nil, false
	}
	return rate.Add(rate, dynamic), true
}

func (e *Engine) baseFeeRate(key string) *big.Int {
	if rate, ok := e.cfg.BaseFeeRates[key]; ok && rate != nil {
		return common.Clone(rate)
	}
	if e.cfg.DefaultFeeRate != nil {
		return common.Clone(e.cfg.DefaultFeeRate)
	}
	return big.NewInt(0)
}
