package common

import "math/big"

// Unit is the 18-decimal fixed-point scale shared by every amount, rate, and
// ratio in the protocol.
var Unit = big.NewInt(1_000_000_000_000_000_000)

// MulDec multiplies two fixed-point values, truncating toward zero.
func MulDec(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	result := new(big.Int).Mul(a, b)
	return result.Quo(result, Unit)
}

// DivDec divides two fixed-point values, truncating toward zero. A zero
// divisor yields zero; callers that need to distinguish divide-by-zero guard
// before calling.
func DivDec(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	result := new(big.Int).Mul(a, Unit)
	return result.Quo(result, b)
}

// FromUnits scales a whole-unit count into fixed-point representation.
func FromUnits(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Unit)
}

// Clone returns a defensive copy, mapping nil to zero.
func Clone(a *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a)
}

// DeviationExceeds reports whether current deviates from base by more than the
// fixed-point factor in either direction. A factor of 2e18 trips when the
// value more than doubles or more than halves. Zero inputs never trip against
// a zero base.
func DeviationExceeds(base, current, factor *big.Int) bool {
	if base == nil || current == nil || factor == nil {
		return false
	}
	if base.Sign() <= 0 || current.Sign() <= 0 {
		return base.Sign() != current.Sign()
	}
	upper := MulDec(base, factor)
	if current.Cmp(upper) > 0 {
		return true
	}
	lower := DivDec(base, factor)
	return current.Cmp(lower) < 0
}
