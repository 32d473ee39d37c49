package common

import (
	"math/big"
	"testing"
)

func TestMulDecDivDecRoundTrip(t *testing.T) {
	a := FromUnits(7)
	b := FromUnits(3)

	product := MulDec(a, b)
	if product.Cmp(FromUnits(21)) != 0 {
		t.Fatalf("unexpected product: %s", product)
	}

	quotient := DivDec(product, b)
	if quotient.Cmp(a) != 0 {
		t.Fatalf("unexpected quotient: %s", quotient)
	}
}

func TestDivDecZeroDivisor(t *testing.T) {
	if got := DivDec(FromUnits(5), big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("expected zero on zero divisor, got %s", got)
	}
	if got := DivDec(nil, nil); got.Sign() != 0 {
		t.Fatalf("expected zero on nil inputs, got %s", got)
	}
}

func TestDeviationExceeds(t *testing.T) {
	base := FromUnits(100)
	factor := FromUnits(2)

	if DeviationExceeds(base, FromUnits(150), factor) {
		t.Fatalf("50%% move should not trip a 2x factor")
	}
	if !DeviationExceeds(base, FromUnits(201), factor) {
		t.Fatalf("doubling plus one unit should trip")
	}
	if !DeviationExceeds(base, FromUnits(49), factor) {
		t.Fatalf("halving minus one unit should trip")
	}
	if DeviationExceeds(base, FromUnits(50), factor) {
		t.Fatalf("exact half should not trip a symmetric 2x factor")
	}
}

func TestGuardSectionAndTribe(t *testing.T) {
	status := NewStatus()

	if err := Guard(status, SectionExchange); err != nil {
		t.Fatalf("unexpected error on clear status: %v", err)
	}

	status.SuspendSection(SectionExchange)
	if err := Guard(status, SectionExchange); err != ErrOperationProhibited {
		t.Fatalf("expected ErrOperationProhibited, got %v", err)
	}
	if err := Guard(status, SectionIssuance); err != nil {
		t.Fatalf("issuance should remain open: %v", err)
	}

	status.ResumeSection(SectionExchange)
	status.SuspendSection(SectionSystem)
	if err := Guard(status, SectionIssuance); err != ErrOperationProhibited {
		t.Fatalf("system suspension must cover every section, got %v", err)
	}

	status.ResumeSection(SectionSystem)
	status.SuspendTribe("hBTC")
	if err := GuardTribe(status, "hBTC"); err != ErrOperationProhibited {
		t.Fatalf("expected tribe suspension, got %v", err)
	}
	if err := GuardTribe(status, "hETH"); err != nil {
		t.Fatalf("hETH should remain open: %v", err)
	}
}
