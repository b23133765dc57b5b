package strategy

import (
	"errors"
	"math"
	"testing"

	"perp-mm-go/ledger"
)

func TestPlanFlattenZeroPosition(t *testing.T) {
	_, ok, err := PlanFlatten(0, 50, 0.002)
	if err != nil || ok {
		t.Fatalf("zero position must be a no-op, got ok=%v err=%v", ok, err)
	}
}

func TestPlanFlattenShortBuysBack(t *testing.T) {
	o, ok, err := PlanFlatten(-3, 50, 0.002)
	if err != nil || !ok {
		t.Fatalf("expected an order, got ok=%v err=%v", ok, err)
	}
	if o.Side != ledger.Bid {
		t.Errorf("side = %v, want bid", o.Side)
	}
	if o.Size != 3 {
		t.Errorf("size = %v, want 3", o.Size)
	}
	if math.Abs(o.Price-50.1) > 1e-9 {
		t.Errorf("price = %v, want 50.1", o.Price)
	}
}

func TestPlanFlattenLongSells(t *testing.T) {
	o, ok, err := PlanFlatten(2, 100, 0.005)
	if err != nil || !ok {
		t.Fatalf("expected an order, got ok=%v err=%v", ok, err)
	}
	if o.Side != ledger.Ask {
		t.Errorf("side = %v, want ask", o.Side)
	}
	if o.Size != 2 {
		t.Errorf("size = %v, want 2", o.Size)
	}
	if math.Abs(o.Price-99.5) > 1e-9 {
		t.Errorf("price = %v, want 99.5", o.Price)
	}
}

func TestPlanFlattenSafetyCeiling(t *testing.T) {
	_, ok, err := PlanFlatten(-3, 50, 0.02)
	if !errors.Is(err, ErrSafetyAbort) {
		t.Fatalf("expected ErrSafetyAbort, got %v", err)
	}
	if ok {
		t.Fatalf("no order may be emitted past the ceiling")
	}

	// The ceiling itself is already too wide.
	_, _, err = PlanFlatten(1, 50, MaxFlattenCharge)
	if !errors.Is(err, ErrSafetyAbort) {
		t.Fatalf("charge equal to ceiling must abort, got %v", err)
	}
}
