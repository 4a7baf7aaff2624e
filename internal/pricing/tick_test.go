package pricing

import "testing"

func TestRoundDownToTick(t *testing.T) {
	if got := RoundDownToTick(97.537, "0.01"); got != "97.53" {
		t.Fatalf("expected 97.53, got %s", got)
	}
	if got := RoundDownToTick(100.0, "0.5"); got != "100.0" {
		t.Fatalf("expected 100.0, got %s", got)
	}
}

func TestRoundUpToTick(t *testing.T) {
	if got := RoundUpToTick(103.001, "0.01"); got != "103.01" {
		t.Fatalf("expected 103.01, got %s", got)
	}
	if got := RoundUpToTick(103.0, "0.01"); got != "103.00" {
		t.Fatalf("expected exact price to stay on tick, got %s", got)
	}
}

func TestTrailingZerosPreserved(t *testing.T) {
	// тик 0.50 требует два знака, даже если цена "круглая"
	if got := RoundDownToTick(97.5, "0.50"); got != "97.50" {
		t.Fatalf("trailing zero lost: %s", got)
	}
	if got := RoundUpToTick(106, "0.10"); got != "106.00" {
		t.Fatalf("expected 106.00, got %s", got)
	}
}

func TestRoundSizeToLot(t *testing.T) {
	if got := RoundSizeToLot(1.2345, 0.01); got != 1.23 {
		t.Fatalf("expected 1.23, got %v", got)
	}
	if got := RoundSizeToLot(5, 0); got != 5 {
		t.Fatalf("zero lot must be a no-op, got %v", got)
	}
}
