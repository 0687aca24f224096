package money

import "testing"

func TestLineAvoidsFloatDrift(t *testing.T) {
	// 0.1*3 in raw float64 is 0.30000000000000004.
	if got := Line(0.1, 3); got != 0.3 {
		t.Fatalf("want 0.3, got %v", got)
	}
	if got := Line(19.99, 7); got != 139.93 {
		t.Fatalf("want 139.93, got %v", got)
	}
}

func TestTaxRounding(t *testing.T) {
	if got := Tax(100, 0.0825); got != 8.25 {
		t.Fatalf("want 8.25, got %v", got)
	}
	// 33.33 * 0.0825 = 2.749725 -> 2.75
	if got := Tax(33.33, 0.0825); got != 2.75 {
		t.Fatalf("want 2.75, got %v", got)
	}
}

func TestSum(t *testing.T) {
	if got := Sum(0.1, 0.2); got != 0.3 {
		t.Fatalf("want 0.3, got %v", got)
	}
	if got := Sum(); got != 0 {
		t.Fatalf("want 0, got %v", got)
	}
}
