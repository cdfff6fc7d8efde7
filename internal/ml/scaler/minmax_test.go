package scaler

import (
	"math"
	"testing"
)

func TestFitMapsRangeToUnitInterval(t *testing.T) {
	values := []float64{120.5, 99.25, 150, 101, 133.3}
	m, err := Fit(values)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	scaled := m.TransformAll(values)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range scaled {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo != 0 || math.Abs(hi-1) > 1e-12 {
		t.Fatalf("expected [0, 1], got [%v, %v]", lo, hi)
	}
}

func TestRoundTrip(t *testing.T) {
	values := []float64{1843.2, 1790.55, 1902.1, 1877.75, 1811.0}
	m, err := Fit(values)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	back := m.InverseAll(m.TransformAll(values))
	for i := range values {
		if math.Abs(back[i]-values[i]) > 1e-9 {
			t.Fatalf("round trip %d: expected %v, got %v", i, values[i], back[i])
		}
	}
}

func TestConstantSeries(t *testing.T) {
	m, err := Fit([]float64{42, 42, 42})
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if m.Transform(42) != 0 {
		t.Fatalf("constant series should map to 0, got %v", m.Transform(42))
	}
	if m.Inverse(0) != 42 {
		t.Fatalf("expected inverse 42, got %v", m.Inverse(0))
	}
}

func TestFitEmpty(t *testing.T) {
	if _, err := Fit(nil); err == nil {
		t.Fatal("expected error for empty series")
	}
}
