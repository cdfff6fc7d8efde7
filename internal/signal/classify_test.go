package signal

import (
	"math"
	"testing"

	"aivest/internal/domain"
)

func TestFromChangePctBoundaries(t *testing.T) {
	tests := []struct {
		pct  float64
		want domain.TradeSignal
	}{
		{pct: 2, want: domain.SignalStrongBuy},
		{pct: 0.61, want: domain.SignalStrongBuy},
		{pct: 0.6, want: domain.SignalBuy},
		{pct: 0.3, want: domain.SignalBuy},
		{pct: 0.1, want: domain.SignalNeutral},
		{pct: 0, want: domain.SignalNeutral},
		{pct: -0.1, want: domain.SignalNeutral},
		{pct: -0.3, want: domain.SignalSell},
		{pct: -0.6, want: domain.SignalSell},
		{pct: -0.61, want: domain.SignalStrongSell},
		{pct: -5, want: domain.SignalStrongSell},
	}
	for _, tc := range tests {
		if got := FromChangePct(tc.pct); got != tc.want {
			t.Fatalf("pct %.2f: expected %s, got %s", tc.pct, tc.want, got)
		}
	}
}

func TestClassifyUsesPercentChange(t *testing.T) {
	if got := Classify(100, 101); got != domain.SignalStrongBuy {
		t.Fatalf("expected strong buy, got %s", got)
	}
	if got := Classify(100, 99.7); got != domain.SignalSell {
		t.Fatalf("expected sell, got %s", got)
	}
	if got := Classify(100, 100); got != domain.SignalNeutral {
		t.Fatalf("expected neutral, got %s", got)
	}
}

func TestClassifyIsTotal(t *testing.T) {
	valid := map[domain.TradeSignal]bool{
		domain.SignalStrongBuy: true, domain.SignalBuy: true, domain.SignalNeutral: true,
		domain.SignalSell: true, domain.SignalStrongSell: true,
	}
	inputs := []float64{0, 1e-12, 1, 99.5, 100, 100.5, 1e6, -3, math.MaxFloat64}
	for _, latest := range inputs {
		for _, next := range inputs {
			if !valid[Classify(latest, next)] {
				t.Fatalf("unexpected signal for (%v, %v)", latest, next)
			}
		}
	}
}

func TestChangePctZeroLatest(t *testing.T) {
	pct := ChangePct(0, 1)
	if math.IsInf(pct, 0) || math.IsNaN(pct) {
		t.Fatalf("expected finite change, got %v", pct)
	}
}
