package signal

import "aivest/internal/domain"

// Epsilon keeps the percent change finite when the latest price is zero.
const Epsilon = 1e-9

const (
	strongThresholdPct = 0.6
	weakThresholdPct   = 0.1
)

// ChangePct is the predicted move from latest to next, in percent.
func ChangePct(latest, next float64) float64 {
	return (next - latest) / (latest + Epsilon) * 100
}

// Classify maps a latest/next price pair onto one of the five trade signals.
// Thresholds are strict: a change of exactly 0.6% is a buy, exactly 0.1% is neutral.
func Classify(latest, next float64) domain.TradeSignal {
	return FromChangePct(ChangePct(latest, next))
}

func FromChangePct(pct float64) domain.TradeSignal {
	switch {
	case pct > strongThresholdPct:
		return domain.SignalStrongBuy
	case pct > weakThresholdPct:
		return domain.SignalBuy
	case pct < -strongThresholdPct:
		return domain.SignalStrongSell
	case pct < -weakThresholdPct:
		return domain.SignalSell
	default:
		return domain.SignalNeutral
	}
}
