package domain

import "time"

// PricePoint is one daily adjusted close.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// PriceSeries is an ascending, de-duplicated run of daily closes for one ticker.
type PriceSeries struct {
	Symbol string       `json:"symbol"`
	Points []PricePoint `json:"points"`
}

func (s *PriceSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Points)
}

// Closes returns the close prices in date order.
func (s *PriceSeries) Closes() []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s.Points))
	for i := range s.Points {
		out[i] = s.Points[i].Close
	}
	return out
}

// Dates returns the bar dates in order.
func (s *PriceSeries) Dates() []time.Time {
	if s == nil {
		return nil
	}
	out := make([]time.Time, len(s.Points))
	for i := range s.Points {
		out[i] = s.Points[i].Date
	}
	return out
}

// EvaluationPoint pairs a true close with the model's in-sample estimate for that day.
type EvaluationPoint struct {
	Date      time.Time `json:"date"`
	Actual    float64   `json:"actual"`
	Predicted float64   `json:"predicted"`
}

// PredictionResult is the output of one pipeline run.
//
// Confidence is derived from the error on the last windows, which are also part of the
// training set, so it measures fit quality rather than out-of-sample accuracy.
type PredictionResult struct {
	Symbol         string            `json:"symbol"`
	AsOf           time.Time         `json:"as_of"`
	Confidence     float64           `json:"confidence"`
	LatestPrice    float64           `json:"latest_price"`
	PredictedPrice float64           `json:"predicted_price"`
	ChangePct      float64           `json:"change_pct"`
	Signal         TradeSignal       `json:"signal"`
	Evaluation     []EvaluationPoint `json:"evaluation"`
	Epochs         int               `json:"epochs"`
	TrainedWindows int               `json:"trained_windows"`
	GeneratedAt    time.Time         `json:"generated_at"`
}

// TradeSignal is one of five recommendations derived from the predicted change.
type TradeSignal string

const (
	SignalStrongBuy  TradeSignal = "STRONG BUY"
	SignalBuy        TradeSignal = "BUY"
	SignalNeutral    TradeSignal = "NEUTRAL"
	SignalSell       TradeSignal = "SELL"
	SignalStrongSell TradeSignal = "STRONG SELL"
)

// Emoji returns the marker the consumers print next to the signal.
func (s TradeSignal) Emoji() string {
	switch s {
	case SignalStrongBuy:
		return "📈"
	case SignalBuy:
		return "📗"
	case SignalStrongSell:
		return "📉"
	case SignalSell:
		return "📕"
	default:
		return "⚪"
	}
}

// StoredPrediction is a history row for a past pipeline run.
type StoredPrediction struct {
	ID             int64       `json:"id"`
	Symbol         string      `json:"symbol"`
	AsOf           time.Time   `json:"as_of"`
	LatestPrice    float64     `json:"latest_price"`
	PredictedPrice float64     `json:"predicted_price"`
	ChangePct      float64     `json:"change_pct"`
	Confidence     float64     `json:"confidence"`
	Signal         TradeSignal `json:"signal"`
	Epochs         int         `json:"epochs"`
	CreatedAt      time.Time   `json:"created_at"`
}

// User is a credential store row. PasswordHash is a bcrypt hash, never plaintext.
type User struct {
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
