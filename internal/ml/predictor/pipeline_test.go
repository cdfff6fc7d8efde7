package predictor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"aivest/internal/domain"
	"aivest/internal/signal"

	"go.opentelemetry.io/otel/trace"
)

type stubSource struct {
	series *domain.PriceSeries
	err    error
	calls  int
}

func (s *stubSource) FetchDailyCloses(_ context.Context, symbol string) (*domain.PriceSeries, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.series, nil
}

func rampSeries(symbol string, n int, start float64) *domain.PriceSeries {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]domain.PricePoint, n)
	for i := range points {
		points[i] = domain.PricePoint{Date: base.AddDate(0, 0, i), Close: start + float64(i)}
	}
	return &domain.PriceSeries{Symbol: symbol, Points: points}
}

func newTestPipeline(src PriceSource) *Pipeline {
	return New(trace.NewNoopTracerProvider().Tracer("test"), src)
}

func TestPredictEndToEnd(t *testing.T) {
	src := &stubSource{series: rampSeries("INFY.NS", 200, 100)}
	p := newTestPipeline(src)
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	res, err := p.Predict(context.Background(), "infy.ns", Options{Epochs: 1, MinHistory: 150, Seed: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Symbol != "INFY.NS" {
		t.Fatalf("expected upper-cased symbol, got %s", res.Symbol)
	}
	if res.LatestPrice != 299 {
		t.Fatalf("expected latest price 299, got %v", res.LatestPrice)
	}
	if math.IsNaN(res.PredictedPrice) || math.IsInf(res.PredictedPrice, 0) {
		t.Fatalf("expected finite prediction, got %v", res.PredictedPrice)
	}
	// one epoch on a 100..299 ramp lands inside the series range, well short of 400
	if res.PredictedPrice <= 100 || res.PredictedPrice >= 400 {
		t.Fatalf("prediction %v outside plausible range (100, 400)", res.PredictedPrice)
	}
	if res.Confidence <= 0 || res.Confidence > 1 {
		t.Fatalf("confidence should be in (0, 1], got %v", res.Confidence)
	}
	if res.TrainedWindows != 140 {
		t.Fatalf("expected 140 windows, got %d", res.TrainedWindows)
	}
	if len(res.Evaluation) != EvaluationWindows {
		t.Fatalf("expected %d evaluation points, got %d", EvaluationWindows, len(res.Evaluation))
	}
	for i, ep := range res.Evaluation {
		want := float64(280 + i)
		if ep.Actual != want {
			t.Fatalf("evaluation[%d].Actual = %v, want %v", i, ep.Actual, want)
		}
	}
	if !res.AsOf.Equal(src.series.Points[199].Date) {
		t.Fatalf("unexpected as-of date %v", res.AsOf)
	}
	if res.Signal != signal.Classify(res.LatestPrice, res.PredictedPrice) {
		t.Fatalf("signal %s does not match classifier", res.Signal)
	}
	if !res.GeneratedAt.Equal(fixed) {
		t.Fatalf("unexpected generated-at %v", res.GeneratedAt)
	}
}

func TestPredictSameSeedIsReproducible(t *testing.T) {
	src := &stubSource{series: rampSeries("X", 120, 50)}
	p := newTestPipeline(src)
	opts := Options{Epochs: 1, MinHistory: 100, Seed: 5}

	a, err := p.Predict(context.Background(), "X", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := p.Predict(context.Background(), "X", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.PredictedPrice != b.PredictedPrice || a.Confidence != b.Confidence {
		t.Fatalf("expected identical runs, got %+v and %+v", a, b)
	}
}

func TestPredictShortHistoryIsUnavailable(t *testing.T) {
	src := &stubSource{series: rampSeries("X", 149, 10)}
	p := newTestPipeline(src)

	_, err := p.Predict(context.Background(), "X", DefaultOptions())
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestPredictMinHistoryNeverBelowEvaluationNeeds(t *testing.T) {
	src := &stubSource{series: rampSeries("X", 79, 10)}
	p := newTestPipeline(src)

	_, err := p.Predict(context.Background(), "X", Options{Epochs: 1, MinHistory: 10, Seed: 1})
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable for 79 closes, got %v", err)
	}

	src.series = rampSeries("X", 80, 10)
	res, err := p.Predict(context.Background(), "X", Options{Epochs: 1, MinHistory: 10, Seed: 1})
	if err != nil {
		t.Fatalf("unexpected error for 80 closes: %v", err)
	}
	if res.TrainedWindows != 20 || len(res.Evaluation) != 20 {
		t.Fatalf("expected 20 windows scored, got %d/%d", res.TrainedWindows, len(res.Evaluation))
	}
}

func TestPredictPropagatesSourceErrors(t *testing.T) {
	fault := errors.New("dial tcp: timeout")
	p := newTestPipeline(&stubSource{err: fault})

	_, err := p.Predict(context.Background(), "X", DefaultOptions())
	if !errors.Is(err, fault) {
		t.Fatalf("expected source fault, got %v", err)
	}
	if errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatal("fault must not be reported as unavailable")
	}

	p = newTestPipeline(&stubSource{err: domain.ErrDataUnavailable})
	if _, err := p.Predict(context.Background(), "X", DefaultOptions()); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestPredictEmptySymbol(t *testing.T) {
	src := &stubSource{}
	p := newTestPipeline(src)
	if _, err := p.Predict(context.Background(), "  ", DefaultOptions()); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if src.calls != 0 {
		t.Fatal("source should not be called for an empty symbol")
	}
}

func TestPredictConstantSeries(t *testing.T) {
	series := rampSeries("FLAT", 100, 0)
	for i := range series.Points {
		series.Points[i].Close = 42
	}
	p := newTestPipeline(&stubSource{series: series})

	res, err := p.Predict(context.Background(), "FLAT", Options{Epochs: 1, MinHistory: 80, Seed: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, ep := range res.Evaluation {
		if ep.Actual != 42 {
			t.Fatalf("expected actual 42, got %v", ep.Actual)
		}
	}
}

func TestPredictCancelledContext(t *testing.T) {
	p := newTestPipeline(&stubSource{series: rampSeries("X", 150, 10)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Predict(ctx, "X", DefaultOptions()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConfidenceScore(t *testing.T) {
	tests := []struct {
		name      string
		actual    []float64
		predicted []float64
		want      float64
	}{
		{"perfect", []float64{10, 20}, []float64{10, 20}, 1},
		{"ten percent", []float64{100, 100}, []float64{90, 110}, 0.9},
		{"floored", []float64{1, 1}, []float64{10, 10}, 0},
		{"empty", nil, nil, 0},
		{"mismatched", []float64{1}, []float64{1, 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConfidenceScore(tt.actual, tt.predicted); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}
