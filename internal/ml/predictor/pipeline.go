package predictor

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"aivest/internal/domain"
	"aivest/internal/ml/dataset"
	"aivest/internal/ml/models/lstm"
	"aivest/internal/ml/scaler"
	"aivest/internal/signal"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/stat"
)

// EvaluationWindows is the number of trailing windows scored after training.
const EvaluationWindows = 20

// PriceSource supplies the adjusted daily close history for a symbol.
type PriceSource interface {
	FetchDailyCloses(ctx context.Context, symbol string) (*domain.PriceSeries, error)
}

// Options controls one pipeline run. Seed 0 picks a time-based seed.
type Options struct {
	Epochs     int
	MinHistory int
	Seed       uint64
}

func DefaultOptions() Options {
	return Options{Epochs: 3, MinHistory: 150}
}

// Pipeline fetches a price history, trains a fresh model on it and forecasts the next close.
type Pipeline struct {
	source PriceSource
	tracer trace.Tracer
	now    func() time.Time
}

func New(tracer trace.Tracer, source PriceSource) *Pipeline {
	return &Pipeline{source: source, tracer: tracer, now: time.Now}
}

// requiredHistory is the minimum number of closes a run accepts. Below
// SequenceLength+EvaluationWindows there would not be enough windows to score.
func requiredHistory(minHistory int) int {
	return max(minHistory, dataset.SequenceLength+EvaluationWindows)
}

// Predict runs acquisition, normalization, windowing, training, inference and evaluation.
// It returns domain.ErrDataUnavailable (wrapped) when the source has no usable history or
// the history is shorter than the configured minimum.
func (p *Pipeline) Predict(ctx context.Context, symbol string, opts Options) (*domain.PredictionResult, error) {
	ctx, span := p.tracer.Start(ctx, "predictor.predict")
	defer span.End()

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", domain.ErrDataUnavailable)
	}
	def := DefaultOptions()
	if opts.Epochs <= 0 {
		opts.Epochs = def.Epochs
	}
	if opts.MinHistory <= 0 {
		opts.MinHistory = def.MinHistory
	}
	span.SetAttributes(attribute.String("symbol", symbol), attribute.Int("epochs", opts.Epochs))

	series, err := p.source.FetchDailyCloses(ctx, symbol)
	if err != nil {
		return nil, err
	}
	need := requiredHistory(opts.MinHistory)
	if series == nil || series.Len() < need {
		n := 0
		if series != nil {
			n = series.Len()
		}
		return nil, fmt.Errorf("%w: %s has %d closes, need %d", domain.ErrDataUnavailable, symbol, n, need)
	}

	closes := series.Closes()
	dates := series.Dates()

	mm, err := scaler.Fit(closes)
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	scaled := mm.TransformAll(closes)

	windows, err := dataset.Build(scaled, dates, dataset.SequenceLength)
	if err != nil {
		return nil, fmt.Errorf("build windows: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trainOpts := lstm.DefaultTrainOptions()
	trainOpts.Epochs = opts.Epochs
	trainOpts.Seed = opts.Seed

	x, y := dataset.Split(windows)
	start := time.Now()
	model, err := lstm.Train(x, y, trainOpts)
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", symbol, err)
	}
	losses := model.EpochLosses()
	log.Printf("predictor: trained %s on %d windows in %s (final loss %.6f)",
		symbol, len(windows), time.Since(start).Round(time.Millisecond), losses[len(losses)-1])

	latestInputs, err := dataset.Latest(scaled, dataset.SequenceLength)
	if err != nil {
		return nil, fmt.Errorf("latest window: %w", err)
	}
	predicted := mm.Inverse(model.Predict(latestInputs))
	if math.IsNaN(predicted) || math.IsInf(predicted, 0) {
		return nil, fmt.Errorf("non-finite prediction for %s", symbol)
	}

	tail := dataset.Tail(windows, EvaluationWindows)
	tailX, tailY := dataset.Split(tail)
	actual := mm.InverseAll(tailY)
	fitted := mm.InverseAll(model.PredictBatch(tailX))
	evaluation := make([]domain.EvaluationPoint, len(tail))
	for i := range tail {
		// the label is the observed close, avoid inversion round-off
		actual[i] = closes[tail[i].Index]
		evaluation[i] = domain.EvaluationPoint{Date: tail[i].Date, Actual: actual[i], Predicted: fitted[i]}
	}

	latest := closes[len(closes)-1]
	result := &domain.PredictionResult{
		Symbol:         symbol,
		AsOf:           dates[len(dates)-1],
		Confidence:     ConfidenceScore(actual, fitted),
		LatestPrice:    latest,
		PredictedPrice: predicted,
		ChangePct:      signal.ChangePct(latest, predicted),
		Signal:         signal.Classify(latest, predicted),
		Evaluation:     evaluation,
		Epochs:         opts.Epochs,
		TrainedWindows: len(windows),
		GeneratedAt:    p.now().UTC(),
	}
	span.SetAttributes(
		attribute.Float64("confidence", result.Confidence),
		attribute.String("signal", string(result.Signal)),
	)
	return result, nil
}

// ConfidenceScore is 1 - MAE / mean(|actual|), floored at 0. It measures in-sample fit:
// the scored windows were part of the training set.
func ConfidenceScore(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0
	}
	absErr := make([]float64, len(actual))
	absAct := make([]float64, len(actual))
	for i := range actual {
		absErr[i] = math.Abs(actual[i] - predicted[i])
		absAct[i] = math.Abs(actual[i])
	}
	mae := stat.Mean(absErr, nil)
	meanAbs := stat.Mean(absAct, nil)
	return math.Max(0, 1-mae/(meanAbs+signal.Epsilon))
}
