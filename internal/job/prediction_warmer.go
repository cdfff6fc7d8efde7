package job

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"aivest/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Predictor interface {
	Predict(ctx context.Context, symbol string) (*domain.PredictionResult, error)
}

// PredictionWarmer periodically runs the prediction service for a fixed symbol list so
// that interactive requests hit the cache.
type PredictionWarmer struct {
	tracer      trace.Tracer
	predictions Predictor
	symbols     []string
	interval    time.Duration
	runs        atomic.Int64
}

func NewPredictionWarmer(tracer trace.Tracer, predictions Predictor, symbols []string, intervalSecs int) *PredictionWarmer {
	if intervalSecs <= 0 {
		intervalSecs = 3600
	}
	return &PredictionWarmer{
		tracer:      tracer,
		predictions: predictions,
		symbols:     symbols,
		interval:    time.Duration(intervalSecs) * time.Second,
	}
}

// Start blocks until ctx is cancelled. It returns immediately when there is nothing to warm.
func (w *PredictionWarmer) Start(ctx context.Context) {
	if len(w.symbols) == 0 {
		log.Println("Prediction warmer disabled, WARM_SYMBOLS is empty")
		return
	}
	log.Printf("Prediction warmer starting for %d symbols every %s", len(w.symbols), w.interval)

	w.warmAll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Prediction warmer stopped")
			return
		case <-ticker.C:
			w.warmAll(ctx)
		}
	}
}

// Runs reports how many full passes have completed.
func (w *PredictionWarmer) Runs() int64 { return w.runs.Load() }

func (w *PredictionWarmer) warmAll(ctx context.Context) {
	ctx, span := w.tracer.Start(ctx, "prediction-warmer.warm-all")
	defer span.End()

	var warmed, skipped int
	for _, symbol := range w.symbols {
		if ctx.Err() != nil {
			return
		}
		_, err := w.predictions.Predict(ctx, symbol)
		switch {
		case err == nil:
			warmed++
		case errors.Is(err, domain.ErrDataUnavailable):
			skipped++
			log.Printf("warmer: %s skipped, no usable data", symbol)
		default:
			skipped++
			log.Printf("warmer: %s failed: %v", symbol, err)
		}
	}
	span.SetAttributes(attribute.Int("warmed", warmed), attribute.Int("skipped", skipped))
	w.runs.Add(1)
}
