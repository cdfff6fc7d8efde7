package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"aivest/internal/domain"
	"aivest/internal/ml/predictor"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 365
)

// ErrHistoryDisabled is returned by History when no repository is configured.
var ErrHistoryDisabled = errors.New("prediction history is not configured")

type Predictor interface {
	Predict(ctx context.Context, symbol string, opts predictor.Options) (*domain.PredictionResult, error)
}

type PredictionRepository interface {
	InsertPrediction(ctx context.Context, p *domain.StoredPrediction) error
	ListPredictions(ctx context.Context, symbol string, limit int) ([]*domain.StoredPrediction, error)
}

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// PredictionServiceOptions tunes caching and training concurrency.
type PredictionServiceOptions struct {
	Pipeline      predictor.Options
	MaxConcurrent int
	CacheTTL      time.Duration
	// RunTimeout bounds a shared training run, which outlives any single caller.
	RunTimeout time.Duration
}

// PredictionService fronts the training pipeline with a per-day result cache, a bound on
// concurrent training runs and request coalescing per symbol.
type PredictionService struct {
	tracer    trace.Tracer
	predictor Predictor
	repo      PredictionRepository
	redis     RedisClient
	opts      predictor.Options
	ttl       time.Duration
	timeout   time.Duration
	sem       *semaphore.Weighted
	group     singleflight.Group
	now       func() time.Time
}

func NewPredictionService(
	tracer trace.Tracer,
	p Predictor,
	repo PredictionRepository,
	redisClient RedisClient,
	opts PredictionServiceOptions,
) *PredictionService {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 10 * time.Minute
	}
	return &PredictionService{
		tracer:    tracer,
		predictor: p,
		repo:      repo,
		redis:     redisClient,
		opts:      opts.Pipeline,
		ttl:       opts.CacheTTL,
		timeout:   opts.RunTimeout,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		now:       time.Now,
	}
}

// Predict returns today's prediction for symbol, training a model on a cache miss.
// domain.ErrDataUnavailable passes through unchanged so callers can test for it.
func (s *PredictionService) Predict(ctx context.Context, symbol string) (*domain.PredictionResult, error) {
	ctx, span := s.tracer.Start(ctx, "prediction-service.predict")
	defer span.End()

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	key := s.cacheKey(symbol)
	span.SetAttributes(attribute.String("symbol", symbol))

	if cached := s.readCache(ctx, key); cached != nil {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached, nil
	}

	// The shared run ignores any one caller's cancellation; each caller stops waiting on its own ctx.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.run(runCtx, symbol, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		span.SetAttributes(attribute.Bool("shared", res.Shared))
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.PredictionResult), nil
	}
}

func (s *PredictionService) run(ctx context.Context, symbol, key string) (*domain.PredictionResult, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for training slot: %w", err)
	}
	defer s.sem.Release(1)

	// another caller may have finished while this one queued
	if cached := s.readCache(ctx, key); cached != nil {
		return cached, nil
	}

	result, err := s.predictor.Predict(ctx, symbol, s.opts)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		if data, err := json.Marshal(result); err == nil {
			if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
				log.Printf("redis cache write error for %s: %v", symbol, err)
			}
		}
	}
	if s.repo != nil {
		if err := s.repo.InsertPrediction(ctx, toStored(result)); err != nil {
			log.Printf("prediction history write error for %s: %v", symbol, err)
		}
	}
	return result, nil
}

// History lists the most recent stored predictions for symbol, newest first.
func (s *PredictionService) History(ctx context.Context, symbol string, limit int) ([]*domain.StoredPrediction, error) {
	ctx, span := s.tracer.Start(ctx, "prediction-service.history")
	defer span.End()

	if s.repo == nil {
		return nil, ErrHistoryDisabled
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.ListPredictions(ctx, strings.ToUpper(strings.TrimSpace(symbol)), limit)
}

func (s *PredictionService) cacheKey(symbol string) string {
	return fmt.Sprintf("prediction:%s:%s", symbol, s.now().UTC().Format("2006-01-02"))
}

func (s *PredictionService) readCache(ctx context.Context, key string) *domain.PredictionResult {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Printf("redis cache read error: %v", err)
		return nil
	}
	var result domain.PredictionResult
	if err := json.Unmarshal(data, &result); err != nil {
		log.Printf("redis cache decode error for %s: %v", key, err)
		return nil
	}
	return &result
}

func toStored(r *domain.PredictionResult) *domain.StoredPrediction {
	return &domain.StoredPrediction{
		Symbol:         r.Symbol,
		AsOf:           r.AsOf,
		LatestPrice:    r.LatestPrice,
		PredictedPrice: r.PredictedPrice,
		ChangePct:      r.ChangePct,
		Confidence:     r.Confidence,
		Signal:         r.Signal,
		Epochs:         r.Epochs,
		CreatedAt:      r.GeneratedAt,
	}
}
