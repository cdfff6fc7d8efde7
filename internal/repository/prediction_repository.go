package repository

import (
	"context"
	"time"

	"aivest/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type PredictionRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewPredictionRepository(pool PgxPool, tracer trace.Tracer) *PredictionRepository {
	return &PredictionRepository{pool: pool, tracer: tracer}
}

// InsertPrediction appends p to the history and fills in its ID and CreatedAt.
func (r *PredictionRepository) InsertPrediction(ctx context.Context, p *domain.StoredPrediction) error {
	ctx, span := r.tracer.Start(ctx, "prediction-repo.insert-prediction")
	defer span.End()

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return r.pool.QueryRow(ctx,
		`INSERT INTO predictions
		     (symbol, as_of, latest_price, predicted_price, change_pct, confidence, signal, epochs, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		p.Symbol, p.AsOf, p.LatestPrice, p.PredictedPrice, p.ChangePct, p.Confidence, string(p.Signal), p.Epochs, createdAt,
	).Scan(&p.ID, &p.CreatedAt)
}

// ListPredictions returns up to limit rows for symbol, newest first.
func (r *PredictionRepository) ListPredictions(ctx context.Context, symbol string, limit int) ([]*domain.StoredPrediction, error) {
	ctx, span := r.tracer.Start(ctx, "prediction-repo.list-predictions")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT id, symbol, as_of, latest_price, predicted_price, change_pct, confidence, signal, epochs, created_at
		 FROM predictions
		 WHERE symbol = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		symbol, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.StoredPrediction
	for rows.Next() {
		p := &domain.StoredPrediction{}
		var sig string
		if err := rows.Scan(&p.ID, &p.Symbol, &p.AsOf, &p.LatestPrice, &p.PredictedPrice,
			&p.ChangePct, &p.Confidence, &sig, &p.Epochs, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Signal = domain.TradeSignal(sig)
		p.CreatedAt = p.CreatedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}
