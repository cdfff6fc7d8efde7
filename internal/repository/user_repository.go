package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"aivest/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const pgUniqueViolation = "23505"

type UserRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewUserRepository(pool PgxPool, tracer trace.Tracer) *UserRepository {
	return &UserRepository{pool: pool, tracer: tracer}
}

// CreateUser inserts u. A duplicate username or email yields domain.ErrUserExists.
func (r *UserRepository) CreateUser(ctx context.Context, u *domain.User) error {
	ctx, span := r.tracer.Start(ctx, "user-repo.create-user")
	defer span.End()

	var created time.Time
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		u.Username, strings.ToLower(u.Email), u.PasswordHash,
	).Scan(&created)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.ErrUserExists
		}
		return err
	}
	u.CreatedAt = created.UTC()
	return nil
}

func (r *UserRepository) GetUser(ctx context.Context, username string) (*domain.User, error) {
	ctx, span := r.tracer.Start(ctx, "user-repo.get-user")
	defer span.End()

	u := &domain.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT username, email, password_hash, created_at
		 FROM users
		 WHERE username = $1`,
		username,
	).Scan(&u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	ctx, span := r.tracer.Start(ctx, "user-repo.update-password-hash")
	defer span.End()

	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2 WHERE username = $1`,
		username, hash,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
