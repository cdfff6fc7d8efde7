package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/*.sql
var MigrationsFS embed.FS

var migrationFileRe = regexp.MustCompile(`^migrations/([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one versioned schema change with its rollback.
type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationPool is the subset of *pgxpool.Pool the migrator needs.
type MigrationPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Migrator struct {
	pool       MigrationPool
	migrations []Migration
}

// NewMigrator loads the migrations in fsys and makes sure the bookkeeping table exists.
func NewMigrator(ctx context.Context, pool MigrationPool, fsys fs.FS) (*Migrator, error) {
	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     BIGINT PRIMARY KEY,
    name        TEXT NOT NULL,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations table: %w", err)
	}
	return &Migrator{pool: pool, migrations: migrations}, nil
}

// LoadMigrations parses NNNN_name.(up|down).sql files. Each version needs both directions.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	paths, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("no migration files found")
	}

	index := make(map[int64]*Migration)
	for _, p := range paths {
		matches := migrationFileRe.FindStringSubmatch(p)
		if matches == nil {
			return nil, fmt.Errorf("invalid migration filename: %s", p)
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version in %s: %w", p, err)
		}
		name, direction := matches[2], matches[3]

		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", p, err)
		}
		sqlText := strings.TrimSpace(string(raw))
		if sqlText == "" {
			return nil, fmt.Errorf("empty migration file: %s", p)
		}

		m, ok := index[version]
		if !ok {
			m = &Migration{Version: version, Name: name}
			index[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("conflicting names for version %d: %s vs %s", version, m.Name, name)
		}

		target := &m.UpSQL
		if direction == "down" {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = sqlText
	}

	out := make([]Migration, 0, len(index))
	for _, m := range index {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration version %d must include both up and down files", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Pending returns migrations not yet recorded in schema_migrations, oldest first.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	applied, err := m.appliedVersions(ctx, 0)
	if err != nil {
		return nil, err
	}
	set := make(map[int64]struct{}, len(applied))
	for _, v := range applied {
		set[v] = struct{}{}
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if _, ok := set[mig.Version]; !ok {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// Up applies every pending migration, each in its own transaction.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, mig := range pending {
		err := m.inTx(ctx, mig.UpSQL, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
		if err != nil {
			return applied, fmt.Errorf("version %d up failed: %w", mig.Version, err)
		}
		applied++
	}
	return applied, nil
}

// Down rolls back the newest steps applied migrations.
func (m *Migrator) Down(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		return 0, fmt.Errorf("steps must be > 0")
	}
	byVersion := make(map[int64]Migration, len(m.migrations))
	for _, mig := range m.migrations {
		byVersion[mig.Version] = mig
	}

	versions, err := m.appliedVersions(ctx, steps)
	if err != nil {
		return 0, err
	}
	rolledBack := 0
	for _, v := range versions {
		mig, ok := byVersion[v]
		if !ok {
			return rolledBack, fmt.Errorf("cannot find migration source for applied version %d", v)
		}
		if err := m.inTx(ctx, mig.DownSQL, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version); err != nil {
			return rolledBack, fmt.Errorf("version %d down failed: %w", mig.Version, err)
		}
		rolledBack++
	}
	return rolledBack, nil
}

// Version reports the newest applied migration, or 0 when none is applied.
func (m *Migrator) Version(ctx context.Context) (int64, string, error) {
	var version int64
	var name string
	err := m.pool.QueryRow(ctx, `SELECT version, name FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return version, name, nil
}

// appliedVersions lists applied versions newest first; limit 0 means all.
func (m *Migrator) appliedVersions(ctx context.Context, limit int) ([]int64, error) {
	query := `SELECT version FROM schema_migrations ORDER BY version DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := m.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (m *Migrator) inTx(ctx context.Context, schemaSQL, bookkeepingSQL string, args ...any) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, bookkeepingSQL, args...); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit(ctx)
}
