// Package postgres is the direct PostgreSQL data backend. It executes the
// same structured queries as the PostgREST client over a pgx pool and turns
// LISTEN/NOTIFY into a change feed.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

var tracer = otel.Tracer("postgres")

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string, logger *zap.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("postgres connected",
		zap.String("host", cfg.ConnConfig.Host),
		zap.String("database", cfg.ConnConfig.Database),
	)
	return pool, nil
}

// DataSource implements port.DataSource on top of pgx.
type DataSource struct {
	db     DB
	logger *zap.Logger
}

// NewDataSource wraps a pool.
func NewDataSource(db DB, logger *zap.Logger) *DataSource {
	return &DataSource{db: db, logger: logger}
}

func (d *DataSource) queryJSON(ctx context.Context, service, sql string, args []any) ([]byte, error) {
	var out []byte
	if err := d.db.QueryRow(ctx, sql, args...).Scan(&out); err != nil {
		return nil, mapError(service, err)
	}
	return out, nil
}

// Select runs a structured query.
func (d *DataSource) Select(ctx context.Context, q *domain.Query) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Postgres.Select")
	defer span.End()
	span.SetAttributes(attribute.String("db.table", q.Table))

	sql, args, err := BuildSelect(q)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("postgres select", zap.String("table", q.Table), zap.String("sql", sql))
	return d.queryJSON(ctx, "postgres/"+q.Table, sql, args)
}

// Insert inserts one row and returns it as a one-element JSON array.
func (d *DataSource) Insert(ctx context.Context, table string, row map[string]any) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Postgres.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("db.table", table))

	sql, args, err := BuildInsert(table, row)
	if err != nil {
		return nil, err
	}
	return d.queryJSON(ctx, "postgres/"+table, sql, args)
}

// Update patches the rows matching filters.
func (d *DataSource) Update(ctx context.Context, table string, filters []domain.Filter, patch map[string]any) error {
	ctx, span := tracer.Start(ctx, "Postgres.Update")
	defer span.End()
	span.SetAttributes(attribute.String("db.table", table))

	sql, args, err := BuildUpdate(table, filters, patch)
	if err != nil {
		return err
	}
	tag, err := d.db.Exec(ctx, sql, args...)
	if err != nil {
		return mapError("postgres/"+table, err)
	}
	d.logger.Debug("postgres update", zap.String("table", table), zap.Int64("rows", tag.RowsAffected()))
	return nil
}

// RPC calls a database function with named arguments.
func (d *DataSource) RPC(ctx context.Context, fn string, params map[string]any) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Postgres.RPC")
	defer span.End()
	span.SetAttributes(attribute.String("db.function", fn))

	sql, args := BuildRPC(fn, params)
	return d.queryJSON(ctx, "postgres/rpc/"+fn, sql, args)
}

// Ping checks connectivity.
func (d *DataSource) Ping(ctx context.Context) error {
	return d.db.Ping(ctx)
}

func mapError(service string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: service}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &domain.ErrConflict{Message: pgErr.Detail}
	}
	return &domain.ErrExternalService{Service: service, Err: err}
}
