// Package postgres provides a PostgreSQL ExecutionStore built on pgx/v5.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/pysandbox/pkg/storage"
)

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// Store is a PostgreSQL-backed ExecutionStore.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.ExecutionStore = (*Store)(nil)

// New connects to PostgreSQL and, if configured, applies migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

// SaveExecution inserts a record under the context tenant.
func (s *Store) SaveExecution(ctx context.Context, e *storage.Execution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (
			id, tenant_id, call_id, region, description,
			code, output, error, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		e.ID, storage.GetTenant(ctx), nullString(e.CallID), e.Region, nullString(e.Description),
		e.Code, nullString(e.Output), nullString(e.Error), e.DurationMs, e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// ListExecutions returns up to limit records for the context tenant,
// newest first. A limit of 0 or less returns all matching records.
func (s *Store) ListExecutions(ctx context.Context, limit int) ([]*storage.Execution, error) {
	query := `
		SELECT id, tenant_id, call_id, region, description,
		       code, output, error, duration_ms, created_at
		FROM executions
	`
	var args []any

	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		args = append(args, tenantID)
		query += fmt.Sprintf(" WHERE tenant_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}

	execs, err := pgx.CollectRows(rows, scanExecution)
	if err != nil {
		return nil, fmt.Errorf("scanning executions: %w", err)
	}
	return execs, nil
}

func scanExecution(row pgx.CollectableRow) (*storage.Execution, error) {
	var e storage.Execution
	var callID, description, output, errText *string
	if err := row.Scan(
		&e.ID, &e.TenantID, &callID, &e.Region, &description,
		&e.Code, &output, &errText, &e.DurationMs, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.CallID = deref(callID)
	e.Description = deref(description)
	e.Output = deref(output)
	e.Error = deref(errText)
	return &e, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// nullString maps "" to NULL for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
