// internal/export/postgres.go
package export

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// DBPool abstracts pgxpool.Pool so the exporter can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlCreateSteps = `
        CREATE TABLE IF NOT EXISTS deskpilot_steps (
            run_id TEXT NOT NULL,
            step_index INTEGER NOT NULL,
            action_kind TEXT NOT NULL,
            action JSONB NOT NULL,
            primitives INTEGER NOT NULL,
            signature TEXT NOT NULL,
            guard_state TEXT NOT NULL,
            classification TEXT NOT NULL,
            diagnostic TEXT NOT NULL DEFAULT '',
            thought TEXT NOT NULL DEFAULT '',
            escalated BOOLEAN NOT NULL DEFAULT FALSE,
            recorded_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (run_id, step_index)
        );`

	sqlCreateRuns = `
        CREATE TABLE IF NOT EXISTS deskpilot_runs (
            run_id TEXT PRIMARY KEY,
            objective TEXT NOT NULL,
            stop_reason TEXT NOT NULL,
            step_count INTEGER NOT NULL,
            escalation_count INTEGER NOT NULL,
            duration_ms BIGINT NOT NULL,
            error TEXT NOT NULL DEFAULT '',
            finished_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`

	sqlInsertStep = `
        INSERT INTO deskpilot_steps (run_id, step_index, action_kind, action, primitives, signature,
            guard_state, classification, diagnostic, thought, escalated, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (run_id, step_index) DO NOTHING;`

	sqlUpsertRun = `
        INSERT INTO deskpilot_runs (run_id, objective, stop_reason, step_count, escalation_count, duration_ms, error)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (run_id) DO UPDATE SET
            stop_reason = EXCLUDED.stop_reason,
            step_count = EXCLUDED.step_count,
            escalation_count = EXCLUDED.escalation_count,
            duration_ms = EXCLUDED.duration_ms,
            error = EXCLUDED.error,
            finished_at = NOW();`
)

// PostgresExporter writes step records and run summaries to PostgreSQL.
type PostgresExporter struct {
	pool   DBPool
	log    *zap.Logger
	closes bool
}

var _ schemas.StepExporter = (*PostgresExporter)(nil)

// NewPostgresExporter verifies the connection and creates the tables if they
// are missing. The caller keeps ownership of pool.
func NewPostgresExporter(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresExporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for _, stmt := range []string{sqlCreateSteps, sqlCreateRuns} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create export tables: %w", err)
		}
	}
	return &PostgresExporter{pool: pool, log: logger.Named("export.postgres")}, nil
}

// ConnectPostgres opens a pool from cfg and wraps it. Close releases the pool.
func ConnectPostgres(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*PostgresExporter, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	e, err := NewPostgresExporter(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	e.closes = true
	e.log.Info("Exporting step records to PostgreSQL.", zap.String("host", cfg.Host), zap.String("dbname", cfg.DBName))
	return e, nil
}

func (e *PostgresExporter) ExportStep(ctx context.Context, rec schemas.StepRecord) error {
	action, err := json.Marshal(rec.Action)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	_, err = e.pool.Exec(ctx, sqlInsertStep,
		rec.RunID, rec.StepIndex, string(rec.Action.Kind), string(action), rec.Primitives, rec.Signature,
		string(rec.GuardState), string(rec.Classification), rec.Diagnostic, rec.Thought, rec.Escalated,
		rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert step %d of run %s: %w", rec.StepIndex, rec.RunID, err)
	}
	return nil
}

func (e *PostgresExporter) ExportSummary(ctx context.Context, sum schemas.RunSummary) error {
	_, err := e.pool.Exec(ctx, sqlUpsertRun,
		sum.RunID, sum.Objective, string(sum.StopReason), sum.StepCount, sum.EscalationCount,
		sum.Duration.Milliseconds(), sum.Err,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", sum.RunID, err)
	}
	e.log.Debug("Run summary recorded.", zap.String("run_id", sum.RunID), zap.String("stop_reason", string(sum.StopReason)))
	return nil
}

// Close releases the pool when the exporter opened it.
func (e *PostgresExporter) Close() error {
	if e.closes {
		e.pool.Close()
	}
	return nil
}
