// Package export writes the step records and run summaries of agent runs to
// flat sinks: JSONL files and PostgreSQL.
package export

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// Multi fans every record out to several exporters. A failing sink does not
// stop the others.
type Multi []schemas.StepExporter

var _ schemas.StepExporter = Multi(nil)

func (m Multi) ExportStep(ctx context.Context, rec schemas.StepRecord) error {
	var errs []error
	for _, e := range m {
		errs = append(errs, e.ExportStep(ctx, rec))
	}
	return errors.Join(errs...)
}

func (m Multi) ExportSummary(ctx context.Context, sum schemas.RunSummary) error {
	var errs []error
	for _, e := range m {
		errs = append(errs, e.ExportSummary(ctx, sum))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, e := range m {
		errs = append(errs, e.Close())
	}
	return errors.Join(errs...)
}

// New builds the exporters cfg enables. It returns nil, nil when none is.
func New(ctx context.Context, cfg config.ExportConfig, logger *zap.Logger) (schemas.StepExporter, error) {
	var sinks Multi
	if cfg.JSONL.Path != "" {
		j, err := NewJSONLExporter(cfg.JSONL.Path, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, j)
	}
	if cfg.Postgres.Enabled {
		p, err := ConnectPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, p)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}
