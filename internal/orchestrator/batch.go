package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// Session is one sandboxed desktop that a batch can run objectives against.
// Runs never share a session concurrently.
type Session struct {
	Name     string
	Capturer schemas.Capturer
	Executor schemas.Executor
}

// BatchRunner runs many objectives concurrently, one run per session at a time.
type BatchRunner struct {
	settings Settings
	shared   Dependencies
	sessions []Session
	logger   *zap.Logger
}

// NewBatchRunner checks that runs can be built for every session. shared
// supplies the inference client, planner and exporter; its Capturer and
// Executor are ignored. The shared clients must be safe for concurrent use.
func NewBatchRunner(settings Settings, shared Dependencies, sessions []Session, logger *zap.Logger) (*BatchRunner, error) {
	if len(sessions) == 0 {
		return nil, fmt.Errorf("batch needs at least one session")
	}
	if logger == nil {
		return nil, fmt.Errorf("cannot initialize batch runner with nil logger")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &BatchRunner{settings: settings, shared: shared, sessions: sessions, logger: logger.Named("batch")}, nil
}

// Run executes all objectives and returns their summaries in input order.
// Individual run failures are reported in the summaries, not as an error.
func (b *BatchRunner) Run(ctx context.Context, objectives []string) ([]schemas.RunSummary, error) {
	results := make([]schemas.RunSummary, len(objectives))

	pool := make(chan Session, len(b.sessions))
	for _, s := range b.sessions {
		pool <- s
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(b.sessions))
	for i, objective := range objectives {
		g.Go(func() error {
			var sess Session
			select {
			case sess = <-pool:
			case <-gctx.Done():
				results[i] = schemas.RunSummary{Objective: objective, StopReason: schemas.StopCancelled, Err: gctx.Err().Error()}
				return nil
			}
			defer func() { pool <- sess }()

			deps := b.shared
			deps.Capturer = sess.Capturer
			deps.Executor = sess.Executor
			orch, err := New(b.settings, deps, b.logger.With(zap.String("session", sess.Name)))
			if err != nil {
				return fmt.Errorf("session %s: %w", sess.Name, err)
			}
			sum, _ := orch.Run(gctx, objective)
			results[i] = sum
			return nil
		})
	}

	err := g.Wait()
	b.logger.Info("Batch complete.", zap.Int("objectives", len(objectives)), zap.Int("sessions", len(b.sessions)))
	return results, err
}
