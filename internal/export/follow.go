// internal/export/follow.go
package export

import (
	"context"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"
)

// FollowOptions controls how an export is read.
type FollowOptions struct {
	// Follow keeps reading as the file grows, surviving rotation.
	Follow bool
	// FromStart replays existing lines first; otherwise only new lines are read.
	FromStart bool
}

// Follow reads a plain JSONL export line by line and hands every decoded line
// to handle. Undecodable lines are logged and skipped. It returns when ctx is
// done, when the file ends and opts.Follow is false, or when handle fails.
func Follow(ctx context.Context, path string, opts FollowOptions, logger *zap.Logger, handle func(Line) error) error {
	if IsCompressed(path) {
		return fmt.Errorf("cannot follow compressed export %s", path)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("export.follow")

	whence := io.SeekEnd
	if opts.FromStart {
		whence = io.SeekStart
	}
	t, err := tail.TailFile(path, tail.Config{
		Follow:    opts.Follow,
		ReOpen:    opts.Follow,
		MustExist: !opts.Follow,
		Location:  &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail export file: %w", err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				logger.Warn("Error reading from export file", zap.Error(line.Err))
				continue
			}
			if line.Text == "" {
				continue
			}
			l, err := DecodeLine([]byte(line.Text))
			if err != nil {
				logger.Warn("Skipping malformed export line", zap.Error(err))
				continue
			}
			if err := handle(l); err != nil {
				return err
			}
		}
	}
}
