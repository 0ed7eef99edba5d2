// Package sandbox provides the capture and execution capabilities the agent
// loop drives: a REST computer-server client for full desktops and a
// chromedp-backed browser tab.
package sandbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// New creates and readies the configured sandbox.
func New(ctx context.Context, cfg config.SandboxConfig, logger *zap.Logger) (schemas.Sandbox, error) {
	switch cfg.Type {
	case config.SandboxComputerServer, "":
		return newComputerServer(ctx, cfg.ComputerServer, logger)
	case config.SandboxBrowser:
		return NewBrowserSandbox(ctx, cfg.Browser, logger)
	default:
		return nil, fmt.Errorf("unknown sandbox type '%s'. Supported: [%s, %s]",
			cfg.Type, config.SandboxComputerServer, config.SandboxBrowser)
	}
}

func newComputerServer(ctx context.Context, cfg config.ComputerServerConfig, logger *zap.Logger) (*ComputerServer, error) {
	s, err := NewComputerServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := s.WaitReady(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
