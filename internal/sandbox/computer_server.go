// internal/sandbox/computer_server.go
package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/coords"
)

const (
	// MaxWait bounds a single Wait primitive.
	MaxWait = 30 * time.Second

	defaultScreenTTL     = 500 * time.Millisecond
	defaultReadyInterval = time.Second
	maxBodyBytes         = 64 << 20
)

// commandResult is the union of every /cmd reply shape the server produces.
type commandResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ImageData string `json:"image_data,omitempty"`
	Size      *struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"size,omitempty"`
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// ComputerServer drives a desktop through the computer-server REST API
// (POST /cmd, GET /status) exposed by CUA style containers and VMs.
type ComputerServer struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	readyTimeout  time.Duration
	readyInterval time.Duration

	mu        sync.Mutex
	screen    schemas.Resolution
	screenAt  time.Time
	screenTTL time.Duration
	now       func() time.Time

	sleep func(ctx context.Context, d time.Duration) error
}

var _ schemas.Sandbox = (*ComputerServer)(nil)

// NewComputerServer creates a client for the server at cfg.URL. It does not
// contact the server; call WaitReady for that.
func NewComputerServer(cfg config.ComputerServerConfig, logger *zap.Logger) (*ComputerServer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("computer server URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ComputerServer{
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		client:        &http.Client{Timeout: cfg.RequestTimeout},
		logger:        logger.Named("sandbox.computer_server"),
		readyTimeout:  cfg.ReadyTimeout,
		readyInterval: defaultReadyInterval,
		screenTTL:     defaultScreenTTL,
		now:           time.Now,
		sleep:         sleepCtx,
	}, nil
}

// WaitReady polls the server until it answers, or the ready timeout passes.
// Servers without /status are probed through get_screen_size instead.
func (s *ComputerServer) WaitReady(ctx context.Context) error {
	if s.readyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.readyTimeout)
		defer cancel()
	}
	s.logger.Info("Waiting for computer server.", zap.String("url", s.baseURL), zap.Duration("timeout", s.readyTimeout))

	attempts := 0
	operation := func() error {
		attempts++
		if err := s.status(ctx); err == nil {
			return nil
		}
		_, err := s.command(ctx, "get_screen_size", nil)
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoff.NewConstantBackOff(s.readyInterval), ctx)); err != nil {
		return fmt.Errorf("computer server at %s not ready after %d attempts: %w", s.baseURL, attempts, err)
	}
	s.logger.Info("Computer server ready.", zap.Int("attempts", attempts))
	return nil
}

func (s *ComputerServer) status(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Screenshot returns the full resolution PNG of the desktop.
func (s *ComputerServer) Screenshot(ctx context.Context) ([]byte, error) {
	var res commandResult
	operation := func() error {
		var err error
		res, err = s.command(ctx, "screenshot", nil)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(idempotentBackoff(), ctx)); err != nil {
		return nil, err
	}
	if res.ImageData == "" {
		return nil, fmt.Errorf("screenshot reply carried no image data")
	}
	raw, err := base64.StdEncoding.DecodeString(res.ImageData)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return raw, nil
}

// ScreenSize returns the desktop resolution, cached for a short TTL.
func (s *ComputerServer) ScreenSize(ctx context.Context) (schemas.Resolution, error) {
	s.mu.Lock()
	if !s.screen.IsZero() && s.now().Sub(s.screenAt) < s.screenTTL {
		r := s.screen
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	res, err := s.command(ctx, "get_screen_size", nil)
	if err != nil {
		return schemas.Resolution{}, err
	}
	var r schemas.Resolution
	switch {
	case res.Size != nil:
		r = schemas.Resolution{Width: res.Size.Width, Height: res.Size.Height}
	default:
		r = schemas.Resolution{Width: res.Width, Height: res.Height}
	}
	if r.IsZero() {
		return schemas.Resolution{}, fmt.Errorf("invalid screen size %s", r)
	}

	s.mu.Lock()
	s.screen, s.screenAt = r, s.now()
	s.mu.Unlock()
	return r, nil
}

// Execute runs one primitive. target is used only when the server cannot
// report its own screen size.
func (s *ComputerServer) Execute(ctx context.Context, act schemas.Action, target schemas.Resolution) error {
	if err := s.execute(ctx, act, target); err != nil {
		return &schemas.ExecutionError{Action: act.Kind, Err: err}
	}
	return nil
}

func (s *ComputerServer) execute(ctx context.Context, act schemas.Action, target schemas.Resolution) error {
	switch act.Kind {
	case schemas.ActionClick:
		cmd, err := clickCommand(act)
		if err != nil {
			return err
		}
		return s.pointer(ctx, cmd, act.Coordinate, target)
	case schemas.ActionMove:
		return s.pointer(ctx, "move_cursor", act.Coordinate, target)
	case schemas.ActionType:
		if act.Coordinate != nil {
			if err := s.pointer(ctx, "left_click", act.Coordinate, target); err != nil {
				return err
			}
		}
		if act.ClearExisting {
			if err := s.run(ctx, "hotkey", map[string]any{"keys": []string{"ctrl", "a"}}); err != nil {
				return err
			}
		}
		if err := s.run(ctx, "type_text", map[string]any{"text": act.Text}); err != nil {
			return err
		}
		if act.PressEnter {
			return s.run(ctx, "press_key", map[string]any{"key": "enter"})
		}
		return nil
	case schemas.ActionPress:
		return s.run(ctx, "press_key", map[string]any{"key": act.Key})
	case schemas.ActionHotkey:
		return s.run(ctx, "hotkey", map[string]any{"keys": act.Keys})
	case schemas.ActionHistoryBack:
		return s.run(ctx, "hotkey", map[string]any{"keys": []string{"alt", "left"}})
	case schemas.ActionScroll:
		if act.Coordinate != nil {
			if err := s.pointer(ctx, "move_cursor", act.Coordinate, target); err != nil {
				return err
			}
		}
		return s.run(ctx, "scroll", map[string]any{"amount": act.Amount})
	case schemas.ActionWait:
		return s.sleep(ctx, min(act.Duration, MaxWait))
	default:
		return fmt.Errorf("action %q cannot be executed by the computer server", act.Kind)
	}
}

func clickCommand(act schemas.Action) (string, error) {
	switch {
	case act.Button == schemas.ButtonRight:
		return "right_click", nil
	case act.Button == schemas.ButtonMiddle:
		return "", fmt.Errorf("middle button clicks are not supported")
	case act.ClickCount == 2:
		return "double_click", nil
	default:
		return "left_click", nil
	}
}

func (s *ComputerServer) pointer(ctx context.Context, cmd string, c *schemas.Coordinate, target schemas.Resolution) error {
	if c == nil {
		return fmt.Errorf("%s requires a coordinate", cmd)
	}
	screen, err := s.ScreenSize(ctx)
	if err != nil {
		if target.IsZero() {
			return fmt.Errorf("screen size: %w", err)
		}
		s.logger.Warn("Screen size unavailable, using frame resolution.", zap.Error(err), zap.Stringer("target", target))
		screen = target
	}
	x, y := coords.ToPixels(*c, screen)
	return s.run(ctx, cmd, map[string]any{"x": x, "y": y})
}

func (s *ComputerServer) run(ctx context.Context, cmd string, params map[string]any) error {
	_, err := s.command(ctx, cmd, params)
	return err
}

// command posts one /cmd request and decodes the reply. A reply with
// success=false is an error.
func (s *ComputerServer) command(ctx context.Context, cmd string, params map[string]any) (commandResult, error) {
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(map[string]any{"command": cmd, "params": params})
	if err != nil {
		return commandResult{}, fmt.Errorf("encode %s: %w", cmd, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/cmd", bytes.NewReader(payload))
	if err != nil {
		return commandResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return commandResult{}, fmt.Errorf("%s: %w", cmd, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return commandResult{}, fmt.Errorf("%s: read reply: %w", cmd, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return commandResult{}, fmt.Errorf("%s: server returned %d: %s", cmd, resp.StatusCode, clip(string(body), 200))
	}

	res, err := parseReply(body)
	if err != nil {
		return commandResult{}, fmt.Errorf("%s: %w", cmd, err)
	}
	if !res.Success {
		reason := res.Error
		if reason == "" {
			reason = "unknown error"
		}
		return commandResult{}, fmt.Errorf("%s failed: %s", cmd, reason)
	}
	s.logger.Debug("Command complete.", zap.String("command", cmd), zap.Duration("duration", time.Since(start)))
	return res, nil
}

// parseReply accepts a plain JSON object or a text/event-stream body, in
// which case the last data: line holding a JSON object wins.
func parseReply(body []byte) (commandResult, error) {
	var res commandResult
	text := strings.TrimSpace(string(body))
	if text == "" {
		return res, fmt.Errorf("empty reply")
	}
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		if err := json.UnmarshalFromString(text, &res); err != nil {
			return res, fmt.Errorf("decode reply: %w", err)
		}
		return res, nil
	}

	found := false
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), maxBodyBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if !strings.HasPrefix(data, "{") || !strings.HasSuffix(data, "}") {
			continue
		}
		var event commandResult
		if err := json.UnmarshalFromString(data, &event); err == nil {
			res, found = event, true
		}
	}
	if found {
		return res, nil
	}

	l, r := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if l >= 0 && r > l {
		if err := json.UnmarshalFromString(text[l:r+1], &res); err == nil {
			return res, nil
		}
	}
	return res, fmt.Errorf("unrecognized reply: %q", clip(text, 200))
}

// Close is a no-op; the server outlives the client.
func (s *ComputerServer) Close() error { return nil }

func idempotentBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(250*time.Millisecond), 2)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
