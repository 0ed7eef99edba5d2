// internal/sandbox/browser.go
package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/coords"
)

// wheelNotch is the pixel delta of one scroll notch.
const wheelNotch = 100

// BrowserSandbox drives a single Chrome tab over CDP. The "screen" is the
// emulated viewport.
type BrowserSandbox struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	viewport schemas.Resolution
}

var _ schemas.Sandbox = (*BrowserSandbox)(nil)

// browserExecOptions translates the sandbox config into allocator options.
func browserExecOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.Width, cfg.Height),
	)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// NewBrowserSandbox launches Chrome and opens cfg.StartURL. The browser
// lives until Close or until ctx is cancelled.
func NewBrowserSandbox(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*BrowserSandbox, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("browser viewport must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sandbox.browser")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, browserExecOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))
	cancel := func() {
		browserCancel()
		allocCancel()
	}

	startURL := cfg.StartURL
	if startURL == "" {
		startURL = "about:blank"
	}
	if err := chromedp.Run(browserCtx,
		chromedp.EmulateViewport(int64(cfg.Width), int64(cfg.Height)),
		chromedp.Navigate(startURL),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	logger.Info("Browser sandbox started.", zap.String("url", startURL), zap.Int("width", cfg.Width), zap.Int("height", cfg.Height))

	return &BrowserSandbox{
		ctx:      browserCtx,
		cancel:   cancel,
		logger:   logger,
		viewport: schemas.Resolution{Width: cfg.Width, Height: cfg.Height},
	}, nil
}

// run executes actions on the tab, aborting when either the caller's ctx or
// the browser's own context ends.
func (b *BrowserSandbox) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Screenshot captures the viewport as PNG.
func (b *BrowserSandbox) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Execute runs one primitive against the tab. Coordinates map onto the
// viewport; target is ignored.
func (b *BrowserSandbox) Execute(ctx context.Context, act schemas.Action, _ schemas.Resolution) error {
	actions, err := b.actionsFor(act)
	if err != nil {
		return &schemas.ExecutionError{Action: act.Kind, Err: err}
	}
	if act.Kind == schemas.ActionWait {
		err = sleepCtx(ctx, min(act.Duration, MaxWait))
	} else {
		err = b.run(ctx, actions...)
	}
	if err != nil {
		return &schemas.ExecutionError{Action: act.Kind, Err: err}
	}
	return nil
}

func (b *BrowserSandbox) actionsFor(act schemas.Action) ([]chromedp.Action, error) {
	switch act.Kind {
	case schemas.ActionClick:
		if act.Coordinate == nil {
			return nil, fmt.Errorf("click requires a coordinate")
		}
		return b.click(*act.Coordinate, act.Button, max(act.ClickCount, 1)), nil
	case schemas.ActionMove:
		if act.Coordinate == nil {
			return nil, fmt.Errorf("move requires a coordinate")
		}
		x, y := b.pixels(*act.Coordinate)
		return []chromedp.Action{input.DispatchMouseEvent(input.MouseMoved, x, y)}, nil
	case schemas.ActionType:
		var actions []chromedp.Action
		if act.Coordinate != nil {
			actions = append(actions, b.click(*act.Coordinate, schemas.ButtonLeft, 1)...)
		}
		if act.ClearExisting {
			actions = append(actions, chromedp.KeyEvent("a", chromedp.KeyModifiers(input.ModifierCtrl)))
		}
		actions = append(actions, input.InsertText(act.Text))
		if act.PressEnter {
			actions = append(actions, chromedp.KeyEvent(kb.Enter))
		}
		return actions, nil
	case schemas.ActionPress:
		return []chromedp.Action{keyChord([]string{act.Key})}, nil
	case schemas.ActionHotkey:
		if len(act.Keys) == 0 {
			return nil, fmt.Errorf("hotkey requires at least one key")
		}
		return []chromedp.Action{keyChord(act.Keys)}, nil
	case schemas.ActionScroll:
		c := schemas.Coordinate{X: 0.5, Y: 0.5}
		if act.Coordinate != nil {
			c = *act.Coordinate
		}
		x, y := b.pixels(c)
		return []chromedp.Action{
			input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(0).WithDeltaY(float64(-act.Amount * wheelNotch)),
		}, nil
	case schemas.ActionHistoryBack:
		return []chromedp.Action{chromedp.NavigateBack()}, nil
	case schemas.ActionWait:
		return nil, nil
	default:
		return nil, fmt.Errorf("action %q cannot be executed by the browser", act.Kind)
	}
}

func (b *BrowserSandbox) pixels(c schemas.Coordinate) (float64, float64) {
	x, y := coords.ToPixels(c, b.viewport)
	return float64(x), float64(y)
}

func (b *BrowserSandbox) click(c schemas.Coordinate, button schemas.MouseButton, count int) []chromedp.Action {
	x, y := b.pixels(c)
	if button == "" {
		button = schemas.ButtonLeft
	}
	btn := input.MouseButton(button)
	return []chromedp.Action{
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(btn).WithClickCount(int64(count)),
		input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(btn).WithClickCount(int64(count)),
	}
}

// Close shuts the browser down.
func (b *BrowserSandbox) Close() error {
	b.cancel()
	return nil
}

var namedKeys = map[string]string{
	"enter":     kb.Enter,
	"tab":       kb.Tab,
	"esc":       kb.Escape,
	"escape":    kb.Escape,
	"backspace": kb.Backspace,
	"delete":    kb.Delete,
	"up":        kb.ArrowUp,
	"down":      kb.ArrowDown,
	"left":      kb.ArrowLeft,
	"right":     kb.ArrowRight,
	"home":      kb.Home,
	"end":       kb.End,
	"pageup":    kb.PageUp,
	"pagedown":  kb.PageDown,
	"space":     " ",
}

var modifierKeys = map[string]input.Modifier{
	"ctrl":    input.ModifierCtrl,
	"control": input.ModifierCtrl,
	"shift":   input.ModifierShift,
	"alt":     input.ModifierAlt,
	"super":   input.ModifierMeta,
	"meta":    input.ModifierMeta,
	"cmd":     input.ModifierMeta,
}

// splitChord separates modifiers from the key they modify. A chord made of
// modifiers only presses its last modifier.
func splitChord(keys []string) (string, input.Modifier) {
	var mods input.Modifier
	var key string
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if m, ok := modifierKeys[k]; ok {
			mods |= m
			continue
		}
		key = k
	}
	if key == "" && len(keys) > 0 {
		key = strings.ToLower(keys[len(keys)-1])
	}
	if named, ok := namedKeys[key]; ok {
		key = named
	}
	return key, mods
}

func keyChord(keys []string) chromedp.Action {
	key, mods := splitChord(keys)
	if mods == 0 {
		return chromedp.KeyEvent(key)
	}
	return chromedp.KeyEvent(key, chromedp.KeyModifiers(mods))
}
