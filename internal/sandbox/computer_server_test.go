package sandbox

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// -- Fake computer server --

type recordedCommand struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

type fakeServer struct {
	mu       sync.Mutex
	commands []recordedCommand
	replies  map[string]string
	statusOK atomic.Bool
}

func (f *fakeServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			if f.statusOK.Load() {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/cmd":
			raw, _ := io.ReadAll(r.Body)
			var cmd recordedCommand
			if err := json.Unmarshal(raw, &cmd); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.commands = append(f.commands, cmd)
			reply, ok := f.replies[cmd.Command]
			f.mu.Unlock()
			if !ok {
				reply = `{"success": true}`
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, reply)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeServer) reply(cmd, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd] = body
}

func (f *fakeServer) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	for i, c := range f.commands {
		out[i] = c.Command
	}
	return out
}

func (f *fakeServer) last(name string) recordedCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.commands) - 1; i >= 0; i-- {
		if f.commands[i].Command == name {
			return f.commands[i]
		}
	}
	return recordedCommand{}
}

func setupComputerServer(t *testing.T) (*ComputerServer, *fakeServer) {
	t.Helper()
	fake := &fakeServer{replies: map[string]string{
		"get_screen_size": `{"success": true, "size": {"width": 1920, "height": 1080}}`,
	}}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	s, err := NewComputerServer(config.ComputerServerConfig{
		URL:            server.URL + "/",
		RequestTimeout: 2 * time.Second,
		ReadyTimeout:   time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	s.readyInterval = time.Millisecond
	t.Cleanup(func() { s.client.CloseIdleConnections() })
	return s, fake
}

// -- Execution --

func TestComputerServer_Click_MapsToPixels(t *testing.T) {
	s, fake := setupComputerServer(t)

	err := s.Execute(context.Background(), schemas.Click(0.5, 0.5), schemas.Resolution{})
	require.NoError(t, err)

	assert.Equal(t, []string{"get_screen_size", "left_click"}, fake.names())
	click := fake.last("left_click")
	assert.EqualValues(t, 959, click.Params["x"])
	assert.EqualValues(t, 539, click.Params["y"])
}

func TestComputerServer_ClickVariants(t *testing.T) {
	tests := []struct {
		name    string
		act     schemas.Action
		command string
	}{
		{"right", schemas.Action{Kind: schemas.ActionClick, Button: schemas.ButtonRight, ClickCount: 1, Coordinate: &schemas.Coordinate{X: 1, Y: 1}}, "right_click"},
		{"double", schemas.Action{Kind: schemas.ActionClick, Button: schemas.ButtonLeft, ClickCount: 2, Coordinate: &schemas.Coordinate{X: 0, Y: 0}}, "double_click"},
		{"move", schemas.Action{Kind: schemas.ActionMove, Coordinate: &schemas.Coordinate{X: 0.25, Y: 0.75}}, "move_cursor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fake := setupComputerServer(t)
			require.NoError(t, s.Execute(context.Background(), tt.act, schemas.Resolution{}))
			assert.Equal(t, tt.command, fake.names()[len(fake.names())-1])
		})
	}
}

func TestComputerServer_Type_FullSequence(t *testing.T) {
	s, fake := setupComputerServer(t)
	act := schemas.Action{
		Kind:          schemas.ActionType,
		Text:          "hello",
		Coordinate:    &schemas.Coordinate{X: 0.1, Y: 0.1},
		ClearExisting: true,
		PressEnter:    true,
	}

	require.NoError(t, s.Execute(context.Background(), act, schemas.Resolution{}))
	assert.Equal(t, []string{"get_screen_size", "left_click", "hotkey", "type_text", "press_key"}, fake.names())
	assert.Equal(t, "hello", fake.last("type_text").Params["text"])
	assert.Equal(t, "enter", fake.last("press_key").Params["key"])
	assert.Equal(t, []any{"ctrl", "a"}, fake.last("hotkey").Params["keys"])
}

func TestComputerServer_KeyboardAndNavigation(t *testing.T) {
	s, fake := setupComputerServer(t)
	ctx := context.Background()

	require.NoError(t, s.Execute(ctx, schemas.Action{Kind: schemas.ActionPress, Key: "esc"}, schemas.Resolution{}))
	require.NoError(t, s.Execute(ctx, schemas.Action{Kind: schemas.ActionHotkey, Keys: []string{"ctrl", "l"}}, schemas.Resolution{}))
	require.NoError(t, s.Execute(ctx, schemas.Action{Kind: schemas.ActionHistoryBack}, schemas.Resolution{}))
	require.NoError(t, s.Execute(ctx, schemas.Action{Kind: schemas.ActionScroll, Amount: -3}, schemas.Resolution{}))

	assert.Equal(t, []string{"press_key", "hotkey", "hotkey", "scroll"}, fake.names())
	assert.Equal(t, []any{"alt", "left"}, fake.last("hotkey").Params["keys"])
	assert.EqualValues(t, -3, fake.last("scroll").Params["amount"])
}

func TestComputerServer_ScreenSizeCached(t *testing.T) {
	s, fake := setupComputerServer(t)
	fixed := time.Unix(1700000000, 0)
	s.now = func() time.Time { return fixed }

	for range 3 {
		require.NoError(t, s.Execute(context.Background(), schemas.Click(0.2, 0.2), schemas.Resolution{}))
	}
	assert.Equal(t, []string{"get_screen_size", "left_click", "left_click", "left_click"}, fake.names())

	s.now = func() time.Time { return fixed.Add(time.Second) }
	size, err := s.ScreenSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemas.Resolution{Width: 1920, Height: 1080}, size)
	assert.Equal(t, "get_screen_size", fake.names()[len(fake.names())-1], "expired cache refetches")
}

func TestComputerServer_FlatScreenSize(t *testing.T) {
	s, fake := setupComputerServer(t)
	fake.reply("get_screen_size", `{"success": true, "width": 800, "height": 600}`)

	size, err := s.ScreenSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemas.Resolution{Width: 800, Height: 600}, size)
}

func TestComputerServer_FallsBackToTarget(t *testing.T) {
	s, fake := setupComputerServer(t)
	fake.reply("get_screen_size", `{"success": false, "error": "no display"}`)

	require.NoError(t, s.Execute(context.Background(), schemas.Click(1, 1), schemas.Resolution{Width: 101, Height: 51}))
	click := fake.last("left_click")
	assert.EqualValues(t, 100, click.Params["x"])
	assert.EqualValues(t, 50, click.Params["y"])

	err := s.Execute(context.Background(), schemas.Click(1, 1), schemas.Resolution{})
	var ee *schemas.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, schemas.ActionClick, ee.Action)
}

func TestComputerServer_CommandFailure(t *testing.T) {
	s, fake := setupComputerServer(t)
	fake.reply("press_key", `{"success": false, "error": "xdotool missing"}`)

	err := s.Execute(context.Background(), schemas.Action{Kind: schemas.ActionPress, Key: "enter"}, schemas.Resolution{})
	var ee *schemas.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, schemas.ActionPress, ee.Action)
	assert.ErrorContains(t, err, "xdotool missing")
}

func TestComputerServer_RejectsUnexecutable(t *testing.T) {
	s, fake := setupComputerServer(t)
	ctx := context.Background()

	assert.Error(t, s.Execute(ctx, schemas.Terminate("success"), schemas.Resolution{}))
	assert.Error(t, s.Execute(ctx, schemas.Action{Kind: schemas.ActionClick, Button: schemas.ButtonMiddle, Coordinate: &schemas.Coordinate{}}, schemas.Resolution{}))
	assert.Error(t, s.Execute(ctx, schemas.Action{Kind: schemas.ActionClick}, schemas.Resolution{}))
	assert.Empty(t, fake.names())
}

func TestComputerServer_WaitIsClamped(t *testing.T) {
	s, fake := setupComputerServer(t)
	var slept time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	require.NoError(t, s.Execute(context.Background(), schemas.Wait(2*time.Minute), schemas.Resolution{}))
	assert.Equal(t, MaxWait, slept)
	assert.Empty(t, fake.names(), "waits never reach the server")
}

// -- Capture --

func TestComputerServer_Screenshot(t *testing.T) {
	s, fake := setupComputerServer(t)
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	fake.reply("screenshot", `{"success": true, "image_data": "` + base64.StdEncoding.EncodeToString(png) + `"}`)

	raw, err := s.Screenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, png, raw)
}

func TestComputerServer_Screenshot_NoImage(t *testing.T) {
	s, fake := setupComputerServer(t)
	fake.reply("screenshot", `{"success": true}`)

	_, err := s.Screenshot(context.Background())
	assert.ErrorContains(t, err, "no image data")
}

// -- Readiness --

func TestComputerServer_WaitReady_Status(t *testing.T) {
	s, fake := setupComputerServer(t)
	fake.statusOK.Store(true)
	require.NoError(t, s.WaitReady(context.Background()))
	assert.Empty(t, fake.names(), "a healthy /status needs no probe command")
}

func TestComputerServer_WaitReady_FallsBackToCommand(t *testing.T) {
	s, fake := setupComputerServer(t)
	require.NoError(t, s.WaitReady(context.Background()))
	assert.Equal(t, []string{"get_screen_size"}, fake.names())
}

func TestComputerServer_WaitReady_Timeout(t *testing.T) {
	s, fake := setupComputerServer(t)
	fake.reply("get_screen_size", `{"success": false, "error": "booting"}`)
	s.readyTimeout = 50 * time.Millisecond

	err := s.WaitReady(context.Background())
	assert.ErrorContains(t, err, "not ready")
	assert.Greater(t, len(fake.names()), 1, "readiness is polled")
}

// -- Reply parsing --

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    commandResult
		wantErr bool
	}{
		{name: "json", body: ` {"success": true, "width": 10, "height": 20} `, want: commandResult{Success: true, Width: 10, Height: 20}},
		{name: "sse last event wins", body: "event: progress\ndata: {\"success\": false}\n\ndata: not json\ndata: {\"success\": true, \"error\": \"\"}\n\n", want: commandResult{Success: true}},
		{name: "embedded json", body: `result => {"success": true} <=`, want: commandResult{Success: true}},
		{name: "empty", body: "  \n", wantErr: true},
		{name: "garbage", body: "internal server error", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseReply([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// -- Factory --

func TestNew(t *testing.T) {
	_, err := New(context.Background(), config.SandboxConfig{Type: "vnc"}, nil)
	assert.ErrorContains(t, err, "unknown sandbox type")

	_, err = NewComputerServer(config.ComputerServerConfig{}, nil)
	assert.Error(t, err)

	fake := &fakeServer{replies: map[string]string{}}
	fake.statusOK.Store(true)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	sb, err := New(context.Background(), config.SandboxConfig{
		Type:           config.SandboxComputerServer,
		ComputerServer: config.ComputerServerConfig{URL: server.URL, RequestTimeout: time.Second, ReadyTimeout: time.Second},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.IsType(t, &ComputerServer{}, sb)
	sb.(*ComputerServer).client.CloseIdleConnections()
	assert.NoError(t, sb.Close())
}
