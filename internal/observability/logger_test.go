// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// -- Test Helper Functions --

// lockedBuffer is a concurrency-safe sink for the console core.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Sync() error { return nil }

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func setupLogger(t *testing.T, cfg config.LoggerConfig) *lockedBuffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	out := &lockedBuffer{}
	Initialize(cfg, zapcore.AddSync(out))
	return out
}

// -- Test Cases --

func TestInitialize(t *testing.T) {
	t.Run("console logger with colors", func(t *testing.T) {
		out := setupLogger(t, config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "deskpilot"})
		GetLogger().Named("orchestrator").Info("Step complete.")

		s := out.String()
		assert.Contains(t, s, "Step complete.")
		assert.Contains(t, s, colorGreen+"INFO"+colorReset, "info falls back to green")
		assert.Contains(t, s, "deskpilot.orchestrator.")
	})

	t.Run("configured color wins", func(t *testing.T) {
		out := setupLogger(t, config.LoggerConfig{Level: "info", Format: "console", Colors: config.ColorConfig{Warn: "blue"}})
		GetLogger().Warn("stuck")
		assert.Contains(t, out.String(), colorBlue+"WARN"+colorReset)
	})

	t.Run("json logger", func(t *testing.T) {
		out := setupLogger(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"})
		GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "This is a JSON message.", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("level filters", func(t *testing.T) {
		out := setupLogger(t, config.LoggerConfig{Level: "warn", Format: "json"})
		GetLogger().Info("hidden")
		assert.NotContains(t, out.String(), "hidden")
	})

	t.Run("writes a rotated file when configured", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "deskpilot.log")
		setupLogger(t, config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1})
		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"msg":"This should go to the file."`, "file core is always JSON")
	})

	t.Run("only initializes once", func(t *testing.T) {
		out := setupLogger(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"})
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&lockedBuffer{}))
		assert.Same(t, first, GetLogger())

		GetLogger().Info("test")
		assert.Contains(t, out.String(), "First")
		assert.NotContains(t, out.String(), "Second")
	})
}

func TestGetLogger_Fallback(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.Nil(t, globalLogger.Load(), "the fallback is never stored")
}

func TestStepFields(t *testing.T) {
	rec := schemas.StepRecord{
		RunID:          "r1",
		StepIndex:      4,
		Action:         schemas.Click(0.25, 0.5),
		GuardState:     schemas.GuardNudge,
		Classification: schemas.ClassUnchanged,
		Diagnostic:     schemas.DiagRecovered,
		Escalated:      true,
	}
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range StepFields(rec) {
		f.AddTo(enc)
	}
	assert.Equal(t, "r1", enc.Fields["run_id"])
	assert.Equal(t, int64(4), enc.Fields["step"])
	assert.Equal(t, "click at (0.2500, 0.5000)", enc.Fields["action"])
	assert.Equal(t, "NUDGE", enc.Fields["guard_state"])
	assert.Equal(t, "unchanged", enc.Fields["classification"])
	assert.Equal(t, "recovery_action", enc.Fields["diagnostic"])
	assert.Equal(t, true, enc.Fields["escalated"])

	plain := StepFields(schemas.StepRecord{StepIndex: 1, Action: schemas.Wait(0)})
	assert.Len(t, plain, 5)
}
