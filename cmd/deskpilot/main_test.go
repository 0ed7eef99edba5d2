// File: cmd/deskpilot/main_test.go
package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestInteractiveArgs(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"open the settings app", []string{"run", "open the settings app"}},
		{"run open the settings app", []string{"run", "open the settings app"}},
		{"run --max-steps=5 --dialect=uitars open firefox", []string{"run", "--max-steps=5", "--dialect=uitars", "open firefox"}},
		{"plan --dry-run  book a flight", []string{"plan", "--dry-run", "book a flight"}},
		{"watch --follow=false out.jsonl", []string{"watch", "--follow=false", "out.jsonl"}},
		{"version", []string{"version"}},
		{"--help", []string{"--help"}},
		{"run", []string{"run"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, interactiveArgs(tt.line))
		})
	}
}

func TestInteractive_StopsOnExit(t *testing.T) {
	in := strings.NewReader("\nversion\nexit\nversion\n")
	var out bytes.Buffer

	require.NoError(t, interactive(context.Background(), in, &out))
	assert.Equal(t, 1, strings.Count(out.String(), "deskpilot dev"), "lines after exit are not run")
	assert.Equal(t, 3, strings.Count(out.String(), "deskpilot > "))
}

func TestHandlePanic(t *testing.T) {
	t.Run("writes the panic log", func(t *testing.T) {
		defer resetMocks()
		var written []byte
		var path string
		osWriteFile = func(name string, data []byte, _ os.FileMode) error {
			path, written = name, data
			return nil
		}
		exitCode := -1
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, panicLogFile, path)
		assert.Contains(t, string(written), "panic: boom")
		assert.Equal(t, 1, exitCode)
	})

	t.Run("log write failure", func(t *testing.T) {
		defer resetMocks()
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
		exitCode := -1
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("boom")
		}()
		assert.Equal(t, 1, exitCode)
	})

	t.Run("no panic", func(t *testing.T) {
		defer resetMocks()
		osExit = func(int) { t.Fatal("exit called without a panic") }
		func() {
			defer handlePanic()
		}()
	})
}
