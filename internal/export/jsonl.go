// internal/export/jsonl.go
package export

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// Line types written to a JSONL export.
const (
	LineStep    = "step"
	LineSummary = "summary"
)

// Line is one document of a JSONL export. Exactly one of Step and Summary
// is set, matching Type.
type Line struct {
	Type    string              `json:"type"`
	Step    *schemas.StepRecord `json:"step,omitempty"`
	Summary *schemas.RunSummary `json:"summary,omitempty"`
}

// DecodeLine parses one exported line.
func DecodeLine(raw []byte) (Line, error) {
	var l Line
	if err := json.Unmarshal(raw, &l); err != nil {
		return Line{}, fmt.Errorf("decode export line: %w", err)
	}
	switch {
	case l.Type == LineStep && l.Step != nil:
	case l.Type == LineSummary && l.Summary != nil:
	default:
		return Line{}, fmt.Errorf("export line has type %q without a matching payload", l.Type)
	}
	return l, nil
}

// IsCompressed reports whether path selects brotli-compressed output.
func IsCompressed(path string) bool { return strings.HasSuffix(path, ".br") }

// JSONLExporter appends step records and run summaries to a file, one JSON
// document per line. It is safe for concurrent use by parallel runs.
type JSONLExporter struct {
	mu     sync.Mutex
	file   io.Closer
	w      io.Writer
	flush  func() error
	path   string
	logger *zap.Logger
}

var _ schemas.StepExporter = (*JSONLExporter)(nil)

// NewJSONLExporter opens path for appending, creating parent directories.
func NewJSONLExporter(path string, logger *zap.Logger) (*JSONLExporter, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonl export path is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand export path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	f, err := os.OpenFile(expanded, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}

	e := &JSONLExporter{file: f, path: expanded, logger: logger.Named("export.jsonl")}
	if IsCompressed(expanded) {
		bw := brotli.NewWriterLevel(f, brotli.DefaultCompression)
		e.w, e.flush = bw, bw.Flush
		e.file = closers{bw, f}
	} else {
		buf := bufio.NewWriter(f)
		e.w, e.flush = buf, buf.Flush
	}
	e.logger.Info("Exporting step records.", zap.String("path", expanded), zap.Bool("brotli", IsCompressed(expanded)))
	return e, nil
}

// Path is the expanded file path being written.
func (e *JSONLExporter) Path() string { return e.path }

func (e *JSONLExporter) ExportStep(_ context.Context, rec schemas.StepRecord) error {
	return e.write(Line{Type: LineStep, Step: &rec})
}

func (e *JSONLExporter) ExportSummary(_ context.Context, sum schemas.RunSummary) error {
	return e.write(Line{Type: LineSummary, Summary: &sum})
}

// write appends one line and flushes it so followers see complete records.
func (e *JSONLExporter) write(l Line) error {
	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode export line: %w", err)
	}
	b = append(b, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.w == nil {
		return fmt.Errorf("jsonl exporter is closed")
	}
	if _, err := e.w.Write(b); err != nil {
		return fmt.Errorf("write export line: %w", err)
	}
	return e.flush()
}

// Close flushes pending output and closes the file.
func (e *JSONLExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.w == nil {
		return nil
	}
	ferr := e.flush()
	cerr := e.file.Close()
	e.w = nil
	if ferr != nil {
		return ferr
	}
	return cerr
}

// OpenJSONL opens an export for reading, decompressing brotli exports.
func OpenJSONL(path string) (io.ReadCloser, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, err
	}
	if !IsCompressed(expanded) {
		return f, nil
	}
	return struct {
		io.Reader
		io.Closer
	}{brotli.NewReader(f), f}, nil
}

// closers closes in order, returning the first error.
type closers []io.Closer

func (c closers) Close() error {
	var first error
	for _, cl := range c {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
