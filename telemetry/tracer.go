// Package telemetry records what a scan did: a per-run directory with
// a JSONL event trace, working notes, archived scraped pages and the
// final Markdown report, plus optional SQLite persistence.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one line in trace.jsonl.
type Event struct {
	Time time.Time      `json:"time"`
	Kind string         `json:"kind"` // llm_request, tool_call, state_change, ...
	Data map[string]any `json:"data,omitempty"`
}

// Tracer owns the run directory for one scan.
type Tracer struct {
	mu      sync.Mutex
	runDir  string
	trace   *os.File
	logger  *zap.Logger
	noteSeq int
}

// NewTracer creates the run directory <root>/<timestamp>-<id>/ and
// opens the trace file.
func NewTracer(root, scanID string, logger *zap.Logger) (*Tracer, error) {
	name := fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), scanID)
	runDir := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Join(runDir, "scraped_data"), 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(runDir, "trace.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}

	logger.Info("run directory created", zap.String("dir", runDir))
	return &Tracer{runDir: runDir, trace: f, logger: logger}, nil
}

// RunDir returns the run directory path.
func (t *Tracer) RunDir() string { return t.runDir }

// Record appends an event to trace.jsonl. Failures are logged, never
// fatal to the scan.
func (t *Tracer) Record(kind string, data map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := Event{Time: time.Now(), Kind: kind, Data: data}
	line, err := json.Marshal(e)
	if err != nil {
		t.logger.Warn("marshal trace event", zap.Error(err))
		return
	}
	if _, err := t.trace.Write(append(line, '\n')); err != nil {
		t.logger.Warn("write trace event", zap.Error(err))
	}
}

// AppendNote adds a numbered working note to notes.md and returns its
// index.
func (t *Tracer) AppendNote(note string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.noteSeq++
	entry := fmt.Sprintf("## Note %d (%s)\n\n%s\n\n", t.noteSeq, time.Now().Format(time.RFC3339), note)
	f, err := os.OpenFile(filepath.Join(t.runDir, "notes.md"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		return 0, err
	}
	return t.noteSeq, nil
}

// Notes returns the accumulated notes file content, or empty when no
// notes exist yet.
func (t *Tracer) Notes() (string, error) {
	data, err := os.ReadFile(filepath.Join(t.runDir, "notes.md"))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveScrapedPage archives a fetched page under scraped_data/ and
// returns the file path.
func (t *Tracer) SaveScrapedPage(url, content string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	name := sanitizeFilename(url) + ".md"
	path := filepath.Join(t.runDir, "scraped_data", name)
	body := fmt.Sprintf("# %s\n\nFetched: %s\n\n---\n\n%s\n", url, time.Now().Format(time.RFC3339), content)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// WriteReport writes the final report.md and returns its path.
func (t *Tracer) WriteReport(report string) (string, error) {
	path := filepath.Join(t.runDir, "report.md")
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Close flushes and closes the trace file.
func (t *Tracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trace.Close()
}

// sanitizeFilename turns a URL into a safe file name.
func sanitizeFilename(s string) string {
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > 120 {
		name = name[:120]
	}
	if name == "" {
		name = "page"
	}
	return name
}
