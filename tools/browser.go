package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/strixlabs/strix/browser"
	"github.com/strixlabs/strix/llm"
)

// BrowserTools groups the browser_* tool set around one shared
// session. The session launches lazily on the first call; the mutex
// keeps concurrent tool calls in one batch from launching Chrome
// twice.
type BrowserTools struct {
	open   func() (*browser.Session, error)
	runDir string
	logger *zap.Logger

	mu      sync.Mutex
	session *browser.Session
	shots   int
}

// NewBrowserTools creates the group. open is called once, on first
// use, so scans that never touch the browser never launch Chrome.
func NewBrowserTools(open func() (*browser.Session, error), runDir string, logger *zap.Logger) *BrowserTools {
	return &BrowserTools{open: open, runDir: runDir, logger: logger}
}

func (b *BrowserTools) get() (*browser.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		return b.session, nil
	}
	s, err := b.open()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b.session = s
	return s, nil
}

// Close shuts the session down if one was opened.
func (b *BrowserTools) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	return b.session.Close()
}

type browserNavigateArgs struct {
	URL string `json:"url"`
}

// Navigate returns the browser_navigate tool.
func (b *BrowserTools) Navigate() (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params browserNavigateArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid browser_navigate arguments: %w", err)
		}
		if params.URL == "" {
			return nil, fmt.Errorf("url is required")
		}
		s, err := b.get()
		if err != nil {
			return nil, err
		}
		if err := s.Navigate(params.URL); err != nil {
			return nil, err
		}
		state, err := s.State()
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"url": state.URL, "title": state.Title})
	}
	return fn, Metadata{
		Schema: llm.ToolSchema{
			Name:        "browser_navigate",
			Description: "Load a URL in the headless browser. All traffic goes through the capture proxy.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {"url": {"type": "string", "description": "URL to open"}},
				"required": ["url"]
			}`),
		},
		Timeout: time.Minute,
	}
}

// Content returns the browser_content tool.
func (b *BrowserTools) Content() (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		s, err := b.get()
		if err != nil {
			return nil, err
		}
		state, err := s.State()
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{
			"url":     state.URL,
			"title":   state.Title,
			"content": state.Content,
		})
	}
	return fn, Metadata{
		Schema: llm.ToolSchema{
			Name:        "browser_content",
			Description: "Return the current page URL, title and HTML content (truncated).",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		Timeout: time.Minute,
	}
}

// Screenshot returns the browser_screenshot tool. Images are saved
// under the run directory and the tool returns the file path.
func (b *BrowserTools) Screenshot() (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		s, err := b.get()
		if err != nil {
			return nil, err
		}
		data, err := s.Screenshot()
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.shots++
		path := filepath.Join(b.runDir, fmt.Sprintf("screenshot_%03d.png", b.shots))
		b.mu.Unlock()
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("save screenshot: %w", err)
		}
		b.logger.Debug("screenshot saved", zap.String("path", path))
		return json.Marshal(map[string]any{"path": path, "bytes": len(data)})
	}
	return fn, Metadata{
		Schema: llm.ToolSchema{
			Name:        "browser_screenshot",
			Description: "Capture a full-page screenshot and save it under the run directory.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		Timeout: time.Minute,
	}
}

type browserEvalArgs struct {
	Expression string `json:"expression"`
}

// Eval returns the browser_eval tool.
func (b *BrowserTools) Eval() (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params browserEvalArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid browser_eval arguments: %w", err)
		}
		if params.Expression == "" {
			return nil, fmt.Errorf("expression is required")
		}
		s, err := b.get()
		if err != nil {
			return nil, err
		}
		result, err := s.Eval(params.Expression)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"result": truncateOutput(result)})
	}
	return fn, Metadata{
		Schema: llm.ToolSchema{
			Name:        "browser_eval",
			Description: "Evaluate a JavaScript expression in the current page and return its JSON value.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {"expression": {"type": "string", "description": "JavaScript expression"}},
				"required": ["expression"]
			}`),
		},
		Timeout: time.Minute,
	}
}

type browserClickArgs struct {
	Selector string `json:"selector"`
}

// Click returns the browser_click tool.
func (b *BrowserTools) Click() (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params browserClickArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid browser_click arguments: %w", err)
		}
		if params.Selector == "" {
			return nil, fmt.Errorf("selector is required")
		}
		s, err := b.get()
		if err != nil {
			return nil, err
		}
		if err := s.Click(params.Selector); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]bool{"clicked": true})
	}
	return fn, Metadata{
		Schema: llm.ToolSchema{
			Name:        "browser_click",
			Description: "Click the first element matching a CSS selector.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {"selector": {"type": "string", "description": "CSS selector"}},
				"required": ["selector"]
			}`),
		},
		Timeout: time.Minute,
	}
}

type browserTypeArgs struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// Type returns the browser_type tool.
func (b *BrowserTools) Type() (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params browserTypeArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid browser_type arguments: %w", err)
		}
		if params.Selector == "" {
			return nil, fmt.Errorf("selector is required")
		}
		s, err := b.get()
		if err != nil {
			return nil, err
		}
		if err := s.Type(params.Selector, params.Text); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]bool{"typed": true})
	}
	return fn, Metadata{
		Schema: llm.ToolSchema{
			Name:        "browser_type",
			Description: "Clear a form field matching a CSS selector and type text into it.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"selector": {"type": "string", "description": "CSS selector"},
					"text": {"type": "string", "description": "Text to type"}
				},
				"required": ["selector", "text"]
			}`),
		},
		Timeout: time.Minute,
	}
}
