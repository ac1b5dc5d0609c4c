package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strixlabs/strix/browser"
	"github.com/strixlabs/strix/config"
	"github.com/strixlabs/strix/llm"
	"github.com/strixlabs/strix/runtime"
	"github.com/strixlabs/strix/telemetry"
)

func newTestSandbox(t *testing.T) runtime.Sandbox {
	t.Helper()
	s, err := runtime.NewProcessSandbox(config.SandboxConfig{WorkspaceRoot: "/workspace"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func newTestTracer(t *testing.T) *telemetry.Tracer {
	t.Helper()
	tracer, err := telemetry.NewTracer(t.TempDir(), "test", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { tracer.Close() })
	return tracer
}

func TestTerminalTool(t *testing.T) {
	fn, meta := NewTerminalTool(newTestSandbox(t), zap.NewNop())
	assert.Equal(t, "terminal_execute", meta.Schema.Name)

	out, err := fn(context.Background(), json.RawMessage(`{"command": "echo hello; echo oops >&2; exit 3"}`))
	require.NoError(t, err)

	var res terminalResult
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestTerminalTool_MissingCommand(t *testing.T) {
	fn, _ := NewTerminalTool(newTestSandbox(t), zap.NewNop())
	_, err := fn(context.Background(), json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "command is required")
}

func TestPythonTool(t *testing.T) {
	if _, err := os.Stat("/usr/bin/python3"); err != nil {
		t.Skip("python3 not installed")
	}
	fn, meta := NewPythonTool(newTestSandbox(t), zap.NewNop())
	assert.Equal(t, "python_execute", meta.Schema.Name)

	out, err := fn(context.Background(), json.RawMessage(`{"code": "print(2 + 2)"}`))
	require.NoError(t, err)

	var res terminalResult
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "4\n", res.Stdout)
}

func TestReportTool(t *testing.T) {
	vulns := telemetry.NewVulnerabilities()
	var reported []telemetry.Vulnerability
	fn, meta := NewReportTool(vulns, func(v telemetry.Vulnerability) {
		reported = append(reported, v)
	}, zap.NewNop())
	assert.Equal(t, "report_vulnerability", meta.Schema.Name)

	out, err := fn(context.Background(), json.RawMessage(`{
		"title": "SQL injection in /login",
		"severity": "high",
		"description": "The username parameter is concatenated into a query.",
		"poc": "username=' OR 1=1--"
	}`))
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, true, res["new"])
	assert.Equal(t, float64(1), res["total"])
	require.Len(t, reported, 1)
	assert.Equal(t, telemetry.SeverityHigh, reported[0].Severity)

	// same title again updates, does not duplicate or re-notify
	out, err = fn(context.Background(), json.RawMessage(`{
		"title": "sql injection in /login",
		"severity": "critical",
		"description": "Confirmed exploitable."
	}`))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, false, res["new"])
	assert.Equal(t, float64(1), res["total"])
	assert.Len(t, reported, 1)
}

func TestReportTool_Validation(t *testing.T) {
	fn, _ := NewReportTool(telemetry.NewVulnerabilities(), nil, zap.NewNop())

	_, err := fn(context.Background(), json.RawMessage(`{"severity": "high", "description": "d"}`))
	assert.ErrorContains(t, err, "title is required")

	_, err = fn(context.Background(), json.RawMessage(`{"title": "t", "severity": "severe", "description": "d"}`))
	assert.Error(t, err)
}

func TestNotesTool(t *testing.T) {
	fn, meta := NewNotesTool(newTestTracer(t), zap.NewNop())
	assert.Equal(t, "scan_notes", meta.Schema.Name)

	out, err := fn(context.Background(), json.RawMessage(`{"action": "append", "content": "admin panel at /manage"}`))
	require.NoError(t, err)
	var appendRes map[string]any
	require.NoError(t, json.Unmarshal(out, &appendRes))
	assert.Equal(t, float64(1), appendRes["note"])

	out, err = fn(context.Background(), json.RawMessage(`{"action": "list"}`))
	require.NoError(t, err)
	var listRes map[string]string
	require.NoError(t, json.Unmarshal(out, &listRes))
	assert.Contains(t, listRes["notes"], "admin panel at /manage")

	_, err = fn(context.Background(), json.RawMessage(`{"action": "delete"}`))
	assert.ErrorContains(t, err, "unknown action")

	_, err = fn(context.Background(), json.RawMessage(`{"action": "append"}`))
	assert.ErrorContains(t, err, "content is required")
}

func TestFinishTool(t *testing.T) {
	signal := &FinishSignal{}
	vulns := telemetry.NewVulnerabilities()
	vulns.Add(telemetry.Vulnerability{Title: "XSS", Severity: telemetry.SeverityMedium})

	fn, meta := NewFinishTool(signal, vulns, zap.NewNop())
	assert.Equal(t, "finish_scan", meta.Schema.Name)

	_, err := fn(context.Background(), json.RawMessage(`{"content": "  ", "success": true}`))
	require.ErrorContains(t, err, "content is required")
	done, _, _ := signal.Done()
	assert.False(t, done)

	out, err := fn(context.Background(), json.RawMessage(`{"content": "Tested auth and search, found one XSS.", "success": true}`))
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, float64(1), res["vulnerabilities_found"])

	done, success, summary := signal.Done()
	assert.True(t, done)
	assert.True(t, success)
	assert.Contains(t, summary, "found one XSS")
}

type scriptedProvider struct {
	responses []*llm.ChatResponse
	requests  []*llm.ChatRequest
}

func (p *scriptedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.requests = append(p.requests, req)
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) SupportsNativeFunctionCalling() bool { return true }

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: content}}},
	}
}

func TestWebSearchTool(t *testing.T) {
	firecrawl := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "Bearer fc-test", r.Header.Get("Authorization"))

		var req firecrawlSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "CVE-2024-1234 exploit", req.Query)

		json.NewEncoder(w).Encode(firecrawlSearchResponse{
			Success: true,
			Data: []struct {
				Title    string `json:"title"`
				URL      string `json:"url"`
				Markdown string `json:"markdown"`
			}{
				{Title: "Advisory", URL: "https://example.com/advisory", Markdown: "# CVE-2024-1234\nRCE in widget 1.2"},
			},
		})
	}))
	defer firecrawl.Close()

	tracer := newTestTracer(t)
	sandbox := newTestSandbox(t)
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		textResponse("Widget 1.2 is vulnerable to RCE (https://example.com/advisory)."),
	}}

	fn, meta := NewWebSearchTool(WebSearchDeps{
		Client:   NewFirecrawlClient("fc-test", firecrawl.URL),
		Provider: provider,
		Model:    "gpt-test",
		Tracer:   tracer,
		Sandbox:  sandbox,
		Config:   config.SearchConfig{MaxPages: 3},
	}, zap.NewNop())
	assert.Equal(t, "web_search", meta.Schema.Name)

	out, err := fn(context.Background(), json.RawMessage(`{"query": "CVE-2024-1234 exploit"}`))
	require.NoError(t, err)

	var res struct {
		Answer        string   `json:"answer"`
		Sources       []string `json:"sources"`
		ArchivedPages []string `json:"archived_pages"`
	}
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Contains(t, res.Answer, "RCE")
	assert.Equal(t, []string{"https://example.com/advisory"}, res.Sources)
	require.Len(t, res.ArchivedPages, 1)
	assert.FileExists(t, res.ArchivedPages[0])

	// the synthesis request carried the scraped content and the
	// configured model
	require.Len(t, provider.requests, 1)
	assert.Contains(t, provider.requests[0].Messages[1].Content, "RCE in widget 1.2")
	assert.Equal(t, "gpt-test", provider.requests[0].Model)

	// the page was copied into the sandbox for follow-up greps
	copied := filepath.Join(sandbox.Workspace(), "scraped_data", filepath.Base(res.ArchivedPages[0]))
	assert.FileExists(t, copied)
}

func TestWebSearchTool_NotConfigured(t *testing.T) {
	fn, _ := NewWebSearchTool(WebSearchDeps{}, zap.NewNop())
	_, err := fn(context.Background(), json.RawMessage(`{"query": "anything"}`))
	assert.ErrorContains(t, err, "FIRECRAWL_API_KEY")
}

func TestBrowserTools_ConcurrentLaunchOnce(t *testing.T) {
	var opens int32
	bt := NewBrowserTools(func() (*browser.Session, error) {
		atomic.AddInt32(&opens, 1)
		time.Sleep(5 * time.Millisecond)
		return &browser.Session{}, nil
	}, t.TempDir(), zap.NewNop())

	// browser_* calls in one batch run concurrently; the session must
	// still launch exactly once
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := bt.get()
			assert.NoError(t, err)
			assert.NotNil(t, s)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&opens))
}

func TestNewToolkit(t *testing.T) {
	tk, err := NewToolkit(ToolkitDeps{
		Sandbox: newTestSandbox(t),
		Tracer:  newTestTracer(t),
		Vulns:   telemetry.NewVulnerabilities(),
		Finish:  &FinishSignal{},
	}, zap.NewNop())
	require.NoError(t, err)
	defer tk.Close()

	for _, name := range []string{"terminal_execute", "python_execute", "report_vulnerability", "scan_notes", "finish_scan"} {
		assert.True(t, tk.Registry.Has(name), name)
	}
	// optional deps absent, their tools stay unregistered
	assert.False(t, tk.Registry.Has("proxy_history"))
	assert.False(t, tk.Registry.Has("browser_navigate"))
	assert.False(t, tk.Registry.Has("web_search"))
}
