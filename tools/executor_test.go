package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strixlabs/strix/llm"
)

func echoTool(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return args, nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	err := r.Register("echo", echoTool, Metadata{})
	require.NoError(t, err)
	assert.True(t, r.Has("echo"))

	_, meta, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", meta.Schema.Name)
	assert.Equal(t, 30*time.Second, meta.Timeout)

	err = r.Register("echo", echoTool, Metadata{})
	assert.Error(t, err)

	err = r.Register("other", echoTool, Metadata{Schema: llm.ToolSchema{Name: "mismatch"}})
	assert.Error(t, err)
}

func TestRegistry_Schemas(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register("a", echoTool, Metadata{}))
	require.NoError(t, r.Register("b", echoTool, Metadata{}))

	schemas := r.Schemas()
	assert.Len(t, schemas, 2)
}

func TestExecutor_ExecuteOne(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register("echo", echoTool, Metadata{}))
	e := NewExecutor(r, zap.NewNop())

	res := e.ExecuteOne(context.Background(), llm.ToolCall{
		ID:        "call_1",
		Name:      "echo",
		Arguments: json.RawMessage(`{"x":1}`),
	})
	assert.Empty(t, res.Error)
	assert.JSONEq(t, `{"x":1}`, string(res.Result))
	assert.Equal(t, "call_1", res.ToolCallID)
}

func TestExecutor_UnknownTool(t *testing.T) {
	e := NewExecutor(NewRegistry(zap.NewNop()), zap.NewNop())
	res := e.ExecuteOne(context.Background(), llm.ToolCall{ID: "c", Name: "nope"})
	assert.Contains(t, res.Error, "not found")
}

func TestExecutor_InvalidArguments(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register("echo", echoTool, Metadata{}))
	e := NewExecutor(r, zap.NewNop())

	res := e.ExecuteOne(context.Background(), llm.ToolCall{
		ID:        "c",
		Name:      "echo",
		Arguments: json.RawMessage(`{not json`),
	})
	assert.Contains(t, res.Error, "invalid arguments")
}

func TestExecutor_Timeout(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	slow := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		select {
		case <-time.After(5 * time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	require.NoError(t, r.Register("slow", slow, Metadata{Timeout: 50 * time.Millisecond}))
	e := NewExecutor(r, zap.NewNop())

	res := e.ExecuteOne(context.Background(), llm.ToolCall{ID: "c", Name: "slow"})
	assert.Contains(t, res.Error, "timeout")
}

func TestExecutor_CancelledContext(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	slow := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		time.Sleep(2 * time.Second)
		return nil, nil
	}
	require.NoError(t, r.Register("slow", slow, Metadata{Timeout: 5 * time.Second}))
	e := NewExecutor(r, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.ExecuteOne(ctx, llm.ToolCall{ID: "c", Name: "slow"})
	assert.Equal(t, "execution cancelled", res.Error)
	assert.NotContains(t, res.Error, "timeout")
}

func TestExecutor_RateLimit(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	meta := Metadata{RateLimit: &RateLimit{PerMinute: 1, Burst: 1}}
	require.NoError(t, r.Register("limited", echoTool, meta))
	e := NewExecutor(r, zap.NewNop())

	first := e.ExecuteOne(context.Background(), llm.ToolCall{ID: "1", Name: "limited"})
	assert.Empty(t, first.Error)

	second := e.ExecuteOne(context.Background(), llm.ToolCall{ID: "2", Name: "limited"})
	assert.Contains(t, second.Error, "rate limit")
}

func TestExecutor_BatchKeepsCallOrder(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(name, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return args, nil
		}, Metadata{Schema: llm.ToolSchema{Name: name}}))
	}
	e := NewExecutor(r, zap.NewNop())

	calls := make([]llm.ToolCall, 3)
	for i, name := range []string{"c", "a", "b"} {
		calls[i] = llm.ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      name,
			Arguments: json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)),
		}
	}

	results := e.Execute(context.Background(), calls)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, calls[i].ID, res.ToolCallID)
		assert.Equal(t, calls[i].Name, res.Name)
		assert.JSONEq(t, string(calls[i].Arguments), string(res.Result))
	}
}

func TestExecutor_BatchCollectsFailures(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register("ok", echoTool, Metadata{}))
	require.NoError(t, r.Register("boom", func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, fmt.Errorf("kaput")
	}, Metadata{}))
	e := NewExecutor(r, zap.NewNop())

	results := e.Execute(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "ok", Arguments: json.RawMessage(`{}`)},
		{ID: "2", Name: "boom"},
	})
	require.Len(t, results, 2)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, "kaput", results[1].Error)
}

func TestTruncateOutput(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, truncateOutput(short))

	long := make([]byte, maxToolOutput+100)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateOutput(string(long))
	assert.Contains(t, got, "[output truncated]")
	assert.Less(t, len(got), len(long))
}
