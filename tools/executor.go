// Package tools holds the registry of actions the agent can take and
// the executor that runs them with timeouts and rate limits.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/strixlabs/strix/llm"
)

// Func is the tool function signature. Arguments arrive as the raw
// JSON the model produced; the result is JSON handed back to the
// model.
type Func func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Metadata describes a registered tool.
type Metadata struct {
	Schema    llm.ToolSchema
	Timeout   time.Duration // default 30s
	RateLimit *RateLimit
}

// RateLimit caps how often a tool may run.
type RateLimit struct {
	PerMinute int
	Burst     int
}

// Result is one tool execution outcome.
type Result struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// Registry holds the available tools.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Func
	metadata map[string]Metadata
	limiters map[string]*rate.Limiter
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		tools:    make(map[string]Func),
		metadata: make(map[string]Metadata),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

// Register adds a tool. Registering the same name twice is an error.
func (r *Registry) Register(name string, fn Func, meta Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	if meta.Schema.Name == "" {
		meta.Schema.Name = name
	}
	if meta.Schema.Name != name {
		return fmt.Errorf("tool name mismatch: schema.Name=%s, register name=%s", meta.Schema.Name, name)
	}
	if meta.Timeout == 0 {
		meta.Timeout = 30 * time.Second
	}

	r.tools[name] = fn
	r.metadata[name] = meta
	if meta.RateLimit != nil {
		limit := rate.Limit(float64(meta.RateLimit.PerMinute) / 60.0)
		burst := meta.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiters[name] = rate.NewLimiter(limit, burst)
	}

	r.logger.Debug("tool registered", zap.String("name", name), zap.Duration("timeout", meta.Timeout))
	return nil
}

// Get returns a tool function and its metadata.
func (r *Registry) Get(name string) (Func, Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.tools[name]
	if !ok {
		return nil, Metadata{}, fmt.Errorf("tool %s not found", name)
	}
	return fn, r.metadata[name], nil
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Schemas returns the schemas of all registered tools for the LLM
// request.
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]llm.ToolSchema, 0, len(r.metadata))
	for _, meta := range r.metadata {
		out = append(out, meta.Schema)
	}
	return out
}

func (r *Registry) allow(name string) error {
	r.mu.RLock()
	limiter, ok := r.limiters[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if !limiter.Allow() {
		return fmt.Errorf("rate limit exceeded for %s", name)
	}
	return nil
}

// Executor runs tool calls against a registry.
type Executor struct {
	registry *Registry
	logger   *zap.Logger
}

// NewExecutor creates an executor.
func NewExecutor(registry *Registry, logger *zap.Logger) *Executor {
	return &Executor{registry: registry, logger: logger}
}

// Execute runs a batch of tool calls concurrently and returns results
// in call order. Individual failures land in Result.Error, never as a
// batch error.
func (e *Executor) Execute(ctx context.Context, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.ExecuteOne(gctx, call)
			return nil
		})
	}
	g.Wait()
	return results
}

// ExecuteOne runs a single tool call with arg validation, rate limit
// and timeout.
func (e *Executor) ExecuteOne(ctx context.Context, call llm.ToolCall) Result {
	start := time.Now()
	result := Result{ToolCallID: call.ID, Name: call.Name}

	fn, meta, err := e.registry.Get(call.Name)
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		e.logger.Warn("unknown tool requested", zap.String("name", call.Name))
		return result
	}

	if err := e.registry.allow(call.Name); err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		e.logger.Warn("tool rate limited", zap.String("name", call.Name))
		return result
	}

	if len(call.Arguments) > 0 {
		var tmp any
		if err := json.Unmarshal(call.Arguments, &tmp); err != nil {
			result.Error = fmt.Sprintf("invalid arguments: %s", err.Error())
			result.Duration = time.Since(start)
			return result
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	type outcome struct {
		res json.RawMessage
		err error
	}
	// buffered so the goroutine never leaks when the timeout wins
	done := make(chan outcome, 1)
	go func() {
		res, err := fn(execCtx, call.Arguments)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		result.Duration = time.Since(start)
		if out.err != nil {
			result.Error = out.err.Error()
			e.logger.Warn("tool failed",
				zap.String("name", call.Name),
				zap.Error(out.err),
				zap.Duration("duration", result.Duration))
		} else {
			result.Result = out.res
			e.logger.Debug("tool executed",
				zap.String("name", call.Name),
				zap.Duration("duration", result.Duration))
		}
	case <-execCtx.Done():
		result.Duration = time.Since(start)
		if errors.Is(ctx.Err(), context.Canceled) {
			result.Error = "execution cancelled"
			e.logger.Warn("tool cancelled", zap.String("name", call.Name))
		} else {
			result.Error = fmt.Sprintf("execution timeout after %s", meta.Timeout)
			e.logger.Warn("tool timeout",
				zap.String("name", call.Name),
				zap.Duration("timeout", meta.Timeout))
		}
	}
	return result
}
