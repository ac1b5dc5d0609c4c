package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/strixlabs/strix/config"
	"github.com/strixlabs/strix/internal/metrics"
	"github.com/strixlabs/strix/llm"
	"github.com/strixlabs/strix/llm/retry"
	"github.com/strixlabs/strix/llm/tokenizer"
	"github.com/strixlabs/strix/telemetry"
	"github.com/strixlabs/strix/tools"
)

// maxEmptyResponses caps consecutive empty model replies before the
// scan is declared stuck.
const maxEmptyResponses = 3

// Options wires an Agent.
type Options struct {
	Config      *config.Config
	Provider    llm.Provider
	Toolkit     *tools.Toolkit
	Finish      *tools.FinishSignal
	Vulns       *telemetry.Vulnerabilities
	Tracer      *telemetry.Tracer
	Bus         EventBus
	Metrics     *metrics.Collector
	Logger      *zap.Logger
	ScanID      string
	Target      Target
	Instruction string
}

// ScanResult is the outcome of one run.
type ScanResult struct {
	Success    bool
	Summary    string
	Iterations int
	TokensUsed int
	Findings   []telemetry.Vulnerability
	StartedAt  time.Time
	FinishedAt time.Time
}

// Agent drives the scan loop for one target.
type Agent struct {
	cfg      *config.Config
	provider llm.Provider
	toolkit  *tools.Toolkit
	finish   *tools.FinishSignal
	vulns    *telemetry.Vulnerabilities
	tracer   *telemetry.Tracer
	bus      EventBus
	metrics  *metrics.Collector
	retryer  *retry.Retryer
	tok      tokenizer.Tokenizer
	logger   *zap.Logger

	scanID      string
	target      Target
	instruction string

	mu           sync.Mutex
	state        State
	conversation []llm.Message
	iterations   int
	tokens       int
	warned       bool
	finalNotice  bool
	emptyStreak  int
}

// New builds an Agent in the ready state.
func New(opts Options) (*Agent, error) {
	if opts.Provider == nil {
		return nil, errors.New("agent: provider is required")
	}
	if !opts.Provider.SupportsNativeFunctionCalling() {
		return nil, fmt.Errorf("agent: provider %s lacks native function calling", opts.Provider.Name())
	}
	if opts.Toolkit == nil || opts.Finish == nil {
		return nil, errors.New("agent: toolkit and finish signal are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Bus == nil {
		opts.Bus = NewEventBus(opts.Logger)
	}
	if opts.Vulns == nil {
		opts.Vulns = telemetry.NewVulnerabilities()
	}

	policy := retry.DefaultPolicy()
	if opts.Config.LLM.MaxRetries > 0 {
		policy.MaxRetries = opts.Config.LLM.MaxRetries
	}
	policy.Retryable = llm.IsRetryable

	// the tokenizer wants the bare model name, without the provider prefix
	model := opts.Config.LLM.Model
	if i := strings.Index(model, "/"); i > 0 {
		model = model[i+1:]
	}

	a := &Agent{
		cfg:         opts.Config,
		provider:    opts.Provider,
		toolkit:     opts.Toolkit,
		finish:      opts.Finish,
		vulns:       opts.Vulns,
		tracer:      opts.Tracer,
		bus:         opts.Bus,
		metrics:     opts.Metrics,
		retryer:     retry.New(policy, opts.Logger),
		tok:         tokenizer.ForModel(model),
		logger:      opts.Logger,
		scanID:      opts.ScanID,
		target:      opts.Target,
		instruction: opts.Instruction,
		state:       StateInit,
	}

	a.conversation = []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(a.target)},
		{Role: llm.RoleUser, Content: taskPrompt(a.target, a.instruction)},
	}
	if err := a.transition(StateReady); err != nil {
		return nil, err
	}
	return a, nil
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) transition(to State) error {
	a.mu.Lock()
	from := a.state
	if !CanTransition(from, to) {
		a.mu.Unlock()
		return ErrInvalidTransition{From: from, To: to}
	}
	a.state = to
	a.mu.Unlock()

	a.logger.Debug("state transition", zap.String("from", string(from)), zap.String("to", string(to)))
	if a.metrics != nil {
		a.metrics.RecordStateTransition(string(from), string(to))
	}
	if a.tracer != nil {
		a.tracer.Record("state_change", map[string]any{"from": from, "to": to})
	}
	a.bus.Publish(&StateChangeEvent{From: from, To: to, At: time.Now()})
	return nil
}

// Run executes the scan loop until finish_scan, the iteration limit,
// cancellation or an unrecoverable error.
func (a *Agent) Run(ctx context.Context) (*ScanResult, error) {
	startedAt := time.Now()
	if err := a.transition(StateRunning); err != nil {
		return nil, err
	}

	a.logger.Info("scan started",
		zap.String("scan_id", a.scanID),
		zap.String("target", a.target.Value),
		zap.String("target_type", string(a.target.Type)),
		zap.Int("max_iterations", a.cfg.Agent.MaxIterations))

	maxIter := a.cfg.Agent.MaxIterations
	for a.iterations < maxIter {
		if ctx.Err() != nil {
			return a.abort(startedAt, "Scan cancelled before completion."), ctx.Err()
		}

		a.iterations++
		if a.metrics != nil {
			a.metrics.RecordIteration()
		}
		a.bus.Publish(&IterationEvent{Iteration: a.iterations, Max: maxIter, At: time.Now()})

		a.injectDeadlineNotices(maxIter)

		resp, err := a.complete(ctx)
		if err != nil {
			var rfe *llm.RequestFailedError
			if errors.As(err, &rfe) && !a.cfg.Agent.NonInteractive {
				if werr := a.waitAndResume(ctx); werr != nil {
					return a.abort(startedAt, "Scan cancelled while waiting to resume."), werr
				}
				// retry the same iteration after the pause
				a.iterations--
				continue
			}
			result := a.abort(startedAt, fmt.Sprintf("Scan aborted: %s", err))
			return result, err
		}

		usage := resp.Usage
		if usage.TotalTokens == 0 {
			// some gateways omit usage; estimate the prompt locally
			if n, cerr := a.tok.CountMessages(a.conversation); cerr == nil {
				usage.PromptTokens = n
				usage.TotalTokens = n
			}
		}
		a.tokens += usage.TotalTokens
		a.bus.Publish(&LLMUsageEvent{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
			At:               time.Now(),
		})

		var msg llm.Message
		if len(resp.Choices) > 0 {
			msg = resp.Choices[0].Message
		}
		if msg.Content == "" && len(msg.ToolCalls) == 0 {
			a.emptyStreak++
			if a.emptyStreak >= maxEmptyResponses {
				err := fmt.Errorf("model returned %d empty responses in a row", a.emptyStreak)
				return a.abort(startedAt, fmt.Sprintf("Scan aborted: %s", err)), err
			}
			a.conversation = append(a.conversation, llm.Message{
				Role:    llm.RoleUser,
				Content: "Your last response was empty. Continue the assessment: call a tool, or call finish_scan if you are done.",
			})
			// an empty reply does not consume an iteration
			a.iterations--
			continue
		}
		a.emptyStreak = 0
		a.conversation = append(a.conversation, msg)
		if a.tracer != nil {
			a.tracer.Record("assistant", map[string]any{
				"content":    msg.Content,
				"tool_calls": len(msg.ToolCalls),
			})
		}

		if len(msg.ToolCalls) == 0 {
			a.conversation = append(a.conversation, llm.Message{
				Role:    llm.RoleUser,
				Content: "Continue. Act on your plan with the tools, and call finish_scan once the assessment is complete.",
			})
			continue
		}

		a.runTools(ctx, msg.ToolCalls)
		if done, _, _ := a.finish.Done(); done {
			break
		}
	}

	return a.conclude(startedAt)
}

// injectDeadlineNotices warns the model once near the iteration
// budget and again when only three iterations remain.
func (a *Agent) injectDeadlineNotices(maxIter int) {
	if !a.warned && a.cfg.Agent.WarningThreshold > 0 && a.iterations >= a.cfg.Agent.WarningThreshold {
		a.warned = true
		a.conversation = append(a.conversation, llm.Message{
			Role: llm.RoleUser,
			Content: fmt.Sprintf("You have used %d of %d iterations. Prioritize verifying and reporting your strongest leads.",
				a.iterations, maxIter),
		})
	}
	if !a.finalNotice && a.iterations == maxIter-2 {
		a.finalNotice = true
		a.conversation = append(a.conversation, llm.Message{
			Role:    llm.RoleUser,
			Content: "Only 3 iterations remain, including this one. Wrap up now and call finish_scan with your summary.",
		})
	}
}

const trimKeepRecent = 10

const trimmedPlaceholder = "[old tool output trimmed to fit the context window]"

// trimConversation blanks the oldest tool outputs once the estimated
// conversation size passes 80% of the model's context window. The
// most recent messages are always kept intact.
func (a *Agent) trimConversation() {
	if a.tok.MaxTokens() <= 0 {
		return
	}
	n, err := a.tok.CountMessages(a.conversation)
	if err != nil {
		return
	}
	budget := a.tok.MaxTokens() * 8 / 10

	for i := 0; n > budget && i < len(a.conversation)-trimKeepRecent; i++ {
		m := &a.conversation[i]
		if m.Role != llm.RoleTool || m.Content == trimmedPlaceholder {
			continue
		}
		m.Content = trimmedPlaceholder
		n, err = a.tok.CountMessages(a.conversation)
		if err != nil {
			return
		}
	}
	if n > budget {
		a.logger.Warn("conversation still near the context window after trimming",
			zap.Int("tokens", n), zap.Int("window", a.tok.MaxTokens()))
	}
}

func (a *Agent) complete(ctx context.Context) (*llm.ChatResponse, error) {
	a.trimConversation()

	req := &llm.ChatRequest{
		Messages:   a.conversation,
		Tools:      a.toolkit.Registry.Schemas(),
		ToolChoice: "auto",
	}

	start := time.Now()
	var resp *llm.ChatResponse
	err := a.retryer.Do(ctx, func() error {
		r, cerr := a.provider.Completion(ctx, req)
		if cerr != nil {
			return cerr
		}
		resp = r
		return nil
	})
	duration := time.Since(start)

	if a.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		var pt, ct int
		if resp != nil {
			pt, ct = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		}
		a.metrics.RecordLLMRequest(a.provider.Name(), a.cfg.LLM.Model, status, duration, pt, ct)
	}
	if err != nil {
		return nil, &llm.RequestFailedError{Err: err}
	}
	return resp, nil
}

func (a *Agent) runTools(ctx context.Context, calls []llm.ToolCall) {
	results := a.toolkit.Executor.Execute(ctx, calls)
	for _, res := range results {
		status := "ok"
		content := string(res.Result)
		if res.Error != "" {
			status = "error"
			errJSON, _ := json.Marshal(map[string]string{"error": res.Error})
			content = string(errJSON)
		}

		if a.metrics != nil {
			a.metrics.RecordToolExecution(res.Name, status, res.Duration)
		}
		if a.tracer != nil {
			a.tracer.Record("tool_call", map[string]any{
				"name":     res.Name,
				"status":   status,
				"duration": res.Duration.String(),
			})
		}
		a.bus.Publish(&ToolCallEvent{
			ToolCallID: res.ToolCallID,
			ToolName:   res.Name,
			Error:      res.Error,
			Duration:   res.Duration,
			At:         time.Now(),
		})

		a.conversation = append(a.conversation, llm.Message{
			Role:       llm.RoleTool,
			Name:       res.Name,
			Content:    content,
			ToolCallID: res.ToolCallID,
		})
	}
}

// waitAndResume parks the agent after an LLM failure and resumes
// after the configured wait, or fails on cancellation.
func (a *Agent) waitAndResume(ctx context.Context) error {
	if err := a.transition(StateWaiting); err != nil {
		return err
	}
	wait := a.cfg.Agent.WaitTimeout
	if wait <= 0 {
		wait = time.Minute
	}
	a.logger.Warn("llm request failed, waiting before resume", zap.Duration("wait", wait))

	select {
	case <-ctx.Done():
		a.toFailed()
		return ctx.Err()
	case <-time.After(wait):
	}
	return a.transition(StateRunning)
}

func (a *Agent) conclude(startedAt time.Time) (*ScanResult, error) {
	done, success, summary := a.finish.Done()
	result := &ScanResult{
		Iterations: a.iterations,
		TokensUsed: a.tokens,
		Findings:   a.vulns.Sorted(),
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}

	if done {
		result.Success = success
		result.Summary = summary
		if err := a.transition(StateCompleted); err != nil {
			a.logger.Error("transition to completed", zap.Error(err))
		}
	} else {
		result.Summary = fmt.Sprintf(
			"Scan stopped at the %d iteration limit before the agent called finish_scan. Findings reported up to that point are included.",
			a.cfg.Agent.MaxIterations)
		a.toFailed()
	}

	a.bus.Publish(&ScanFinishedEvent{Success: result.Success, Summary: result.Summary, At: time.Now()})
	a.logger.Info("scan finished",
		zap.Bool("success", result.Success),
		zap.Int("iterations", result.Iterations),
		zap.Int("tokens", result.TokensUsed),
		zap.Int("findings", len(result.Findings)))
	return result, nil
}

func (a *Agent) abort(startedAt time.Time, summary string) *ScanResult {
	a.toFailed()
	result := &ScanResult{
		Summary:    summary,
		Iterations: a.iterations,
		TokensUsed: a.tokens,
		Findings:   a.vulns.Sorted(),
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	a.bus.Publish(&ScanFinishedEvent{Success: false, Summary: summary, At: time.Now()})
	return result
}

func (a *Agent) toFailed() {
	if err := a.transition(StateFailed); err != nil {
		a.logger.Debug("transition to failed", zap.Error(err))
	}
}
