// Package strix wires a complete scan: sandbox, capture proxy,
// browser, tool set and the agent loop, producing a Markdown report in
// the run directory.
package strix

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strixlabs/strix/agent"
	"github.com/strixlabs/strix/browser"
	"github.com/strixlabs/strix/config"
	"github.com/strixlabs/strix/internal/metrics"
	itelemetry "github.com/strixlabs/strix/internal/telemetry"
	"github.com/strixlabs/strix/providers"
	"github.com/strixlabs/strix/proxy"
	"github.com/strixlabs/strix/runtime"
	"github.com/strixlabs/strix/telemetry"
	"github.com/strixlabs/strix/tools"
)

// RunOptions parameterizes one scan.
type RunOptions struct {
	Target      string
	Instruction string
	// Bus receives scan events. When nil a private bus is created.
	Bus agent.EventBus
}

// RunOutcome is what a finished (or aborted) scan leaves behind.
type RunOutcome struct {
	ScanID     string
	Target     agent.Target
	Result     *agent.ScanResult
	RunDir     string
	ReportPath string
}

// Scanner owns the configuration shared by scans.
type Scanner struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewScanner validates the configuration and returns a Scanner.
func NewScanner(cfg *config.Config, logger *zap.Logger) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scanner{cfg: cfg, logger: logger}, nil
}

// Run executes one scan end to end. The returned outcome is non-nil
// whenever a run directory was created, even on failure, so the caller
// can point the user at partial artifacts.
func (s *Scanner) Run(ctx context.Context, opts RunOptions) (*RunOutcome, error) {
	target, err := agent.ClassifyTarget(opts.Target)
	if err != nil {
		return nil, err
	}
	scanID := uuid.NewString()[:8]
	logger := s.logger.With(zap.String("scan_id", scanID))

	tracer, err := telemetry.NewTracer(s.cfg.Telemetry.RunDirRoot, scanID, logger)
	if err != nil {
		return nil, err
	}
	defer tracer.Close()
	outcome := &RunOutcome{ScanID: scanID, Target: target, RunDir: tracer.RunDir()}

	tp, err := itelemetry.Init(s.cfg.Telemetry, logger)
	if err != nil {
		return outcome, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(shutdownCtx)
	}()

	collector := metrics.NewCollector("strix", logger)
	if s.cfg.Metrics.Enabled {
		go func() {
			if err := collector.Serve(ctx, s.cfg.Metrics.ListenAddr); err != nil {
				logger.Warn("metrics endpoint", zap.Error(err))
			}
		}()
	}

	provider, err := providers.New(s.cfg.LLM.Model, providers.Config{
		APIKey:  s.cfg.LLM.APIKey,
		BaseURL: s.cfg.LLM.BaseURL,
		Timeout: s.cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		return outcome, err
	}
	_, model := providers.ParseModelID(s.cfg.LLM.Model)

	sandbox, err := runtime.New(s.cfg.Sandbox, scanID, logger)
	if err != nil {
		return outcome, err
	}
	sandbox.SetMetrics(collector)
	if err := sandbox.Start(ctx); err != nil {
		return outcome, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sandbox.Close(closeCtx); err != nil {
			logger.Warn("sandbox teardown", zap.Error(err))
		}
	}()

	if target.Type == agent.TargetLocalPath {
		dest := path.Join(sandbox.Workspace(), "target")
		if err := sandbox.UploadDir(ctx, target.Value, dest); err != nil {
			return outcome, fmt.Errorf("copy target into sandbox: %w", err)
		}
		logger.Info("target copied into sandbox", zap.String("dest", dest))
	}

	proxySrv := proxy.NewServer(s.cfg.Proxy, logger)
	proxySrv.SetMetrics(collector)
	if err := proxySrv.Start(); err != nil {
		return outcome, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		proxySrv.Close(closeCtx)
	}()

	bus := opts.Bus
	if bus == nil {
		bus = agent.NewEventBus(logger)
		defer bus.Stop()
	}

	var store *telemetry.Store
	if s.cfg.Telemetry.SQLiteStore {
		store, err = telemetry.OpenStore(filepath.Join(s.cfg.Telemetry.RunDirRoot, "strix.db"))
		if err != nil {
			logger.Warn("scan history store unavailable", zap.Error(err))
			store = nil
		}
	}

	if store != nil {
		sub := bus.Subscribe(agent.EventToolCall, func(e agent.Event) {
			te, ok := e.(*agent.ToolCallEvent)
			if !ok {
				return
			}
			status := "ok"
			if te.Error != "" {
				status = "error"
			}
			rec := &telemetry.ToolRecord{
				ScanID:    scanID,
				Tool:      te.ToolName,
				Status:    status,
				Duration:  te.Duration,
				CreatedAt: te.At,
			}
			if err := store.SaveToolRecord(rec); err != nil {
				logger.Warn("persist tool record", zap.Error(err))
			}
		})
		defer bus.Unsubscribe(sub)
	}

	vulns := telemetry.NewVulnerabilities()
	finish := &tools.FinishSignal{}

	onReport := func(v telemetry.Vulnerability) {
		collector.RecordVulnerability(string(v.Severity))
		tracer.Record("vulnerability", map[string]any{"title": v.Title, "severity": v.Severity})
		bus.Publish(&agent.VulnerabilityEvent{Finding: v, Total: vulns.Count(), At: time.Now()})
		if store != nil {
			rec := &telemetry.FindingRecord{
				ScanID:      scanID,
				Title:       v.Title,
				Severity:    string(v.Severity),
				Description: v.Description,
				PoC:         v.PoC,
				CreatedAt:   time.Now(),
			}
			if err := store.SaveFinding(rec); err != nil {
				logger.Warn("persist finding", zap.Error(err))
			}
		}
	}

	var search *tools.FirecrawlClient
	if s.cfg.Search.FirecrawlAPIKey != "" {
		search = tools.NewFirecrawlClient(s.cfg.Search.FirecrawlAPIKey, s.cfg.Search.FirecrawlBaseURL)
	}

	toolkit, err := tools.NewToolkit(tools.ToolkitDeps{
		Sandbox: sandbox,
		Proxy:   proxySrv,
		OpenBrowser: func() (*browser.Session, error) {
			return browser.NewSession(s.cfg.Browser, proxySrv.URL(), logger)
		},
		Search:    search,
		Provider:  provider,
		Model:     model,
		Tracer:    tracer,
		Vulns:     vulns,
		Finish:    finish,
		OnReport:  onReport,
		RunDir:    tracer.RunDir(),
		SearchCfg: s.cfg.Search,
	}, logger)
	if err != nil {
		return outcome, err
	}
	defer toolkit.Close()

	ag, err := agent.New(agent.Options{
		Config:      s.cfg,
		Provider:    provider,
		Toolkit:     toolkit,
		Finish:      finish,
		Vulns:       vulns,
		Tracer:      tracer,
		Bus:         bus,
		Metrics:     collector,
		Logger:      logger,
		ScanID:      scanID,
		Target:      target,
		Instruction: opts.Instruction,
	})
	if err != nil {
		return outcome, err
	}

	result, runErr := ag.Run(ctx)
	outcome.Result = result
	if result == nil {
		return outcome, runErr
	}

	report := telemetry.RenderReport(telemetry.ReportInput{
		ScanID:       scanID,
		Target:       target.Value,
		TargetType:   string(target.Type),
		Instruction:  opts.Instruction,
		StartedAt:    result.StartedAt,
		FinishedAt:   result.FinishedAt,
		Iterations:   result.Iterations,
		TokensUsed:   result.TokensUsed,
		Success:      result.Success,
		Findings:     result.Findings,
		AgentSummary: result.Summary,
	})
	reportPath, werr := tracer.WriteReport(report)
	if werr != nil {
		logger.Error("write report", zap.Error(werr))
	} else {
		outcome.ReportPath = reportPath
	}

	if store != nil {
		run := &telemetry.ScanRun{
			ScanID:       scanID,
			Target:       target.Value,
			TargetType:   string(target.Type),
			Instruction:  opts.Instruction,
			Model:        s.cfg.LLM.Model,
			StartedAt:    result.StartedAt,
			FinishedAt:   result.FinishedAt,
			Iterations:   result.Iterations,
			TokensUsed:   result.TokensUsed,
			Success:      result.Success,
			FindingCount: len(result.Findings),
		}
		if err := store.SaveRun(run); err != nil {
			logger.Warn("persist run", zap.Error(err))
		}
	}

	return outcome, runErr
}
