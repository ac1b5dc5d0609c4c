package tools

import (
	"go.uber.org/zap"

	"github.com/strixlabs/strix/browser"
	"github.com/strixlabs/strix/config"
	"github.com/strixlabs/strix/llm"
	"github.com/strixlabs/strix/proxy"
	"github.com/strixlabs/strix/runtime"
	"github.com/strixlabs/strix/telemetry"
)

// ToolkitDeps carries everything the full tool set needs. Proxy,
// browser and search are optional; their tools are only registered
// when the dependency is present.
type ToolkitDeps struct {
	Sandbox     runtime.Sandbox
	Proxy       *proxy.Server
	OpenBrowser func() (*browser.Session, error)
	Search      *FirecrawlClient
	Provider    llm.Provider
	Model       string
	Tracer      *telemetry.Tracer
	Vulns       *telemetry.Vulnerabilities
	Finish      *FinishSignal
	OnReport    func(telemetry.Vulnerability)
	RunDir      string
	SearchCfg   config.SearchConfig
}

// Toolkit is the assembled tool set for one scan.
type Toolkit struct {
	Registry *Registry
	Executor *Executor
	browser  *BrowserTools
}

// NewToolkit registers the full tool set against the given deps.
func NewToolkit(deps ToolkitDeps, logger *zap.Logger) (*Toolkit, error) {
	registry := NewRegistry(logger)

	register := func(fn Func, meta Metadata) error {
		return registry.Register(meta.Schema.Name, fn, meta)
	}

	if err := register(NewTerminalTool(deps.Sandbox, logger)); err != nil {
		return nil, err
	}
	if err := register(NewPythonTool(deps.Sandbox, logger)); err != nil {
		return nil, err
	}
	if err := register(NewReportTool(deps.Vulns, deps.OnReport, logger)); err != nil {
		return nil, err
	}
	if err := register(NewNotesTool(deps.Tracer, logger)); err != nil {
		return nil, err
	}
	if err := register(NewFinishTool(deps.Finish, deps.Vulns, logger)); err != nil {
		return nil, err
	}

	if deps.Proxy != nil {
		if err := register(NewProxyHistoryTool(deps.Proxy, logger)); err != nil {
			return nil, err
		}
		if err := register(NewProxyRequestTool(deps.Proxy, logger)); err != nil {
			return nil, err
		}
		if err := register(NewProxyReplayTool(deps.Proxy, logger)); err != nil {
			return nil, err
		}
	}

	var bt *BrowserTools
	if deps.OpenBrowser != nil {
		bt = NewBrowserTools(deps.OpenBrowser, deps.RunDir, logger)
		browserTools := []func() (Func, Metadata){
			bt.Navigate, bt.Content, bt.Screenshot, bt.Eval, bt.Click, bt.Type,
		}
		for _, t := range browserTools {
			if err := register(t()); err != nil {
				return nil, err
			}
		}
	}

	if deps.Search != nil {
		err := register(NewWebSearchTool(WebSearchDeps{
			Client:   deps.Search,
			Provider: deps.Provider,
			Model:    deps.Model,
			Tracer:   deps.Tracer,
			Sandbox:  deps.Sandbox,
			Config:   deps.SearchCfg,
		}, logger))
		if err != nil {
			return nil, err
		}
	}

	return &Toolkit{
		Registry: registry,
		Executor: NewExecutor(registry, logger),
		browser:  bt,
	}, nil
}

// Close releases resources held by the tool set, currently just the
// browser session if one was launched.
func (t *Toolkit) Close() error {
	if t.browser != nil {
		return t.browser.Close()
	}
	return nil
}
