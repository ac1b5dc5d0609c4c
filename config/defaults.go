package config

import "time"

// Default returns the baseline configuration before file and env
// overrides.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:       "openai/gpt-5",
			MaxTokens:   8192,
			Temperature: 0.3,
			Timeout:     180 * time.Second,
			MaxRetries:  3,
		},
		Agent: AgentConfig{
			MaxIterations:    60,
			WarningThreshold: 45,
			WaitTimeout:      5 * time.Minute,
		},
		Sandbox: SandboxConfig{
			Image:         "ghcr.io/strixlabs/strix-sandbox:latest",
			MemoryLimitMB: 4096,
			CPULimit:      2,
			NetworkMode:   "bridge",
			WorkspaceRoot: "/workspace",
			IdleTimeout:   30 * time.Minute,
		},
		Proxy: ProxyConfig{
			ListenAddr:      "127.0.0.1:28080",
			HistoryCapacity: 2000,
		},
		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  1280,
			ViewportHeight: 900,
			NavTimeout:     30 * time.Second,
		},
		Search: SearchConfig{
			FirecrawlBaseURL: "https://api.firecrawl.dev",
			MaxPages:         5,
			MaxPageChars:     20000,
		},
		Telemetry: TelemetryConfig{
			RunDirRoot:  "strix_runs",
			SQLiteStore: true,
			ServiceName: "strix",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:29090",
		},
	}
}
