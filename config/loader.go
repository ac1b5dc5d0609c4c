// Package config loads the scanner configuration. Precedence is
// defaults, then the YAML file, then environment variables. The env
// pass handles both STRIX_-prefixed keys derived from struct tags and
// the handful of literal names users already export for other tools
// (STRIX_LLM, LLM_API_KEY, LLM_API_BASE, FIRECRAWL_API_KEY,
// STRIX_SANDBOX_MODE).
package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete scanner configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Agent     AgentConfig     `yaml:"agent" env:"AGENT"`
	Sandbox   SandboxConfig   `yaml:"sandbox" env:"SANDBOX"`
	Proxy     ProxyConfig     `yaml:"proxy" env:"PROXY"`
	Browser   BrowserConfig   `yaml:"browser" env:"BROWSER"`
	Search    SearchConfig    `yaml:"search" env:"SEARCH"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
}

// LLMConfig configures the model and its endpoint.
type LLMConfig struct {
	// Model is a "provider/model" id, e.g. "openai/gpt-5".
	Model       string        `yaml:"model" env:"MODEL"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature float32       `yaml:"temperature" env:"TEMPERATURE"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries  int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// AgentConfig bounds the scan loop.
type AgentConfig struct {
	MaxIterations    int           `yaml:"max_iterations" env:"MAX_ITERATIONS"`
	WarningThreshold int           `yaml:"warning_threshold" env:"WARNING_THRESHOLD"`
	WaitTimeout      time.Duration `yaml:"wait_timeout" env:"WAIT_TIMEOUT"`
	NonInteractive   bool          `yaml:"non_interactive" env:"NON_INTERACTIVE"`
}

// SandboxConfig configures the Docker execution environment.
type SandboxConfig struct {
	Image         string        `yaml:"image" env:"IMAGE"`
	MemoryLimitMB int64         `yaml:"memory_limit_mb" env:"MEMORY_LIMIT_MB"`
	CPULimit      float64       `yaml:"cpu_limit" env:"CPU_LIMIT"`
	NetworkMode   string        `yaml:"network_mode" env:"NETWORK_MODE"`
	WorkspaceRoot string        `yaml:"workspace_root" env:"WORKSPACE_ROOT"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// ProcessMode runs commands as host processes instead of in Docker.
	// Set via STRIX_SANDBOX_MODE; meant for tests and for running inside
	// an already-sandboxed environment.
	ProcessMode bool `yaml:"process_mode" env:"PROCESS_MODE"`
}

// ProxyConfig configures the embedded capture proxy.
type ProxyConfig struct {
	ListenAddr      string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	HistoryCapacity int    `yaml:"history_capacity" env:"HISTORY_CAPACITY"`
}

// BrowserConfig configures the headless browser sessions.
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" env:"HEADLESS"`
	ViewportWidth  int           `yaml:"viewport_width" env:"VIEWPORT_WIDTH"`
	ViewportHeight int           `yaml:"viewport_height" env:"VIEWPORT_HEIGHT"`
	NavTimeout     time.Duration `yaml:"nav_timeout" env:"NAV_TIMEOUT"`
}

// SearchConfig configures Firecrawl-backed web search.
type SearchConfig struct {
	FirecrawlAPIKey  string `yaml:"firecrawl_api_key" env:"FIRECRAWL_API_KEY"`
	FirecrawlBaseURL string `yaml:"firecrawl_base_url" env:"FIRECRAWL_BASE_URL"`
	MaxPages         int    `yaml:"max_pages" env:"MAX_PAGES"`
	MaxPageChars     int    `yaml:"max_page_chars" env:"MAX_PAGE_CHARS"`
}

// TelemetryConfig configures run artifacts and tracing.
type TelemetryConfig struct {
	RunDirRoot   string `yaml:"run_dir_root" env:"RUN_DIR_ROOT"`
	SQLiteStore  bool   `yaml:"sqlite_store" env:"SQLITE_STORE"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"SERVICE_NAME"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // json, console
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" env:"ENABLED"`
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
}

// Loader builds a Config.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a loader with the STRIX env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "STRIX"}
}

// WithConfigPath sets the YAML config file path. A missing file is not
// an error; defaults apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the env var prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load applies defaults, the YAML file, prefixed env vars and finally
// the well-known literal env names.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	applyWellKnownEnv(cfg)
	return cfg, nil
}

// applyWellKnownEnv maps the literal env names from the CLI contract
// onto config fields. These win over everything else.
func applyWellKnownEnv(cfg *Config) {
	if v := os.Getenv("STRIX_LLM"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_API_BASE"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("FIRECRAWL_API_KEY"); v != "" {
		cfg.Search.FirecrawlAPIKey = v
	}
	if v := os.Getenv("STRIX_SANDBOX_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Sandbox.ProcessMode = b
		}
	}
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	}
	return nil
}

// Validate checks the loaded config for values the scan cannot run
// without.
func (c *Config) Validate() error {
	var errs []string

	if c.LLM.Model == "" {
		errs = append(errs, "llm.model is empty (set STRIX_LLM, e.g. \"openai/gpt-5\")")
	}
	if c.LLM.APIKey == "" && !isLocalEndpoint(c.LLM.BaseURL) {
		errs = append(errs, "llm.api_key is empty (set LLM_API_KEY)")
	}
	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, "agent.max_iterations must be positive")
	}
	if c.Agent.WarningThreshold < 0 || c.Agent.WarningThreshold >= c.Agent.MaxIterations {
		errs = append(errs, "agent.warning_threshold must be below max_iterations")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}
	if c.Proxy.HistoryCapacity <= 0 {
		errs = append(errs, "proxy.history_capacity must be positive")
	}
	if !c.Sandbox.ProcessMode && c.Sandbox.Image == "" {
		errs = append(errs, "sandbox.image is empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation: %s", strings.Join(errs, "; "))
	}
	return nil
}

// isLocalEndpoint reports whether the base URL points at a loopback
// host, where running without an API key is normal (ollama, llama.cpp).
func isLocalEndpoint(base string) bool {
	if base == "" {
		return false
	}
	u, err := url.Parse(base)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
