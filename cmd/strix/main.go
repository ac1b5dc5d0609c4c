// Strix command line entry point.
//
// Usage:
//
//	strix --target https://example.com                 # scan with live TUI
//	strix -t ./app --instruction "focus on auth" -n    # headless scan
//	strix version                                      # show version
//	strix doctor                                       # check local prerequisites
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/strixlabs/strix"
	"github.com/strixlabs/strix/agent"
	"github.com/strixlabs/strix/config"
	"github.com/strixlabs/strix/runtime"
	"github.com/strixlabs/strix/tui"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// .env is optional; real env vars win
	_ = godotenv.Load()

	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			return
		case "doctor":
			runDoctor()
			return
		case "help", "-h", "--help":
			printUsage()
			return
		}
	}
	runScan(args)
}

func runScan(args []string) {
	fs := flag.NewFlagSet("strix", flag.ExitOnError)
	fs.Usage = printUsage

	var target, instruction, configPath string
	var headless bool
	fs.StringVar(&target, "target", "", "scan target: URL, git repository or local path")
	fs.StringVar(&target, "t", "", "shorthand for --target")
	fs.StringVar(&instruction, "instruction", "", "focus the scan on specific functionality or issue classes")
	fs.StringVar(&configPath, "config", "", "path to a YAML config file")
	fs.BoolVar(&headless, "n", false, "headless mode: no TUI, never pause for input")
	fs.BoolVar(&headless, "no-tui", false, "shorthand alias of -n")
	fs.Parse(args)

	if target == "" {
		fmt.Fprintln(os.Stderr, "Error: --target is required")
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.NewLoader().WithConfigPath(configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if headless {
		cfg.Agent.NonInteractive = true
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	scanner, err := strix.NewScanner(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := strix.RunOptions{Target: target, Instruction: instruction}

	var outcome *strix.RunOutcome
	var runErr error
	if cfg.Agent.NonInteractive {
		outcome, runErr = scanner.Run(ctx, opts)
	} else {
		outcome, runErr = runWithTUI(ctx, stop, scanner, opts, cfg, logger)
	}

	if outcome != nil {
		printOutcome(outcome)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Scan error: %v\n", runErr)
		os.Exit(1)
	}
	if outcome == nil || outcome.Result == nil || !outcome.Result.Success {
		os.Exit(1)
	}
}

// runWithTUI drives the scan in the background while bubbletea owns
// the terminal. Quitting the TUI cancels the scan.
func runWithTUI(ctx context.Context, cancel context.CancelFunc, scanner *strix.Scanner, opts strix.RunOptions, cfg *config.Config, logger *zap.Logger) (*strix.RunOutcome, error) {
	bus := agent.NewEventBus(logger)
	defer bus.Stop()
	opts.Bus = bus

	type scanDone struct {
		outcome *strix.RunOutcome
		err     error
	}
	done := make(chan scanDone, 1)
	go func() {
		outcome, err := scanner.Run(ctx, opts)
		done <- scanDone{outcome, err}
	}()

	if err := tui.Run(bus, opts.Target, cfg.Agent.MaxIterations, cancel); err != nil {
		logger.Warn("tui terminated", zap.Error(err))
		cancel()
	}
	d := <-done
	return d.outcome, d.err
}

func printOutcome(outcome *strix.RunOutcome) {
	if outcome.Result != nil {
		status := "incomplete"
		if outcome.Result.Success {
			status = "completed"
		}
		fmt.Printf("Scan %s: %s, %d findings in %d iterations\n",
			outcome.ScanID, status, len(outcome.Result.Findings), outcome.Result.Iterations)
	}
	if outcome.ReportPath != "" {
		fmt.Printf("Report: %s\n", outcome.ReportPath)
	}
	if outcome.RunDir != "" {
		fmt.Printf("Run directory: %s\n", outcome.RunDir)
	}
}

// runDoctor checks the local prerequisites a scan needs.
func runDoctor() {
	failed := false

	check := func(name string, err error) {
		if err != nil {
			failed = true
			fmt.Printf("✗ %s: %v\n", name, err)
			return
		}
		fmt.Printf("✓ %s\n", name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	check("Docker daemon reachable", runtime.CheckDocker(ctx))

	cfg, err := config.NewLoader().Load()
	if err == nil {
		err = cfg.Validate()
	}
	check("Configuration valid", err)

	if os.Getenv("FIRECRAWL_API_KEY") == "" {
		fmt.Println("- FIRECRAWL_API_KEY not set, web_search will be unavailable")
	}

	if failed {
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("strix %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`Strix - autonomous security scanning agent

Usage:
  strix [options]            Run a scan
  strix version              Show version information
  strix doctor               Check Docker and configuration
  strix help                 Show this help message

Options:
  --target, -t <target>      URL, git repository or local path to scan (required)
  --instruction <text>       Focus the scan on specific functionality
  --config <path>            YAML configuration file
  -n, --no-tui               Headless mode: no TUI, never pause for input

Environment:
  STRIX_LLM                  Model id, e.g. openai/gpt-5 or anthropic/claude-sonnet-4-5
  LLM_API_KEY                API key for the model provider
  LLM_API_BASE               Override the provider endpoint (optional)
  FIRECRAWL_API_KEY          Enables the web_search tool (optional)`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
