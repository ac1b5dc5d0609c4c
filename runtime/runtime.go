// Package runtime provides the isolated execution environment a scan
// runs its commands in. The default backend is a Docker container; a
// host-process backend exists for tests and for running inside an
// already-isolated environment.
package runtime

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/strixlabs/strix/config"
	"github.com/strixlabs/strix/internal/metrics"
)

// ExecOptions configures a single command execution.
type ExecOptions struct {
	WorkDir string
	Env     map[string]string
	Stdin   io.Reader
	Timeout time.Duration
}

// ExecResult is the outcome of a command execution.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Sandbox is the execution environment a scan runs in.
type Sandbox interface {
	// Start prepares the environment (pulls the image, creates and
	// starts the container). Idempotent.
	Start(ctx context.Context) error
	// Exec runs a command and waits for completion.
	Exec(ctx context.Context, cmd []string, opts *ExecOptions) (*ExecResult, error)
	// WriteFile places content at path inside the environment.
	WriteFile(ctx context.Context, path string, content []byte) error
	// ReadFile reads a file from inside the environment.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// UploadDir copies a host directory tree into the environment.
	UploadDir(ctx context.Context, hostPath, destPath string) error
	// Workspace returns the working directory commands run in.
	Workspace() string
	// SetMetrics attaches a collector counting command executions.
	SetMetrics(c *metrics.Collector)
	// Close tears the environment down.
	Close(ctx context.Context) error
}

// execStatus labels one execution for the metrics counter.
func execStatus(res *ExecResult, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.TimedOut:
		return "timeout"
	case res.ExitCode != 0:
		return "error"
	}
	return "ok"
}

// New selects a backend from the config. ProcessMode skips Docker
// entirely.
func New(cfg config.SandboxConfig, scanID string, logger *zap.Logger) (Sandbox, error) {
	if cfg.ProcessMode {
		return NewProcessSandbox(cfg, logger)
	}
	return NewDockerSandbox(cfg, scanID, logger)
}
