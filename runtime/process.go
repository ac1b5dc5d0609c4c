package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/strixlabs/strix/config"
	"github.com/strixlabs/strix/internal/metrics"
)

// ProcessSandbox runs commands as host processes under a temporary
// workspace directory. It backs STRIX_SANDBOX_MODE and the test suite;
// it provides no isolation.
type ProcessSandbox struct {
	cfg       config.SandboxConfig
	logger    *zap.Logger
	workspace string
	metrics   *metrics.Collector
}

// NewProcessSandbox creates the host-process backend.
func NewProcessSandbox(cfg config.SandboxConfig, logger *zap.Logger) (*ProcessSandbox, error) {
	workspace, err := os.MkdirTemp("", "strix-workspace-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	logger.Info("process sandbox mode, no isolation", zap.String("workspace", workspace))
	return &ProcessSandbox{cfg: cfg, logger: logger, workspace: workspace}, nil
}

func (s *ProcessSandbox) Workspace() string { return s.workspace }

func (s *ProcessSandbox) SetMetrics(c *metrics.Collector) { s.metrics = c }

func (s *ProcessSandbox) Start(ctx context.Context) error { return nil }

func (s *ProcessSandbox) Exec(ctx context.Context, cmd []string, opts *ExecOptions) (*ExecResult, error) {
	res, err := s.exec(ctx, cmd, opts)
	if s.metrics != nil {
		s.metrics.RecordSandboxExec(execStatus(res, err))
	}
	return res, err
}

func (s *ProcessSandbox) exec(ctx context.Context, cmd []string, opts *ExecOptions) (*ExecResult, error) {
	if len(cmd) == 0 {
		return nil, errors.New("runtime: empty command")
	}
	if opts == nil {
		opts = &ExecOptions{}
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	c.Dir = s.workspace
	if opts.WorkDir != "" {
		c.Dir = s.resolve(opts.WorkDir)
	}
	c.Env = os.Environ()
	for k, v := range opts.Env {
		c.Env = append(c.Env, k+"="+v)
	}
	if opts.Stdin != nil {
		c.Stdin = opts.Stdin
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		result.TimedOut = true
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, err
	}
	return result, nil
}

func (s *ProcessSandbox) WriteFile(ctx context.Context, path string, content []byte) error {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, content, 0o644)
}

func (s *ProcessSandbox) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(s.resolve(path))
}

func (s *ProcessSandbox) UploadDir(ctx context.Context, hostPath, destPath string) error {
	dest := s.resolve(destPath)
	return filepath.Walk(hostPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(hostPath, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		dst, err := os.Create(target)
		if err != nil {
			return err
		}
		defer dst.Close()
		_, err = io.Copy(dst, src)
		return err
	})
}

func (s *ProcessSandbox) Close(ctx context.Context) error {
	return os.RemoveAll(s.workspace)
}

// resolve maps container-style absolute paths under the workspace so
// tool code can use the same paths against either backend.
func (s *ProcessSandbox) resolve(path string) string {
	if filepath.IsAbs(path) {
		if strings.HasPrefix(path, s.workspace) {
			return path
		}
		if rel, err := filepath.Rel(s.cfg.WorkspaceRoot, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.Join(s.workspace, rel)
		}
		return filepath.Join(s.workspace, filepath.Base(path))
	}
	return filepath.Join(s.workspace, path)
}
