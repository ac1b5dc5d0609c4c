package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/strixlabs/strix/config"
	"github.com/strixlabs/strix/internal/metrics"
)

// DockerSandbox runs scan commands inside a long-lived container. The
// container runs "sleep infinity" and every command is a docker exec
// against it, so installed tools and written files persist across
// calls within one scan.
type DockerSandbox struct {
	mu     sync.Mutex
	cfg    config.SandboxConfig
	cli    *client.Client
	logger *zap.Logger

	scanID      string
	containerID string
	lastUsed    time.Time
	closed      bool
	stopCleanup context.CancelFunc
	metrics     *metrics.Collector
}

// NewDockerSandbox connects to the Docker daemon and verifies it is
// reachable. The container itself is created lazily by Start.
func NewDockerSandbox(cfg config.SandboxConfig, scanID string, logger *zap.Logger) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create Docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("%w: %v", ErrDockerNotAvailable, err)
	}

	return &DockerSandbox{
		cfg:    cfg,
		cli:    cli,
		logger: logger,
		scanID: scanID,
	}, nil
}

// CheckDocker reports whether the Docker daemon is reachable. Used by
// the doctor command.
func CheckDocker(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("create Docker client: %w", err)
	}
	defer cli.Close()
	if _, err := cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDockerNotAvailable, err)
	}
	return nil
}

func (s *DockerSandbox) Workspace() string { return s.cfg.WorkspaceRoot }

func (s *DockerSandbox) SetMetrics(c *metrics.Collector) { s.metrics = c }

// Start ensures the image is present and the container is running.
func (s *DockerSandbox) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.containerID != "" {
		return nil
	}

	if err := s.ensureImage(ctx); err != nil {
		return err
	}

	name := "strix-sandbox-" + s.scanID
	containerConfig := &container.Config{
		Image:      s.cfg.Image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: s.cfg.WorkspaceRoot,
	}
	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(s.cfg.NetworkMode),
		Resources: container.Resources{
			Memory:   s.cfg.MemoryLimitMB * 1024 * 1024,
			NanoCPUs: int64(s.cfg.CPULimit * 1e9),
		},
		// Scanning tools need raw sockets (nmap, traceroute), so
		// capabilities stay at the Docker default set plus NET_RAW.
		SecurityOpt: []string{"no-new-privileges"},
		CapAdd:      []string{"NET_RAW"},
	}

	resp, err := s.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		s.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("start container: %w", err)
	}

	s.containerID = resp.ID
	s.lastUsed = time.Now()
	s.logger.Info("sandbox container started",
		zap.String("container", resp.ID[:12]),
		zap.String("image", s.cfg.Image))

	if s.cfg.IdleTimeout > 0 {
		cleanupCtx, cancel := context.WithCancel(context.Background())
		s.stopCleanup = cancel
		go s.idleLoop(cleanupCtx)
	}
	return nil
}

func (s *DockerSandbox) ensureImage(ctx context.Context) error {
	if _, _, err := s.cli.ImageInspectWithRaw(ctx, s.cfg.Image); err == nil {
		return nil
	}

	s.logger.Info("pulling sandbox image", zap.String("image", s.cfg.Image))
	reader, err := s.cli.ImagePull(ctx, s.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", s.cfg.Image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull image %s: %w", s.cfg.Image, err)
	}
	return nil
}

// Exec runs a command via docker exec, demuxing stdout/stderr and
// reading the exit code from exec inspect.
func (s *DockerSandbox) Exec(ctx context.Context, cmd []string, opts *ExecOptions) (*ExecResult, error) {
	res, err := s.exec(ctx, cmd, opts)
	if s.metrics != nil {
		s.metrics.RecordSandboxExec(execStatus(res, err))
	}
	return res, err
}

func (s *DockerSandbox) exec(ctx context.Context, cmd []string, opts *ExecOptions) (*ExecResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	id := s.containerID
	s.lastUsed = time.Now()
	s.mu.Unlock()

	if id == "" {
		return nil, ErrNotStarted
	}

	if opts == nil {
		opts = &ExecOptions{}
	}
	if opts.WorkDir == "" {
		opts.WorkDir = s.cfg.WorkspaceRoot
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	execResp, err := s.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   opts.WorkDir,
		Env:          envToSlice(opts.Env),
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  opts.Stdin != nil,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec: %w", err)
	}

	attach, err := s.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	if opts.Stdin != nil {
		go func() {
			io.Copy(attach.Conn, opts.Stdin)
			attach.CloseWrite()
		}()
	}

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return &ExecResult{
				ExitCode: -1,
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				Duration: time.Since(start),
				TimedOut: true,
			}, nil
		}
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("read exec output: %w", err)
		}
	}

	inspect, err := s.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec: %w", err)
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}, nil
}

// WriteFile copies content into the container via a single-entry tar
// stream.
func (s *DockerSandbox) WriteFile(ctx context.Context, path string, content []byte) error {
	s.mu.Lock()
	id := s.containerID
	s.mu.Unlock()
	if id == "" {
		return ErrNotStarted
	}

	dir := filepath.Dir(path)
	if dir != "/" && dir != "." {
		if _, err := s.Exec(ctx, []string{"mkdir", "-p", dir}, nil); err != nil {
			return fmt.Errorf("create parent directory: %w", err)
		}
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: filepath.Base(path),
		Mode: 0o644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := tw.Write(content); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}

	return s.cli.CopyToContainer(ctx, id, dir, &buf, container.CopyToContainerOptions{})
}

// ReadFile extracts a single file from the container.
func (s *DockerSandbox) ReadFile(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	id := s.containerID
	s.mu.Unlock()
	if id == "" {
		return nil, ErrNotStarted
	}

	reader, _, err := s.cli.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	if _, err := tr.Next(); err != nil {
		return nil, err
	}
	return io.ReadAll(tr)
}

// UploadDir copies a host directory tree into the container. Used to
// place a local target source under the workspace before the scan.
func (s *DockerSandbox) UploadDir(ctx context.Context, hostPath, destPath string) error {
	s.mu.Lock()
	id := s.containerID
	s.mu.Unlock()
	if id == "" {
		return ErrNotStarted
	}

	if _, err := s.Exec(ctx, []string{"mkdir", "-p", destPath}, nil); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	archive, err := tarDirectory(hostPath)
	if err != nil {
		return err
	}
	return s.cli.CopyToContainer(ctx, id, destPath, archive, container.CopyToContainerOptions{})
}

// Close stops and removes the container.
func (s *DockerSandbox) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.stopCleanup != nil {
		s.stopCleanup()
	}

	if s.containerID != "" {
		if err := s.cli.ContainerStop(ctx, s.containerID, container.StopOptions{}); err != nil {
			if !strings.Contains(err.Error(), "is not running") {
				s.logger.Warn("stop container", zap.Error(err))
			}
		}
		if err := s.cli.ContainerRemove(ctx, s.containerID, container.RemoveOptions{Force: true}); err != nil {
			s.logger.Warn("remove container", zap.Error(err))
		}
		s.containerID = ""
	}
	return s.cli.Close()
}

// idleLoop stops the container after IdleTimeout without activity.
// A later Exec fails; the scan loop reports it as a sandbox error.
func (s *DockerSandbox) idleLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			idle := time.Since(s.lastUsed)
			id := s.containerID
			s.mu.Unlock()
			if id != "" && idle > s.cfg.IdleTimeout {
				s.logger.Info("stopping idle sandbox container", zap.Duration("idle", idle))
				stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.cli.ContainerStop(stopCtx, id, container.StopOptions{})
				cancel()
				return
			}
		}
	}
}

// tarDirectory streams a directory tree as a tar archive rooted at the
// directory's contents.
func tarDirectory(root string) (io.Reader, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

func envToSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
