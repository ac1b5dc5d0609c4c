package runtime

import "errors"

var (
	// ErrDockerNotAvailable is returned when the Docker daemon cannot be reached.
	ErrDockerNotAvailable = errors.New("runtime: Docker not available")

	// ErrNotStarted is returned when the sandbox is used before Start.
	ErrNotStarted = errors.New("runtime: sandbox not started")

	// ErrClosed is returned when the sandbox has been torn down.
	ErrClosed = errors.New("runtime: sandbox closed")
)
