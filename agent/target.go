package agent

import (
	"fmt"
	"os"
	"strings"
)

// TargetType classifies what the agent is pointed at.
type TargetType string

const (
	TargetURL        TargetType = "url"
	TargetLocalPath  TargetType = "local_path"
	TargetRepository TargetType = "repository"
)

// Target is the scan subject.
type Target struct {
	Value string
	Type  TargetType
}

// ClassifyTarget decides whether a target string is a web URL, a git
// repository or a local path. Local paths win so a directory named
// like a domain still scans as code.
func ClassifyTarget(value string) (Target, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Target{}, fmt.Errorf("target is required")
	}

	if _, err := os.Stat(value); err == nil {
		return Target{Value: value, Type: TargetLocalPath}, nil
	}

	if strings.HasPrefix(value, "git@") || strings.HasSuffix(value, ".git") {
		return Target{Value: value, Type: TargetRepository}, nil
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return Target{Value: value, Type: TargetURL}, nil
	}
	// bare host/org/repo reads as a git repository
	if parts := strings.Split(value, "/"); len(parts) == 3 &&
		strings.Contains(parts[0], ".") && !strings.ContainsAny(value, " \t") {
		return Target{Value: value, Type: TargetRepository}, nil
	}
	// bare domain, assume https
	if strings.Contains(value, ".") && !strings.ContainsAny(value, " \t") {
		return Target{Value: "https://" + value, Type: TargetURL}, nil
	}
	return Target{}, fmt.Errorf("cannot classify target %q: not a URL, git repository or existing path", value)
}
