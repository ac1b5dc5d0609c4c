package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyTarget(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		in       string
		wantType TargetType
		wantVal  string
	}{
		{"https://example.com", TargetURL, "https://example.com"},
		{"http://10.0.0.5:8080/app", TargetURL, "http://10.0.0.5:8080/app"},
		{"example.com", TargetURL, "https://example.com"},
		{"git@github.com:acme/app.git", TargetRepository, "git@github.com:acme/app.git"},
		{"github.com/acme/app", TargetRepository, "github.com/acme/app"},
		{"https://github.com/acme/app.git", TargetRepository, "https://github.com/acme/app.git"},
		{dir, TargetLocalPath, dir},
	}
	for _, tc := range cases {
		got, err := ClassifyTarget(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.wantType, got.Type, tc.in)
		assert.Equal(t, tc.wantVal, got.Value, tc.in)
	}
}

func TestClassifyTarget_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "not a target"} {
		_, err := ClassifyTarget(in)
		assert.Error(t, err, "%q", in)
	}
}

func TestPrompts(t *testing.T) {
	target := Target{Value: "https://example.com", Type: TargetURL}

	sys := systemPrompt(target)
	assert.Contains(t, sys, "https://example.com")
	assert.Contains(t, sys, "finish_scan")
	assert.Contains(t, sys, "report_vulnerability")

	task := taskPrompt(target, "Focus on the login flow.")
	assert.Contains(t, task, "Focus on the login flow.")

	task = taskPrompt(target, "")
	assert.Contains(t, task, "general security assessment")

	repo := taskPrompt(Target{Value: "git@github.com:acme/app.git", Type: TargetRepository}, "")
	assert.Contains(t, repo, "Clone the repository")
}
