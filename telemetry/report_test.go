package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderReport(t *testing.T) {
	start := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	out := RenderReport(ReportInput{
		ScanID:      "abc123",
		Target:      "https://example.com",
		TargetType:  "url",
		Instruction: "focus on auth",
		StartedAt:   start,
		FinishedAt:  start.Add(12 * time.Minute),
		Iterations:  18,
		TokensUsed:  45000,
		Success:     true,
		Findings: []Vulnerability{
			{Title: "SQLi in /login", Severity: SeverityCritical, Description: "The username field...", PoC: "' OR 1=1--"},
			{Title: "Verbose errors", Severity: SeverityLow, Description: "Stack traces leak paths."},
		},
		AgentSummary: "Two issues found, one critical.",
	})

	assert.Contains(t, out, "# Security Scan Report")
	assert.Contains(t, out, "https://example.com (url)")
	assert.Contains(t, out, "focus on auth")
	assert.Contains(t, out, "## Findings (2)")
	assert.Contains(t, out, "### [CRITICAL] SQLi in /login")
	assert.Contains(t, out, "' OR 1=1--")
	assert.Contains(t, out, "### [LOW] Verbose errors")
	assert.Contains(t, out, "Two issues found, one critical.")
	assert.Contains(t, out, "- **Status:** completed")

	// critical section comes before low
	assert.Less(t, strings.Index(out, "[CRITICAL]"), strings.Index(out, "[LOW]"))
}

func TestRenderReport_NoFindings(t *testing.T) {
	out := RenderReport(ReportInput{ScanID: "x", Target: "t", TargetType: "url"})
	assert.Contains(t, out, "No vulnerabilities were reported.")
	assert.Contains(t, out, "- **Status:** incomplete")
}
