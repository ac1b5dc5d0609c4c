package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// ReportInput carries everything the report renderer needs.
type ReportInput struct {
	ScanID       string
	Target       string
	TargetType   string
	Instruction  string
	StartedAt    time.Time
	FinishedAt   time.Time
	Iterations   int
	TokensUsed   int
	Success      bool
	Findings     []Vulnerability
	AgentSummary string // closing content from the agent's finish call
}

// RenderReport produces the final Markdown report.
func RenderReport(in ReportInput) string {
	var b strings.Builder

	b.WriteString("# Security Scan Report\n\n")
	fmt.Fprintf(&b, "- **Scan ID:** %s\n", in.ScanID)
	fmt.Fprintf(&b, "- **Target:** %s (%s)\n", in.Target, in.TargetType)
	if in.Instruction != "" {
		fmt.Fprintf(&b, "- **Instruction:** %s\n", in.Instruction)
	}
	fmt.Fprintf(&b, "- **Started:** %s\n", in.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Finished:** %s\n", in.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Duration:** %s\n", in.FinishedAt.Sub(in.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "- **Iterations:** %d\n", in.Iterations)
	fmt.Fprintf(&b, "- **Tokens used:** %d\n", in.TokensUsed)
	if in.Success {
		b.WriteString("- **Status:** completed\n")
	} else {
		b.WriteString("- **Status:** incomplete\n")
	}

	fmt.Fprintf(&b, "\n## Findings (%d)\n\n", len(in.Findings))
	if len(in.Findings) == 0 {
		b.WriteString("No vulnerabilities were reported.\n")
	}
	for _, f := range in.Findings {
		fmt.Fprintf(&b, "### [%s] %s\n\n", strings.ToUpper(string(f.Severity)), f.Title)
		b.WriteString(f.Description)
		b.WriteString("\n")
		if f.PoC != "" {
			b.WriteString("\n**Proof of concept:**\n\n```\n")
			b.WriteString(f.PoC)
			b.WriteString("\n```\n")
		}
		b.WriteString("\n")
	}

	if in.AgentSummary != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(in.AgentSummary)
		b.WriteString("\n")
	}

	return b.String()
}
