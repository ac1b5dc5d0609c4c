package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/strixlabs/strix/llm"
	"github.com/strixlabs/strix/telemetry"
)

type reportArgs struct {
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	PoC         string `json:"poc,omitempty"`
}

// NewReportTool records a vulnerability finding. onReport is invoked
// for new titles only, so metrics and persistence see each finding
// once.
func NewReportTool(vulns *telemetry.Vulnerabilities, onReport func(telemetry.Vulnerability), logger *zap.Logger) (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params reportArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid report_vulnerability arguments: %w", err)
		}
		if strings.TrimSpace(params.Title) == "" {
			return nil, fmt.Errorf("title is required")
		}
		if strings.TrimSpace(params.Description) == "" {
			return nil, fmt.Errorf("description is required")
		}
		sev, err := telemetry.ParseSeverity(params.Severity)
		if err != nil {
			return nil, err
		}

		vuln := telemetry.Vulnerability{
			Title:       params.Title,
			Severity:    sev,
			Description: params.Description,
			PoC:         params.PoC,
			ReportedAt:  time.Now(),
		}
		isNew := vulns.Add(vuln)
		if isNew && onReport != nil {
			onReport(vuln)
		}

		logger.Info("vulnerability reported",
			zap.String("title", params.Title),
			zap.String("severity", string(sev)),
			zap.Bool("new", isNew))

		return json.Marshal(map[string]any{
			"recorded": true,
			"new":      isNew,
			"total":    vulns.Count(),
		})
	}

	meta := Metadata{
		Schema: llm.ToolSchema{
			Name:        "report_vulnerability",
			Description: "Record a confirmed vulnerability. Reporting the same title again updates the earlier finding instead of duplicating it.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"title": {"type": "string", "description": "Short unique title"},
					"severity": {"type": "string", "enum": ["critical", "high", "medium", "low", "info"]},
					"description": {"type": "string", "description": "What the issue is, where, and its impact"},
					"poc": {"type": "string", "description": "Proof of concept: request, payload or steps"}
				},
				"required": ["title", "severity", "description"]
			}`),
		},
		Timeout: 10 * time.Second,
	}
	return fn, meta
}
