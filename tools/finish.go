package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/strixlabs/strix/llm"
	"github.com/strixlabs/strix/telemetry"
)

// FinishSignal carries the completion request out of the tool and into
// the scan loop.
type FinishSignal struct {
	mu      sync.Mutex
	done    bool
	success bool
	summary string
}

// Done reports whether finish_scan has been called, with the success
// flag and summary it carried.
func (f *FinishSignal) Done() (done, success bool, summary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done, f.success, f.summary
}

func (f *FinishSignal) set(success bool, summary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = true
	f.success = success
	f.summary = summary
}

type finishArgs struct {
	Content string `json:"content"`
	Success bool   `json:"success"`
}

// NewFinishTool ends the scan. The summary the model passes becomes
// the report's closing section.
func NewFinishTool(signal *FinishSignal, vulns *telemetry.Vulnerabilities, logger *zap.Logger) (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params finishArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid finish_scan arguments: %w", err)
		}
		if strings.TrimSpace(params.Content) == "" {
			return nil, fmt.Errorf("content is required: summarize what was tested and what was found")
		}

		signal.set(params.Success, params.Content)
		logger.Info("scan finished by agent",
			zap.Bool("success", params.Success),
			zap.Int("vulnerabilities", vulns.Count()))

		return json.Marshal(map[string]any{
			"finished":              true,
			"vulnerabilities_found": vulns.Count(),
		})
	}

	meta := Metadata{
		Schema: llm.ToolSchema{
			Name:        "finish_scan",
			Description: "End the scan. Call this once the assessment is complete, with a summary of what was tested, what was found and what remains untested. Set success=false if the assessment could not be completed.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"content": {"type": "string", "description": "Final summary of the assessment"},
					"success": {"type": "boolean", "description": "Whether the assessment completed as intended"}
				},
				"required": ["content", "success"]
			}`),
		},
		Timeout: 10 * time.Second,
	}
	return fn, meta
}
