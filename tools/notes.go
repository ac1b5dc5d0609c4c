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

type notesArgs struct {
	Action  string `json:"action"`
	Content string `json:"content,omitempty"`
}

// NewNotesTool appends to and reads back the working notes kept in the
// run directory.
func NewNotesTool(tracer *telemetry.Tracer, logger *zap.Logger) (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params notesArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid scan_notes arguments: %w", err)
		}

		switch params.Action {
		case "append":
			if strings.TrimSpace(params.Content) == "" {
				return nil, fmt.Errorf("content is required for append")
			}
			n, err := tracer.AppendNote(params.Content)
			if err != nil {
				return nil, err
			}
			return json.Marshal(map[string]any{"appended": true, "note": n})
		case "list":
			notes, err := tracer.Notes()
			if err != nil {
				return nil, err
			}
			if notes == "" {
				notes = "No notes yet."
			}
			return json.Marshal(map[string]string{"notes": truncateOutput(notes)})
		default:
			return nil, fmt.Errorf("unknown action %q (expected append or list)", params.Action)
		}
	}

	meta := Metadata{
		Schema: llm.ToolSchema{
			Name:        "scan_notes",
			Description: "Keep working notes across the scan. Use append to record a finding-in-progress or hypothesis, list to read notes back.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {"type": "string", "enum": ["append", "list"]},
					"content": {"type": "string", "description": "Note text, required for append"}
				},
				"required": ["action"]
			}`),
		},
		Timeout: 10 * time.Second,
	}
	return fn, meta
}
