package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/strixlabs/strix/llm"
	"github.com/strixlabs/strix/runtime"
)

const maxToolOutput = 20000

// truncateOutput caps tool output handed back to the model.
func truncateOutput(s string) string {
	if len(s) <= maxToolOutput {
		return s
	}
	return s[:maxToolOutput] + "\n... [output truncated]"
}

type terminalArgs struct {
	Command string            `json:"command"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout int               `json:"timeout_seconds,omitempty"`
}

type terminalResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// NewTerminalTool runs shell commands in the sandbox.
func NewTerminalTool(sandbox runtime.Sandbox, logger *zap.Logger) (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params terminalArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid terminal_execute arguments: %w", err)
		}
		if params.Command == "" {
			return nil, fmt.Errorf("command is required")
		}

		opts := &runtime.ExecOptions{
			WorkDir: params.Cwd,
			Env:     params.Env,
		}
		if params.Timeout > 0 {
			opts.Timeout = time.Duration(params.Timeout) * time.Second
		}

		logger.Debug("terminal_execute", zap.String("command", params.Command))
		res, err := sandbox.Exec(ctx, []string{"sh", "-c", params.Command}, opts)
		if err != nil {
			return nil, err
		}
		return json.Marshal(terminalResult{
			ExitCode: res.ExitCode,
			Stdout:   truncateOutput(res.Stdout),
			Stderr:   truncateOutput(res.Stderr),
			TimedOut: res.TimedOut,
		})
	}

	meta := Metadata{
		Schema: llm.ToolSchema{
			Name:        "terminal_execute",
			Description: "Run a shell command inside the sandbox. Output is truncated past 20000 characters.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "description": "Shell command to run"},
					"cwd": {"type": "string", "description": "Working directory (defaults to the workspace)"},
					"env": {"type": "object", "additionalProperties": {"type": "string"}, "description": "Extra environment variables"},
					"timeout_seconds": {"type": "integer", "description": "Kill the command after this many seconds"}
				},
				"required": ["command"]
			}`),
		},
		Timeout: 5 * time.Minute,
	}
	return fn, meta
}
