package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strixlabs/strix/llm"
	"github.com/strixlabs/strix/runtime"
)

type pythonArgs struct {
	Code    string `json:"code"`
	Timeout int    `json:"timeout_seconds,omitempty"`
}

// NewPythonTool writes a script into the sandbox and runs it with
// python3.
func NewPythonTool(sandbox runtime.Sandbox, logger *zap.Logger) (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params pythonArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid python_execute arguments: %w", err)
		}
		if params.Code == "" {
			return nil, fmt.Errorf("code is required")
		}

		scriptPath := path.Join(sandbox.Workspace(), ".strix", "script_"+uuid.NewString()[:8]+".py")
		if err := sandbox.WriteFile(ctx, scriptPath, []byte(params.Code)); err != nil {
			return nil, fmt.Errorf("write script: %w", err)
		}

		opts := &runtime.ExecOptions{}
		if params.Timeout > 0 {
			opts.Timeout = time.Duration(params.Timeout) * time.Second
		}

		logger.Debug("python_execute", zap.String("script", scriptPath))
		res, err := sandbox.Exec(ctx, []string{"python3", scriptPath}, opts)
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
			Name:        "python_execute",
			Description: "Run a Python 3 script inside the sandbox and capture stdout, stderr and the exit code.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"code": {"type": "string", "description": "Python source to execute"},
					"timeout_seconds": {"type": "integer", "description": "Kill the script after this many seconds"}
				},
				"required": ["code"]
			}`),
		},
		Timeout: 5 * time.Minute,
	}
	return fn, meta
}
