package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/strixlabs/strix/llm"
	"github.com/strixlabs/strix/proxy"
)

type proxyHistoryArgs struct {
	Host   string `json:"host,omitempty"`
	Method string `json:"method,omitempty"`
	Status int    `json:"status,omitempty"`
	Path   string `json:"path,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// NewProxyHistoryTool lists captured HTTP exchanges.
func NewProxyHistoryTool(srv *proxy.Server, logger *zap.Logger) (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params proxyHistoryArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid proxy_history arguments: %w", err)
		}
		limit := params.Limit
		if limit <= 0 || limit > 100 {
			limit = 50
		}
		entries := srv.History().List(proxy.Filter{
			Host:        params.Host,
			Method:      params.Method,
			Status:      params.Status,
			PathPattern: params.Path,
		}, limit)

		lines := make([]string, 0, len(entries))
		for _, e := range entries {
			lines = append(lines, e.Summary())
		}
		return json.Marshal(map[string]any{"count": len(lines), "entries": lines})
	}
	return fn, Metadata{
		Schema: llm.ToolSchema{
			Name:        "proxy_history",
			Description: "List HTTP exchanges captured by the proxy, newest last. Filter by host, method, status or path substring. Use proxy_request with an id for the full exchange.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"host": {"type": "string", "description": "Substring match on the host"},
					"method": {"type": "string", "description": "HTTP method"},
					"status": {"type": "integer", "description": "Response status code"},
					"path": {"type": "string", "description": "Substring match on path and query"},
					"limit": {"type": "integer", "description": "Max entries, default 50"}
				}
			}`),
		},
		Timeout: 10 * time.Second,
	}
}

type proxyRequestArgs struct {
	ID int64 `json:"id"`
}

// NewProxyRequestTool returns the full request/response pair for one
// exchange.
func NewProxyRequestTool(srv *proxy.Server, logger *zap.Logger) (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params proxyRequestArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid proxy_request arguments: %w", err)
		}
		e := srv.History().Get(params.ID)
		if e == nil {
			return nil, fmt.Errorf("no captured request with id %d", params.ID)
		}
		return json.Marshal(map[string]any{
			"id":               e.ID,
			"method":           e.Method,
			"url":              e.URL,
			"request_headers":  e.ReqHeaders,
			"request_body":     truncateOutput(string(e.ReqBody)),
			"status":           e.Status,
			"response_headers": e.RespHeaders,
			"response_body":    truncateOutput(string(e.RespBody)),
		})
	}
	return fn, Metadata{
		Schema: llm.ToolSchema{
			Name:        "proxy_request",
			Description: "Fetch the full request and response for a captured exchange by id.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {"id": {"type": "integer", "description": "Exchange id from proxy_history"}},
				"required": ["id"]
			}`),
		},
		Timeout: 10 * time.Second,
	}
}

type proxyReplayArgs struct {
	ID      int64             `json:"id"`
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// NewProxyReplayTool re-sends a captured request with modifications.
func NewProxyReplayTool(srv *proxy.Server, logger *zap.Logger) (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params proxyReplayArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid proxy_replay arguments: %w", err)
		}

		mods := proxy.ReplayMods{
			Method:  params.Method,
			URL:     params.URL,
			Headers: params.Headers,
		}
		if params.Body != "" {
			mods.Body = []byte(params.Body)
		}

		logger.Debug("proxy_replay", zap.Int64("id", params.ID))
		e, err := srv.Replay(ctx, params.ID, mods)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{
			"id":               e.ID,
			"status":           e.Status,
			"response_headers": e.RespHeaders,
			"response_body":    truncateOutput(string(e.RespBody)),
		})
	}
	return fn, Metadata{
		Schema: llm.ToolSchema{
			Name:        "proxy_replay",
			Description: "Replay a captured request, optionally overriding method, URL, headers (empty value deletes a header) or body. The new exchange is recorded too.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "integer", "description": "Exchange id from proxy_history"},
					"method": {"type": "string"},
					"url": {"type": "string"},
					"headers": {"type": "object", "additionalProperties": {"type": "string"}},
					"body": {"type": "string"}
				},
				"required": ["id"]
			}`),
		},
		Timeout: 30 * time.Second,
	}
}
