package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strixlabs/strix/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "claude-sonnet-4-5"}, zap.NewNop())
}

func TestCompletion_SystemAndToolResultMapping(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "you are a pentest agent", req.System)
		// system message is extracted, tool result becomes a user tool_result block
		require.Len(t, req.Messages, 3)
		assert.Equal(t, "user", req.Messages[2].Role)
		require.Len(t, req.Messages[2].Content, 1)
		assert.Equal(t, "tool_result", req.Messages[2].Content[0].Type)
		assert.Equal(t, "call_1", req.Messages[2].Content[0].ToolUseID)
		assert.Greater(t, req.MaxTokens, 0, "max_tokens is mandatory")

		resp := wireResponse{
			ID:    "msg_1",
			Model: "claude-sonnet-4-5",
			Content: []wireContent{
				{Type: "text", Text: "found an injection point"},
				{Type: "tool_use", ID: "call_2", Name: "report_vulnerability", Input: json.RawMessage(`{"title":"SQLi"}`)},
			},
			StopReason: "tool_use",
			Usage:      &wireUsage{InputTokens: 20, OutputTokens: 12},
		}
		json.NewEncoder(w).Encode(resp)
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "you are a pentest agent"},
			{Role: llm.RoleUser, Content: "scan"},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "terminal_execute", Arguments: json.RawMessage(`{}`)}}},
			{Role: llm.RoleTool, ToolCallID: "call_1", Content: "uid=0(root)"},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	msg := resp.Choices[0].Message
	assert.Equal(t, "found an injection point", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "report_vulnerability", msg.ToolCalls[0].Name)
	assert.Equal(t, 32, resp.Usage.TotalTokens)
}

func TestStream_ToolUseAccumulation(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\n")
		fmt.Fprint(w, "data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-sonnet-4-5\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"tool_use\",\"id\":\"tc_1\",\"name\":\"web_search\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"query\\\":\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"CVE\\\"}\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_stop\",\"index\":0}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"tool_use\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\",\"usage\":{\"input_tokens\":5,\"output_tokens\":7}}\n\n")
	})

	ch, err := p.Stream(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var toolCalls []llm.ToolCall
	var finish string
	var usage *llm.ChatUsage
	for chunk := range ch {
		require.Nil(t, chunk.Err)
		toolCalls = append(toolCalls, chunk.Delta.ToolCalls...)
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}

	require.Len(t, toolCalls, 1)
	assert.Equal(t, "web_search", toolCalls[0].Name)
	assert.JSONEq(t, `{"query":"CVE"}`, string(toolCalls[0].Arguments))
	assert.Equal(t, "tool_use", finish)
	require.NotNil(t, usage)
	assert.Equal(t, 12, usage.TotalTokens)
}

func TestCompletion_QuotaKeywordIn400(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"Your Credit balance is too low"}}`)
	})
	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	})
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrQuotaExceeded, le.Code)
}

func TestCompletion_ErrorMapping(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`)
	})
	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	})
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrModelOverloaded, le.Code)
	assert.True(t, le.Retryable)
}
