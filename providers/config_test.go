package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseModelID(t *testing.T) {
	cases := []struct {
		id           string
		wantProvider string
		wantModel    string
	}{
		{"openai/gpt-5", "openai", "gpt-5"},
		{"anthropic/claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5"},
		{"gpt-4o", "openai", "gpt-4o"},
		{"OpenRouter/some/model", "openrouter", "some/model"},
	}
	for _, tc := range cases {
		provider, model := ParseModelID(tc.id)
		assert.Equal(t, tc.wantProvider, provider, tc.id)
		assert.Equal(t, tc.wantModel, model, tc.id)
	}
}

func TestNew_SelectsAdapter(t *testing.T) {
	logger := zap.NewNop()

	p, err := New("anthropic/claude-sonnet-4-5", Config{APIKey: "k"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	p, err = New("openai/gpt-5", Config{APIKey: "k"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	// unknown prefix falls back to the OpenAI-compatible adapter
	p, err = New("groq/llama-4", Config{APIKey: "k", BaseURL: "http://localhost:9999/v1"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = New("", Config{}, logger)
	require.Error(t, err)
}
