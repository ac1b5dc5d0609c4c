// Package providers contains the concrete LLM provider adapters and the
// factory that maps a model id like "openai/gpt-5" to one of them.
package providers

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/strixlabs/strix/llm"
	"github.com/strixlabs/strix/providers/anthropic"
	"github.com/strixlabs/strix/providers/openai"
)

// Config carries the credentials and endpoint for a provider instance.
type Config struct {
	APIKey  string
	BaseURL string        // empty selects the provider's default endpoint
	Model   string        // bare model name, without the provider prefix
	Timeout time.Duration
}

// ParseModelID splits a "provider/model" id. An id without a slash is
// treated as an OpenAI-compatible model name.
func ParseModelID(id string) (provider, model string) {
	id = strings.TrimSpace(id)
	if i := strings.Index(id, "/"); i > 0 {
		return strings.ToLower(id[:i]), id[i+1:]
	}
	return "openai", id
}

// New builds a provider for a model id. Unknown provider prefixes fall back
// to the OpenAI-compatible adapter, which covers most gateways when BaseURL
// points at them.
func New(modelID string, cfg Config, logger *zap.Logger) (llm.Provider, error) {
	name, model := ParseModelID(modelID)
	if model == "" {
		return nil, fmt.Errorf("empty model in model id %q", modelID)
	}
	cfg.Model = model

	switch name {
	case "anthropic", "claude":
		return anthropic.New(anthropic.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger), nil
	default:
		return openai.New(openai.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger), nil
	}
}
