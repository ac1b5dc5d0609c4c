// Package tokenizer provides token counting for context-window bookkeeping.
// OpenAI-family models get exact tiktoken counts, everything else a
// character-based estimate.
package tokenizer

import "github.com/strixlabs/strix/llm"

// Tokenizer counts tokens for budget tracking.
type Tokenizer interface {
	CountTokens(text string) (int, error)
	CountMessages(messages []llm.Message) (int, error)
	MaxTokens() int
	Model() string
}

// ForModel returns the best available tokenizer for a model id.
// Unknown models fall back to the estimator.
func ForModel(model string) Tokenizer {
	if enc, ok := modelEncodings[model]; ok {
		return newTiktokenTokenizer(model, enc.encoding, enc.maxTokens)
	}
	return NewEstimator(model, defaultContextWindow)
}
