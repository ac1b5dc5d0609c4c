package tokenizer

import (
	"unicode/utf8"

	"github.com/strixlabs/strix/llm"
)

// Estimator is a character-count token estimator for models without a
// known tiktoken encoding. It distinguishes CJK from ASCII for better
// accuracy than a naive len/4.
type Estimator struct {
	model     string
	maxTokens int
}

// NewEstimator creates an estimator with the given context window.
func NewEstimator(model string, maxTokens int) *Estimator {
	if maxTokens <= 0 {
		maxTokens = defaultContextWindow
	}
	return &Estimator{model: model, maxTokens: maxTokens}
}

func (e *Estimator) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	// CJK ~1.5 chars/token, ASCII ~4 chars/token.
	estimated := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

func (e *Estimator) CountMessages(messages []llm.Message) (int, error) {
	total := 0
	for _, msg := range messages {
		n, err := e.CountTokens(msg.Content)
		if err != nil {
			return 0, err
		}
		total += n + 4
		for _, tc := range msg.ToolCalls {
			argTokens, _ := e.CountTokens(string(tc.Arguments))
			total += argTokens + 4
		}
	}
	return total + 3, nil
}

func (e *Estimator) MaxTokens() int { return e.maxTokens }

func (e *Estimator) Model() string { return e.model }

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3040 && r <= 0x30FF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}
