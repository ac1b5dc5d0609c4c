package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/strixlabs/strix/llm"
)

const defaultContextWindow = 128000

// modelEncodings maps model ids to their tiktoken encoding and context size.
var modelEncodings = map[string]struct {
	encoding  string
	maxTokens int
}{
	"gpt-5":         {encoding: "o200k_base", maxTokens: 272000},
	"gpt-5-mini":    {encoding: "o200k_base", maxTokens: 272000},
	"gpt-4o":        {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4o-mini":   {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4-turbo":   {encoding: "cl100k_base", maxTokens: 128000},
	"gpt-4":         {encoding: "cl100k_base", maxTokens: 8192},
	"gpt-3.5-turbo": {encoding: "cl100k_base", maxTokens: 16385},
}

type tiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

func newTiktokenTokenizer(model, encoding string, maxTokens int) *tiktokenTokenizer {
	return &tiktokenTokenizer{model: model, encoding: encoding, maxTokens: maxTokens}
}

// init is lazy: loading an encoding pulls the BPE ranks into memory.
func (t *tiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("load encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *tiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *tiktokenTokenizer) CountMessages(messages []llm.Message) (int, error) {
	total := 0
	for _, msg := range messages {
		n, err := t.CountTokens(msg.Content)
		if err != nil {
			return 0, err
		}
		// Per-message overhead for role markers and separators.
		total += n + 4
		for _, tc := range msg.ToolCalls {
			argTokens, err := t.CountTokens(string(tc.Arguments))
			if err != nil {
				return 0, err
			}
			total += argTokens + 4
		}
	}
	return total + 3, nil
}

func (t *tiktokenTokenizer) MaxTokens() int { return t.maxTokens }

func (t *tiktokenTokenizer) Model() string { return t.model }
