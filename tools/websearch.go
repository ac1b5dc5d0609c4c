package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/strixlabs/strix/config"
	"github.com/strixlabs/strix/llm"
	"github.com/strixlabs/strix/runtime"
	"github.com/strixlabs/strix/telemetry"
)

const searchSynthesisPrompt = `You are a security analyst. Summarize the search results below for a penetration tester working on an active engagement. Extract concrete, actionable facts: versions, CVE identifiers, exploitation steps, default credentials, misconfigurations. Cite the source URL for each claim. If the results do not answer the query, say so.`

// FirecrawlClient wraps the Firecrawl search API.
type FirecrawlClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewFirecrawlClient creates a client against api.firecrawl.dev or a
// self-hosted instance.
func NewFirecrawlClient(apiKey, baseURL string) *FirecrawlClient {
	if baseURL == "" {
		baseURL = "https://api.firecrawl.dev"
	}
	return &FirecrawlClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// SearchPage is one result with scraped markdown content.
type SearchPage struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Markdown string `json:"markdown"`
}

type firecrawlSearchRequest struct {
	Query         string         `json:"query"`
	Limit         int            `json:"limit"`
	ScrapeOptions map[string]any `json:"scrapeOptions,omitempty"`
}

type firecrawlSearchResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		Title    string `json:"title"`
		URL      string `json:"url"`
		Markdown string `json:"markdown"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// Search runs a search with markdown scraping of the hits.
func (c *FirecrawlClient) Search(ctx context.Context, query string, limit int) ([]SearchPage, error) {
	body, _ := json.Marshal(firecrawlSearchRequest{
		Query: query,
		Limit: limit,
		ScrapeOptions: map[string]any{
			"formats": []string{"markdown"},
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("firecrawl search: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("firecrawl search: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var sr firecrawlSearchResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("firecrawl search: decode: %w", err)
	}
	if !sr.Success {
		return nil, fmt.Errorf("firecrawl search: %s", sr.Error)
	}

	out := make([]SearchPage, 0, len(sr.Data))
	for _, d := range sr.Data {
		out = append(out, SearchPage{Title: d.Title, URL: d.URL, Markdown: d.Markdown})
	}
	return out, nil
}

// WebSearchDeps wires the web_search tool.
type WebSearchDeps struct {
	Client   *FirecrawlClient
	Provider llm.Provider
	Model    string
	Tracer   *telemetry.Tracer
	Sandbox  runtime.Sandbox
	Config   config.SearchConfig
}

type webSearchArgs struct {
	Query string `json:"query"`
}

// NewWebSearchTool searches the web via Firecrawl and synthesizes the
// results with the LLM. Scraped pages are archived under the run
// directory and copied into the sandbox for follow-up greps.
func NewWebSearchTool(deps WebSearchDeps, logger *zap.Logger) (Func, Metadata) {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params webSearchArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid web_search arguments: %w", err)
		}
		if strings.TrimSpace(params.Query) == "" {
			return nil, fmt.Errorf("query is required")
		}
		if deps.Client == nil {
			return nil, fmt.Errorf("web search is not configured (set FIRECRAWL_API_KEY)")
		}

		limit := deps.Config.MaxPages
		if limit <= 0 {
			limit = 5
		}
		pages, err := deps.Client.Search(ctx, params.Query, limit)
		if err != nil {
			return nil, err
		}
		if len(pages) == 0 {
			return json.Marshal(map[string]string{"answer": "No search results found."})
		}

		maxChars := deps.Config.MaxPageChars
		if maxChars <= 0 {
			maxChars = 20000
		}

		var corpus strings.Builder
		var archived []string
		for _, p := range pages {
			content := p.Markdown
			if len(content) > maxChars {
				content = content[:maxChars] + "\n... [truncated]"
			}
			fmt.Fprintf(&corpus, "## %s\nURL: %s\n\n%s\n\n", p.Title, p.URL, content)

			if deps.Tracer != nil {
				if saved, err := deps.Tracer.SaveScrapedPage(p.URL, content); err == nil {
					archived = append(archived, saved)
					if deps.Sandbox != nil {
						dest := path.Join(deps.Sandbox.Workspace(), "scraped_data", path.Base(saved))
						if err := deps.Sandbox.WriteFile(ctx, dest, []byte(content)); err != nil {
							logger.Debug("copy scraped page into sandbox", zap.Error(err))
						}
					}
				}
			}
		}

		resp, err := deps.Provider.Completion(ctx, &llm.ChatRequest{
			Model: deps.Model,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: searchSynthesisPrompt},
				{Role: llm.RoleUser, Content: fmt.Sprintf("Query: %s\n\nSearch results:\n\n%s", params.Query, corpus.String())},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("synthesize search results: %w", err)
		}

		answer := ""
		if len(resp.Choices) > 0 {
			answer = resp.Choices[0].Message.Content
		}
		return json.Marshal(map[string]any{
			"answer":         answer,
			"sources":        sourceURLs(pages),
			"archived_pages": archived,
		})
	}

	meta := Metadata{
		Schema: llm.ToolSchema{
			Name:        "web_search",
			Description: "Search the web for security-relevant information (CVEs, exploits, documentation). Results are summarized by the model; scraped pages are archived and copied into the sandbox under scraped_data/.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {"query": {"type": "string", "description": "Search query"}},
				"required": ["query"]
			}`),
		},
		Timeout:   3 * time.Minute,
		RateLimit: &RateLimit{PerMinute: 10, Burst: 3},
	}
	return fn, meta
}

func sourceURLs(pages []SearchPage) []string {
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.URL)
	}
	return out
}
