package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"drawbridge/internal/llm"
)

// WebSearchName is the capability name the model requests.
const WebSearchName = "web_search"

// SearchConfig configures the hosted search API (Tavily-compatible).
type SearchConfig struct {
	Endpoint   string
	APIKey     string
	MaxResults int
	Timeout    time.Duration
}

// WebSearch calls a hosted search API and renders result snippets with
// source attributions into a single text blob for the model.
type WebSearch struct {
	cfg    SearchConfig
	client *http.Client
	logger *zap.Logger
}

// NewWebSearch builds the web-search capability.
func NewWebSearch(cfg SearchConfig, logger *zap.Logger) *WebSearch {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &WebSearch{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Spec implements Tool.
func (w *WebSearch) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: WebSearchName,
		Description: "Search the web for up-to-date information. Use this when the user asks " +
			"about current events, recent data, or information outside the model's knowledge.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required": []string{"query"},
		},
	}
}

type searchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		URL     string `json:"url"`
	} `json:"results"`
}

// Invoke implements Tool. An empty result set is a legitimate outcome and
// returns a fixed marker string rather than an error.
func (w *WebSearch) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse web_search arguments: %w", err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return "", fmt.Errorf("web_search requires a non-empty query")
	}

	body, err := json.Marshal(searchRequest{
		APIKey:     w.cfg.APIKey,
		Query:      params.Query,
		MaxResults: w.cfg.MaxResults,
	})
	if err != nil {
		return "", fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		w.logger.Warn("Search API returned non-200",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", payload),
		)
		return "", fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	if len(parsed.Results) == 0 {
		return "No results found.", nil
	}

	formatted := make([]string, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		formatted = append(formatted, fmt.Sprintf("%s\n%s\nSource: %s", r.Title, r.Content, r.URL))
	}
	return strings.Join(formatted, "\n\n"), nil
}
