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

	"github.com/eternisai/enchanted-chat/internal/genai"
	"github.com/eternisai/enchanted-chat/internal/logger"
)

const exaSearchURL = "https://api.exa.ai/search"

// WebSearchTool provides web search capabilities using the Exa AI API.
type WebSearchTool struct {
	apiKey     string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewWebSearchTool creates a new web search tool.
func NewWebSearchTool(apiKey string, log *logger.Logger) *WebSearchTool {
	return &WebSearchTool{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.WithComponent("web-search-tool"),
	}
}

// Name returns the tool name.
func (t *WebSearchTool) Name() string {
	return "web_search"
}

// Declaration returns the provider-compatible function declaration.
func (t *WebSearchTool) Declaration() genai.ToolDeclaration {
	return genai.ToolDeclaration{
		Name:        "web_search",
		Description: "Search the web for current information",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"q": map[string]interface{}{
					"type":        "string",
					"description": "The search query",
				},
				"numResults": map[string]interface{}{
					"type":        "integer",
					"description": "Number of results to return (default: 5, max: 10)",
				},
			},
			"required": []string{"q"},
		},
	}
}

type exaRequest struct {
	Query      string `json:"query"`
	NumResults int    `json:"numResults"`
	Contents   struct {
		Summary bool `json:"summary"`
	} `json:"contents"`
}

type exaResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Summary string `json:"summary"`
	} `json:"results"`
}

// Execute runs the web search with the given arguments.
func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query, _ := args["q"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("q parameter is required and must be a non-empty string")
	}

	numResults := 5
	if n, ok := args["numResults"].(float64); ok && n > 0 {
		numResults = int(n)
	}
	if numResults > 10 {
		numResults = 10
	}

	reqBody := exaRequest{
		Query:      strings.TrimSpace(query),
		NumResults: numResults,
	}
	reqBody.Contents.Summary = true

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, exaSearchURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", t.apiKey)

	t.logger.Info("executing web search", "num_results", numResults)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("search API returned status %d: %s", resp.StatusCode, string(raw))
	}

	var searchResp exaResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return "", fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(searchResp.Results) == 0 {
		return "No search results found.", nil
	}

	var builder strings.Builder
	for i, result := range searchResp.Results {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(result.URL)
		builder.WriteString(": ")
		builder.WriteString(strings.TrimSpace(result.Title))
		builder.WriteString(". Snippet: ")
		builder.WriteString(strings.TrimSpace(result.Summary))
	}

	return builder.String(), nil
}
