package genai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"
)

// Client is the upstream provider contract the connector depends on.
// The concrete wire format is provider-defined; tests inject fakes.
type Client interface {
	// GenerateStream opens a streamed generation over the full conversation.
	GenerateStream(ctx context.Context, contents []Content, tools []ToolDeclaration) (Stream, error)

	// Probe issues a minimal one-token generation to validate the credential.
	Probe(ctx context.Context) error
}

// Stream yields generation chunks in arrival order. Next returns io.EOF at
// the natural end of the stream.
type Stream interface {
	Next() (*Chunk, error)
	Close() error
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned status %d (%s): %s", e.StatusCode, e.Status, e.Message)
}

// IsAuthError reports whether err indicates an invalid credential rather
// than a transient upstream failure.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
		return true
	}
	return strings.Contains(apiErr.Message, "API_KEY_INVALID")
}

// HTTPClient talks to the Gemini REST API, reading SSE lines off the
// streaming endpoint.
type HTTPClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewHTTPClient creates a provider client bound to one credential.
func NewHTTPClient(apiKey string) *HTTPClient {
	return &HTTPClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		// No client-level timeout: per-turn deadlines come from the caller's
		// context, and a fixed timeout would kill long streams mid-flight.
		httpClient: &http.Client{},
	}
}

type generateRequest struct {
	Contents         []Content         `json:"contents"`
	Tools            []toolsField      `json:"tools,omitempty"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type toolsField struct {
	FunctionDeclarations []ToolDeclaration `json:"functionDeclarations"`
}

type generationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

// generateResponse mirrors the subset of the provider response we consume.
type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text         string        `json:"text"`
				FunctionCall *FunctionCall `json:"functionCall"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// GenerateStream POSTs to the streaming endpoint and returns a Stream over
// the SSE response body.
func (c *HTTPClient) GenerateStream(ctx context.Context, contents []Content, tools []ToolDeclaration) (Stream, error) {
	reqBody := generateRequest{Contents: contents}
	if len(tools) > 0 {
		reqBody.Tools = []toolsField{{FunctionDeclarations: tools}}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call upstream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}

	return &sseStream{
		body:    resp.Body,
		scanner: newSSEScanner(resp.Body),
	}, nil
}

// Probe issues a 1-token generation with a trivial prompt.
func (c *HTTPClient) Probe(ctx context.Context) error {
	reqBody := generateRequest{
		Contents:         []Content{{Role: RoleUser, Parts: []Part{TextPart("hi")}}},
		GenerationConfig: &generationConfig{MaxOutputTokens: 1},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal probe request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	return nil
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var errBody struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	_ = json.Unmarshal(raw, &errBody)

	message := errBody.Error.Message
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     errBody.Error.Status,
		Message:    message,
	}
}

func newSSEScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	// Individual SSE lines can carry large inline payloads.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return scanner
}

// sseStream parses "data: {...}" lines into chunks.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *sseStream) Next() (*Chunk, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		jsonData := strings.TrimPrefix(line, "data: ")
		if jsonData == "[DONE]" {
			return nil, io.EOF
		}

		var resp generateResponse
		if err := json.Unmarshal([]byte(jsonData), &resp); err != nil {
			// Skip malformed keep-alive noise rather than killing the turn.
			continue
		}

		chunk := &Chunk{}
		if resp.PromptFeedback != nil {
			chunk.BlockReason = resp.PromptFeedback.BlockReason
		}
		if len(resp.Candidates) > 0 {
			cand := resp.Candidates[0]
			chunk.FinishReason = cand.FinishReason
			for _, part := range cand.Content.Parts {
				if part.FunctionCall != nil {
					chunk.FunctionCalls = append(chunk.FunctionCalls, *part.FunctionCall)
				} else if part.Text != "" {
					chunk.Text += part.Text
				}
			}
		}

		return chunk, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, err
	}

	return nil, io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
