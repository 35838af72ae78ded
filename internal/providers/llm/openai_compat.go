package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatible talks to any POST {base}/chat/completions endpoint
// (OpenAI, DeepSeek).
type OpenAICompatible struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewOpenAICompatible(name, baseURL, apiKey, model string, httpClient *http.Client) *OpenAICompatible {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAICompatible{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
	}
}

func (c *OpenAICompatible) Name() string { return c.name }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAICompatible) fail(reason string, status int, err error) error {
	return &ProviderError{Provider: c.name, Reason: reason, StatusCode: status, Err: err}
}

func (c *OpenAICompatible) Generate(ctx context.Context, msgs []Message, p Params) (Result, error) {
	if c.apiKey == "" {
		return Result{}, c.fail(ReasonMissingKey, 0, nil)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}); err != nil {
		return Result{}, c.fail(ReasonDecode, 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", &buf)
	if err != nil {
		return Result{}, c.fail(ReasonTransport, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, c.fail(ReasonTransport, 0, err)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	_ = resp.Body.Close()
	if err != nil {
		return Result{}, c.fail(ReasonTransport, resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, c.fail(ReasonHTTP, resp.StatusCode, fmt.Errorf("%s", truncateBody(raw)))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, c.fail(ReasonDecode, resp.StatusCode, err)
	}
	if len(out.Choices) == 0 {
		return Result{}, c.fail(ReasonNoChoices, resp.StatusCode, nil)
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return Result{}, c.fail(ReasonEmptyContent, resp.StatusCode, nil)
	}
	return Result{
		Provider:  c.name,
		Model:     c.model,
		Text:      text,
		TokensIn:  out.Usage.PromptTokens,
		TokensOut: out.Usage.CompletionTokens,
	}, nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
