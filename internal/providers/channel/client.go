// Package channel is the HTTP client of the messaging platform gateway:
// outbound sends and user lookups.
package channel

import (
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

// ErrNotConfigured is returned when the gateway URL or key is missing.
var ErrNotConfigured = errors.New("channel: gateway url or api key not configured")

// SendError is a failed gateway call: transport failure, non-2xx status,
// bad JSON or success != true.
type SendError struct {
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *SendError) Error() string {
	msg := "channel " + e.Path
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": http %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SendError) Unwrap() error { return e.Err }

type gateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newGateway(baseURL, apiKey string, httpClient *http.Client) gateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return gateway{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, httpClient: httpClient}
}

// post sends payload plus api_token and returns the decoded reply. Only a
// reply with "success": true counts.
func (g gateway) post(ctx context.Context, path string, payload map[string]any) (map[string]any, error) {
	if g.baseURL == "" || g.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if _, ok := payload["api_token"]; !ok {
		payload["api_token"] = g.apiKey
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, &SendError{Path: path, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, &buf)
	if err != nil {
		return nil, &SendError{Path: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &SendError{Path: path, Err: err}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	if err != nil {
		return nil, &SendError{Path: path, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &SendError{Path: path, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &SendError{Path: path, StatusCode: resp.StatusCode, Body: string(raw), Err: err}
	}
	if ok, _ := data["success"].(bool); !ok {
		return nil, &SendError{Path: path, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return data, nil
}
