package llm

import (
	"context"
	"errors"
	"fmt"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn sent to a model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Params struct {
	Temperature float64
	MaxTokens   int
}

// Result is a generated reply plus token accounting.
type Result struct {
	Provider  string
	Model     string
	Text      string
	TokensIn  int
	TokensOut int
}

type Provider interface {
	Name() string
	Generate(ctx context.Context, msgs []Message, p Params) (Result, error)
}

// Failure reasons carried by ProviderError.
const (
	ReasonMissingKey   = "missing_api_key"
	ReasonHTTP         = "http_error"
	ReasonTransport    = "transport"
	ReasonDecode       = "decode"
	ReasonNoChoices    = "no_choices"
	ReasonEmptyContent = "empty_content"
)

// ProviderError is any failed generation. A provider that answers without
// choices or with empty content fails the same way as one that errors.
type ProviderError struct {
	Provider   string
	Reason     string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err came from a provider call.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
