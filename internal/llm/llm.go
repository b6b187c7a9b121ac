// Package llm provides a small chat-completion interface over
// OpenAI-compatible providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client sends a single chat completion and returns the assistant text.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// ChatRequest is one system+user exchange.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
	// Extras are merged into the top level of the request body.
	Extras map[string]any
}

// Kind classifies a failed call.
type Kind int

const (
	KindOther Kind = iota
	KindTimeout
	KindConnection
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindStatus:
		return "status"
	}
	return "other"
}

// Error is returned by Client implementations for every failed call.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("llm %s %d: %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryable reports whether err is a transient failure worth another
// attempt: a timeout, a connection failure, or a 429/500/502/503/504 status.
func IsRetryable(err error) bool {
	var le *Error
	if !errors.As(err, &le) {
		return false
	}
	switch le.Kind {
	case KindTimeout, KindConnection:
		return true
	case KindStatus:
		return retryableStatus[le.StatusCode]
	}
	return false
}

// Provider names with special request handling.
const (
	ProviderOpenAICompatible = "openai_compatible"
	ProviderDashScope        = "dashscope"
)

// Settings configures a provider connection.
type Settings struct {
	Provider        string
	BaseURL         string
	APIKey          string
	Model           string
	Timeout         time.Duration
	MaxAttempts     int
	DisableThinking bool
}

// Extras returns the provider-specific body fields for s.
func (s Settings) Extras() map[string]any {
	if s.DisableThinking && strings.EqualFold(s.Provider, ProviderDashScope) {
		return map[string]any{"enable_thinking": false}
	}
	return nil
}
