package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIClient creates a client for s. A zero timeout means 20s.
func NewOpenAIClient(s Settings) *OpenAIClient {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	cfg := openai.DefaultConfig(s.APIKey)
	if s.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(s.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: &extrasTransport{base: http.DefaultTransport},
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(cfg),
		model:   s.Model,
		timeout: timeout,
	}
}

// Chat implements Client.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if len(req.Extras) > 0 {
		ctx = context.WithValue(ctx, extrasKey{}, req.Extras)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func classify(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &Error{Kind: KindStatus, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &Error{Kind: KindStatus, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: KindTimeout, Err: err}
		}
		return &Error{Kind: KindConnection, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Error{Kind: KindConnection, Err: err}
	}
	return &Error{Kind: KindOther, Err: err}
}

type extrasKey struct{}

// extrasTransport merges per-request extras from the context into the JSON
// request body.
type extrasTransport struct {
	base http.RoundTripper
}

func (t *extrasTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	extras, _ := r.Context().Value(extrasKey{}).(map[string]any)
	if len(extras) == 0 || r.Body == nil {
		return t.base.RoundTrip(r)
	}
	raw, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	for k, v := range extras {
		body[k] = v
	}
	merged, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	out := r.Clone(r.Context())
	out.Body = io.NopCloser(bytes.NewReader(merged))
	out.ContentLength = int64(len(merged))
	out.Header.Set("Content-Length", strconv.Itoa(len(merged)))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(merged)), nil
	}
	return t.base.RoundTrip(out)
}
