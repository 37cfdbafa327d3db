// Package groq is a chat completion client for Groq's OpenAI-compatible API.
package groq

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"
)

const (
	defaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama-3.3-70b-versatile"
	defaultMaxTokens   = 800
	defaultTemperature = 0.1
)

// Client sends chat completions to Groq.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single-turn chat completion.
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// CompletionResponse is the first choice of a chat completion plus usage.
type CompletionResponse struct {
	Model        string
	Content      string
	InputTokens  int
	OutputTokens int
}

// APIError is an error response from Groq.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("groq: unexpected status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option configures the client.
type Option func(*chatClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *chatClient) {
		if url != "" {
			c.cfg.BaseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithModel sets the model used when a request leaves it empty.
func WithModel(model string) Option {
	return func(c *chatClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxTokens sets the completion limit used when a request leaves it zero.
func WithMaxTokens(n int) Option {
	return func(c *chatClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

type chatClient struct {
	apiKey    string
	cfg       openai.ClientConfig
	model     string
	maxTokens int
	api       *openai.Client
}

// NewClient creates a Groq client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &chatClient{
		apiKey:    apiKey,
		cfg:       openai.DefaultConfig(apiKey),
		model:     DefaultModel,
		maxTokens: defaultMaxTokens,
	}
	c.cfg.BaseURL = defaultBaseURL
	for _, o := range opts {
		o(c)
	}
	c.api = openai.NewClientWithConfig(c.cfg)
	return c
}

func (c *chatClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, eris.New("groq: API key is missing")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	temp := req.Temperature
	if temp == 0 {
		temp = defaultTemperature
	}

	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: temp,
	})
	if err != nil {
		return nil, convertError(err)
	}

	out := &CompletionResponse{
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) > 0 {
		out.Content = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	return out, nil
}

// convertError maps go-openai errors onto APIError so callers can inspect
// the status without importing the SDK.
func convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Message: msg}
	}
	return eris.Wrap(err, "groq: chat completion")
}
