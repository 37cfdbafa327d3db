package groq

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, check func(req openai.ChatCompletionRequest), content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if check != nil {
			check(req)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			}},
			Usage: openai.Usage{PromptTokens: 120, CompletionTokens: 40, TotalTokens: 160},
		})
	}))
}

func TestComplete_Success(t *testing.T) {
	srv := completionServer(t, func(req openai.ChatCompletionRequest) {
		assert.Equal(t, DefaultModel, req.Model)
		assert.Equal(t, 800, req.MaxTokens)
		assert.InDelta(t, 0.1, req.Temperature, 0.001)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
		assert.Equal(t, "extract contacts", req.Messages[1].Content)
	}, "  PHONE: 022 1234 5678\n")
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.Complete(context.Background(), CompletionRequest{
		System: "You extract business contact details.",
		Prompt: "extract contacts",
	})
	require.NoError(t, err)
	assert.Equal(t, "PHONE: 022 1234 5678", resp.Content)
	assert.Equal(t, DefaultModel, resp.Model)
	assert.Equal(t, 120, resp.InputTokens)
	assert.Equal(t, 40, resp.OutputTokens)
}

func TestComplete_Overrides(t *testing.T) {
	srv := completionServer(t, func(req openai.ChatCompletionRequest) {
		assert.Equal(t, "llama-3.1-8b-instant", req.Model)
		assert.Equal(t, 10, req.MaxTokens)
		require.Len(t, req.Messages, 1)
	}, "Groq working")
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL+"/"), WithModel("llama-3.1-8b-instant"), WithMaxTokens(400))
	resp, err := client.Complete(context.Background(), CompletionRequest{Prompt: "Say 'Groq working'", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "Groq working", resp.Content)
}

func TestComplete_APIError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"rate_limited", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"tokens"}}`},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient("test-key", WithBaseURL(srv.URL)).Complete(context.Background(), CompletionRequest{Prompt: "x"})
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.HTTPStatus())
			assert.Contains(t, err.Error(), "groq: unexpected status")
		})
	}
}

func TestComplete_MissingKey(t *testing.T) {
	_, err := NewClient("").Complete(context.Background(), CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is missing")
}
