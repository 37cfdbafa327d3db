// Package tavily is a client for the Tavily web search API.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL     = "https://api.tavily.com"
	defaultSearchDepth = "basic"
	defaultMaxResults  = 5
)

// Client performs web searches against the Tavily API.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest is the request body for POST /search.
type SearchRequest struct {
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth,omitempty"`
	MaxResults     int      `json:"max_results,omitempty"`
	IncludeDomains []string `json:"include_domains,omitempty"`
	ExcludeDomains []string `json:"exclude_domains,omitempty"`
}

// SearchResponse is the response from POST /search.
type SearchResponse struct {
	Query        string   `json:"query"`
	Results      []Result `json:"results"`
	ResponseTime float64  `json:"response_time"`
}

// Result is a single search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// APIError is a non-200 response from Tavily.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tavily: unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithSearchDepth sets the default search depth ("basic" or "advanced").
func WithSearchDepth(depth string) Option {
	return func(c *httpClient) {
		if depth != "" {
			c.depth = depth
		}
	}
}

// WithMaxResults sets the default number of results per query.
func WithMaxResults(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey     string
	baseURL    string
	depth      string
	maxResults int
	http       *http.Client
}

// NewClient creates a Tavily API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		depth:      defaultSearchDepth,
		maxResults: defaultMaxResults,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, eris.New("tavily: API key is missing")
	}
	if req.SearchDepth == "" {
		req.SearchDepth = c.depth
	}
	if req.MaxResults == 0 {
		req.MaxResults = c.maxResults
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "tavily: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "tavily: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "tavily: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "tavily: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result SearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "tavily: unmarshal response")
	}

	return &result, nil
}
