package researcher

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/sells-group/contact-research/internal/resilience"
	"github.com/sells-group/contact-research/pkg/tavily"
)

// Searcher runs layer queries against Tavily, memoizing responses by query.
type Searcher struct {
	client tavily.Client
	guard  *resilience.Guard
	memo   *cache.Cache
}

// NewSearcher wraps client with guard. ttl <= 0 disables the memo.
func NewSearcher(client tavily.Client, guard *resilience.Guard, ttl time.Duration) *Searcher {
	s := &Searcher{client: client, guard: guard}
	if ttl > 0 {
		s.memo = cache.New(ttl, 2*ttl)
	}
	return s
}

// Query runs one search. Identical queries within the memo TTL are served
// from memory.
func (s *Searcher) Query(ctx context.Context, query string, layer Layer) ([]tavily.Result, error) {
	key := memoKey(query, layer)
	if s.memo != nil {
		if v, ok := s.memo.Get(key); ok {
			return v.([]tavily.Result), nil
		}
	}

	req := tavily.SearchRequest{
		Query:          query,
		MaxResults:     layer.MaxResults,
		IncludeDomains: layer.IncludeDomains,
		ExcludeDomains: layer.ExcludeDomains,
	}
	resp, err := resilience.Call(ctx, s.guard, "search", func(ctx context.Context) (*tavily.SearchResponse, error) {
		return s.client.Search(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	results := resp.Results
	if s.memo != nil {
		s.memo.SetDefault(key, results)
	}
	return results, nil
}

// Layer runs every query of layer for name and concatenates the results.
// A query that fails with a non-fatal error is logged and contributes
// nothing.
func (s *Searcher) Layer(ctx context.Context, name string, layer Layer) ([]tavily.Result, error) {
	var all []tavily.Result
	for _, q := range layer.Render(name) {
		results, err := s.Query(ctx, q, layer)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			zap.L().Warn("researcher: search query failed",
				zap.String("layer", layer.Name),
				zap.String("query", q),
				zap.Error(err),
			)
			continue
		}
		all = append(all, results...)
	}
	return all, nil
}

// Flush drops all memoized responses.
func (s *Searcher) Flush() {
	if s.memo != nil {
		s.memo.Flush()
	}
}

func memoKey(query string, layer Layer) string {
	return strings.Join([]string{
		strings.ToLower(query),
		strings.Join(layer.IncludeDomains, ","),
		strings.Join(layer.ExcludeDomains, ","),
		strconv.Itoa(layer.MaxResults),
	}, "|")
}
