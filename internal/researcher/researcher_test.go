package researcher

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/resilience"
	"github.com/sells-group/contact-research/pkg/tavily"
)

type fakeSearch struct {
	mu      sync.Mutex
	calls   []tavily.SearchRequest
	respond func(req tavily.SearchRequest) (*tavily.SearchResponse, error)
}

func (f *fakeSearch) Search(_ context.Context, req tavily.SearchRequest) (*tavily.SearchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeSearch) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, name string, results []tavily.Result) (*Extraction, error) {
	args := m.Called(ctx, name, results)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Extraction), args.Error(1)
}

func (m *mockExtractor) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockExtractor) Name() string { return "mock" }

func testGuard(service string) *resilience.Guard {
	g := resilience.NewGuard(service, 0)
	g.Retry = resilience.RetryConfig{MaxAttempts: 1}
	return g
}

func results(n int, prefix string) []tavily.Result {
	out := make([]tavily.Result, n)
	for i := range out {
		out[i] = tavily.Result{Title: prefix, URL: "https://" + prefix + ".example", Content: prefix + " content"}
	}
	return out
}

// layeredSearch answers general queries with 1 result, government queries
// with 2 and industry queries with 1.
func layeredSearch() *fakeSearch {
	return &fakeSearch{respond: func(req tavily.SearchRequest) (*tavily.SearchResponse, error) {
		switch {
		case len(req.IncludeDomains) > 0:
			return &tavily.SearchResponse{Results: results(2, "gov")}, nil
		case strings.Contains(req.Query, "directory"), strings.Contains(req.Query, "trade"):
			return &tavily.SearchResponse{Results: results(1, "industry")}, nil
		default:
			return &tavily.SearchResponse{Results: results(1, "general")}, nil
		}
	}}
}

func ext(conf float64, phone string) *Extraction {
	return &Extraction{Confidence: conf, Contact: model.Contact{Phone: phone}, Raw: "PHONE: " + phone}
}

func TestLayerRender(t *testing.T) {
	l := Layer{Queries: []string{"{name} business address", "  ", "{name} {name}"}}
	assert.Equal(t, []string{"ABC Ltd business address", "ABC Ltd ABC Ltd"}, l.Render("ABC Ltd"))
}

func TestDefaultLayerConfig(t *testing.T) {
	cfg := DefaultLayerConfig()
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Layers, 3)
	assert.Equal(t, KindGeneral, cfg.Layers[0].Kind)
	assert.Equal(t, KindGovernment, cfg.Layers[1].Kind)
	assert.Equal(t, KindIndustry, cfg.Layers[2].Kind)
	assert.Equal(t, []string{"facebook.com", "twitter.com", "instagram.com"}, cfg.Layers[0].ExcludeDomains)
	assert.Equal(t, []string{
		"ABC Ltd contact information phone email",
		"ABC Ltd business address",
		"ABC Ltd company website official",
	}, cfg.Layers[0].Render("ABC Ltd"))
}

func TestLoadLayerConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
research:
  escalate_below: 5
  layers:
    - queries: ["{name} phone"]
    - name: registry
      kind: government
      queries: ["{name} registration"]
      include_domains: [mca.gov.in]
`), 0o644))

	cfg, err := LoadLayerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.EscalateBelow)
	require.Len(t, cfg.Layers, 2)
	assert.Equal(t, KindGeneral, cfg.Layers[0].Kind)
	assert.Equal(t, "general", cfg.Layers[0].Name)
	assert.Equal(t, []string{"mca.gov.in"}, cfg.Layers[1].IncludeDomains)
}

func TestLoadLayerConfig_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("research: {}\n"), 0o644))

	cfg, err := LoadLayerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, float64(DefaultEscalateBelow), cfg.EscalateBelow)
	assert.Len(t, cfg.Layers, 3)
}

func TestLoadLayerConfig_Errors(t *testing.T) {
	_, err := LoadLayerConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read layers")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("research:\n  layers:\n    - kind: social\n      queries: [x]\n"), 0o644))
	_, err = LoadLayerConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestParseExtraction(t *testing.T) {
	text := `BUSINESS_NAME: ABC Ltd
PHONE: +91 22 1234 5678
EMAIL: Not found
WEBSITE: https://abc.example
**ADDRESS:** 12 Marine Drive, Mumbai
DESCRIPTION: No description available
CONFIDENCE: 8/10`

	got := ParseExtraction(text)
	assert.Equal(t, "ABC Ltd", got.BusinessName)
	assert.Equal(t, "+91 22 1234 5678", got.Contact.Phone)
	assert.Empty(t, got.Contact.Email)
	assert.Equal(t, "https://abc.example", got.Contact.Website)
	assert.Equal(t, "12 Marine Drive, Mumbai", got.Contact.Address)
	assert.Empty(t, got.Contact.Description)
	assert.Equal(t, 8.0, got.Confidence)
	assert.False(t, got.Empty())
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"7", 7},
		{" 6.5 ", 6.5},
		{"9/10", 9},
		{"15", 10},
		{"high", 0},
		{"", 0},
		{"-2", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseConfidence(tt.in), tt.in)
	}
}

func TestFormatResults(t *testing.T) {
	long := strings.Repeat("x", 600)
	rs := append([]tavily.Result{{Title: "", URL: "https://a.example", Content: long}}, results(12, "r")...)

	out := FormatResults(rs)
	assert.Contains(t, out, "RESULT 1:\nTitle: No title\nURL: https://a.example\nContent: "+strings.Repeat("x", 500)+"...")
	assert.NotContains(t, out, strings.Repeat("x", 501))
	assert.Contains(t, out, "RESULT 10:")
	assert.NotContains(t, out, "RESULT 11:")
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("ABC Ltd", results(1, "abc"))
	assert.Contains(t, p, `for the business "ABC Ltd"`)
	assert.Contains(t, p, "BUSINESS_NAME: ABC Ltd")
	assert.Contains(t, p, "CONFIDENCE: [rate 1-10")
	assert.Contains(t, p, "RESULT 1:")
}

func TestSearcher_Memo(t *testing.T) {
	fs := &fakeSearch{respond: func(tavily.SearchRequest) (*tavily.SearchResponse, error) {
		return &tavily.SearchResponse{Results: results(2, "abc")}, nil
	}}
	s := NewSearcher(fs, testGuard("tavily"), time.Minute)
	layer := DefaultLayerConfig().Layers[0]

	first, err := s.Query(context.Background(), "ABC Ltd business address", layer)
	require.NoError(t, err)
	second, err := s.Query(context.Background(), "abc ltd BUSINESS ADDRESS", layer)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fs.callCount())

	s.Flush()
	_, err = s.Query(context.Background(), "ABC Ltd business address", layer)
	require.NoError(t, err)
	assert.Equal(t, 2, fs.callCount())
}

func TestLayered_FlushDropsMemo(t *testing.T) {
	fs := &fakeSearch{respond: func(tavily.SearchRequest) (*tavily.SearchResponse, error) {
		return &tavily.SearchResponse{Results: results(1, "abc")}, nil
	}}
	s := NewSearcher(fs, testGuard("tavily"), time.Minute)
	l := NewLayered(s, new(mockExtractor), DefaultLayerConfig())
	layer := DefaultLayerConfig().Layers[0]

	_, err := s.Query(context.Background(), "abc", layer)
	require.NoError(t, err)
	l.Flush()
	_, err = s.Query(context.Background(), "abc", layer)
	require.NoError(t, err)
	assert.Equal(t, 2, fs.callCount())

	// A researcher without a searcher is a no-op.
	(&Layered{}).Flush()
}

func TestSearcher_NoMemo(t *testing.T) {
	fs := &fakeSearch{respond: func(tavily.SearchRequest) (*tavily.SearchResponse, error) {
		return &tavily.SearchResponse{}, nil
	}}
	s := NewSearcher(fs, testGuard("tavily"), 0)
	for range 2 {
		_, err := s.Query(context.Background(), "q", Layer{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, fs.callCount())
}

func TestSearcher_LayerSkipsFailedQuery(t *testing.T) {
	fs := &fakeSearch{respond: func(req tavily.SearchRequest) (*tavily.SearchResponse, error) {
		if strings.Contains(req.Query, "address") {
			return nil, &tavily.APIError{StatusCode: http.StatusBadRequest, Body: "bad query"}
		}
		return &tavily.SearchResponse{Results: results(1, "ok")}, nil
	}}
	s := NewSearcher(fs, testGuard("tavily"), 0)

	got, err := s.Layer(context.Background(), "ABC Ltd", DefaultLayerConfig().Layers[0])
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 3, fs.callCount())
}

func TestSearcher_LayerBillingAborts(t *testing.T) {
	fs := &fakeSearch{respond: func(tavily.SearchRequest) (*tavily.SearchResponse, error) {
		return nil, &tavily.APIError{StatusCode: http.StatusPaymentRequired, Body: "plan limit"}
	}}
	s := NewSearcher(fs, testGuard("tavily"), 0)

	_, err := s.Layer(context.Background(), "ABC Ltd", DefaultLayerConfig().Layers[0])
	require.Error(t, err)
	assert.True(t, resilience.IsBilling(err))
	assert.Equal(t, 1, fs.callCount())
}

func TestLayered_NoResultsIsManual(t *testing.T) {
	fs := &fakeSearch{respond: func(tavily.SearchRequest) (*tavily.SearchResponse, error) {
		return &tavily.SearchResponse{}, nil
	}}
	ex := new(mockExtractor)
	l := NewLayered(NewSearcher(fs, testGuard("tavily"), 0), ex, DefaultLayerConfig())

	out, err := l.Research(context.Background(), "Unknown Traders")
	require.NoError(t, err)
	assert.Equal(t, model.StatusManualRequired, out.Status)
	assert.Zero(t, out.SourcesFound)
	assert.Nil(t, out.Confidence)
	assert.Equal(t, 3, fs.callCount(), "only layer 1 runs")
	ex.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything)
}

func TestLayered_ConfidentStopsAtLayerOne(t *testing.T) {
	fs := layeredSearch()
	ex := new(mockExtractor)
	ex.On("Extract", mock.Anything, "ABC Ltd", mock.Anything).Return(ext(8, "022 1234"), nil).Once()

	l := NewLayered(NewSearcher(fs, testGuard("tavily"), 0), ex, DefaultLayerConfig())
	out, err := l.Research(context.Background(), "ABC Ltd")
	require.NoError(t, err)

	assert.Equal(t, model.StatusSuccess, out.Status)
	assert.Equal(t, 3, out.SourcesFound)
	assert.Zero(t, out.GovtSources)
	assert.Zero(t, out.IndustrySources)
	require.NotNil(t, out.Confidence)
	assert.Equal(t, 8.0, *out.Confidence)
	assert.Equal(t, "022 1234", out.Contact.Phone)
	assert.Zero(t, out.CostUSD, "no calculator configured")
	assert.Equal(t, 3, fs.callCount())
	ex.AssertExpectations(t)
}

func TestLayered_EscalatesWhileUnsure(t *testing.T) {
	fs := layeredSearch()
	ex := new(mockExtractor)
	ex.On("Extract", mock.Anything, "ABC Ltd", mock.Anything).Return(ext(4, "111"), nil).Once()
	ex.On("Extract", mock.Anything, "ABC Ltd", mock.Anything).Return(ext(6, "222"), nil).Once()
	ex.On("Extract", mock.Anything, "ABC Ltd", mock.Anything).Return(ext(5, "333"), nil).Once()

	l := NewLayered(NewSearcher(fs, testGuard("tavily"), 0), ex, DefaultLayerConfig())
	out, err := l.Research(context.Background(), "ABC Ltd")
	require.NoError(t, err)

	assert.Equal(t, model.StatusSuccess, out.Status)
	assert.Equal(t, 9, out.SourcesFound)
	assert.Equal(t, 4, out.GovtSources)
	assert.Equal(t, 2, out.IndustrySources)
	assert.Equal(t, 6.0, *out.Confidence)
	assert.Equal(t, "222", out.Contact.Phone, "best extraction wins")
	assert.Equal(t, 7, fs.callCount())
	ex.AssertExpectations(t)

	// the government layer's results lead the second prompt
	second := ex.Calls[1].Arguments.Get(2).([]tavily.Result)
	require.Len(t, second, 7)
	assert.Equal(t, "gov", second[0].Title)
}

func TestLayered_ExtractionFailureIsManual(t *testing.T) {
	fs := layeredSearch()
	ex := new(mockExtractor)
	ex.On("Extract", mock.Anything, "ABC Ltd", mock.Anything).
		Return(nil, errors.New("groq: unexpected status 400: context too long")).Once()

	l := NewLayered(NewSearcher(fs, testGuard("tavily"), 0), ex, DefaultLayerConfig())
	out, err := l.Research(context.Background(), "ABC Ltd")
	require.NoError(t, err)
	assert.Equal(t, model.StatusManualRequired, out.Status)
	assert.Equal(t, 3, out.SourcesFound)
}

func TestLayered_EmptyExtractionIsManual(t *testing.T) {
	fs := layeredSearch()
	ex := new(mockExtractor)
	ex.On("Extract", mock.Anything, "ABC Ltd", mock.Anything).Return(&Extraction{Raw: "  "}, nil).Once()

	l := NewLayered(NewSearcher(fs, testGuard("tavily"), 0), ex, DefaultLayerConfig())
	out, err := l.Research(context.Background(), "ABC Ltd")
	require.NoError(t, err)
	assert.Equal(t, model.StatusManualRequired, out.Status)
}

func TestLayered_BillingPropagates(t *testing.T) {
	fs := layeredSearch()
	ex := new(mockExtractor)
	ex.On("Extract", mock.Anything, "ABC Ltd", mock.Anything).
		Return(nil, errors.New("insufficient_quota: You exceeded your current quota")).Once()

	l := NewLayered(NewSearcher(fs, testGuard("tavily"), 0), ex, DefaultLayerConfig())
	out, err := l.Research(context.Background(), "ABC Ltd")
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "quota")
}

func TestLayered_SearchBillingPropagates(t *testing.T) {
	fs := &fakeSearch{respond: func(tavily.SearchRequest) (*tavily.SearchResponse, error) {
		return nil, &tavily.APIError{StatusCode: http.StatusPaymentRequired, Body: "upgrade"}
	}}
	ex := new(mockExtractor)
	l := NewLayered(NewSearcher(fs, testGuard("tavily"), 0), ex, DefaultLayerConfig())

	_, err := l.Research(context.Background(), "ABC Ltd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 402")
}

func TestLayered_Ping(t *testing.T) {
	fs := &fakeSearch{respond: func(tavily.SearchRequest) (*tavily.SearchResponse, error) {
		return &tavily.SearchResponse{}, nil
	}}
	ex := new(mockExtractor)
	ex.On("Ping", mock.Anything).Return(nil).Once()

	l := NewLayered(NewSearcher(fs, testGuard("tavily"), 0), ex, LayerConfig{})
	require.NoError(t, l.Ping(context.Background()))
	require.Len(t, fs.calls, 1)
	assert.Equal(t, "test query", fs.calls[0].Query)
	assert.Equal(t, 1, fs.calls[0].MaxResults)

	ex.On("Ping", mock.Anything).Return(errors.New("invalid api key")).Once()
	err := l.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping mock")
}
