package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Groq      map[string]ModelRate `yaml:"groq" mapstructure:"groq"`
	Search    SearchRate           `yaml:"search" mapstructure:"search"`
	Research  ResearchRate         `yaml:"research" mapstructure:"research"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// SearchRate holds web search pricing.
type SearchRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// ResearchRate describes the typical footprint of one fresh research call,
// used to estimate what a skipped business saved.
type ResearchRate struct {
	QueriesPerResearch int     `yaml:"queries_per_research" mapstructure:"queries_per_research"`
	LLMPerCall         float64 `yaml:"llm_per_call" mapstructure:"llm_per_call"`
	SecondsPerResearch float64 `yaml:"seconds_per_research" mapstructure:"seconds_per_research"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, isBatch bool, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	batchMul := 1.0
	if isBatch {
		batchMul = rate.BatchDiscount
	}

	inCost := (float64(input) / 1e6) * rate.Input * batchMul
	outCost := (float64(output) / 1e6) * rate.Output * batchMul
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul * batchMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul * batchMul

	return inCost + outCost + cwCost + crCost
}

// Groq computes the cost for a Groq chat completion.
func (c *Calculator) Groq(model string, input, output int) float64 {
	rate, ok := c.rates.Groq[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// SearchQuery returns the flat cost per web search query.
func (c *Calculator) SearchQuery() float64 {
	return c.rates.Search.PerQuery
}

// ResearchCost estimates the cost of one fresh research call.
func (c *Calculator) ResearchCost() float64 {
	return float64(c.rates.Research.QueriesPerResearch)*c.rates.Search.PerQuery + c.rates.Research.LLMPerCall
}

// SecondsSaved estimates the wall-clock time saved by skipping n businesses.
func (c *Calculator) SecondsSaved(n int) float64 {
	return float64(n) * c.rates.Research.SecondsPerResearch
}

// CostSaved estimates the spend avoided by skipping n businesses.
func (c *Calculator) CostSaved(n int) float64 {
	return float64(n) * c.ResearchCost()
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Groq: map[string]ModelRate{
			"llama-3.3-70b-versatile": {Input: 0.59, Output: 0.79},
		},
		Search: SearchRate{PerQuery: 0.008},
		Research: ResearchRate{
			QueriesPerResearch: 3,
			LLMPerCall:         0.002,
			SecondsPerResearch: 15,
		},
	}
}
