package researcher

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-research/internal/config"
	"github.com/sells-group/contact-research/internal/cost"
	"github.com/sells-group/contact-research/internal/resilience"
	"github.com/sells-group/contact-research/pkg/anthropic"
	"github.com/sells-group/contact-research/pkg/groq"
	"github.com/sells-group/contact-research/pkg/tavily"
)

// FromConfig assembles a Layered researcher with the configured search
// client, extraction provider and layer file.
func FromConfig(cfg *config.Config) (*Layered, error) {
	layers := DefaultLayerConfig()
	if cfg.Research.LayersFile != "" {
		loaded, err := LoadLayerConfig(cfg.Research.LayersFile)
		if err != nil {
			return nil, err
		}
		layers = *loaded
	}
	if cfg.Research.EscalateBelow > 0 {
		layers.EscalateBelow = cfg.Research.EscalateBelow
	}
	if cfg.Tavily.MaxResults > 0 {
		for i := range layers.Layers {
			if layers.Layers[i].MaxResults == 0 {
				layers.Layers[i].MaxResults = cfg.Tavily.MaxResults
			}
		}
	}

	search := NewSearcher(
		tavily.NewClient(cfg.Tavily.Key,
			tavily.WithBaseURL(cfg.Tavily.BaseURL),
			tavily.WithSearchDepth(cfg.Tavily.SearchDepth),
			tavily.WithMaxResults(cfg.Tavily.MaxResults),
		),
		resilience.NewGuard("tavily", cfg.Tavily.RequestsPerSecond),
		cfg.Research.SearchCacheTTL(),
	)

	ext, err := NewExtractor(cfg)
	if err != nil {
		return nil, err
	}
	return NewLayered(search, ext, layers, WithCalculator(cost.NewCalculator(cfg.Pricing.Rates()))), nil
}

// NewExtractor returns the extraction provider selected by llm.provider.
func NewExtractor(cfg *config.Config) (Extractor, error) {
	switch cfg.LLM.Provider {
	case "", "groq":
		client := groq.NewClient(cfg.Groq.Key,
			groq.WithBaseURL(cfg.Groq.BaseURL),
			groq.WithModel(cfg.Groq.Model),
			groq.WithMaxTokens(cfg.Groq.MaxTokens),
		)
		return NewGroqExtractor(client, resilience.NewGuard("groq", 0)), nil
	case "anthropic":
		client := anthropic.NewClient(cfg.Anthropic.Key)
		return NewAnthropicExtractor(client, resilience.NewGuard("anthropic", 0), cfg.Anthropic.Model, int64(cfg.Anthropic.MaxTokens)), nil
	default:
		return nil, eris.Errorf("researcher: unknown llm provider %q", cfg.LLM.Provider)
	}
}
