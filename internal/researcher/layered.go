// Package researcher is the concrete research collaborator: layered Tavily
// searches followed by LLM extraction of contact details.
package researcher

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-research/internal/cost"
	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/resilience"
	"github.com/sells-group/contact-research/pkg/tavily"
)

// Layered searches layer by layer, escalating while extraction confidence
// stays below the configured threshold.
type Layered struct {
	search    *Searcher
	extractor Extractor
	cfg       LayerConfig
	calc      *cost.Calculator
}

// LayeredOption configures a Layered researcher.
type LayeredOption func(*Layered)

// WithCalculator enables per-research spend estimates.
func WithCalculator(calc *cost.Calculator) LayeredOption {
	return func(l *Layered) { l.calc = calc }
}

// NewLayered builds a Layered researcher.
func NewLayered(search *Searcher, extractor Extractor, cfg LayerConfig, opts ...LayeredOption) *Layered {
	if cfg.EscalateBelow <= 0 {
		cfg.EscalateBelow = DefaultEscalateBelow
	}
	if len(cfg.Layers) == 0 {
		cfg.Layers = DefaultLayerConfig().Layers
	}
	l := &Layered{search: search, extractor: extractor, cfg: cfg}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Flush drops memoized search responses so the next research of any name
// queries Tavily again.
func (l *Layered) Flush() {
	if l.search != nil {
		l.search.Flush()
	}
}

// Research implements research.Researcher.
//
// Layer 1 always runs. Each later layer runs only when the earlier layers
// returned results and the best extraction so far is below the escalation
// threshold. No results at all yields manual_required; a usable extraction
// yields success. Billing errors, open circuits and cancellation are
// returned as errors.
func (l *Layered) Research(ctx context.Context, name string) (*model.Outcome, error) {
	start := time.Now()
	log := zap.L().With(zap.String("business", name))

	out := &model.Outcome{Status: model.StatusManualRequired}
	var all []tavily.Result
	var best *Extraction

	for i, layer := range l.cfg.Layers {
		if i > 0 {
			if len(all) == 0 || best == nil || best.Confidence >= l.cfg.EscalateBelow {
				break
			}
			log.Debug("researcher: escalating",
				zap.String("layer", layer.Name),
				zap.Float64("confidence", best.Confidence),
			)
		}

		results, err := l.search.Layer(ctx, name, layer)
		if err != nil {
			return nil, eris.Wrapf(err, "researcher: %s layer", layer.Name)
		}
		out.CostUSD += l.searchCost(len(layer.Render(name)))
		countResults(out, layer.Kind, len(results))
		if len(results) == 0 {
			continue
		}

		// newest layer first so it survives the prompt's result cap
		all = append(results, all...)

		ext, err := l.extractor.Extract(ctx, name, all)
		if err != nil {
			if fatal(ctx, err) {
				return nil, eris.Wrapf(err, "researcher: %s extraction", l.extractor.Name())
			}
			log.Warn("researcher: extraction failed", zap.String("layer", layer.Name), zap.Error(err))
			break
		}
		out.CostUSD += l.extractionCost(ext)
		if ext.Empty() {
			log.Warn("researcher: empty extraction", zap.String("layer", layer.Name))
			break
		}
		if best == nil || ext.Confidence >= best.Confidence {
			best = ext
		}
	}

	if best != nil {
		out.Status = model.StatusSuccess
		out.Contact = best.Contact
		conf := best.Confidence
		out.Confidence = &conf
	}

	log.Info("researcher: research complete",
		zap.String("status", string(out.Status)),
		zap.Int("sources_found", out.SourcesFound),
		zap.Int("govt_sources", out.GovtSources),
		zap.Int("industry_sources", out.IndustrySources),
		zap.Float64("cost_usd", out.CostUSD),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// Ping checks both providers with minimal requests.
func (l *Layered) Ping(ctx context.Context) error {
	if _, err := l.search.client.Search(ctx, tavily.SearchRequest{Query: "test query", MaxResults: 1}); err != nil {
		return eris.Wrap(err, "researcher: ping search")
	}
	if err := l.extractor.Ping(ctx); err != nil {
		return eris.Wrapf(err, "researcher: ping %s", l.extractor.Name())
	}
	return nil
}

// searchCost estimates the spend of n queries. Memoized queries are counted
// too, so the figure is an upper bound.
func (l *Layered) searchCost(n int) float64 {
	if l.calc == nil {
		return 0
	}
	return float64(n) * l.calc.SearchQuery()
}

func (l *Layered) extractionCost(ext *Extraction) float64 {
	if l.calc == nil || ext == nil {
		return 0
	}
	switch l.extractor.Name() {
	case "groq":
		return l.calc.Groq(ext.Model, ext.InputTokens, ext.OutputTokens)
	case "anthropic":
		return l.calc.Claude(ext.Model, false, ext.InputTokens, ext.OutputTokens, 0, 0)
	}
	return 0
}

func countResults(out *model.Outcome, kind Kind, n int) {
	out.SourcesFound += n
	switch kind {
	case KindGovernment:
		out.GovtSources += n
	case KindIndustry:
		out.IndustrySources += n
	}
}

// fatal reports whether err must abort the research instead of degrading
// to a manual fallback.
func fatal(ctx context.Context, err error) bool {
	return resilience.IsBilling(err) ||
		errors.Is(err, resilience.ErrCircuitOpen) ||
		ctx.Err() != nil
}
