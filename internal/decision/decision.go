// Package decision holds the single rule that decides whether a business is
// skipped, re-researched or freshly researched.
package decision

import (
	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/normalize"
)

// Lookup reads cached state by business name. *statuscache.Store satisfies it.
type Lookup interface {
	Get(name string) (model.StatusRecord, bool)
}

// Policy configures which cached statuses are skip-eligible.
type Policy struct {
	// SkipCachedStatus makes records whose status is "cached" skip-eligible
	// alongside completed and success.
	SkipCachedStatus bool
}

// SkipEligible reports whether a record with status st may be skipped.
func (p Policy) SkipEligible(st model.Status) bool {
	switch st {
	case model.StatusCompleted, model.StatusSuccess:
		return true
	case model.StatusCached:
		return p.SkipCachedStatus
	default:
		return false
	}
}

// Decision is the outcome of Decide. Cached is set only when Kind is Skip;
// Reason is set only when Kind is Research.
type Decision struct {
	Kind           model.DecisionKind
	Reason         model.Reason
	NormalizedName string
	Cached         *model.StatusRecord
}

// IsSkip reports whether the decision is to return the cached record.
func (d Decision) IsSkip() bool { return d.Kind == model.DecisionSkip }

// Engine applies a Policy to cached state.
type Engine struct {
	cache  Lookup
	policy Policy
}

// NewEngine returns an Engine reading from cache.
func NewEngine(cache Lookup, policy Policy) *Engine {
	return &Engine{cache: cache, policy: policy}
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy { return e.policy }

// Decide applies, in order: force, absent, skip-eligible status, otherwise
// re-research. Statuses outside the closed set are treated as not completed.
func (e *Engine) Decide(name string, force bool) Decision {
	key := normalize.Name(name)

	if force {
		return research(key, model.ReasonForced)
	}

	rec, ok := e.cache.Get(key)
	if !ok {
		return research(key, model.ReasonNew)
	}

	if e.policy.SkipEligible(rec.Status) {
		return Decision{Kind: model.DecisionSkip, NormalizedName: key, Cached: &rec}
	}
	return research(key, model.ReasonNonCompletedStatus)
}

func research(key string, reason model.Reason) Decision {
	return Decision{Kind: model.DecisionResearch, Reason: reason, NormalizedName: key}
}
