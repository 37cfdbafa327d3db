// Package research sequences the skip/research decision with the external
// research call and records the outcome in the status cache.
package research

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-research/internal/decision"
	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/normalize"
	"github.com/sells-group/contact-research/internal/statuscache"
)

// Researcher performs the external research for one business. Escalation
// across search layers is its concern; the orchestrator calls it once.
type Researcher interface {
	Research(ctx context.Context, name string) (*model.Outcome, error)
}

// Orchestrator is the single entry point for researching a business.
type Orchestrator struct {
	store      *statuscache.Store
	engine     *decision.Engine
	researcher Researcher
	timeout    time.Duration
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCallTimeout bounds each Researcher call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the store, decision policy and researcher together.
func NewOrchestrator(store *statuscache.Store, researcher Researcher, policy decision.Policy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		engine:     decision.NewEngine(store, policy),
		researcher: researcher,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ResearchOne returns the cached record for name when it is skip-eligible,
// otherwise calls the Researcher once and upserts the outcome. Researcher
// errors become a billing_error record and are never returned. Blank names
// yield a result carrying only the validation error.
func (o *Orchestrator) ResearchOne(ctx context.Context, name string, force bool) model.ResultRecord {
	if err := normalize.Validate(name); err != nil {
		return model.ResultRecord{Name: name, Error: err.Error()}
	}

	unlock := o.store.Lock(name)
	defer unlock()

	d := o.engine.Decide(name, force)
	if d.IsSkip() {
		zap.L().Debug("research: skipping cached business",
			zap.String("name", name),
			zap.String("status", string(d.Cached.Status)),
		)
		return skipResult(name, *d.Cached)
	}

	return o.research(ctx, name, d)
}

func (o *Orchestrator) research(ctx context.Context, name string, d decision.Decision) model.ResultRecord {
	log := zap.L().With(
		zap.String("name", name),
		zap.String("reason", string(d.Reason)),
	)

	displayName := name
	if prev, ok := o.store.Get(d.NormalizedName); ok && prev.DisplayName != "" {
		displayName = prev.DisplayName
	}

	callCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	outcome, err := o.researcher.Research(callCtx, name)
	if err == nil {
		err = checkOutcome(outcome)
	}
	elapsed := time.Since(start)
	ts := o.now().UTC()

	res := model.ResultRecord{
		Name:           name,
		NormalizedName: d.NormalizedName,
		Method:         model.MethodFresh,
		Timestamp:      &ts,
		Decision:       model.DecisionResearch,
		Reason:         d.Reason,
		DurationMs:     elapsed.Milliseconds(),
	}

	if err != nil {
		log.Warn("research: call failed, recording billing_error", zap.Error(err))
		res.Status = model.StatusBillingError
		res.Error = err.Error()
	} else {
		res.Status = outcome.Status
		res.SourcesFound = nonNegative(outcome.SourcesFound)
		res.GovtSources = nonNegative(outcome.GovtSources)
		res.IndustrySources = nonNegative(outcome.IndustrySources)
		res.MatchConfidence = outcome.Confidence
		res.Contact = outcome.Contact
		log.Info("research: complete",
			zap.String("status", string(res.Status)),
			zap.Int("sources_found", res.SourcesFound),
			zap.Duration("elapsed", elapsed),
		)
	}

	rec := model.RecordFromResult(res)
	rec.DisplayName = displayName
	o.store.Put(rec)

	return res
}

func checkOutcome(out *model.Outcome) error {
	if out == nil {
		return eris.New("research: researcher returned no outcome")
	}
	if !out.Status.Valid() || out.Status == model.StatusNotResearched {
		return eris.Errorf("research: researcher returned invalid status %q", out.Status)
	}
	return nil
}

func skipResult(name string, rec model.StatusRecord) model.ResultRecord {
	return model.ResultRecord{
		Name:            name,
		NormalizedName:  rec.NormalizedName,
		Status:          rec.Status,
		Method:          model.MethodCached,
		Timestamp:       rec.Timestamp,
		SourcesFound:    rec.SourcesFound,
		GovtSources:     rec.GovtSources,
		IndustrySources: rec.IndustrySources,
		MatchConfidence: rec.MatchConfidence,
		Decision:        model.DecisionSkip,
	}
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Decide exposes the decision for name without researching it.
func (o *Orchestrator) Decide(name string, force bool) decision.Decision {
	return o.engine.Decide(name, force)
}

// Status returns the cached record for name.
func (o *Orchestrator) Status(name string) (model.StatusRecord, bool) {
	return o.store.Get(name)
}

// Summary counts cached records by status.
func (o *Orchestrator) Summary() statuscache.Summary {
	return o.store.Summary()
}

// Clear empties the status cache.
func (o *Orchestrator) Clear() {
	o.store.Clear()
	zap.L().Info("research: status cache cleared")
}

// Reset marks name as not researched. It reports whether a record existed.
func (o *Orchestrator) Reset(name string) bool {
	return o.store.Reset(name)
}

// Store returns the underlying status cache.
func (o *Orchestrator) Store() *statuscache.Store {
	return o.store
}
