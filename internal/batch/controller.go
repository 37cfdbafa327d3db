// Package batch drives research over an ordered list of business names and
// tallies the session summary.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/contact-research/internal/cost"
	"github.com/sells-group/contact-research/internal/decision"
	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/normalize"
)

// Error texts for names the run never reached.
const (
	ErrTextCancelled    = "cancelled"
	ErrTextStoppedEarly = "stopped after billing error"
)

// Researcher is the per-business entry point. *research.Orchestrator
// satisfies it.
type Researcher interface {
	ResearchOne(ctx context.Context, name string, force bool) model.ResultRecord
	Decide(name string, force bool) decision.Decision
}

// ProgressFunc is called once per processed name. Calls are serialized.
type ProgressFunc func(done, total int, res model.ResultRecord)

// Options controls one batch run.
type Options struct {
	// SkipResearched false forces every name into research. The cache is
	// still updated.
	SkipResearched bool
	// Force overrides the cache for every name in the run.
	Force bool
	// Concurrency above 1 researches names in parallel.
	Concurrency int
	// Limit truncates the input before the run when positive.
	Limit int
	// Delay spaces out external research calls. Skips are not delayed.
	Delay time.Duration
	// StopOnBillingError leaves the remaining names unprocessed after the
	// first billing_error outcome.
	StopOnBillingError bool
	OnProgress         ProgressFunc
}

// DefaultOptions returns sequential, skip-enabled options.
func DefaultOptions() Options {
	return Options{SkipResearched: true, Concurrency: 1}
}

// Controller runs batches against a Researcher.
type Controller struct {
	researcher Researcher
	calc       *cost.Calculator
}

// NewController creates a Controller. calc may be nil, in which case savings
// estimates are zero.
func NewController(r Researcher, calc *cost.Calculator) *Controller {
	return &Controller{researcher: r, calc: calc}
}

type runState struct {
	opts    Options
	force   bool
	names   []string
	results []model.ResultRecord
	done    []bool
	limiter *rate.Limiter

	skipped      atomic.Int64
	reResearched atomic.Int64
	fresh        atomic.Int64
	invalid      atomic.Int64
	errored      atomic.Int64
	completed    atomic.Int64
	stopped      atomic.Bool

	progressMu sync.Mutex
}

// Run processes names and returns one result per input name, in input order,
// with the session summary. It never stops on an individual failure. When ctx
// is cancelled, in-flight calls finish and the remaining names are returned
// with the "cancelled" error and counted as not processed.
func (c *Controller) Run(ctx context.Context, names []string, opts Options) ([]model.ResultRecord, model.BatchRunSummary) {
	if opts.Limit > 0 && len(names) > opts.Limit {
		names = names[:opts.Limit]
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	summary := model.BatchRunSummary{
		RunID:     uuid.NewString(),
		Total:     len(names),
		StartedAt: time.Now().UTC(),
	}

	st := &runState{
		opts:    opts,
		force:   opts.Force || !opts.SkipResearched,
		names:   names,
		results: make([]model.ResultRecord, len(names)),
		done:    make([]bool, len(names)),
	}
	if opts.Delay > 0 {
		st.limiter = rate.NewLimiter(rate.Every(opts.Delay), 1)
	}

	log := zap.L().With(zap.String("run_id", summary.RunID))
	log.Info("batch: processing",
		zap.Int("names", len(names)),
		zap.Int("concurrency", opts.Concurrency),
		zap.Bool("force", st.force),
	)

	if opts.Concurrency == 1 {
		for i := range names {
			if st.halted(ctx) {
				break
			}
			c.process(ctx, st, i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(opts.Concurrency)
		for i := range names {
			if st.halted(ctx) {
				break
			}
			g.Go(func() error {
				if st.halted(ctx) {
					return nil
				}
				c.process(ctx, st, i)
				return nil // don't abort batch on individual failure
			})
		}
		_ = g.Wait()
	}

	summary.Cancelled = ctx.Err() != nil
	notProcessed := 0
	for i, ok := range st.done {
		if ok {
			continue
		}
		notProcessed++
		res := model.ResultRecord{Name: names[i], Error: ErrTextCancelled}
		if !summary.Cancelled {
			res.Error = ErrTextStoppedEarly
		}
		if normalize.Validate(names[i]) == nil {
			res.NormalizedName = normalize.Name(names[i])
		}
		st.results[i] = res
	}

	summary.SkippedDuplicate = int(st.skipped.Load())
	summary.ReResearched = int(st.reResearched.Load())
	summary.FreshResearched = int(st.fresh.Load())
	summary.Invalid = int(st.invalid.Load())
	summary.Errored = int(st.errored.Load())
	summary.NotProcessed = notProcessed
	if c.calc != nil {
		summary.EstimatedSecondsSaved = c.calc.SecondsSaved(summary.SkippedDuplicate)
		summary.EstimatedCostSavedUSD = c.calc.CostSaved(summary.SkippedDuplicate)
	}
	summary.FinishedAt = time.Now().UTC()

	log.Info("batch: complete",
		zap.Int("total", summary.Total),
		zap.Int("skipped_duplicate", summary.SkippedDuplicate),
		zap.Int("re_researched", summary.ReResearched),
		zap.Int("fresh_researched", summary.FreshResearched),
		zap.Int("invalid", summary.Invalid),
		zap.Int("not_processed", summary.NotProcessed),
		zap.Int("errored", summary.Errored),
		zap.Bool("cancelled", summary.Cancelled),
	)

	return st.results, summary
}

func (st *runState) halted(ctx context.Context) bool {
	return ctx.Err() != nil || st.stopped.Load()
}

func (c *Controller) process(ctx context.Context, st *runState, i int) {
	name := st.names[i]

	if err := normalize.Validate(name); err != nil {
		st.invalid.Add(1)
		c.finish(st, i, model.ResultRecord{Name: name, Error: err.Error()})
		return
	}

	if st.limiter != nil && !c.researcher.Decide(name, st.force).IsSkip() {
		if err := st.limiter.Wait(ctx); err != nil {
			return
		}
	}

	// The in-flight call is allowed to finish after cancellation; the
	// orchestrator's own call timeout still applies.
	res := c.researcher.ResearchOne(context.WithoutCancel(ctx), name, st.force)

	switch {
	case res.Decision == model.DecisionSkip:
		st.skipped.Add(1)
	case res.Reason == model.ReasonNonCompletedStatus:
		st.reResearched.Add(1)
	default:
		st.fresh.Add(1)
	}

	if res.Decision == model.DecisionResearch && res.Status == model.StatusBillingError {
		st.errored.Add(1)
		if st.opts.StopOnBillingError {
			st.stopped.Store(true)
		}
	}

	c.finish(st, i, res)
}

func (c *Controller) finish(st *runState, i int, res model.ResultRecord) {
	st.results[i] = res
	st.done[i] = true
	n := int(st.completed.Add(1))

	if st.opts.OnProgress != nil {
		st.progressMu.Lock()
		st.opts.OnProgress(n, len(st.names), res)
		st.progressMu.Unlock()
	}
}
