package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-research/internal/batch"
	"github.com/sells-group/contact-research/internal/cost"
	"github.com/sells-group/contact-research/internal/decision"
	"github.com/sells-group/contact-research/internal/monitoring"
	"github.com/sells-group/contact-research/internal/research"
	"github.com/sells-group/contact-research/internal/researcher"
	"github.com/sells-group/contact-research/internal/statuscache"
	"github.com/sells-group/contact-research/internal/store"
)

// researchEnv holds the initialized components shared by the commands.
type researchEnv struct {
	Store        store.Store
	Cache        *statuscache.Store
	Layered      *researcher.Layered    // nil in cache mode
	Orchestrator *research.Orchestrator // nil in cache mode
	Controller   *batch.Controller      // nil in cache mode
	Calc         *cost.Calculator
}

// Close releases resources held by the environment.
func (e *researchEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Persist writes every cached record back to the store.
func (e *researchEnv) Persist(ctx context.Context) error {
	if e.Store == nil {
		return nil
	}
	recs := e.Cache.Records()
	if err := e.Store.SaveRecords(ctx, recs); err != nil {
		return eris.Wrap(err, "persist status records")
	}
	zap.L().Debug("persisted status records", zap.Int("records", len(recs)))
	return nil
}

// batchOptions returns controller options seeded from config.
func (e *researchEnv) batchOptions() batch.Options {
	opts := batch.DefaultOptions()
	opts.Concurrency = cfg.Batch.MaxConcurrent
	opts.Delay = cfg.Batch.Delay()
	opts.StopOnBillingError = cfg.Batch.StopOnBillingError
	return opts
}

// collector builds a health collector over the run log and the cache.
func (e *researchEnv) collector() *monitoring.Collector {
	return monitoring.NewCollector(e.Store, e.Cache, time.Duration(cfg.Monitoring.StuckRunHours)*time.Hour)
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// initEnv validates config for mode, opens the store and loads the persisted
// status records. The research stack is only built outside cache mode.
func initEnv(ctx context.Context, mode string) (*researchEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	env := &researchEnv{
		Store: st,
		Cache: statuscache.New(),
		Calc:  cost.NewCalculator(cfg.Pricing.Rates()),
	}

	recs, err := st.LoadRecords(ctx)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "load status records")
	}
	loaded := env.Cache.LoadRecords(recs)
	zap.L().Debug("loaded status records", zap.Int("records", loaded))

	if mode == "cache" {
		return env, nil
	}

	layered, err := researcher.FromConfig(cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Layered = layered
	env.Orchestrator = research.NewOrchestrator(env.Cache, layered,
		decision.Policy{SkipCachedStatus: cfg.Research.SkipCachedStatus},
		research.WithCallTimeout(cfg.Research.CallTimeout()),
	)
	env.Controller = batch.NewController(env.Orchestrator, env.Calc)
	return env, nil
}
