package main

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-research/internal/batch"
	"github.com/sells-group/contact-research/internal/cost"
	"github.com/sells-group/contact-research/internal/decision"
	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/research"
	"github.com/sells-group/contact-research/internal/statuscache"
	"github.com/sells-group/contact-research/internal/store"
)

// stubResearcher returns a fixed outcome and counts calls per name.
type stubResearcher struct {
	mu      sync.Mutex
	calls   map[string]int
	outcome model.Outcome
	err     error
}

func newStubResearcher() *stubResearcher {
	conf := 8.0
	return &stubResearcher{
		calls: make(map[string]int),
		outcome: model.Outcome{
			Status:       model.StatusSuccess,
			SourcesFound: 3,
			Confidence:   &conf,
			Contact:      model.Contact{Phone: "022 1234 5678", Email: "info@acme.in"},
		},
	}
}

func (s *stubResearcher) Research(_ context.Context, name string) (*model.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
	if s.err != nil {
		return nil, s.err
	}
	out := s.outcome
	return &out, nil
}

func (s *stubResearcher) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cmd.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// newTestEnv wires a researchEnv around r. st may be nil.
func newTestEnv(r research.Researcher, st store.Store) *researchEnv {
	cache := statuscache.New()
	calc := cost.NewCalculator(cost.DefaultRates())
	orch := research.NewOrchestrator(cache, r, decision.Policy{})
	return &researchEnv{
		Store:        st,
		Cache:        cache,
		Orchestrator: orch,
		Controller:   batch.NewController(orch, calc),
		Calc:         calc,
	}
}
