package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-research/internal/config"
	"github.com/sells-group/contact-research/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store persists status records between sessions and logs batch runs.
type Store interface {
	// Status records
	SaveRecords(ctx context.Context, records []model.StatusRecord) error
	LoadRecords(ctx context.Context) ([]model.StatusRecord, error)
	ClearRecords(ctx context.Context) error

	// Runs
	CreateRun(ctx context.Context, input string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, summary *model.BatchRunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and applies migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// runStatusFor maps a finished summary onto the run log status.
func runStatusFor(summary *model.BatchRunSummary) model.RunStatus {
	if summary != nil && summary.Cancelled {
		return model.RunStatusCancelled
	}
	return model.RunStatusComplete
}
