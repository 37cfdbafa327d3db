package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-research/internal/db"
	"github.com/sells-group/contact-research/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var recordColumns = []string{
	"normalized_name", "display_name", "status", "method", "researched_at",
	"sources_found", "govt_sources", "industry_sources", "match_confidence", "updated_at",
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS status_records (
	normalized_name  TEXT PRIMARY KEY,
	display_name     TEXT NOT NULL,
	status           TEXT NOT NULL,
	method           TEXT NOT NULL DEFAULT '',
	researched_at    TIMESTAMPTZ,
	sources_found    INTEGER NOT NULL DEFAULT 0,
	govt_sources     INTEGER NOT NULL DEFAULT 0,
	industry_sources INTEGER NOT NULL DEFAULT 0,
	match_confidence DOUBLE PRECISION,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	input      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_status_records_status ON status_records(status);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRecords(ctx context.Context, records []model.StatusRecord) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		var ts *time.Time
		if r.Timestamp != nil {
			t := r.Timestamp.UTC()
			ts = &t
		}
		rows = append(rows, []any{
			r.NormalizedName, r.DisplayName, string(r.Status), string(r.Method), ts,
			int32(r.SourcesFound), int32(r.GovtSources), int32(r.IndustrySources), r.MatchConfidence, now,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "status_records",
		Columns:      recordColumns,
		ConflictKeys: []string{"normalized_name"},
	}, rows)
	return eris.Wrap(err, "postgres: save records")
}

func (s *PostgresStore) LoadRecords(ctx context.Context) ([]model.StatusRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT normalized_name, display_name, status, method, researched_at,
			sources_found, govt_sources, industry_sources, match_confidence
		FROM status_records ORDER BY updated_at, normalized_name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load records")
	}
	defer rows.Close()

	var out []model.StatusRecord
	for rows.Next() {
		var (
			r                     model.StatusRecord
			status, method        string
			ts                    *time.Time
			found, govt, industry int32
			conf                  *float64
		)
		if err := rows.Scan(&r.NormalizedName, &r.DisplayName, &status, &method, &ts,
			&found, &govt, &industry, &conf); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		r.Status = model.Status(status)
		r.Method = model.Method(method)
		r.Timestamp = ts
		r.SourcesFound = int(found)
		r.GovtSources = int(govt)
		r.IndustrySources = int(industry)
		r.MatchConfidence = conf
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load records iterate")
}

func (s *PostgresStore) ClearRecords(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM status_records`)
	return eris.Wrap(err, "postgres: clear records")
}

func (s *PostgresStore) CreateRun(ctx context.Context, input string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, input, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, input, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Input:     input,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *model.BatchRunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET summary = $1, status = $2, updated_at = $3 WHERE id = $4`,
		summaryJSON, string(runStatusFor(summary)), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var status string
	var summaryJSON *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, input, status, summary, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Input, &status, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	r.Status = model.RunStatus(status)

	if err := decodeSummary(summaryJSON, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, input, status, summary, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var status string
		var summaryJSON *[]byte

		if err := rows.Scan(&r.ID, &r.Input, &status, &summaryJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		if err := decodeSummary(summaryJSON, &r); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func decodeSummary(raw *[]byte, r *model.Run) error {
	if raw == nil || len(*raw) == 0 || string(*raw) == "null" {
		return nil
	}
	r.Summary = &model.BatchRunSummary{}
	return eris.Wrap(json.Unmarshal(*raw, r.Summary), "postgres: unmarshal summary")
}
