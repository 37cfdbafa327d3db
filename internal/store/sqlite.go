package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/contact-research/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS status_records (
	normalized_name  TEXT PRIMARY KEY,
	display_name     TEXT NOT NULL,
	status           TEXT NOT NULL,
	method           TEXT NOT NULL DEFAULT '',
	researched_at    TEXT,
	sources_found    INTEGER NOT NULL DEFAULT 0,
	govt_sources     INTEGER NOT NULL DEFAULT 0,
	industry_sources INTEGER NOT NULL DEFAULT 0,
	match_confidence REAL,
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	input      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	summary    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_status_records_status ON status_records(status);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRecords(ctx context.Context, records []model.StatusRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save records")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO status_records (normalized_name, display_name, status, method, researched_at,
			sources_found, govt_sources, industry_sources, match_confidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (normalized_name) DO UPDATE SET
			display_name = excluded.display_name,
			status = excluded.status,
			method = excluded.method,
			researched_at = excluded.researched_at,
			sources_found = excluded.sources_found,
			govt_sources = excluded.govt_sources,
			industry_sources = excluded.industry_sources,
			match_confidence = excluded.match_confidence,
			updated_at = excluded.updated_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare save records")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range records {
		var ts sql.NullString
		if r.Timestamp != nil {
			ts = sql.NullString{String: r.Timestamp.UTC().Format(time.RFC3339Nano), Valid: true}
		}
		var conf sql.NullFloat64
		if r.MatchConfidence != nil {
			conf = sql.NullFloat64{Float64: *r.MatchConfidence, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			r.NormalizedName, r.DisplayName, string(r.Status), string(r.Method), ts,
			r.SourcesFound, r.GovtSources, r.IndustrySources, conf, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: save record %s", r.NormalizedName)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save records")
}

func (s *SQLiteStore) LoadRecords(ctx context.Context) ([]model.StatusRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT normalized_name, display_name, status, method, researched_at,
			sources_found, govt_sources, industry_sources, match_confidence
		FROM status_records ORDER BY rowid`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StatusRecord
	for rows.Next() {
		var (
			r      model.StatusRecord
			status string
			method string
			ts     sql.NullString
			conf   sql.NullFloat64
		)
		if err := rows.Scan(&r.NormalizedName, &r.DisplayName, &status, &method, &ts,
			&r.SourcesFound, &r.GovtSources, &r.IndustrySources, &conf); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		r.Status = model.Status(status)
		r.Method = model.Method(method)
		if ts.Valid {
			t, err := time.Parse(time.RFC3339Nano, ts.String)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: parse timestamp for %s", r.NormalizedName)
			}
			r.Timestamp = &t
		}
		if conf.Valid {
			c := conf.Float64
			r.MatchConfidence = &c
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load records iterate")
}

func (s *SQLiteStore) ClearRecords(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM status_records`)
	return eris.Wrap(err, "sqlite: clear records")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, input string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, input, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Input:     input,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *model.BatchRunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET summary = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(summaryJSON), string(runStatusFor(summary)), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, input, status, summary, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, input, status, summary, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var summaryJSON sql.NullString

	err := row.Scan(&r.ID, &r.Input, &r.Status, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if summaryJSON.Valid && summaryJSON.String != "" && summaryJSON.String != "null" {
		r.Summary = &model.BatchRunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &r, nil
}
