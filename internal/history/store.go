// Package history persists run outcomes in PostgreSQL and serves the recent
// run list.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/freq"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/events"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/postgres"
)

// Schema creates the history tables. Terms are raw bytes, hence BYTEA; they
// are stored per rank so past top terms are queryable without decoding JSON.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS termfreq_runs (
	    run_id          TEXT PRIMARY KEY,
	    input           TEXT NOT NULL,
	    strategy        TEXT NOT NULL,
	    status          TEXT NOT NULL,
	    workers         INTEGER NOT NULL DEFAULT 0,
	    k               INTEGER NOT NULL DEFAULT 0,
	    unique_terms    INTEGER NOT NULL DEFAULT 0,
	    terms_scanned   BIGINT NOT NULL DEFAULT 0,
	    elapsed_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	    error           TEXT NOT NULL DEFAULT '',
	    source          TEXT NOT NULL DEFAULT '',
	    stats           JSONB,
	    recorded_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS termfreq_run_terms (
	    run_id TEXT NOT NULL REFERENCES termfreq_runs(run_id) ON DELETE CASCADE,
	    rank   INTEGER NOT NULL,
	    term   BYTEA NOT NULL,
	    count  BIGINT NOT NULL,
	    PRIMARY KEY (run_id, rank)
	)`,
	`CREATE INDEX IF NOT EXISTS termfreq_runs_recorded_at_idx ON termfreq_runs (recorded_at DESC)`,
}

// Run is one row of run history.
type Run struct {
	RunID          string          `json:"run_id"`
	Input          string          `json:"input"`
	Strategy       string          `json:"strategy"`
	Status         string          `json:"status"`
	Workers        int             `json:"workers"`
	K              int             `json:"k"`
	UniqueTerms    int             `json:"unique_terms"`
	TermsScanned   int64           `json:"terms_scanned"`
	ElapsedSeconds float64         `json:"elapsed_seconds"`
	Error          string          `json:"error,omitempty"`
	Source         string          `json:"source"`
	Stats          json.RawMessage `json:"stats,omitempty"`
	Top            []freq.Entry    `json:"top"`
	RecordedAt     time.Time       `json:"recorded_at"`
}

// FromEvent converts a run event into a history row.
func FromEvent(ev events.RunEvent) (Run, error) {
	run := Run{
		RunID:      ev.RunID,
		Input:      ev.Input,
		Strategy:   ev.Strategy,
		Status:     "ok",
		Source:     ev.Source,
		Error:      ev.Error,
		RecordedAt: ev.Timestamp,
	}
	if ev.Type == events.EventRunFailed {
		run.Status = "failed"
	}
	if r := ev.Report; r != nil {
		stats, err := json.Marshal(r.Stats)
		if err != nil {
			return Run{}, fmt.Errorf("marshaling stats: %w", err)
		}
		run.Workers = r.Workers
		run.K = r.K
		run.UniqueTerms = r.Stats.UniqueTerms
		run.TermsScanned = r.Stats.TermsScanned
		run.ElapsedSeconds = r.ElapsedSeconds
		run.Stats = stats
		run.Top = r.Top
	}
	if run.RunID == "" {
		return Run{}, errors.New("run event without run id")
	}
	if run.RecordedAt.IsZero() {
		run.RecordedAt = time.Now().UTC()
	}
	return run, nil
}

// Store reads and writes run history.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "history-store"),
	}
}

// EnsureSchema creates the history tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.db.Migrate(ctx, Schema...); err != nil {
		return fmt.Errorf("creating history schema: %w", err)
	}
	return nil
}

// Save records a run and its top terms in one transaction. Saving a run id
// that already exists is a no-op, so redelivered events are harmless.
func (s *Store) Save(ctx context.Context, run Run) error {
	var stats any
	if len(run.Stats) > 0 {
		stats = string(run.Stats)
	}
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO termfreq_runs
			    (run_id, input, strategy, status, workers, k, unique_terms,
			     terms_scanned, elapsed_seconds, error, source, stats, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 ON CONFLICT (run_id) DO NOTHING`,
			run.RunID, run.Input, run.Strategy, run.Status, run.Workers, run.K,
			run.UniqueTerms, run.TermsScanned, run.ElapsedSeconds, run.Error,
			run.Source, stats, run.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		for i, e := range run.Top {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO termfreq_run_terms (run_id, rank, term, count) VALUES ($1, $2, $3, $4)`,
				run.RunID, i+1, []byte(e.Term), e.Count,
			); err != nil {
				return fmt.Errorf("inserting term %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.RunID, err)
	}
	s.logger.Info("run recorded",
		"run_id", run.RunID,
		"status", run.Status,
		"strategy", run.Strategy,
		"top_terms", len(run.Top),
	)
	return nil
}

// Recent returns the last limit runs, newest first, with their top terms.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT run_id, input, strategy, status, workers, k, unique_terms,
		        terms_scanned, elapsed_seconds, error, source, stats, recorded_at
		   FROM termfreq_runs
		  ORDER BY recorded_at DESC
		  LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		var run Run
		var stats []byte
		if err := rows.Scan(&run.RunID, &run.Input, &run.Strategy, &run.Status,
			&run.Workers, &run.K, &run.UniqueTerms, &run.TermsScanned,
			&run.ElapsedSeconds, &run.Error, &run.Source, &stats, &run.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		run.Stats = stats
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range runs {
		top, err := s.topTerms(ctx, runs[i].RunID)
		if err != nil {
			return nil, err
		}
		runs[i].Top = top
	}
	return runs, nil
}

func (s *Store) topTerms(ctx context.Context, runID string) ([]freq.Entry, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT term, count FROM termfreq_run_terms WHERE run_id = $1 ORDER BY rank`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading terms of run %s: %w", runID, err)
	}
	defer rows.Close()
	top := make([]freq.Entry, 0)
	for rows.Next() {
		var term []byte
		var count int64
		if err := rows.Scan(&term, &count); err != nil {
			return nil, fmt.Errorf("scanning term row: %w", err)
		}
		top = append(top, freq.Entry{Term: string(term), Count: count})
	}
	return top, rows.Err()
}

// HandleMessage is a kafka.MessageHandler that records run events. Events
// that cannot become a Run are reported as kafka.ErrMalformed.
func (s *Store) HandleMessage(ctx context.Context, key, value []byte) error {
	ev, err := kafka.DecodeJSON[events.RunEvent](value)
	if err != nil {
		return err
	}
	run, err := FromEvent(ev)
	if err != nil {
		return fmt.Errorf("run event %q: %w: %w", key, kafka.ErrMalformed, err)
	}
	return s.Save(ctx, run)
}
