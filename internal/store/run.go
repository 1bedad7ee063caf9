package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/kubev2v/qemu-backup-harness/internal/models"
	srvErrors "github.com/kubev2v/qemu-backup-harness/pkg/errors"
)

// RunSummary is one row of run history without the per-case results.
type RunSummary struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Passed     int
	Failed     int
}

// RunStore handles run history storage using DuckDB.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new run store.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Save persists a run together with its case results.
func (s *RunStore) Save(ctx context.Context, run *models.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, queryInsertRun,
		run.ID, run.StartedAt, run.FinishedAt, len(run.Results), run.Passed(), run.Failed())
	if err != nil {
		return err
	}

	for _, res := range run.Results {
		_, err = tx.ExecContext(ctx, queryInsertCaseResult,
			run.ID, res.Name, string(res.Status), res.Error, res.Duration.Milliseconds())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Get retrieves a run and its case results.
func (s *RunStore) Get(ctx context.Context, id string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, queryGetRun, id)

	var run models.Run
	err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, srvErrors.NewRunNotFoundError(id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, queryGetRunResults, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var res models.CaseResult
		var status string
		var durationMS int64
		if err := rows.Scan(&res.Name, &status, &res.Error, &durationMS); err != nil {
			return nil, err
		}
		res.Status = models.CaseStatus(status)
		res.Duration = time.Duration(durationMS) * time.Millisecond
		run.Results = append(run.Results, res)
	}

	return &run, rows.Err()
}

// List returns run summaries, newest first.
func (s *RunStore) List(ctx context.Context, opts ...ListOption) ([]RunSummary, error) {
	builder := sq.Select("id", "started_at", "finished_at", "total", "passed", "failed").
		From("runs").
		OrderBy("started_at DESC")

	for _, opt := range opts {
		builder = opt(builder)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Total, &r.Passed, &r.Failed); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

type ListOption func(sq.SelectBuilder) sq.SelectBuilder

func WithLimit(limit uint64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Limit(limit)
	}
}

func WithFailuresOnly() ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where(sq.Gt{"failed": 0})
	}
}

func SinceTime(t time.Time) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where(sq.GtOrEq{"started_at": t})
	}
}
