package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/id"
	"github.com/xraph/orchestra/workflow"
)

// ErrDuplicateRun is returned by SaveResult for a run id already saved.
var ErrDuplicateRun = errors.New("orchestra/postgres: run already saved")

// SQLSTATE unique_violation
const uniqueViolation = "23505"

const resultColumns = `run_id, workflow_id, name, mode, status, error, steps, started_at, ended_at, elapsed_ns`

// SaveResult records a finished run.
func (s *Store) SaveResult(ctx context.Context, r *workflow.Result) error {
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("orchestra/postgres: encode steps: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO orchestra_results (`+resultColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.RunID.String(), r.WorkflowID, r.Name, string(r.Mode), string(r.Status),
		r.Error, steps, r.StartedAt.UTC(), r.EndedAt.UTC(), int64(r.Elapsed),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, r.RunID)
		}
		return fmt.Errorf("orchestra/postgres: save result: %w", err)
	}
	return nil
}

// GetRun retrieves a result by run id.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Result, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM orchestra_results WHERE run_id = $1`,
		runID.String(),
	)
	res, err := scanResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orchestra.ErrRunNotFound
		}
		return nil, fmt.Errorf("orchestra/postgres: get run: %w", err)
	}
	return res, nil
}

// LatestResult retrieves the most recent result of a workflow id.
func (s *Store) LatestResult(ctx context.Context, workflowID string) (*workflow.Result, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM orchestra_results
		WHERE workflow_id = $1
		ORDER BY ended_at DESC, run_id DESC
		LIMIT 1`,
		workflowID,
	)
	res, err := scanResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orchestra.ErrRunNotFound
		}
		return nil, fmt.Errorf("orchestra/postgres: latest result: %w", err)
	}
	return res, nil
}

// ListResults returns results newest first.
func (s *Store) ListResults(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Result, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.WorkflowID != "" {
		args = append(args, opts.WorkflowID)
		where = append(where, fmt.Sprintf("workflow_id = $%d", len(args)))
	}

	q := `SELECT ` + resultColumns + ` FROM orchestra_results`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY ended_at DESC, run_id DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("orchestra/postgres: list results: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Result
	for rows.Next() {
		res, scanErr := scanResult(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("orchestra/postgres: scan result: %w", scanErr)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orchestra/postgres: list results: %w", err)
	}
	return out, nil
}

func scanResult(row pgx.Row) (*workflow.Result, error) {
	var (
		res       workflow.Result
		runID     string
		mode      string
		status    string
		steps     []byte
		elapsedNs int64
	)
	err := row.Scan(&runID, &res.WorkflowID, &res.Name, &mode, &status, &res.Error,
		&steps, &res.StartedAt, &res.EndedAt, &elapsedNs)
	if err != nil {
		return nil, err
	}

	if res.RunID, err = id.ParseRunID(runID); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	if err := json.Unmarshal(steps, &res.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	res.Mode = workflow.Mode(mode)
	res.Status = workflow.Status(status)
	res.Elapsed = time.Duration(elapsedNs)
	res.StartedAt = res.StartedAt.UTC()
	res.EndedAt = res.EndedAt.UTC()

	// Only messages survive storage.
	if res.Error != "" {
		res.Err = errors.New(res.Error)
	}
	for i := range res.Steps {
		if res.Steps[i].Error != "" {
			res.Steps[i].Err = errors.New(res.Steps[i].Error)
		}
	}
	return &res, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
