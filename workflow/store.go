package workflow

import (
	"context"

	"github.com/xraph/orchestra/id"
)

// ListOpts controls pagination for result list queries.
type ListOpts struct {
	// Limit is the maximum number of results to return. Zero means no limit.
	Limit int
	// Offset is the number of results to skip.
	Offset int
	// Status filters by overall status. Empty means all.
	Status Status
	// WorkflowID filters by definition id. Empty means all.
	WorkflowID string
}

// Store persists finished run results.
type Store interface {
	// SaveResult records a finished run.
	SaveResult(ctx context.Context, r *Result) error

	// GetRun retrieves a result by run id.
	GetRun(ctx context.Context, runID id.RunID) (*Result, error)

	// LatestResult retrieves the most recent result of a workflow id.
	LatestResult(ctx context.Context, workflowID string) (*Result, error)

	// ListResults returns results newest first.
	ListResults(ctx context.Context, opts ListOpts) ([]*Result, error)
}
