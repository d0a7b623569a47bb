// Package memory provides an in-memory run-history store. It backs
// engine status lookups of finished runs and the result listing used by
// the CLI. Safe for concurrent access.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/id"
	"github.com/xraph/orchestra/workflow"
)

// Compile-time interface check.
var _ workflow.Store = (*Store)(nil)

// ErrDuplicateRun is returned by SaveResult for a run id already saved.
var ErrDuplicateRun = errors.New("memory: run already saved")

// Store keeps finished run results in memory, oldest first.
type Store struct {
	mu sync.RWMutex

	results []*workflow.Result
	byRun   map[string]*workflow.Result

	// maxResults bounds retention; the oldest result is evicted first.
	maxResults int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxResults bounds how many results are retained. Zero means no
// bound.
func WithMaxResults(n int) Option {
	return func(s *Store) { s.maxResults = n }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{byRun: make(map[string]*workflow.Result)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// Len returns the number of retained results.
func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results)
}

// SaveResult records a finished run. The store keeps its own copy.
func (m *Store) SaveResult(_ context.Context, r *workflow.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.RunID.String()
	if _, exists := m.byRun[key]; exists {
		return ErrDuplicateRun
	}
	cp := clone(r)
	m.results = append(m.results, cp)
	m.byRun[key] = cp

	if m.maxResults > 0 {
		for len(m.results) > m.maxResults {
			delete(m.byRun, m.results[0].RunID.String())
			m.results[0] = nil
			m.results = m.results[1:]
		}
	}
	return nil
}

// GetRun retrieves a result by run id.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.byRun[runID.String()]
	if !ok {
		return nil, orchestra.ErrRunNotFound
	}
	return clone(r), nil
}

// LatestResult retrieves the most recent result of a workflow id.
func (m *Store) LatestResult(_ context.Context, workflowID string) (*workflow.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.results) - 1; i >= 0; i-- {
		if m.results[i].WorkflowID == workflowID {
			return clone(m.results[i]), nil
		}
	}
	return nil, orchestra.ErrRunNotFound
}

// ListResults returns results matching opts, newest first.
func (m *Store) ListResults(_ context.Context, opts workflow.ListOpts) ([]*workflow.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*workflow.Result, 0, len(m.results))
	for i := len(m.results) - 1; i >= 0; i-- {
		r := m.results[i]
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if opts.WorkflowID != "" && r.WorkflowID != opts.WorkflowID {
			continue
		}
		out = append(out, r)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	for i, r := range out {
		out[i] = clone(r)
	}
	return out, nil
}

func clone(r *workflow.Result) *workflow.Result {
	cp := *r
	cp.Steps = slices.Clone(r.Steps)
	return &cp
}
