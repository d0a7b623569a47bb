package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/id"
	"github.com/xraph/orchestra/workflow"
)

func newResult(workflowID string, status workflow.Status) *workflow.Result {
	now := time.Now().UTC()
	return &workflow.Result{
		WorkflowID: workflowID,
		RunID:      id.NewRunID(),
		Status:     status,
		Steps: []workflow.StepResult{
			{StepID: "a", State: workflow.StateCompleted, Output: "x"},
		},
		StartedAt: now,
		EndedAt:   now,
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestSaveAndGetRun(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	r := newResult("wf", workflow.StatusCompleted)

	if err := s.SaveResult(ctx, r); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if err := s.SaveResult(ctx, r); !errors.Is(err, ErrDuplicateRun) {
		t.Errorf("duplicate SaveResult err = %v, want ErrDuplicateRun", err)
	}

	got, err := s.GetRun(ctx, r.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.WorkflowID != "wf" || got.Status != workflow.StatusCompleted {
		t.Errorf("GetRun = %+v", got)
	}

	// Mutating the returned copy must not affect the store.
	got.Steps[0].State = workflow.StateFailed
	again, _ := s.GetRun(ctx, r.RunID)
	if again.Steps[0].State != workflow.StateCompleted {
		t.Error("store result was mutated through a returned copy")
	}

	if _, err := s.GetRun(ctx, id.NewRunID()); !errors.Is(err, orchestra.ErrRunNotFound) {
		t.Errorf("GetRun(unknown) err = %v, want ErrRunNotFound", err)
	}
}

func TestLatestResult(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	first := newResult("wf", workflow.StatusFailed)
	second := newResult("wf", workflow.StatusCompleted)
	other := newResult("other", workflow.StatusCompleted)
	for _, r := range []*workflow.Result{first, second, other} {
		if err := s.SaveResult(ctx, r); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}

	got, err := s.LatestResult(ctx, "wf")
	if err != nil {
		t.Fatalf("LatestResult: %v", err)
	}
	if got.RunID != second.RunID {
		t.Errorf("LatestResult = %s, want %s", got.RunID, second.RunID)
	}

	if _, err := s.LatestResult(ctx, "missing"); !errors.Is(err, orchestra.ErrRunNotFound) {
		t.Errorf("LatestResult(missing) err = %v, want ErrRunNotFound", err)
	}
}

func TestListResults(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	var saved []*workflow.Result
	for _, st := range []workflow.Status{
		workflow.StatusCompleted,
		workflow.StatusFailed,
		workflow.StatusCompleted,
		workflow.StatusPartiallyCompleted,
	} {
		r := newResult("wf", st)
		saved = append(saved, r)
		if err := s.SaveResult(ctx, r); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}

	tests := []struct {
		name  string
		opts  workflow.ListOpts
		wantN int
		first id.RunID
	}{
		{"all newest first", workflow.ListOpts{}, 4, saved[3].RunID},
		{"by status", workflow.ListOpts{Status: workflow.StatusCompleted}, 2, saved[2].RunID},
		{"limit", workflow.ListOpts{Limit: 2}, 2, saved[3].RunID},
		{"offset", workflow.ListOpts{Offset: 1}, 3, saved[2].RunID},
		{"offset past end", workflow.ListOpts{Offset: 10}, 0, id.Nil},
		{"by workflow", workflow.ListOpts{WorkflowID: "other"}, 0, id.Nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListResults(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListResults: %v", err)
			}
			if len(got) != tt.wantN {
				t.Fatalf("len = %d, want %d", len(got), tt.wantN)
			}
			if tt.wantN > 0 && got[0].RunID != tt.first {
				t.Errorf("first = %s, want %s", got[0].RunID, tt.first)
			}
		})
	}
}

func TestMaxResultsEvictsOldest(t *testing.T) {
	t.Parallel()
	s := New(WithMaxResults(2))
	ctx := context.Background()

	oldest := newResult("wf", workflow.StatusCompleted)
	_ = s.SaveResult(ctx, oldest)
	_ = s.SaveResult(ctx, newResult("wf", workflow.StatusCompleted))
	_ = s.SaveResult(ctx, newResult("wf", workflow.StatusCompleted))

	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	if _, err := s.GetRun(ctx, oldest.RunID); !errors.Is(err, orchestra.ErrRunNotFound) {
		t.Errorf("oldest result still present: err = %v", err)
	}
}
