package cron

import (
	"time"

	"github.com/xraph/orchestra/workflow"
)

// Entry is a definition run on a recurring schedule.
type Entry struct {
	Name       string               `json:"name"`
	Schedule   string               `json:"schedule"`
	Definition *workflow.Definition `json:"definition"`
	Enabled    bool                 `json:"enabled"`

	// Managed by the scheduler.
	LastRunAt  *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time      `json:"next_run_at,omitempty"`
	LastStatus workflow.Status `json:"last_status,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Fired      int             `json:"fired"`
	Skipped    int             `json:"skipped"`
}

func (e *Entry) clone() Entry {
	c := *e
	if e.LastRunAt != nil {
		t := *e.LastRunAt
		c.LastRunAt = &t
	}
	if e.NextRunAt != nil {
		t := *e.NextRunAt
		c.NextRunAt = &t
	}
	return c
}
