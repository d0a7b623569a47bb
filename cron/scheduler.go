package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/workflow"
)

var (
	ErrEntryExists   = errors.New("orchestra: cron entry already exists")
	ErrEntryNotFound = errors.New("orchestra: cron entry not found")
	ErrInvalidEntry  = errors.New("orchestra: invalid cron entry")
)

// ExecuteFunc runs one definition to completion. (*engine.Engine).Execute
// satisfies it.
type ExecuteFunc func(ctx context.Context, def *workflow.Definition) (*workflow.Result, error)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithClock replaces time.Now when computing due entries.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler fires entries on a tick loop. It is safe for concurrent use.
type Scheduler struct {
	execute ExecuteFunc
	logger  *slog.Logger

	tickInterval time.Duration
	now          func() time.Time

	mu        sync.Mutex
	entries   map[string]*Entry
	schedules map[string]cronlib.Schedule
	running   map[string]bool
	started   bool
	stopped   bool

	runCtx    context.Context
	cancelRun context.CancelFunc
	stopCh    chan struct{}
	loopDone  chan struct{}
	runs      sync.WaitGroup
}

// NewScheduler creates a Scheduler that starts runs through execute.
func NewScheduler(execute ExecuteFunc, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		execute:      execute,
		logger:       logger,
		tickInterval: time.Second,
		now:          time.Now,
		entries:      make(map[string]*Entry),
		schedules:    make(map[string]cronlib.Schedule),
		running:      make(map[string]bool),
		stopCh:       make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tickInterval <= 0 {
		s.tickInterval = time.Second
	}
	return s
}

// Add registers an enabled entry. Its first run is the first schedule
// slot after now.
func (s *Scheduler) Add(name, schedule string, def *workflow.Definition) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}
	if def == nil {
		return fmt.Errorf("%w: %s: nil definition", ErrInvalidEntry, name)
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("%w: %s: schedule %q: %v", ErrInvalidEntry, name, schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrEntryExists, name)
	}
	next := sched.Next(s.now())
	s.entries[name] = &Entry{
		Name:       name,
		Schedule:   schedule,
		Definition: def.Clone(),
		Enabled:    true,
		NextRunAt:  &next,
	}
	s.schedules[name] = sched
	s.logger.Debug("cron entry added",
		slog.String("cron_name", name),
		slog.String("schedule", schedule),
		slog.Time("next_run_at", next),
	)
	return nil
}

// Remove deletes an entry. A run already in flight is not interrupted.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	delete(s.entries, name)
	delete(s.schedules, name)
	return nil
}

// Enable resumes firing an entry from the next slot after now.
func (s *Scheduler) Enable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	if !e.Enabled {
		next := s.schedules[name].Next(s.now())
		e.NextRunAt = &next
		e.Enabled = true
	}
	return nil
}

// Disable stops firing an entry until Enable is called.
func (s *Scheduler) Disable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	e.Enabled = false
	return nil
}

// Entry returns a copy of the named entry.
func (s *Scheduler) Entry(name string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Entries returns copies of all entries sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start launches the tick loop. Runs started by the scheduler are
// cancelled when ctx is cancelled or Stop gives up waiting.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	s.runCtx, s.cancelRun = context.WithCancel(ctx)
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.Int("entries", len(s.entries)),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop ends the tick loop and waits for in-flight runs. If ctx expires
// first, the runs are cancelled and ctx's error is returned once they
// have returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.loopDone

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.cancelRun()
		<-done
	}
	s.cancelRun()
	s.logger.Info("cron scheduler stopped")
	return err
}

func (s *Scheduler) tickLoop() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.runCtx.Done():
			return
		case <-ticker.C:
			s.tick(s.now())
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, e := range s.entries {
		if !e.Enabled || e.NextRunAt == nil || e.NextRunAt.After(now) {
			continue
		}
		next := s.schedules[name].Next(now)
		e.NextRunAt = &next

		if s.running[name] {
			e.Skipped++
			s.logger.Warn("cron run skipped, previous run still in flight",
				slog.String("cron_name", name),
				slog.Time("next_run_at", next),
			)
			continue
		}
		fired := now
		e.LastRunAt = &fired
		e.Fired++
		s.running[name] = true
		s.runs.Add(1)
		go s.fire(name, e.Definition)
	}
}

func (s *Scheduler) fire(name string, def *workflow.Definition) {
	defer s.runs.Done()

	s.logger.Info("cron fired",
		slog.String("cron_name", name),
		slog.String("workflow_id", def.ID),
	)
	res, err := s.execute(s.runCtx, def)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)

	e, ok := s.entries[name]
	if !ok {
		return
	}
	switch {
	case errors.Is(err, orchestra.ErrRunInFlight):
		e.Fired--
		e.Skipped++
		s.logger.Warn("cron run skipped, workflow already in flight",
			slog.String("cron_name", name),
			slog.String("workflow_id", def.ID),
		)
	case err != nil:
		e.LastStatus = workflow.StatusFailed
		e.LastError = err.Error()
		s.logger.Error("cron run error",
			slog.String("cron_name", name),
			slog.String("error", err.Error()),
		)
	default:
		e.LastStatus = res.Status
		e.LastError = res.Error
		s.logger.Info("cron run finished",
			slog.String("cron_name", name),
			slog.String("run_id", res.RunID.String()),
			slog.String("status", string(res.Status)),
		)
	}
}
