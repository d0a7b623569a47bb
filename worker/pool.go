package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/orchestra/workflow"
)

var (
	// ErrPoolFull is returned by Go when every slot is taken.
	ErrPoolFull = errors.New("worker: pool full")
	// ErrPoolStopped is returned by Go after Stop.
	ErrPoolStopped = errors.New("worker: pool stopped")
)

// Pool bounds and tracks the goroutines one run executes steps on. Each
// task is keyed (by step id) and gets its own cancellable context, so a
// Stop that outlives its deadline can cancel whatever is still running.
type Pool struct {
	concurrency int
	logger      *slog.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
	active  map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the maximum number of tasks in flight. Zero
// means unlimited.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// NewPool creates a worker pool.
func NewPool(logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		logger: logger,
		active: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Available reports whether Go would accept a task now.
func (p *Pool) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped && p.hasSlot()
}

func (p *Pool) hasSlot() bool {
	return p.concurrency <= 0 || len(p.active) < p.concurrency
}

// Active returns the number of tasks in flight.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Go runs task on a new goroutine under a context derived from ctx. It
// never blocks: a full or stopped pool returns an error and task does not
// run. The task's slot is freed before deliver receives its result, so a
// caller that counts deliveries never sees a stale full pool.
func (p *Pool) Go(ctx context.Context, key string, task func(ctx context.Context) workflow.StepResult, deliver func(workflow.StepResult)) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	if !p.hasSlot() {
		p.mu.Unlock()
		return ErrPoolFull
	}
	if _, dup := p.active[key]; dup {
		p.mu.Unlock()
		return fmt.Errorf("worker: task %s already running", key)
	}
	tctx, cancel := context.WithCancel(ctx)
	p.active[key] = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		res := task(tctx)
		p.untrack(key, cancel)
		deliver(res)
	}()
	return nil
}

// Stop refuses new tasks and waits for running ones. If ctx is done
// first, the remaining tasks are cancelled and waited for.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active tasks")
		p.cancelActive()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) untrack(key string, cancel context.CancelFunc) {
	p.mu.Lock()
	delete(p.active, key)
	p.mu.Unlock()
	cancel()
}

func (p *Pool) cancelActive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, cancel := range p.active {
		p.logger.Warn("cancelling active task", slog.String("task", key))
		cancel()
	}
}
