package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/backoff"
	"github.com/xraph/orchestra/breaker"
	"github.com/xraph/orchestra/capability"
	"github.com/xraph/orchestra/ext"
	"github.com/xraph/orchestra/graph"
	"github.com/xraph/orchestra/id"
	mw "github.com/xraph/orchestra/middleware"
	"github.com/xraph/orchestra/observability"
	"github.com/xraph/orchestra/store/memory"
	"github.com/xraph/orchestra/throttle"
	"github.com/xraph/orchestra/worker"
	"github.com/xraph/orchestra/workflow"
)

// instrumentationName is the OTel scope of engine spans and meters.
const instrumentationName = "github.com/xraph/orchestra"

// Engine executes workflow definitions. Build one with Build.
type Engine struct {
	o          *orchestra.Orchestra
	config     orchestra.Config
	logger     *slog.Logger
	caps       *capability.Registry
	extensions *ext.Registry
	breakers   *breaker.Registry
	executor   *worker.Executor
	store      workflow.Store
	tracer     trace.Tracer
	mws        []mw.Middleware

	throttleConfigs []throttle.Config
	throttle        *throttle.Manager
	breakerClock    func() time.Time
	backoff         func(orchestra.RetryPolicy) backoff.Strategy
	sleep           func(ctx context.Context, d time.Duration) error

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	runs    map[string]*run // workflow id → in-flight run
	stopped bool
	wg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the invocation chain, inside the
// default recover, tracing, metrics and logging middleware.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithThrottle registers per-target rate limiting and concurrency
// configurations. Targets not listed have no limits.
func WithThrottle(configs ...throttle.Config) Option {
	return func(eng *Engine) {
		eng.throttleConfigs = append(eng.throttleConfigs, configs...)
	}
}

// WithStore sets the run-history store. Defaults to an in-memory store
// retaining the last 1000 results.
func WithStore(s workflow.Store) Option {
	return func(eng *Engine) {
		eng.store = s
	}
}

// WithBreakerClock sets the time source of the circuit breakers.
func WithBreakerClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.breakerClock = now
	}
}

// WithBackoff overrides how retry policies become delay strategies.
// If not set, backoff.FromPolicy is used.
func WithBackoff(fn func(orchestra.RetryPolicy) backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.backoff = fn
	}
}

// WithRetrySleep overrides how the executor waits between attempts.
func WithRetrySleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(eng *Engine) {
		eng.sleep = fn
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, run spans and the tracing middleware use this provider
// instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an Orchestra and the capabilities steps
// may target. Capabilities can still be registered after Build.
func Build(o *orchestra.Orchestra, caps *capability.Registry, opts ...Option) (*Engine, error) {
	if o == nil {
		return nil, fmt.Errorf("%w: nil orchestra", orchestra.ErrInvalidConfig)
	}
	if caps == nil {
		return nil, fmt.Errorf("%w: nil capability registry", orchestra.ErrInvalidConfig)
	}
	logger := o.Logger()

	eng := &Engine{
		o:          o,
		config:     o.Config(),
		logger:     logger,
		caps:       caps,
		extensions: ext.NewRegistry(logger),
		runs:       make(map[string]*run),
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.store == nil {
		eng.store = memory.New(memory.WithMaxResults(1000))
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		eng.tracer = eng.tracerProvider.Tracer(instrumentationName)
		tracingMw = mw.TracingWithTracer(eng.tracer)
	} else {
		eng.tracer = otel.Tracer(instrumentationName)
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter(instrumentationName)
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter(instrumentationName + "/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Breaker state changes feed the progress sink.
	breakerOpts := []breaker.Option{
		breaker.WithStateChange(func(target string, from, to breaker.State) {
			level := slog.LevelInfo
			if to == breaker.StateOpen {
				level = slog.LevelWarn
			}
			logger.Log(context.Background(), level, "circuit state changed",
				slog.String("target", target),
				slog.String("from", string(from)),
				slog.String("to", string(to)),
			)
			eng.extensions.EmitCircuitStateChanged(context.Background(), target, from, to)
		}),
	}
	if eng.breakerClock != nil {
		breakerOpts = append(breakerOpts, breaker.WithClock(eng.breakerClock))
	}
	eng.breakers = breaker.NewRegistry(eng.config.Breaker, breakerOpts...)

	// Default middleware stack: recover → tracing → metrics → logging → custom.
	// The executor adds context and timeout innermost.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	var execOpts []worker.ExecutorOption
	if len(eng.throttleConfigs) > 0 {
		eng.throttle = throttle.NewManager(eng.throttleConfigs...)
		execOpts = append(execOpts, worker.WithThrottle(eng.throttle))
	}
	if eng.backoff != nil {
		execOpts = append(execOpts, worker.WithBackoff(eng.backoff))
	}
	if eng.sleep != nil {
		execOpts = append(execOpts, worker.WithSleep(eng.sleep))
	}
	eng.executor = worker.NewExecutor(caps, eng.breakers, eng.extensions, logger, allMws, execOpts...)

	return eng, nil
}

// Validate checks def without executing it. Unknown targets are
// rejected.
func (eng *Engine) Validate(def *workflow.Definition) error {
	return graph.Validate(def, graph.WithTargets(eng.caps.Has))
}

// Execute validates def, runs it to completion and returns the
// aggregated result. It blocks until every step is terminal.
//
// An error is returned only when the run could not start: an invalid
// definition (*orchestra.ValidationError), a run of the same workflow id
// already in flight (orchestra.ErrRunInFlight) or a stopped engine. Step
// failures, cancellation and timeouts are reported in the result.
func (eng *Engine) Execute(ctx context.Context, def *workflow.Definition) (*workflow.Result, error) {
	g, err := graph.Build(def, graph.WithTargets(eng.caps.Has))
	if err != nil {
		return nil, err
	}
	def = def.Clone()

	info := &workflow.Run{
		ID:         id.NewRunID(),
		WorkflowID: def.ID,
		Name:       def.DisplayName(),
		Mode:       def.Mode,
		StepCount:  len(def.Steps),
		StartedAt:  time.Now().UTC(),
	}
	r := newRun(info, def, g)

	runCtx, cancel := context.WithCancelCause(ctx)
	r.cancel = cancel
	defer cancel(nil)

	if timeout := eng.runTimeout(def); timeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, timeout,
			orchestra.Timeout(fmt.Errorf("workflow %q timed out after %s: %w", def.ID, timeout, context.DeadlineExceeded)))
		defer stop()
	}

	if err := eng.track(r); err != nil {
		return nil, err
	}
	defer eng.untrack(r)

	runCtx, span := eng.tracer.Start(runCtx, "orchestra.workflow.run",
		trace.WithAttributes(
			attribute.String("orchestra.workflow.id", info.WorkflowID),
			attribute.String("orchestra.run.id", info.ID.String()),
			attribute.String("orchestra.mode", string(info.Mode)),
			attribute.Int("orchestra.step.count", info.StepCount),
		),
	)
	defer span.End()

	emitCtx := context.WithoutCancel(runCtx)
	eng.logger.Info("workflow started",
		slog.String("workflow_id", info.WorkflowID),
		slog.String("run_id", info.ID.String()),
		slog.String("mode", string(info.Mode)),
		slog.Int("steps", info.StepCount),
	)
	eng.extensions.EmitWorkflowStarted(emitCtx, info)

	runErr := newScheduler(eng, r).loop(runCtx)
	res := aggregate(r, runErr)

	span.SetAttributes(attribute.String("orchestra.status", string(res.Status)))
	if res.Status == workflow.StatusFailed {
		span.SetStatus(codes.Error, string(res.Status))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if err := eng.store.SaveResult(emitCtx, res); err != nil {
		eng.logger.Warn("failed to save workflow result",
			slog.String("workflow_id", info.WorkflowID),
			slog.String("run_id", info.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	logAttrs := []any{
		slog.String("workflow_id", info.WorkflowID),
		slog.String("run_id", info.ID.String()),
		slog.String("status", string(res.Status)),
		slog.Duration("elapsed", res.Elapsed),
		slog.Int("completed", res.Count(workflow.StateCompleted)),
		slog.Int("failed", res.Count(workflow.StateFailed)),
		slog.Int("skipped", res.Count(workflow.StateSkipped)),
	}
	if res.Status == workflow.StatusFailed {
		cause := failureCause(r, res)
		eng.logger.Warn("workflow failed", append(logAttrs, slog.String("error", cause.Error()))...)
		eng.extensions.EmitWorkflowFailed(emitCtx, info, res, cause)
	} else {
		eng.logger.Info("workflow completed", logAttrs...)
		eng.extensions.EmitWorkflowCompleted(emitCtx, info, res)
	}

	return res, nil
}

func (eng *Engine) runTimeout(def *workflow.Definition) time.Duration {
	if def.Timeout > 0 {
		return def.Timeout
	}
	return eng.config.WorkflowTimeout
}

func (eng *Engine) track(r *run) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.stopped {
		return orchestra.ErrEngineStopped
	}
	if _, dup := eng.runs[r.info.WorkflowID]; dup {
		return fmt.Errorf("%w: %q", orchestra.ErrRunInFlight, r.info.WorkflowID)
	}
	eng.runs[r.info.WorkflowID] = r
	eng.wg.Add(1)
	return nil
}

func (eng *Engine) untrack(r *run) {
	eng.mu.Lock()
	delete(eng.runs, r.info.WorkflowID)
	eng.mu.Unlock()
	close(r.done)
	eng.wg.Done()
}

func (eng *Engine) lookup(workflowID string) (*run, bool) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	r, ok := eng.runs[workflowID]
	return r, ok
}

// Status returns the step-state table of a workflow. In-flight runs
// report a live snapshot; otherwise the final snapshot of the most recent
// stored run is returned. Unknown workflow ids return
// orchestra.ErrRunNotFound.
func (eng *Engine) Status(ctx context.Context, workflowID string) (*workflow.Snapshot, error) {
	if r, ok := eng.lookup(workflowID); ok {
		return r.snapshot(), nil
	}
	res, err := eng.store.LatestResult(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", orchestra.ErrRunNotFound, workflowID)
	}
	return workflow.SnapshotOf(res), nil
}

// Cancel cancels the in-flight run of a workflow. In-flight invocations
// are cancelled and steps not yet started are skipped; Execute returns
// once the run has finalized.
func (eng *Engine) Cancel(workflowID string) error {
	r, ok := eng.lookup(workflowID)
	if !ok {
		return fmt.Errorf("%w: %q", orchestra.ErrRunNotFound, workflowID)
	}
	eng.logger.Info("workflow cancellation requested",
		slog.String("workflow_id", workflowID),
		slog.String("run_id", r.info.ID.String()),
	)
	r.cancel(orchestra.ErrCancelled)
	return nil
}

// Wait blocks until the in-flight run of workflowID finishes or ctx is
// done. It returns immediately if no such run is in flight.
func (eng *Engine) Wait(ctx context.Context, workflowID string) error {
	r, ok := eng.lookup(workflowID)
	if !ok {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight returns the workflow ids of running workflows.
func (eng *Engine) InFlight() []string {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	out := make([]string, 0, len(eng.runs))
	for workflowID := range eng.runs {
		out = append(out, workflowID)
	}
	return out
}

// Results lists stored run results, newest first.
func (eng *Engine) Results(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Result, error) {
	return eng.store.ListResults(ctx, opts)
}

// BreakerState returns the circuit state of a target.
func (eng *Engine) BreakerState(target string) breaker.State {
	return eng.breakers.State(target)
}

// Breakers returns the circuit breaker registry.
func (eng *Engine) Breakers() *breaker.Registry { return eng.breakers }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Capabilities returns the capability registry.
func (eng *Engine) Capabilities() *capability.Registry { return eng.caps }

// Throttle returns the throttle manager, or nil if no throttle configs
// were provided.
func (eng *Engine) Throttle() *throttle.Manager { return eng.throttle }

// Store returns the run-history store.
func (eng *Engine) Store() workflow.Store { return eng.store }

// Stop refuses new runs, cancels in-flight runs and waits for them to
// finalize, bounded by ctx and the configured shutdown timeout.
// Extensions are notified of the shutdown.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if eng.stopped {
		eng.mu.Unlock()
		return nil
	}
	eng.stopped = true
	inFlight := make([]*run, 0, len(eng.runs))
	for _, r := range eng.runs {
		inFlight = append(inFlight, r)
	}
	eng.mu.Unlock()

	for _, r := range inFlight {
		r.cancel(orchestra.ErrEngineStopped)
	}

	if eng.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		eng.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		eng.logger.Warn("engine shutdown timed out with runs in flight", slog.Int("runs", len(inFlight)))
	}

	eng.extensions.EmitShutdown(context.WithoutCancel(ctx))
	eng.logger.Info("engine stopped")
	return err
}
