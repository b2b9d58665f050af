package morphz

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
	"golang.org/x/sync/errgroup"
)

// Observability constants for the Process connector.
const (
	// Metrics.
	ProcessRunsTotal      = metricz.Key("process.runs.total")
	ProcessElementsTotal  = metricz.Key("process.elements.total")
	ProcessSucceededTotal = metricz.Key("process.succeeded.total")
	ProcessFailedTotal    = metricz.Key("process.failed.total")
	ProcessTimeoutsTotal  = metricz.Key("process.timeouts.total")
	ProcessWorkers        = metricz.Key("process.workers")
	ProcessDurationMs     = metricz.Key("process.duration.ms")

	// Spans.
	ProcessRunSpan     = tracez.Key("process.run")
	ProcessElementSpan = tracez.Key("process.element")

	// Tags.
	ProcessTagMode         = tracez.Tag("process.mode")
	ProcessTagElementCount = tracez.Tag("process.element_count")
	ProcessTagWorkers      = tracez.Tag("process.workers")
	ProcessTagSucceeded    = tracez.Tag("process.succeeded")
	ProcessTagFailed       = tracez.Tag("process.failed")
	ProcessTagElementID    = tracez.Tag("process.element_id")
	ProcessTagSuccess      = tracez.Tag("process.success")
	ProcessTagError        = tracez.Tag("process.error")

	// Hook event keys.
	ProcessEventElementDone = hookz.Key("process.element_done")
	ProcessEventRunComplete = hookz.Key("process.run_complete")
	ProcessEventTimeout     = hookz.Key("process.timeout")
)

// ProcessEvent represents process execution progress. It is emitted
// via hookz as each element finishes dispatch, when a whole run
// completes, and when a concurrent run hits its deadline.
type ProcessEvent struct {
	Name      Name          // Process name
	ElementID string        // Identity of the element (element_done)
	Success   bool          // Whether the element or run succeeded
	Error     error         // Failure cause, if any
	Elements  int           // Elements in the run (run_complete, timeout)
	Succeeded int           // Elements that succeeded (run_complete)
	Failed    int           // Elements that failed (run_complete)
	Workers   int           // Worker bound for concurrent runs
	Duration  time.Duration // Element or run duration
	Timestamp time.Time     // When the event occurred
}

// Process drives a selector over batches of elements, sequentially or
// concurrently, optionally cascading successful elements into a single
// subprocess.
//
// A process holds no per-run mutable state: every run snapshots its
// configuration on entry and keeps all progress on the elements and
// the returned Result, so concurrent runs on one process with disjoint
// element collections are safe.
//
// Meta given via WithMeta is a prototype: each element's dispatch
// receives its own clone, so elements never observe each other's
// scratch writes, even across workers.
//
// Subprocess cascading is linear - each process carries at most one
// subprocess, and AppendSubprocess replaces any previous attachment.
// Only elements that succeeded in the parent stage feed the
// subprocess; parent-stage failures stay in the final result at their
// input positions.
//
// # Observability
//
// Metrics:
//   - process.runs.total: Counter of run invocations
//   - process.elements.total: Counter of elements dispatched
//   - process.succeeded.total: Counter of successful element dispatches
//   - process.failed.total: Counter of failed element dispatches
//   - process.timeouts.total: Counter of concurrent runs hitting a deadline
//   - process.workers: Gauge of the configured worker bound
//   - process.duration.ms: Gauge of run duration
//
// Traces:
//   - process.run: Parent span per run, tagged with mode and counts
//   - process.element: Child span per element dispatch
//
// Events (via hooks):
//   - process.element_done: Fired as each element finishes dispatch
//   - process.run_complete: Fired when a run finishes
//   - process.timeout: Fired when a concurrent run hits its deadline
//
// Example:
//
//	process := morphz.NewProcess(RulePipelineName, selector).
//	    WithMeta(morphz.Meta{"support": "b"}).
//	    WithWorkers(8)
//
//	process.OnTimeout(func(ctx context.Context, event morphz.ProcessEvent) error {
//	    log.Printf("run over %d elements abandoned: %v", event.Elements, event.Error)
//	    return nil
//	})
//
//	result, err := process.RunConcurrent(ctx, elements, 5*time.Second)
type Process[I, O any] struct {
	selector *Selector[I, O]
	sub      *Process[I, O]
	meta     Meta
	clock    clockz.Clock
	metrics  *metricz.Registry
	tracer   *tracez.Tracer
	hooks    *hookz.Hooks[ProcessEvent]
	name     Name
	workers  int
	mu       sync.RWMutex
}

// NewProcess creates a Process over the given selector. The worker
// bound for concurrent runs defaults to runtime.NumCPU.
//
// A nil selector is tolerated at construction; running such a process
// fails every element with ErrSelectorMustBeSet instead of panicking,
// so a miswired process surfaces as ordinary per-element failures.
func NewProcess[I, O any](name Name, selector *Selector[I, O]) *Process[I, O] {
	// Initialize observability
	metrics := metricz.New()
	metrics.Counter(ProcessRunsTotal)
	metrics.Counter(ProcessElementsTotal)
	metrics.Counter(ProcessSucceededTotal)
	metrics.Counter(ProcessFailedTotal)
	metrics.Counter(ProcessTimeoutsTotal)
	metrics.Gauge(ProcessWorkers)
	metrics.Gauge(ProcessDurationMs)

	return &Process[I, O]{
		name:     name,
		selector: selector,
		workers:  runtime.NumCPU(),
		metrics:  metrics,
		tracer:   tracez.New(),
		hooks:    hookz.New[ProcessEvent](),
	}
}

// WithMeta sets the meta prototype cloned into every element dispatch.
func (p *Process[I, O]) WithMeta(meta Meta) *Process[I, O] {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meta = meta
	return p
}

// WithWorkers bounds the worker pool used by RunConcurrent. Values
// below one reset the bound to runtime.NumCPU.
func (p *Process[I, O]) WithWorkers(workers int) *Process[I, O] {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers = workers
	return p
}

// WithClock sets a custom clock for testing.
func (p *Process[I, O]) WithClock(clock clockz.Clock) *Process[I, O] {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = clock
	return p
}

// getClock returns the clock to use.
func (p *Process[I, O]) getClock() clockz.Clock {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.clock == nil {
		return clockz.RealClock
	}
	return p.clock
}

// AppendSubprocess attaches sub as this process's subprocess,
// replacing any previous attachment, and returns the receiver so
// appends chain fluently. Attaching nil detaches.
//
// Panics when the attachment would make the process its own direct or
// transitive subprocess, as subprocess chains must stay acyclic.
func (p *Process[I, O]) AppendSubprocess(sub *Process[I, O]) *Process[I, O] {
	for node := sub; node != nil; node = node.Subprocess() {
		if node == p {
			panic("AppendSubprocess would create a subprocess cycle")
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sub = sub
	return p
}

// Subprocess returns the attached subprocess, or nil.
func (p *Process[I, O]) Subprocess() *Process[I, O] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sub
}

// Selector returns the selector driving this process.
func (p *Process[I, O]) Selector() *Selector[I, O] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.selector
}

// Meta returns a clone of the meta prototype.
func (p *Process[I, O]) Meta() Meta {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.meta.Clone()
}

// Workers returns the configured worker bound.
func (p *Process[I, O]) Workers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.workers
}

// Run executes the process synchronously: every element is dispatched
// through the selector in input order, each with its own clone of the
// meta prototype, and one outcome per element is collected. Failures
// are recorded per element - one element's failure never aborts the
// batch. If a subprocess is attached, elements that succeeded here
// cascade into it and its outcomes replace theirs in the final result.
//
// The returned result always holds len(elements) outcomes in input
// order. Cancelling ctx fails the remaining elements with a canceled
// error rather than dropping them.
func (p *Process[I, O]) Run(ctx context.Context, elements []*Element[I, O]) *Result[I, O] {
	return p.run(ctx, elements, false)
}

// RunConcurrent executes the process over a bounded worker pool and a
// deadline. Elements are dispatched independently - each worker owns
// its element exclusively - and outcomes land at their input index, so
// input-to-output correspondence survives arbitrary completion order.
// A subprocess, if attached, cascades under the same deadline.
//
// A timeout of zero or below runs without a deadline. When the
// deadline elapses before the batch completes, the call returns a nil
// result and a batch-level *Error with Timeout set; outstanding
// workers are abandoned best-effort via context cancellation, never
// joined past the deadline.
func (p *Process[I, O]) RunConcurrent(ctx context.Context, elements []*Element[I, O], timeout time.Duration) (*Result[I, O], error) {
	// Handle nil context
	if ctx == nil {
		ctx = context.Background()
	}

	clock := p.getClock()

	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = clock.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan struct{})
	var result *Result[I, O]

	go func() {
		result = p.run(runCtx, elements, true)
		close(done)
	}()

	select {
	case <-done:
		return result, nil
	case <-runCtx.Done():
		// Deadline elapsed - unblock the caller, abandon the workers
		p.metrics.Counter(ProcessTimeoutsTotal).Inc()

		batchErr := &Error[I, O]{
			Err:       runCtx.Err(),
			Path:      []Name{p.name},
			Timeout:   errors.Is(runCtx.Err(), context.DeadlineExceeded),
			Canceled:  errors.Is(runCtx.Err(), context.Canceled),
			Timestamp: time.Now(),
		}

		// Emit timeout event
		_ = p.hooks.Emit(ctx, ProcessEventTimeout, ProcessEvent{ //nolint:errcheck
			Name:      p.name,
			Error:     batchErr,
			Elements:  len(elements),
			Workers:   p.Workers(),
			Duration:  timeout,
			Timestamp: time.Now(),
		})

		return nil, batchErr
	}
}

// run executes one stage and its subprocess cascade. Outcomes land at
// their input index regardless of completion order.
func (p *Process[I, O]) run(ctx context.Context, elements []*Element[I, O], concurrent bool) *Result[I, O] {
	p.mu.RLock()
	selector := p.selector
	sub := p.sub
	proto := p.meta
	workers := p.workers
	p.mu.RUnlock()

	// Handle nil context
	if ctx == nil {
		ctx = context.Background()
	}

	mode := "sync"
	if concurrent {
		mode = "concurrent"
	}

	// Track metrics
	p.metrics.Counter(ProcessRunsTotal).Inc()
	p.metrics.Gauge(ProcessWorkers).Set(float64(workers))
	start := time.Now()

	// Start run span
	ctx, span := p.tracer.StartSpan(ctx, ProcessRunSpan)
	span.SetTag(ProcessTagMode, mode)
	span.SetTag(ProcessTagElementCount, fmt.Sprintf("%d", len(elements)))
	span.SetTag(ProcessTagWorkers, fmt.Sprintf("%d", workers))

	outcomes := make([]Outcome[I, O], len(elements))

	switch {
	case selector == nil:
		// Zero-value misuse: fail every element rather than panic.
		now := time.Now()
		for i, element := range elements {
			outcomes[i] = Outcome[I, O]{Element: element, Err: &Error[I, O]{
				Timestamp: now,
				Element:   element,
				Err:       ErrSelectorMustBeSet,
				Path:      []Name{p.name},
			}}
		}

	case concurrent:
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i, element := range elements {
			g.Go(func() error {
				outcomes[i] = p.dispatch(gctx, selector, element, proto)
				return nil
			})
		}
		_ = g.Wait() //nolint:errcheck // failures live on the outcomes

	default:
		for i, element := range elements {
			select {
			case <-ctx.Done():
				// Remaining elements fail rather than silently drop.
				outcomes[i] = Outcome[I, O]{Element: element, Err: &Error[I, O]{
					Err:       ctx.Err(),
					Element:   element,
					Path:      []Name{p.name},
					Timeout:   errors.Is(ctx.Err(), context.DeadlineExceeded),
					Canceled:  errors.Is(ctx.Err(), context.Canceled),
					Timestamp: time.Now(),
				}}
				continue
			default:
			}
			outcomes[i] = p.dispatch(ctx, selector, element, proto)
		}
	}

	// Cascade: only elements that succeeded here feed the subprocess;
	// its outcomes replace theirs at the original positions.
	if sub != nil {
		indices := make([]int, 0, len(outcomes))
		survivors := make([]*Element[I, O], 0, len(outcomes))
		for i, outcome := range outcomes {
			if outcome.Succeeded() {
				indices = append(indices, i)
				survivors = append(survivors, outcome.Element)
			}
		}
		if len(survivors) > 0 {
			subResult := sub.run(ctx, survivors, concurrent)
			for j, outcome := range subResult.outcomes {
				outcomes[indices[j]] = outcome
			}
		}
	}

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Succeeded() {
			succeeded++
		}
	}
	failed := len(outcomes) - succeeded

	// Record duration and close the span
	elapsed := time.Since(start)
	p.metrics.Gauge(ProcessDurationMs).Set(float64(elapsed.Milliseconds()))
	span.SetTag(ProcessTagSucceeded, fmt.Sprintf("%d", succeeded))
	span.SetTag(ProcessTagFailed, fmt.Sprintf("%d", failed))
	span.Finish()

	// Emit run complete event
	_ = p.hooks.Emit(ctx, ProcessEventRunComplete, ProcessEvent{ //nolint:errcheck
		Name:      p.name,
		Success:   failed == 0,
		Elements:  len(outcomes),
		Succeeded: succeeded,
		Failed:    failed,
		Workers:   workers,
		Duration:  elapsed,
		Timestamp: time.Now(),
	})

	return &Result[I, O]{outcomes: outcomes}
}

// dispatch routes one element through the selector with its own meta
// clone and records the outcome.
func (p *Process[I, O]) dispatch(ctx context.Context, selector *Selector[I, O], element *Element[I, O], proto Meta) Outcome[I, O] {
	meta := proto.Clone()

	p.metrics.Counter(ProcessElementsTotal).Inc()

	// Start element span
	ctx, span := p.tracer.StartSpan(ctx, ProcessElementSpan)
	span.SetTag(ProcessTagElementID, element.ID())

	start := time.Now()
	result, err := selector.Do(ctx, element, meta)
	duration := time.Since(start)
	if result == nil {
		result = element
	}

	if err != nil {
		span.SetTag(ProcessTagSuccess, "false")
		span.SetTag(ProcessTagError, err.Error())
		span.Finish()
		p.metrics.Counter(ProcessFailedTotal).Inc()

		var engineErr *Error[I, O]
		if errors.As(err, &engineErr) {
			// Prepend this process's name to the path
			engineErr.Path = append([]Name{p.name}, engineErr.Path...)
		} else {
			// Wrap plain errors with full context
			engineErr = &Error[I, O]{
				Timestamp: time.Now(),
				Element:   result,
				Err:       err,
				Path:      []Name{p.name},
				Duration:  duration,
			}
		}

		// Emit element done event for failed dispatch
		_ = p.hooks.Emit(ctx, ProcessEventElementDone, ProcessEvent{ //nolint:errcheck
			Name:      p.name,
			ElementID: result.ID(),
			Success:   false,
			Error:     engineErr,
			Duration:  duration,
			Timestamp: time.Now(),
		})

		return Outcome[I, O]{Element: result, Err: engineErr}
	}

	span.SetTag(ProcessTagSuccess, "true")
	span.Finish()
	p.metrics.Counter(ProcessSucceededTotal).Inc()

	// Emit element done event for successful dispatch
	_ = p.hooks.Emit(ctx, ProcessEventElementDone, ProcessEvent{ //nolint:errcheck
		Name:      p.name,
		ElementID: result.ID(),
		Success:   true,
		Duration:  duration,
		Timestamp: time.Now(),
	})

	return Outcome[I, O]{Element: result}
}

// Name returns the name of this process.
func (p *Process[I, O]) Name() Name {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// Metrics returns the metrics registry for this process.
func (p *Process[I, O]) Metrics() *metricz.Registry {
	return p.metrics
}

// Tracer returns the tracer for this process.
func (p *Process[I, O]) Tracer() *tracez.Tracer {
	return p.tracer
}

// Close gracefully shuts down observability components. Subprocesses
// are owned by their creators and must be closed separately.
func (p *Process[I, O]) Close() error {
	if p.tracer != nil {
		p.tracer.Close()
	}
	p.hooks.Close()
	return nil
}

// OnElementDone registers a handler called asynchronously as each
// element finishes dispatch, whether it succeeded or failed.
func (p *Process[I, O]) OnElementDone(handler func(context.Context, ProcessEvent) error) error {
	_, err := p.hooks.Hook(ProcessEventElementDone, handler)
	return err
}

// OnRunComplete registers a handler called asynchronously when a run
// finishes, carrying aggregate counts for the batch.
func (p *Process[I, O]) OnRunComplete(handler func(context.Context, ProcessEvent) error) error {
	_, err := p.hooks.Hook(ProcessEventRunComplete, handler)
	return err
}

// OnTimeout registers a handler called asynchronously when a
// concurrent run hits its deadline and the batch is abandoned.
func (p *Process[I, O]) OnTimeout(handler func(context.Context, ProcessEvent) error) error {
	_, err := p.hooks.Hook(ProcessEventTimeout, handler)
	return err
}
