package morphz

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the AllChain connector.
const (
	// Metrics.
	AllChainProcessedTotal = metricz.Key("allchain.processed.total")
	AllChainSuccessesTotal = metricz.Key("allchain.successes.total")
	AllChainFailuresTotal  = metricz.Key("allchain.failures.total")
	AllChainStepsCompleted = metricz.Key("allchain.steps.completed")
	AllChainStepsTotal     = metricz.Key("allchain.steps.total")
	AllChainDurationMs     = metricz.Key("allchain.duration.ms")

	// Spans.
	AllChainDoSpan   = tracez.Key("allchain.do")
	AllChainStepSpan = tracez.Key("allchain.step")

	// Tags.
	AllChainTagStepCount = tracez.Tag("allchain.step_count")
	AllChainTagStepNum   = tracez.Tag("allchain.step_number")
	AllChainTagEventName = tracez.Tag("allchain.event_name")
	AllChainTagElementID = tracez.Tag("allchain.element_id")
	AllChainTagSuccess   = tracez.Tag("allchain.success")
	AllChainTagError     = tracez.Tag("allchain.error")

	// Hook event keys.
	AllChainEventStepComplete = hookz.Key("allchain.step_complete")
	AllChainEventAllComplete  = hookz.Key("allchain.all_complete")
)

// AllChainEvent represents progress through an all-chain. It is
// emitted via hookz as individual steps complete and once more when
// every step has succeeded.
type AllChainEvent struct {
	Name           Name          // Connector name
	StepName       Name          // Name of the step event
	ElementID      string        // Identity of the element in flight
	StepNumber     int           // Current step number (1-based)
	TotalSteps     int           // Total number of steps
	Success        bool          // Whether the step succeeded
	Error          error         // Error if the step failed
	Duration       time.Duration // How long this step took
	CompletedSteps int           // Steps completed (for all_complete)
	TotalDuration  time.Duration // Total chain time (for all_complete)
	Timestamp      time.Time     // When the event occurred
}

// AllChain runs its events in declaration order, feeding each event the
// element the previous one produced. It succeeds only when every event
// succeeds and stops at the first failure. There is no rollback: the
// element keeps every mutation made up to and including the failing
// attempt, and the failing event's cause is attached to the element as
// an ERROR notice.
//
// An AllChain with zero events succeeds vacuously - an all-of over no
// obligations is satisfied.
//
// Register the chain in a Selector by giving it a routing tag with
// WithTag; an untagged chain acts as the selector's default route.
// Because AllChain implements Event, chains nest: an AllChain can hold
// other chains, verifiers, or a whole selector as steps.
//
// Key features:
//   - Thread-safe for concurrent access
//   - Dynamic modification of the event list
//   - Named events for debugging
//   - Fail-fast execution with detailed errors
//
// # Observability
//
// Metrics:
//   - allchain.processed.total: Counter of chain invocations
//   - allchain.successes.total: Counter of fully successful runs
//   - allchain.failures.total: Counter of failed runs
//   - allchain.steps.completed: Gauge of steps completed
//   - allchain.steps.total: Gauge of registered steps
//   - allchain.duration.ms: Gauge of total chain duration
//
// Traces:
//   - allchain.do: Parent span for the whole chain
//   - allchain.step: Child span per step
//
// Events (via hooks):
//   - allchain.step_complete: Fired as each step completes
//   - allchain.all_complete: Fired when every step succeeds
//
// Example with hooks:
//
//	chain := morphz.NewAllChain(ConjunctionChainName, normalize, conjunction).
//	    WithTag("conjunction")
//
//	chain.OnStepComplete(func(ctx context.Context, event morphz.AllChainEvent) error {
//	    if !event.Success {
//	        log.Printf("step %s failed on %s: %v", event.StepName, event.ElementID, event.Error)
//	    }
//	    return nil
//	})
type AllChain[I, O any] struct {
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[AllChainEvent]
	name    Name
	tag     Tag
	events  []Event[I, O]
	mu      sync.RWMutex
}

// NewAllChain creates an AllChain with optional initial events. The
// chain is ready to use immediately and can be safely accessed
// concurrently; additional events can be added with Register.
func NewAllChain[I, O any](name Name, events ...Event[I, O]) *AllChain[I, O] {
	// Initialize observability
	metrics := metricz.New()
	metrics.Counter(AllChainProcessedTotal)
	metrics.Counter(AllChainSuccessesTotal)
	metrics.Counter(AllChainFailuresTotal)
	metrics.Gauge(AllChainStepsCompleted)
	metrics.Gauge(AllChainStepsTotal)
	metrics.Gauge(AllChainDurationMs)

	return &AllChain[I, O]{
		name:    name,
		events:  slices.Clone(events),
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[AllChainEvent](),
	}
}

// WithTag assigns the routing tag a Selector matches this chain by.
// The empty tag marks the chain as the default route.
func (c *AllChain[I, O]) WithTag(tag Tag) *AllChain[I, O] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tag = tag
	return c
}

// Register appends events to this chain. Events run in the order they
// are registered.
func (c *AllChain[I, O]) Register(events ...Event[I, O]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

// Do implements the Event interface. Each event receives the element
// the previous one produced; the first failure stops the chain.
// The context is checked before each step - if it is canceled or
// expired, processing stops immediately.
func (c *AllChain[I, O]) Do(ctx context.Context, element *Element[I, O], meta Meta) (result *Element[I, O], err error) {
	defer recoverFromPanic(&result, &err, c.name, element)

	c.mu.RLock()
	events := make([]Event[I, O], len(c.events))
	copy(events, c.events)
	c.mu.RUnlock()

	// Handle nil context
	if ctx == nil {
		ctx = context.Background()
	}

	// Track metrics
	c.metrics.Counter(AllChainProcessedTotal).Inc()
	c.metrics.Gauge(AllChainStepsTotal).Set(float64(len(events)))
	start := time.Now()

	// Start main span
	ctx, span := c.tracer.StartSpan(ctx, AllChainDoSpan)
	span.SetTag(AllChainTagStepCount, fmt.Sprintf("%d", len(events)))
	span.SetTag(AllChainTagElementID, element.ID())
	defer func() {
		// Record duration
		elapsed := time.Since(start)
		c.metrics.Gauge(AllChainDurationMs).Set(float64(elapsed.Milliseconds()))

		// Set success status
		if err == nil {
			span.SetTag(AllChainTagSuccess, "true")
			c.metrics.Counter(AllChainSuccessesTotal).Inc()
		} else {
			span.SetTag(AllChainTagSuccess, "false")
			span.SetTag(AllChainTagError, err.Error())
			c.metrics.Counter(AllChainFailuresTotal).Inc()
		}
		span.Finish()
	}()

	result = element
	stepsCompleted := 0

	for i, event := range events {
		// Check context before starting the step
		select {
		case <-ctx.Done():
			return result, &Error[I, O]{
				Err:       ctx.Err(),
				Element:   result,
				Path:      []Name{c.name},
				Timeout:   errors.Is(ctx.Err(), context.DeadlineExceeded),
				Canceled:  errors.Is(ctx.Err(), context.Canceled),
				Timestamp: time.Now(),
			}
		default:
			// Start span for this step
			stepCtx, stepSpan := c.tracer.StartSpan(ctx, AllChainStepSpan)
			stepSpan.SetTag(AllChainTagStepNum, fmt.Sprintf("%d", i+1))
			stepSpan.SetTag(AllChainTagEventName, string(event.Name()))

			stepStart := time.Now()
			next, stepErr := event.Do(stepCtx, result, meta)
			stepDuration := time.Since(stepStart)
			stepSpan.Finish()

			if next != nil {
				result = next
			}

			if stepErr == nil {
				stepsCompleted++
				c.metrics.Gauge(AllChainStepsCompleted).Set(float64(stepsCompleted))

				// Emit step complete event for successful step
				_ = c.hooks.Emit(ctx, AllChainEventStepComplete, AllChainEvent{ //nolint:errcheck
					Name:       c.name,
					StepName:   event.Name(),
					ElementID:  result.ID(),
					StepNumber: i + 1,
					TotalSteps: len(events),
					Success:    true,
					Duration:   stepDuration,
					Timestamp:  time.Now(),
				})
				continue
			}

			// Record the failing event's cause on the element.
			cause := stepErr
			var engineErr *Error[I, O]
			if errors.As(stepErr, &engineErr) {
				cause = engineErr.Err
			}
			result.AddNotice(Notice{Message: cause.Error(), Level: LevelError})

			// Emit step complete event for failed step
			_ = c.hooks.Emit(ctx, AllChainEventStepComplete, AllChainEvent{ //nolint:errcheck
				Name:       c.name,
				StepName:   event.Name(),
				ElementID:  result.ID(),
				StepNumber: i + 1,
				TotalSteps: len(events),
				Success:    false,
				Error:      stepErr,
				Duration:   stepDuration,
				Timestamp:  time.Now(),
			})

			if engineErr != nil {
				// Prepend this chain's name to the path
				engineErr.Path = append([]Name{c.name}, engineErr.Path...)
				return result, engineErr
			}
			// Wrap plain errors with full context
			return result, &Error[I, O]{
				Timestamp: time.Now(),
				Element:   result,
				Err:       stepErr,
				Path:      []Name{c.name},
			}
		}
	}

	// All steps completed successfully - emit all_complete event
	totalDuration := time.Since(start)
	_ = c.hooks.Emit(ctx, AllChainEventAllComplete, AllChainEvent{ //nolint:errcheck
		Name:           c.name,
		ElementID:      result.ID(),
		TotalSteps:     len(events),
		CompletedSteps: stepsCompleted,
		TotalDuration:  totalDuration,
		Success:        true,
		Timestamp:      time.Now(),
	})

	return result, nil
}

// Len returns the number of registered events.
func (c *AllChain[I, O]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// Clear removes all events from the chain.
func (c *AllChain[I, O]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = c.events[:0]
}

// Names returns the names of all events in order.
func (c *AllChain[I, O]) Names() []Name {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]Name, len(c.events))
	for i, event := range c.events {
		names[i] = event.Name()
	}
	return names
}

// Tag returns the chain's routing tag.
func (c *AllChain[I, O]) Tag() Tag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tag
}

// Tagged reports whether the chain carries a routing tag.
func (c *AllChain[I, O]) Tagged() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tag != ""
}

// Name returns the name of this chain.
func (c *AllChain[I, O]) Name() Name {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Metrics returns the metrics registry for this connector.
func (c *AllChain[I, O]) Metrics() *metricz.Registry {
	return c.metrics
}

// Tracer returns the tracer for this connector.
func (c *AllChain[I, O]) Tracer() *tracez.Tracer {
	return c.tracer
}

// Close gracefully shuts down observability components.
func (c *AllChain[I, O]) Close() error {
	if c.tracer != nil {
		c.tracer.Close()
	}
	c.hooks.Close()
	return nil
}

// OnStepComplete registers a handler for when an individual step
// completes. The handler is called asynchronously each time a step
// finishes, whether it succeeds or fails.
func (c *AllChain[I, O]) OnStepComplete(handler func(context.Context, AllChainEvent) error) error {
	_, err := c.hooks.Hook(AllChainEventStepComplete, handler)
	return err
}

// OnAllComplete registers a handler for when every step has completed
// successfully. The event carries aggregate statistics for the run.
func (c *AllChain[I, O]) OnAllComplete(handler func(context.Context, AllChainEvent) error) error {
	_, err := c.hooks.Hook(AllChainEventAllComplete, handler)
	return err
}
