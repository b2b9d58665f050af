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

// Observability constants for the AnyChain connector.
const (
	// Metrics.
	AnyChainProcessedTotal = metricz.Key("anychain.processed.total")
	AnyChainSuccessesTotal = metricz.Key("anychain.successes.total")
	AnyChainFailuresTotal  = metricz.Key("anychain.failures.total")
	AnyChainAttemptsTotal  = metricz.Key("anychain.attempts.total")
	AnyChainDurationMs     = metricz.Key("anychain.duration.ms")

	// Spans.
	AnyChainDoSpan      = tracez.Key("anychain.do")
	AnyChainAttemptSpan = tracez.Key("anychain.attempt")

	// Tags.
	AnyChainTagEventCount = tracez.Tag("anychain.event_count")
	AnyChainTagAttemptNum = tracez.Tag("anychain.attempt_number")
	AnyChainTagEventName  = tracez.Tag("anychain.event_name")
	AnyChainTagElementID  = tracez.Tag("anychain.element_id")
	AnyChainTagSuccess    = tracez.Tag("anychain.success")
	AnyChainTagError      = tracez.Tag("anychain.error")

	// Hook event keys.
	AnyChainEventAttempt = hookz.Key("anychain.attempt")
	AnyChainEventSettled = hookz.Key("anychain.settled")
)

// AnyChainEvent represents progress through an any-chain. It is
// emitted via hookz after each attempted event and once more when the
// chain settles on an outcome.
type AnyChainEvent struct {
	Name        Name          // Connector name
	EventName   Name          // Event attempted, or the one that settled the chain
	ElementID   string        // Identity of the element in flight
	Attempt     int           // Attempt number (1-based)
	TotalEvents int           // Total registered events
	Success     bool          // Whether the attempt (or chain) succeeded
	Error       error         // Error if the attempt (or chain) failed
	Duration    time.Duration // How long the attempt (or chain) took
	Timestamp   time.Time     // When the event occurred
}

// AnyChain tries its events in declaration order and succeeds at the
// first event that succeeds; later events are never attempted. It
// fails only when every event fails, returning the last failure with
// this chain's name prepended to its path.
//
// Failed attempts are not rolled back: the element keeps whatever
// partial mutations earlier failing events made, and each failed
// attempt leaves a WARNING notice on the element recording the cause.
// The warnings are records of the probing, not failures of the chain.
//
// An AnyChain with zero events fails with ErrNoEvents: with nothing to
// attempt, no event can be said to have succeeded.
//
// Register the chain in a Selector by giving it a routing tag with
// WithTag; an untagged chain acts as the selector's default route.
//
// # Observability
//
// Metrics:
//   - anychain.processed.total: Counter of chain invocations
//   - anychain.successes.total: Counter of runs settling on success
//   - anychain.failures.total: Counter of runs where every event failed
//   - anychain.attempts.total: Counter of individual event attempts
//   - anychain.duration.ms: Gauge of total chain duration
//
// Traces:
//   - anychain.do: Parent span for the whole chain
//   - anychain.attempt: Child span per attempted event
//
// Events (via hooks):
//   - anychain.attempt: Fired after each attempted event
//   - anychain.settled: Fired when the chain settles on an outcome
type AnyChain[I, O any] struct {
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[AnyChainEvent]
	name    Name
	tag     Tag
	events  []Event[I, O]
	mu      sync.RWMutex
}

// NewAnyChain creates an AnyChain with optional initial events.
func NewAnyChain[I, O any](name Name, events ...Event[I, O]) *AnyChain[I, O] {
	// Initialize observability
	metrics := metricz.New()
	metrics.Counter(AnyChainProcessedTotal)
	metrics.Counter(AnyChainSuccessesTotal)
	metrics.Counter(AnyChainFailuresTotal)
	metrics.Counter(AnyChainAttemptsTotal)
	metrics.Gauge(AnyChainDurationMs)

	return &AnyChain[I, O]{
		name:    name,
		events:  slices.Clone(events),
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[AnyChainEvent](),
	}
}

// WithTag assigns the routing tag a Selector matches this chain by.
// The empty tag marks the chain as the default route.
func (c *AnyChain[I, O]) WithTag(tag Tag) *AnyChain[I, O] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tag = tag
	return c
}

// Register appends events to this chain. Events are attempted in the
// order they are registered.
func (c *AnyChain[I, O]) Register(events ...Event[I, O]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

// Do implements the Event interface. Events are attempted in order
// until one succeeds. The context is checked before each attempt.
func (c *AnyChain[I, O]) Do(ctx context.Context, element *Element[I, O], meta Meta) (result *Element[I, O], err error) {
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
	c.metrics.Counter(AnyChainProcessedTotal).Inc()
	start := time.Now()

	// Start main span
	ctx, span := c.tracer.StartSpan(ctx, AnyChainDoSpan)
	span.SetTag(AnyChainTagEventCount, fmt.Sprintf("%d", len(events)))
	span.SetTag(AnyChainTagElementID, element.ID())
	defer func() {
		// Record duration
		elapsed := time.Since(start)
		c.metrics.Gauge(AnyChainDurationMs).Set(float64(elapsed.Milliseconds()))

		// Set success status
		if err == nil {
			span.SetTag(AnyChainTagSuccess, "true")
			c.metrics.Counter(AnyChainSuccessesTotal).Inc()
		} else {
			span.SetTag(AnyChainTagSuccess, "false")
			span.SetTag(AnyChainTagError, err.Error())
			c.metrics.Counter(AnyChainFailuresTotal).Inc()
		}
		span.Finish()
	}()

	result = element

	// With zero events there is nothing that can succeed.
	if len(events) == 0 {
		return result, &Error[I, O]{
			Timestamp: time.Now(),
			Element:   result,
			Err:       ErrNoEvents,
			Path:      []Name{c.name},
		}
	}

	var lastErr error

	for i, event := range events {
		// Check context before starting the attempt
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
		}

		c.metrics.Counter(AnyChainAttemptsTotal).Inc()

		// Start span for this attempt
		attemptCtx, attemptSpan := c.tracer.StartSpan(ctx, AnyChainAttemptSpan)
		attemptSpan.SetTag(AnyChainTagAttemptNum, fmt.Sprintf("%d", i+1))
		attemptSpan.SetTag(AnyChainTagEventName, string(event.Name()))

		attemptStart := time.Now()
		next, attemptErr := event.Do(attemptCtx, result, meta)
		attemptDuration := time.Since(attemptStart)
		attemptSpan.Finish()

		// Mutations stick even when the attempt fails.
		if next != nil {
			result = next
		}

		// Emit attempt event
		_ = c.hooks.Emit(ctx, AnyChainEventAttempt, AnyChainEvent{ //nolint:errcheck
			Name:        c.name,
			EventName:   event.Name(),
			ElementID:   result.ID(),
			Attempt:     i + 1,
			TotalEvents: len(events),
			Success:     attemptErr == nil,
			Error:       attemptErr,
			Duration:    attemptDuration,
			Timestamp:   time.Now(),
		})

		if attemptErr == nil {
			// First success settles the chain.
			_ = c.hooks.Emit(ctx, AnyChainEventSettled, AnyChainEvent{ //nolint:errcheck
				Name:        c.name,
				EventName:   event.Name(),
				ElementID:   result.ID(),
				Attempt:     i + 1,
				TotalEvents: len(events),
				Success:     true,
				Duration:    time.Since(start),
				Timestamp:   time.Now(),
			})
			return result, nil
		}

		// Record the failed probe on the element and keep trying.
		cause := attemptErr
		var engineErr *Error[I, O]
		if errors.As(attemptErr, &engineErr) {
			cause = engineErr.Err
		}
		result.AddNotice(Notice{Message: cause.Error(), Level: LevelWarning})
		lastErr = attemptErr
	}

	// Every event failed.
	_ = c.hooks.Emit(ctx, AnyChainEventSettled, AnyChainEvent{ //nolint:errcheck
		Name:        c.name,
		ElementID:   result.ID(),
		TotalEvents: len(events),
		Success:     false,
		Error:       lastErr,
		Duration:    time.Since(start),
		Timestamp:   time.Now(),
	})

	var engineErr *Error[I, O]
	if errors.As(lastErr, &engineErr) {
		// Prepend this chain's name to the path
		engineErr.Path = append([]Name{c.name}, engineErr.Path...)
		return result, engineErr
	}
	// Wrap plain errors with full context
	return result, &Error[I, O]{
		Timestamp: time.Now(),
		Element:   result,
		Err:       lastErr,
		Path:      []Name{c.name},
	}
}

// Len returns the number of registered events.
func (c *AnyChain[I, O]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// Clear removes all events from the chain.
func (c *AnyChain[I, O]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = c.events[:0]
}

// Names returns the names of all events in order.
func (c *AnyChain[I, O]) Names() []Name {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]Name, len(c.events))
	for i, event := range c.events {
		names[i] = event.Name()
	}
	return names
}

// Tag returns the chain's routing tag.
func (c *AnyChain[I, O]) Tag() Tag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tag
}

// Tagged reports whether the chain carries a routing tag.
func (c *AnyChain[I, O]) Tagged() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tag != ""
}

// Name returns the name of this chain.
func (c *AnyChain[I, O]) Name() Name {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Metrics returns the metrics registry for this connector.
func (c *AnyChain[I, O]) Metrics() *metricz.Registry {
	return c.metrics
}

// Tracer returns the tracer for this connector.
func (c *AnyChain[I, O]) Tracer() *tracez.Tracer {
	return c.tracer
}

// Close gracefully shuts down observability components.
func (c *AnyChain[I, O]) Close() error {
	if c.tracer != nil {
		c.tracer.Close()
	}
	c.hooks.Close()
	return nil
}

// OnAttempt registers a handler for individual event attempts. The
// handler is called asynchronously after each attempt, whether it
// succeeded or failed.
func (c *AnyChain[I, O]) OnAttempt(handler func(context.Context, AnyChainEvent) error) error {
	_, err := c.hooks.Hook(AnyChainEventAttempt, handler)
	return err
}

// OnSettled registers a handler for when the chain settles on an
// outcome: the first success, or the exhaustion of every event.
func (c *AnyChain[I, O]) OnSettled(handler func(context.Context, AnyChainEvent) error) error {
	_, err := c.hooks.Hook(AnyChainEventSettled, handler)
	return err
}
