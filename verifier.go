package morphz

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Verifier connector.
const (
	// Metrics.
	VerifierCheckedTotal  = metricz.Key("verifier.checked.total")
	VerifierPassedTotal   = metricz.Key("verifier.passed.total")
	VerifierRejectedTotal = metricz.Key("verifier.rejected.total")
	VerifierFailuresTotal = metricz.Key("verifier.failures.total")
	VerifierDurationMs    = metricz.Key("verifier.duration.ms")

	// Spans.
	VerifierDoSpan = tracez.Key("verifier.do")

	// Tags.
	VerifierTagEventName = tracez.Tag("verifier.event_name")
	VerifierTagElementID = tracez.Tag("verifier.element_id")
	VerifierTagPassed    = tracez.Tag("verifier.passed")
	VerifierTagError     = tracez.Tag("verifier.error")

	// Hook event keys.
	VerifierEventPassed   = hookz.Key("verifier.passed")
	VerifierEventRejected = hookz.Key("verifier.rejected")
)

// VerifierEvent represents a verification outcome. It is emitted via
// hookz after the predicate runs, providing visibility into which
// elements cleared verification and which were rejected.
type VerifierEvent struct {
	Name      Name          // Connector name
	EventName Name          // Name of the wrapped changeable
	ElementID string        // Identity of the element verified
	Passed    bool          // Whether the predicate accepted the element
	Error     error         // Predicate error when rejected
	Duration  time.Duration // Time spent in changeable plus predicate
	Timestamp time.Time     // When the event occurred
}

// VerifyFunc is the verification predicate evaluated against the
// element a changeable produced. Returning nil accepts the element;
// returning an error rejects it.
type VerifyFunc[I, O any] func(context.Context, *Element[I, O], Meta) error

// Verifier wraps exactly one changeable with a post-hoc verification
// predicate. The changeable runs first; on its success the predicate
// is evaluated exactly once, never retried. A rejected element retains
// every mutation the changeable made - only the outcome differs - and
// an ERROR notice recording the rejection is attached to it.
//
// The verifier's outcome is success only when both the changeable and
// the predicate succeed.
//
// # Observability
//
// Metrics:
//   - verifier.checked.total: Counter of verification attempts
//   - verifier.passed.total: Counter of accepted elements
//   - verifier.rejected.total: Counter of predicate rejections
//   - verifier.failures.total: Counter of wrapped changeable failures
//   - verifier.duration.ms: Gauge of changeable plus predicate duration
//
// Traces:
//   - verifier.do: Span covering the changeable and the predicate
//
// Events (via hooks):
//   - verifier.passed: Fired when the predicate accepts an element
//   - verifier.rejected: Fired when the predicate rejects an element
type Verifier[I, O any] struct {
	verify     VerifyFunc[I, O]
	metrics    *metricz.Registry
	tracer     *tracez.Tracer
	hooks      *hookz.Hooks[VerifierEvent]
	name       Name
	changeable Changeable[I, O]
	mu         sync.RWMutex
}

// NewVerifier creates a Verifier around the given changeable and
// predicate.
func NewVerifier[I, O any](name Name, changeable Changeable[I, O], verify VerifyFunc[I, O]) *Verifier[I, O] {
	if verify == nil {
		panic("NewVerifier requires a predicate")
	}

	// Initialize observability
	metrics := metricz.New()
	metrics.Counter(VerifierCheckedTotal)
	metrics.Counter(VerifierPassedTotal)
	metrics.Counter(VerifierRejectedTotal)
	metrics.Counter(VerifierFailuresTotal)
	metrics.Gauge(VerifierDurationMs)

	return &Verifier[I, O]{
		name:       name,
		changeable: changeable,
		verify:     verify,
		metrics:    metrics,
		tracer:     tracez.New(),
		hooks:      hookz.New[VerifierEvent](),
	}
}

// Do implements the Event interface. It runs the wrapped changeable
// and, on success, evaluates the predicate against the result.
func (v *Verifier[I, O]) Do(ctx context.Context, element *Element[I, O], meta Meta) (result *Element[I, O], err error) {
	defer recoverFromPanic(&result, &err, v.name, element)

	v.mu.RLock()
	changeable := v.changeable
	verify := v.verify
	v.mu.RUnlock()

	// Handle nil context
	if ctx == nil {
		ctx = context.Background()
	}

	// Track metrics
	v.metrics.Counter(VerifierCheckedTotal).Inc()
	start := time.Now()

	// Start span
	ctx, span := v.tracer.StartSpan(ctx, VerifierDoSpan)
	span.SetTag(VerifierTagEventName, string(changeable.Name()))
	span.SetTag(VerifierTagElementID, element.ID())
	defer func() {
		elapsed := time.Since(start)
		v.metrics.Gauge(VerifierDurationMs).Set(float64(elapsed.Milliseconds()))

		if err == nil {
			span.SetTag(VerifierTagPassed, "true")
		} else {
			span.SetTag(VerifierTagPassed, "false")
			span.SetTag(VerifierTagError, err.Error())
		}
		span.Finish()
	}()

	result, err = changeable.Do(ctx, element, meta)
	if err != nil {
		v.metrics.Counter(VerifierFailuresTotal).Inc()

		var engineErr *Error[I, O]
		if errors.As(err, &engineErr) {
			// Prepend this verifier's name to the path
			engineErr.Path = append([]Name{v.name}, engineErr.Path...)
			return result, engineErr
		}
		// Wrap plain errors with full context
		return result, &Error[I, O]{
			Timestamp: time.Now(),
			Element:   result,
			Err:       err,
			Path:      []Name{v.name},
			Duration:  time.Since(start),
		}
	}

	// Evaluate the predicate exactly once against the produced element.
	verifyErr := verify(ctx, result, meta)
	duration := time.Since(start)

	if verifyErr != nil {
		v.metrics.Counter(VerifierRejectedTotal).Inc()

		// The element keeps the changeable's mutations; record the
		// rejection on it.
		result.AddNotice(Notice{Message: verifyErr.Error(), Level: LevelError})

		// Emit rejected event
		_ = v.hooks.Emit(ctx, VerifierEventRejected, VerifierEvent{ //nolint:errcheck
			Name:      v.name,
			EventName: changeable.Name(),
			ElementID: result.ID(),
			Passed:    false,
			Error:     verifyErr,
			Duration:  duration,
			Timestamp: time.Now(),
		})

		return result, &Error[I, O]{
			Timestamp: time.Now(),
			Element:   result,
			Err:       verifyErr,
			Path:      []Name{v.name},
			Duration:  duration,
		}
	}

	v.metrics.Counter(VerifierPassedTotal).Inc()

	// Emit passed event
	_ = v.hooks.Emit(ctx, VerifierEventPassed, VerifierEvent{ //nolint:errcheck
		Name:      v.name,
		EventName: changeable.Name(),
		ElementID: result.ID(),
		Passed:    true,
		Duration:  duration,
		Timestamp: time.Now(),
	})

	return result, nil
}

// SetChangeable replaces the wrapped changeable.
func (v *Verifier[I, O]) SetChangeable(changeable Changeable[I, O]) *Verifier[I, O] {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.changeable = changeable
	return v
}

// SetVerify replaces the verification predicate.
func (v *Verifier[I, O]) SetVerify(verify VerifyFunc[I, O]) *Verifier[I, O] {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.verify = verify
	return v
}

// Changeable returns the wrapped changeable.
func (v *Verifier[I, O]) Changeable() Changeable[I, O] {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.changeable
}

// Name returns the name of this connector.
func (v *Verifier[I, O]) Name() Name {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.name
}

// Metrics returns the metrics registry for this connector.
func (v *Verifier[I, O]) Metrics() *metricz.Registry {
	return v.metrics
}

// Tracer returns the tracer for this connector.
func (v *Verifier[I, O]) Tracer() *tracez.Tracer {
	return v.tracer
}

// Close gracefully shuts down observability components.
func (v *Verifier[I, O]) Close() error {
	if v.tracer != nil {
		v.tracer.Close()
	}
	v.hooks.Close()
	return nil
}

// OnPassed registers a handler for predicate acceptances. The handler
// is called asynchronously after the element clears verification.
func (v *Verifier[I, O]) OnPassed(handler func(context.Context, VerifierEvent) error) error {
	_, err := v.hooks.Hook(VerifierEventPassed, handler)
	return err
}

// OnRejected registers a handler for predicate rejections. The handler
// is called asynchronously when an element fails verification, useful
// for alerting on suspect transformations.
func (v *Verifier[I, O]) OnRejected(handler func(context.Context, VerifierEvent) error) error {
	_, err := v.hooks.Hook(VerifierEventRejected, handler)
	return err
}
