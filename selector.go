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

// Observability constants for the Selector connector.
const (
	// Metrics.
	SelectorProcessedTotal = metricz.Key("selector.processed.total")
	SelectorSuccessesTotal = metricz.Key("selector.successes.total")
	SelectorRoutedTotal    = metricz.Key("selector.routed.total")
	SelectorUnroutedTotal  = metricz.Key("selector.unrouted.total")
	SelectorDurationMs     = metricz.Key("selector.duration.ms")

	// Spans.
	SelectorDispatchSpan = tracez.Key("selector.dispatch")

	// Tags.
	SelectorTagTag       = tracez.Tag("selector.tag")
	SelectorTagRouted    = tracez.Tag("selector.routed")
	SelectorTagChainName = tracez.Tag("selector.chain_name")
	SelectorTagElementID = tracez.Tag("selector.element_id")
	SelectorTagSuccess   = tracez.Tag("selector.success")
	SelectorTagError     = tracez.Tag("selector.error")

	// Hook event keys.
	SelectorEventRouted   = hookz.Key("selector.routed")
	SelectorEventUnrouted = hookz.Key("selector.unrouted")
)

// SelectorEvent represents a routing decision. It is emitted via hookz
// when an element is dispatched to a chain or passes through unrouted,
// providing visibility into which route was taken.
type SelectorEvent struct {
	Name      Name          // Connector name
	Tag       Tag           // The element's resolved tag
	ChainName Name          // Name of the chain dispatched to (if routed)
	ElementID string        // Identity of the element routed
	Routed    bool          // Whether a chain was found
	Default   bool          // Whether the default (untagged) chain was used
	Success   bool          // Whether the chain succeeded (if routed)
	Error     error         // Error from the chain (if failed)
	Duration  time.Duration // How long the chain took (if routed)
	Timestamp time.Time     // When the event occurred
}

// Selector routes each element to exactly one chain by tag. It holds
// chains in declaration order and linearly scans them: the first chain
// whose tag equals the element's resolved tag wins. When no tag
// matches, the first untagged chain acts as the default route. When
// neither exists, the element passes through unmodified - a no-op
// success, not a failure - and an unrouted event is emitted for
// monitoring.
//
// Untagged elements are only ever dispatched to the default chain.
//
// The selector is a dispatcher, not a fan-out: exactly one chain runs
// per element per Do call. Tag resolution failures (a TagFunc
// returning an error) are per-element failures wrapping
// ErrTagUnresolved.
//
// Selector implements Event, so a selector can itself be a step inside
// a chain when routing needs to happen mid-pipeline.
//
// # Observability
//
// Metrics:
//   - selector.processed.total: Counter of dispatch operations
//   - selector.successes.total: Counter of successful dispatches
//   - selector.routed.total: Counter of elements that found a chain
//   - selector.unrouted.total: Counter of pass-through elements
//   - selector.duration.ms: Gauge of dispatch duration
//
// Traces:
//   - selector.dispatch: Span covering routing and chain execution
//
// Events (via hooks):
//   - selector.routed: Fired when a chain is found and executed
//   - selector.unrouted: Fired when the element passes through
//
// Example with hooks:
//
//	selector := morphz.NewSelector(RuleSelectorName, conjunctionChain, disjunctionChain)
//
//	// Alert on rule types nobody handles
//	selector.OnUnrouted(func(ctx context.Context, event morphz.SelectorEvent) error {
//	    log.Printf("no chain for tag %q, element %s passed through", event.Tag, event.ElementID)
//	    return nil
//	})
type Selector[I, O any] struct {
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[SelectorEvent]
	name    Name
	chains  []Chain[I, O]
	mu      sync.RWMutex
}

// NewSelector creates a Selector over the given chains. Chains are
// scanned in the order provided; use AddChain to append more.
func NewSelector[I, O any](name Name, chains ...Chain[I, O]) *Selector[I, O] {
	// Initialize observability
	metrics := metricz.New()
	metrics.Counter(SelectorProcessedTotal)
	metrics.Counter(SelectorSuccessesTotal)
	metrics.Counter(SelectorRoutedTotal)
	metrics.Counter(SelectorUnroutedTotal)
	metrics.Gauge(SelectorDurationMs)

	s := &Selector[I, O]{
		name:    name,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[SelectorEvent](),
	}
	s.chains = append(s.chains, chains...)
	return s
}

// Do implements the Event interface: resolve the element's tag, run
// the first matching chain, fall back to the default chain, or pass
// the element through unchanged.
func (s *Selector[I, O]) Do(ctx context.Context, element *Element[I, O], meta Meta) (result *Element[I, O], err error) {
	defer recoverFromPanic(&result, &err, s.name, element)

	s.mu.RLock()
	chains := make([]Chain[I, O], len(s.chains))
	copy(chains, s.chains)
	s.mu.RUnlock()

	// Handle nil context
	if ctx == nil {
		ctx = context.Background()
	}

	// Track metrics
	s.metrics.Counter(SelectorProcessedTotal).Inc()
	start := time.Now()

	// Start dispatch span
	ctx, span := s.tracer.StartSpan(ctx, SelectorDispatchSpan)
	span.SetTag(SelectorTagElementID, element.ID())
	defer func() {
		// Record duration
		elapsed := time.Since(start)
		s.metrics.Gauge(SelectorDurationMs).Set(float64(elapsed.Milliseconds()))

		// Set success status
		if err == nil {
			span.SetTag(SelectorTagSuccess, "true")
			s.metrics.Counter(SelectorSuccessesTotal).Inc()
		} else {
			span.SetTag(SelectorTagSuccess, "false")
			span.SetTag(SelectorTagError, err.Error())
		}
		span.Finish()
	}()

	result = element

	tag, tagErr := element.ResolveTag()
	if tagErr != nil {
		// The element cannot be routed.
		element.AddNotice(Notice{Message: tagErr.Error(), Level: LevelError})
		return result, &Error[I, O]{
			Timestamp: time.Now(),
			Element:   result,
			Err:       tagErr,
			Path:      []Name{s.name},
		}
	}
	span.SetTag(SelectorTagTag, string(tag))

	// First chain with a matching tag wins; the first untagged chain
	// is the default route.
	var chosen Chain[I, O]
	var usedDefault bool
	if tag != "" {
		for _, chain := range chains {
			if chain.Tagged() && chain.Tag() == tag {
				chosen = chain
				break
			}
		}
	}
	if chosen == nil {
		for _, chain := range chains {
			if !chain.Tagged() {
				chosen = chain
				usedDefault = true
				break
			}
		}
	}

	if chosen == nil {
		// No chain matched - pass through
		span.SetTag(SelectorTagRouted, "false")
		s.metrics.Counter(SelectorUnroutedTotal).Inc()

		// Emit unrouted event
		_ = s.hooks.Emit(ctx, SelectorEventUnrouted, SelectorEvent{ //nolint:errcheck
			Name:      s.name,
			Tag:       tag,
			ElementID: element.ID(),
			Routed:    false,
			Timestamp: time.Now(),
		})

		return result, nil
	}

	// Chain found
	span.SetTag(SelectorTagRouted, "true")
	span.SetTag(SelectorTagChainName, string(chosen.Name()))
	s.metrics.Counter(SelectorRoutedTotal).Inc()

	chainStart := time.Now()
	result, err = chosen.Do(ctx, element, meta)
	chainDuration := time.Since(chainStart)
	if result == nil {
		result = element
	}

	// Emit routed event
	_ = s.hooks.Emit(ctx, SelectorEventRouted, SelectorEvent{ //nolint:errcheck
		Name:      s.name,
		Tag:       tag,
		ChainName: chosen.Name(),
		ElementID: result.ID(),
		Routed:    true,
		Default:   usedDefault,
		Success:   err == nil,
		Error:     err,
		Duration:  chainDuration,
		Timestamp: time.Now(),
	})

	if err != nil {
		var engineErr *Error[I, O]
		if errors.As(err, &engineErr) {
			// Prepend this selector's name to the path
			engineErr.Path = append([]Name{s.name}, engineErr.Path...)
			return result, engineErr
		}
		// Wrap plain errors with full context
		return result, &Error[I, O]{
			Timestamp: time.Now(),
			Element:   result,
			Err:       err,
			Path:      []Name{s.name},
		}
	}
	return result, nil
}

// AddChain appends a chain to the scan order. With duplicate tags the
// earliest registered chain wins.
func (s *Selector[I, O]) AddChain(chain Chain[I, O]) *Selector[I, O] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains = append(s.chains, chain)
	return s
}

// SetChains replaces all chains atomically, preserving the given order.
func (s *Selector[I, O]) SetChains(chains ...Chain[I, O]) *Selector[I, O] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains = make([]Chain[I, O], len(chains))
	copy(s.chains, chains)
	return s
}

// ClearChains removes all chains from the selector.
func (s *Selector[I, O]) ClearChains() *Selector[I, O] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains = s.chains[:0]
	return s
}

// Chains returns a copy of the chains in scan order.
func (s *Selector[I, O]) Chains() []Chain[I, O] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chains := make([]Chain[I, O], len(s.chains))
	copy(chains, s.chains)
	return chains
}

// HasTag reports whether any registered chain carries the given tag.
func (s *Selector[I, O]) HasTag(tag Tag) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, chain := range s.chains {
		if chain.Tagged() && chain.Tag() == tag {
			return true
		}
	}
	return false
}

// Len returns the number of registered chains.
func (s *Selector[I, O]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chains)
}

// Name returns the name of this connector.
func (s *Selector[I, O]) Name() Name {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Metrics returns the metrics registry for this connector.
func (s *Selector[I, O]) Metrics() *metricz.Registry {
	return s.metrics
}

// Tracer returns the tracer for this connector.
func (s *Selector[I, O]) Tracer() *tracez.Tracer {
	return s.tracer
}

// Close gracefully shuts down observability components.
func (s *Selector[I, O]) Close() error {
	if s.tracer != nil {
		s.tracer.Close()
	}
	s.hooks.Close()
	return nil
}

// OnRouted registers a handler for when a chain is found and executed.
// The handler is called asynchronously after the chain completes.
func (s *Selector[I, O]) OnRouted(handler func(context.Context, SelectorEvent) error) error {
	_, err := s.hooks.Hook(SelectorEventRouted, handler)
	return err
}

// OnUnrouted registers a handler for when no chain matches and the
// element passes through unchanged, useful for monitoring unhandled
// tags.
func (s *Selector[I, O]) OnUnrouted(handler func(context.Context, SelectorEvent) error) error {
	_, err := s.hooks.Hook(SelectorEventUnrouted, handler)
	return err
}
