package morphz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Sentinel errors reported by the engine itself, as opposed to errors
// produced by user-supplied event functions. Match them with
// errors.Is.
var (
	// ErrNoEvents is the failure of an empty AnyChain: with zero
	// events, no event can be said to have succeeded.
	ErrNoEvents = errors.New("chain has no events")

	// ErrTagUnresolved wraps a tag derivation failure. The element
	// could not be routed because its TagFunc returned an error.
	ErrTagUnresolved = errors.New("tag could not be resolved")

	// ErrSelectorMustBeSet is reported when a run is attempted on a
	// process without a selector.
	ErrSelectorMustBeSet = errors.New("selector must be set")
)

// Error provides rich context about an element's failure inside the
// engine. It wraps the underlying error with the path of component
// names the failure traversed (outermost first), the element being
// processed, and timing plus timeout/cancellation classification.
//
// Every connector boundary either prepends its name to an existing
// *Error's path or wraps a plain error into a fresh *Error, so callers
// always receive one with a complete trail:
//
//	var engineErr *morphz.Error[Rule, Constraint]
//	if errors.As(err, &engineErr) {
//	    log.Printf("failed at %v: %v", engineErr.Path, engineErr.Err)
//	}
type Error[I, O any] struct {
	// Element is the element being processed when the failure
	// occurred, in whatever state the failing event left it.
	Element *Element[I, O]

	// Err is the underlying cause.
	Err error

	// Path lists the component names the failure traversed,
	// outermost first.
	Path []Name

	// Timestamp records when the failure was observed.
	Timestamp time.Time

	// Duration records how long the failing invocation ran.
	Duration time.Duration

	// Timeout marks deadline expiry, the distinct failure kind
	// reported by RunConcurrent.
	Timeout bool

	// Canceled marks context cancellation.
	Canceled bool
}

// Error implements the error interface, rendering the traversal path
// and failure classification.
func (e *Error[I, O]) Error() string {
	site := "event"
	if len(e.Path) > 0 {
		parts := make([]string, len(e.Path))
		for i, name := range e.Path {
			parts[i] = string(name)
		}
		site = strings.Join(parts, " -> ")
	}

	if e.Timeout {
		return fmt.Sprintf("%s timed out after %v: %v", site, e.Duration, e.Err)
	}
	if e.Canceled {
		return fmt.Sprintf("%s canceled after %v: %v", site, e.Duration, e.Err)
	}
	return fmt.Sprintf("%s failed after %v: %v", site, e.Duration, e.Err)
}

// Unwrap returns the underlying error, supporting errors.Is and
// errors.As chains.
func (e *Error[I, O]) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether the failure was caused by a deadline.
func (e *Error[I, O]) IsTimeout() bool {
	return e.Timeout || errors.Is(e.Err, context.DeadlineExceeded)
}

// IsCanceled reports whether the failure was caused by cancellation.
func (e *Error[I, O]) IsCanceled() bool {
	return e.Canceled || errors.Is(e.Err, context.Canceled)
}
