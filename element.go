package morphz

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TagFunc derives a routing tag from an element. It is evaluated
// lazily, at most once per element: the first successful resolution is
// cached for the element's lifetime. A failed derivation is reported
// as that element's failure and is retried on the next resolution
// attempt.
type TagFunc[I, O any] func(*Element[I, O]) (Tag, error)

// Element is the unit of work moving through the engine. It carries a
// caller-supplied Input, an Output populated by transformers and
// mutables, a routing tag (literal or lazily derived), a stable
// identity, and the notices accumulated while chains acted on it.
//
// Elements are mutated in place by events and remain owned by the
// caller after a run returns. An element must not be shared across
// concurrent runs: the engine guarantees that within one run exactly
// one worker touches an element at a time, and offers no locking
// beyond that.
//
// Example:
//
//	element := morphz.NewElement[Rule, Constraint](rule).
//	    WithTagFunc(func(e *morphz.Element[Rule, Constraint]) (morphz.Tag, error) {
//	        return morphz.Tag(e.Input.Type), nil
//	    })
type Element[I, O any] struct {
	// Input is the caller-supplied payload, opaque to the engine.
	Input I

	// Output is the derived payload. It starts as the zero value
	// ("no prior transformation"); transformers replace it and
	// mutables may edit it directly.
	Output O

	id       string
	tag      Tag
	tagFn    TagFunc[I, O]
	resolved bool
	notices  []Notice
	seen     map[Notice]struct{}
}

// NewElement creates an element around the given input with a fresh
// UUID identity, no tag, and a zero-valued output. Configure it with
// the WithX methods before dispatching it.
func NewElement[I, O any](input I) *Element[I, O] {
	return &Element[I, O]{
		Input: input,
		id:    uuid.NewString(),
	}
}

// WithID overrides the generated identity. IDs appear in trace tags
// and hook events; they are never interpreted by the engine.
func (e *Element[I, O]) WithID(id string) *Element[I, O] {
	e.id = id
	return e
}

// WithOutput seeds the output with a non-zero starting value.
func (e *Element[I, O]) WithOutput(output O) *Element[I, O] {
	e.Output = output
	return e
}

// WithTag assigns a literal routing tag. The empty tag leaves the
// element untagged, routing it to a selector's default chain.
func (e *Element[I, O]) WithTag(tag Tag) *Element[I, O] {
	e.tag = tag
	e.tagFn = nil
	e.resolved = true
	return e
}

// WithTagFunc assigns a lazy tag derivation. The function runs at most
// once, on first resolution, and its result is cached for the
// element's lifetime.
func (e *Element[I, O]) WithTagFunc(fn TagFunc[I, O]) *Element[I, O] {
	e.tagFn = fn
	e.resolved = false
	return e
}

// ID returns the element's identity.
func (e *Element[I, O]) ID() string {
	return e.id
}

// ResolveTag returns the element's routing tag, deriving and caching
// it on first call when the element carries a TagFunc. The empty tag
// means untagged. Derivation failures wrap ErrTagUnresolved and leave
// the element unresolved.
func (e *Element[I, O]) ResolveTag() (Tag, error) {
	if e.resolved {
		return e.tag, nil
	}
	if e.tagFn == nil {
		e.resolved = true
		return e.tag, nil
	}
	tag, err := e.tagFn(e)
	if err != nil {
		return "", errors.Wrapf(ErrTagUnresolved, "element %s: %v", e.id, err)
	}
	e.tag = tag
	e.resolved = true
	return tag, nil
}

// AddNotice attaches a notice to the element. Notices are a set:
// attaching an identical message and level twice stores it once.
func (e *Element[I, O]) AddNotice(notice Notice) {
	if e.seen == nil {
		e.seen = make(map[Notice]struct{})
	}
	if _, dup := e.seen[notice]; dup {
		return
	}
	e.seen[notice] = struct{}{}
	e.notices = append(e.notices, notice)
}

// Notices returns the accumulated notices in attachment order.
func (e *Element[I, O]) Notices() []Notice {
	notices := make([]Notice, len(e.notices))
	copy(notices, e.notices)
	return notices
}

// HasAny reports whether the element carries at least one notice at
// any of the given levels. With no levels it reports whether the
// element carries any notice at all.
func (e *Element[I, O]) HasAny(levels ...Level) bool {
	if len(levels) == 0 {
		return len(e.notices) > 0
	}
	for _, notice := range e.notices {
		for _, level := range levels {
			if notice.Level == level {
				return true
			}
		}
	}
	return false
}
