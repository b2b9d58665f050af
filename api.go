package morphz

import (
	"context"
)

// Name identifies an event or connector within the engine.
// Names appear in error paths, trace tags, and hook events, so they
// should be stable, meaningful identifiers rather than display strings.
//
// Define names as constants to catch typos at compile time:
//
//	const (
//	    NormalizeName   = morphz.Name("normalize-variables")
//	    ConjunctionName = morphz.Name("conjunction")
//	)
type Name string

// Tag is the routing key carried by elements and chains. A Selector
// dispatches each element to the first chain whose tag equals the
// element's resolved tag. The zero value means "untagged": untagged
// chains act as the selector's default route, and untagged elements
// are only ever dispatched to that default.
type Tag string

// Event is the uniform interface for anything that can act on an
// element: operations built with Mutable or Transformer, Verifier
// wrappers, chains, and selectors all implement it. The uniform
// interface is what makes composition work - chains hold events, so a
// chain can hold another chain or a whole selector as easily as a
// single operation.
//
// Do receives the element to act on and the meta scratch space for
// the current chain invocation. It returns the element to use going
// forward (the same pointer, typically) and an error when the event
// failed. Implementations must not retain the element or meta beyond
// the call.
//
// Key design principles:
//   - Single polymorphic capability for maximum composability
//   - Context support for cancellation and deadlines
//   - Type safety through generics over input and output payloads
//   - Explicit error returns; failures never panic across the boundary
type Event[I, O any] interface {
	Do(context.Context, *Element[I, O], Meta) (*Element[I, O], error)
	Name() Name
}

// Chain is an Event that additionally carries a routing tag, making it
// eligible for registration in a Selector. AllChain and AnyChain both
// implement it.
type Chain[I, O any] interface {
	Event[I, O]

	// Tag returns the chain's routing tag. Meaningful only when
	// Tagged reports true.
	Tag() Tag

	// Tagged reports whether the chain carries a routing tag. An
	// untagged chain serves as a selector's default route.
	Tagged() bool
}
