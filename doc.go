// Package morphz provides a lightweight, type-safe engine for composing and running
// chains of data-transforming operations over tagged elements in Go.
//
// # Overview
//
// morphz lets developers declare reusable transformation steps, combine them with
// all-must-succeed or any-may-succeed semantics, route each unit of work to the
// right chain by tag, optionally verify results, and execute whole batches -
// sequentially or concurrently under a deadline - with per-element failure
// isolation. It addresses the common shape of rule-translation and data-mapping
// workloads: many small independent inputs, a handful of transformation recipes,
// and the need to know exactly which inputs failed and why.
//
// # Core Concepts
//
// The engine is built around a small set of uniform pieces:
//
//   - Element[I, O]: the unit of work, carrying Input, derived Output, a routing
//     tag (literal or lazily derived), and accumulated notices
//   - Event[I, O]: the single polymorphic capability with
//     Do(context.Context, *Element[I, O], Meta) (*Element[I, O], error)
//   - Changeable: a named operation built with the Mutable or Transformer adapters
//   - Verifier: post-hoc validation wrapped around a changeable
//   - AllChain / AnyChain: ordered compositions with all-of or any-of semantics
//   - Selector: tag-based router dispatching each element to exactly one chain
//   - Process: batch driver with sequential Run and deadline-bound RunConcurrent,
//     optionally cascading into a subprocess
//
// Everything implements the Event interface, so chains nest inside chains and a
// selector can sit mid-chain. Meta is an explicit scratch map threaded through
// every invocation within one chain run - never ambient state.
//
// # Adapters
//
// Two adapters wrap user functions as changeables:
//
//   - Mutable: edits the element it receives (input and/or output) and returns
//     the element to use going forward
//   - Transformer: derives a new output from the input and the running output;
//     the chain writes the returned value back onto the element
//
// A panic inside a user function is recovered at the adapter boundary and
// converted into an ordinary per-element failure.
//
// # Usage Example
//
//	type Rule struct {
//	    Type      string
//	    Variables []string
//	}
//	type Constraint map[string]int
//
//	conjunction := morphz.NewAllChain("conjunction-chain",
//	    normalize,
//	    conjunctionTransform,
//	).WithTag("conjunction")
//
//	disjunction := morphz.NewAllChain("disjunction-chain",
//	    normalize,
//	    disjunctionTransform,
//	).WithTag("disjunction")
//
//	selector := morphz.NewSelector("rules", conjunction, disjunction)
//	process := morphz.NewProcess("rules-to-constraints", selector).
//	    WithMeta(morphz.Meta{"support": "b"})
//
//	elements := []*morphz.Element[Rule, Constraint]{
//	    morphz.NewElement[Rule, Constraint](rule).WithTagFunc(ruleTag),
//	}
//
//	result := process.Run(ctx, elements)
//	for _, outcome := range result.Outcomes() {
//	    if outcome.Succeeded() {
//	        use(outcome.Element.Output)
//	    } else {
//	        log.Printf("element %s: %v", outcome.Element.ID(), outcome.Err)
//	    }
//	}
//
// # Error Handling
//
// Failures are contained at the chain boundary and recorded per element; one
// element's failure never aborts a batch. Every failure surfaces as an *Error
// carrying the path of component names it traversed, the element involved, and
// timeout/cancellation classification. Three caller-visible cases stay distinct:
// an unrouted element passes through as a success, a chain or operation failure
// marks that element's outcome with its cause, and a deadline expiry fails the
// whole RunConcurrent call with a batch-level timeout error.
//
// # Observability
//
// Every connector owns a metricz registry and a tracez tracer, exposed via
// Metrics() and Tracer(), and emits typed hookz events (selector routing
// decisions, chain step completions, verification rejections, element and run
// completions) through OnXxx registration methods. Deadlines run on a clockz
// clock, swappable for a fake in tests via WithClock.
//
// # Testing
//
// Build small chains from inline changeables, drive them directly with Do, and
// assert on outcomes with errors.As. For deadline behavior, inject
// clockz.NewFakeClock and advance it deterministically instead of sleeping.
package morphz
