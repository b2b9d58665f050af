package morphz

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Kind discriminates the two changeable variants. The set is closed:
// Mutable and Transformer are the only constructors, which keeps
// variant handling exhaustive in routing and inspection code.
type Kind string

// Changeable variants.
const (
	KindMutable     Kind = "mutable"
	KindTransformer Kind = "transformer"
)

// MutableFunc edits the element it receives - its Input and/or its
// Output - and returns the element to use going forward, normally the
// same pointer. Returning nil means "keep the element I was given".
type MutableFunc[I, O any] func(context.Context, *Element[I, O], Meta) (*Element[I, O], error)

// TransformerFunc derives a new output from the element's input and
// its current output. The current output may be the zero value,
// signaling no prior transformation; implementations must tolerate
// that and initialize from the input. The returned output is written
// back onto the element by the invoking chain.
type TransformerFunc[I, O any] func(context.Context, I, O, Meta) (O, error)

// Changeable is a named operation over an element, the leaf event of
// the engine. Build one with Mutable or Transformer; the zero value is
// not usable.
//
// Changeables are immutable values - copying them is cheap and safe,
// and the same changeable can be registered in any number of chains
// concurrently.
//
// A panic inside the user function is recovered at this boundary and
// converted into an ordinary operation failure, so a misbehaving
// function fails its element rather than the run.
type Changeable[I, O any] struct {
	fn   MutableFunc[I, O]
	name Name
	kind Kind
}

// Mutable creates a changeable from a function that edits the element
// in place. Use it when the operation needs the whole element: rewriting
// input fields, seeding output structure, or annotating notices.
//
// Example:
//
//	normalize := morphz.Mutable(NormalizeName,
//	    func(_ context.Context, e *morphz.Element[Rule, Constraint], _ morphz.Meta) (*morphz.Element[Rule, Constraint], error) {
//	        for i, v := range e.Input.Variables {
//	            e.Input.Variables[i] = strings.TrimPrefix(v, "legacy__")
//	        }
//	        return e, nil
//	    })
func Mutable[I, O any](name Name, fn MutableFunc[I, O]) Changeable[I, O] {
	if fn == nil {
		panic("Mutable requires a function")
	}
	return Changeable[I, O]{name: name, kind: KindMutable, fn: fn}
}

// Transformer creates a changeable from a function that derives a new
// output from the input and the running output. The invoking chain
// assigns the returned value onto the element, so transformer
// functions stay free of element plumbing.
//
// Example:
//
//	conjunction := morphz.Transformer(ConjunctionName,
//	    func(_ context.Context, rule Rule, prior Constraint, meta morphz.Meta) (Constraint, error) {
//	        out := make(Constraint, len(prior)+len(rule.Variables)+1)
//	        for k, v := range prior {
//	            out[k] = v
//	        }
//	        for _, v := range rule.Variables {
//	            out[v] = -1
//	        }
//	        out[supportVariable(meta)] = -len(rule.Variables)
//	        return out, nil
//	    })
func Transformer[I, O any](name Name, fn TransformerFunc[I, O]) Changeable[I, O] {
	if fn == nil {
		panic("Transformer requires a function")
	}
	return Changeable[I, O]{
		name: name,
		kind: KindTransformer,
		fn: func(ctx context.Context, element *Element[I, O], meta Meta) (*Element[I, O], error) {
			output, err := fn(ctx, element.Input, element.Output, meta)
			if err != nil {
				return element, err
			}
			element.Output = output
			return element, nil
		},
	}
}

// Do implements the Event interface. Failures carry this changeable's
// name as the innermost path entry.
func (c Changeable[I, O]) Do(ctx context.Context, element *Element[I, O], meta Meta) (result *Element[I, O], err error) {
	defer recoverFromPanic(&result, &err, c.name, element)

	// Handle nil context
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	result, err = c.fn(ctx, element, meta)
	if result == nil {
		result = element
	}
	if err != nil {
		var engineErr *Error[I, O]
		if errors.As(err, &engineErr) {
			// Prepend this changeable's name to the path
			engineErr.Path = append([]Name{c.name}, engineErr.Path...)
			return result, engineErr
		}
		// Wrap plain errors with full context
		return result, &Error[I, O]{
			Timestamp: time.Now(),
			Element:   result,
			Err:       err,
			Path:      []Name{c.name},
			Duration:  time.Since(start),
		}
	}
	return result, nil
}

// Name returns the name of this changeable.
func (c Changeable[I, O]) Name() Name {
	return c.name
}

// Kind returns the changeable's variant discriminant.
func (c Changeable[I, O]) Kind() Kind {
	return c.kind
}
