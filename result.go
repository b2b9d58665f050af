package morphz

// Outcome pairs an element with its failure, if any. A nil Err means
// the element came through its dispatch successfully - including the
// no-op case where no chain matched its tag.
type Outcome[I, O any] struct {
	Element *Element[I, O]
	Err     *Error[I, O]
}

// Succeeded reports whether the outcome carries no failure.
func (o Outcome[I, O]) Succeeded() bool {
	return o.Err == nil
}

// Result is the ordered aggregate a process run returns: one outcome
// per input element, in input order. Failed elements stay in place
// alongside successes so callers can always map an outcome back to the
// element that produced it.
//
// A Result is immutable once returned and safe for concurrent reads.
type Result[I, O any] struct {
	outcomes []Outcome[I, O]
}

// NewResult creates a result over the given outcomes. With no
// arguments it creates an empty result, useful as a seed for
// Concatenate.
func NewResult[I, O any](outcomes ...Outcome[I, O]) *Result[I, O] {
	r := &Result[I, O]{outcomes: make([]Outcome[I, O], len(outcomes))}
	copy(r.outcomes, outcomes)
	return r
}

// Concatenate combines results into a new one, preserving the order of
// the arguments and of the outcomes within each.
func Concatenate[I, O any](results ...*Result[I, O]) *Result[I, O] {
	total := 0
	for _, result := range results {
		if result != nil {
			total += len(result.outcomes)
		}
	}

	combined := make([]Outcome[I, O], 0, total)
	for _, result := range results {
		if result != nil {
			combined = append(combined, result.outcomes...)
		}
	}
	return &Result[I, O]{outcomes: combined}
}

// Len returns the number of outcomes.
func (r *Result[I, O]) Len() int {
	return len(r.outcomes)
}

// Outcomes returns a copy of the outcomes in input order.
func (r *Result[I, O]) Outcomes() []Outcome[I, O] {
	outcomes := make([]Outcome[I, O], len(r.outcomes))
	copy(outcomes, r.outcomes)
	return outcomes
}

// Elements returns every element in input order, failed ones included.
func (r *Result[I, O]) Elements() []*Element[I, O] {
	elements := make([]*Element[I, O], len(r.outcomes))
	for i, outcome := range r.outcomes {
		elements[i] = outcome.Element
	}
	return elements
}

// Succeeded returns the elements whose outcomes carry no failure.
func (r *Result[I, O]) Succeeded() []*Element[I, O] {
	var elements []*Element[I, O]
	for _, outcome := range r.outcomes {
		if outcome.Succeeded() {
			elements = append(elements, outcome.Element)
		}
	}
	return elements
}

// Failed returns the outcomes that carry a failure.
func (r *Result[I, O]) Failed() []Outcome[I, O] {
	var failed []Outcome[I, O]
	for _, outcome := range r.outcomes {
		if !outcome.Succeeded() {
			failed = append(failed, outcome)
		}
	}
	return failed
}

// ElementsWith returns the elements carrying at least one notice at
// any of the given levels. With no levels it returns the elements
// carrying any notice at all.
func (r *Result[I, O]) ElementsWith(levels ...Level) []*Element[I, O] {
	var elements []*Element[I, O]
	for _, outcome := range r.outcomes {
		if outcome.Element != nil && outcome.Element.HasAny(levels...) {
			elements = append(elements, outcome.Element)
		}
	}
	return elements
}

// Inputs returns the inputs of the elements accepted by filter, in
// input order. A nil filter accepts every element.
func (r *Result[I, O]) Inputs(filter func(*Element[I, O]) bool) []I {
	var inputs []I
	for _, outcome := range r.outcomes {
		if outcome.Element == nil {
			continue
		}
		if filter == nil || filter(outcome.Element) {
			inputs = append(inputs, outcome.Element.Input)
		}
	}
	return inputs
}

// Outputs returns the outputs of the elements accepted by filter, in
// input order. A nil filter accepts every element.
func (r *Result[I, O]) Outputs(filter func(*Element[I, O]) bool) []O {
	var outputs []O
	for _, outcome := range r.outcomes {
		if outcome.Element == nil {
			continue
		}
		if filter == nil || filter(outcome.Element) {
			outputs = append(outputs, outcome.Element.Output)
		}
	}
	return outputs
}

// Filter returns a new result holding only the outcomes keep accepts.
func (r *Result[I, O]) Filter(keep func(Outcome[I, O]) bool) *Result[I, O] {
	var kept []Outcome[I, O]
	for _, outcome := range r.outcomes {
		if keep == nil || keep(outcome) {
			kept = append(kept, outcome)
		}
	}
	return &Result[I, O]{outcomes: kept}
}
