package morphz

import (
	"time"

	"github.com/pkg/errors"
)

// recoverFromPanic converts a panic escaping a user-supplied function
// into an ordinary operation failure so that one misbehaving event
// never crashes a run. Connectors defer it with their named return
// values:
//
//	func (c *AllChain[I, O]) Do(...) (result *Element[I, O], err error) {
//	    defer recoverFromPanic(&result, &err, c.name, element)
//	    ...
func recoverFromPanic[I, O any](result **Element[I, O], err *error, name Name, element *Element[I, O]) {
	if r := recover(); r != nil {
		*result = element
		*err = &Error[I, O]{
			Err:       errors.Errorf("panic: %v", r),
			Element:   element,
			Path:      []Name{name},
			Timestamp: time.Now(),
		}
	}
}
