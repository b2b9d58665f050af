package morphz

// Meta is the caller-defined scratch space threaded through every event
// invocation within one chain run. It is deliberately a plain mutable
// map: events within a single chain invocation may read and write it to
// coordinate (a transformer publishing a support-variable name for a
// later verifier, for example).
//
// Meta is never ambient state. It is passed explicitly on every Do
// call, and a Process clones its meta prototype per element so that
// elements never observe each other's scratch writes, even when
// processed concurrently. Callers invoking chains directly own their
// meta scoping themselves.
type Meta map[string]any

// Clone returns a shallow copy of the meta. Cloning a nil Meta returns
// an empty, writable map so events never receive a nil scratch space.
// Values are not deep-copied: callers storing pointers in a process
// prototype share the pointees across elements.
func (m Meta) Clone() Meta {
	clone := make(Meta, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}
