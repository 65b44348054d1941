package collectors

// Placeholder is rendered in place of any field that could not be collected.
const Placeholder = "N/A"

// Result holds either a collected value or the error explaining why it is
// missing. Report fields carry one Result each so a failure in one field
// never hides the others.
type Result[T any] struct {
	Value T
	Err   error
}

// OK wraps a successfully collected value.
func OK[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail records why a value could not be collected.
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Valid reports whether the result carries a value.
func (r Result[T]) Valid() bool {
	return r.Err == nil
}

// Format renders the value with fn, or Placeholder when the result failed.
func (r Result[T]) Format(fn func(T) string) string {
	if r.Err != nil {
		return Placeholder
	}
	return fn(r.Value)
}
