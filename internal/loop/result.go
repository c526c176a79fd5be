package loop

// Result is what a command handler returns: either an Immediate value, or a
// Deferred future the caller must wait on before considering the command
// finished.
type Result struct {
	value  any
	future *Future
}

// Immediate wraps a synchronously produced value.
func Immediate(v any) Result {
	return Result{value: v}
}

// Deferred wraps a pending future. A nil future is treated as Immediate(nil).
func Deferred(f *Future) Result {
	return Result{future: f}
}

// IsDeferred reports whether the result is still pending work.
func (r Result) IsDeferred() bool {
	return r.future != nil
}

// Future returns the deferred future, or nil for an immediate result.
func (r Result) Future() *Future {
	return r.future
}

// Value returns the immediate value.
func (r Result) Value() any {
	return r.value
}
