// Package errors provides structured error types for the disposal tree.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the offending object, a detail message and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRegister, errors.KindCycle).
//		Value(child).
//		Detail("parent %v is a descendant of %v", parent, child).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.AlreadyDisposed(parent)
//	err := errors.Callback(errors.PhaseExecute, obj, cause)
//
// Cancellation-flavored errors are recognized by IsCancellation and take
// priority over incidental failures when a disposal pass reports back.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
