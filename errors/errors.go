package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// Phase indicates where in the object lifecycle the error occurred
type Phase string

const (
	PhaseRegister Phase = "register" // parent/child registration
	PhaseBefore   Phase = "before"   // pre-order disposal hook
	PhaseExecute  Phase = "execute"  // main disposal action
	PhaseDispose  Phase = "dispose"  // disposal pass as a whole
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseHost     Phase = "host"     // wasm host resources
)

// Kind categorizes the error
type Kind string

const (
	KindSelfRegistration Kind = "self_registration"
	KindAlreadyDisposed  Kind = "already_disposed"
	KindCycle            Kind = "cycle"
	KindInvalidInput     Kind = "invalid_input"
	KindCallbackFailed   Kind = "callback_failed"
	KindPanic            Kind = "panic"
	KindCancelled        Kind = "cancelled"
	KindLeak             Kind = "leak"
	KindNotFound         Kind = "not_found"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Value != nil {
		b.WriteString(" on ")
		b.WriteString(describe(e.Value))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Value sets the offending object
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// SelfRegistration creates an error for registering an object under itself
func SelfRegistration(obj any) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindSelfRegistration,
		Value:  obj,
		Detail: "cannot register an object as its own child",
	}
}

// AlreadyDisposed creates an error for registering under a disposed parent
func AlreadyDisposed(parent any) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindAlreadyDisposed,
		Value:  parent,
		Detail: "parent has already been disposed",
	}
}

// Cycle creates an error for a registration that would close a loop
func Cycle(parent, child any) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindCycle,
		Value:  child,
		Detail: fmt.Sprintf("parent %s is already a descendant of the child", describe(parent)),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Callback wraps a failure returned by a disposal callback
func Callback(phase Phase, obj any, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindCallbackFailed,
		Value: obj,
		Cause: cause,
	}
}

// Panic wraps a value recovered from a disposal callback.
// A recovered error value is kept as the cause so cancellation survives.
func Panic(phase Phase, obj any, recovered any) *Error {
	e := &Error{
		Phase: phase,
		Kind:  KindPanic,
		Value: obj,
	}
	if err, ok := recovered.(error); ok {
		e.Cause = err
	} else {
		e.Detail = fmt.Sprintf("%v", recovered)
	}
	return e
}

// Cancelled creates a cancellation-flavored error
func Cancelled(cause error) *Error {
	return &Error{
		Phase:  PhaseDispose,
		Kind:   KindCancelled,
		Detail: "operation cancelled",
		Cause:  cause,
	}
}

// ErrCancelled matches any cancellation error built by Cancelled via errors.Is
var ErrCancelled = &Error{Phase: PhaseDispose, Kind: KindCancelled}

// IsCancellation reports whether err signals a deliberate abort:
// a KindCancelled error, context.Canceled or context.DeadlineExceeded
// anywhere in the error tree, including joined and combined errors.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return hasCancelled(err)
}

func hasCancelled(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok && e.Kind == KindCancelled {
		return true
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if hasCancelled(inner) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return hasCancelled(u.Unwrap())
	}

	if parts := multierr.Errors(err); len(parts) > 1 {
		for _, inner := range parts {
			if hasCancelled(inner) {
				return true
			}
		}
	}
	return false
}

// Combine merges errors into one, dropping nils
func Combine(errs ...error) error {
	return multierr.Combine(errs...)
}

// Errors splits an error produced by Combine back into its parts
func Errors(err error) []error {
	return multierr.Errors(err)
}

// LeakError is returned when objects are still registered at shutdown
type LeakError struct {
	Roots []string
}

// Leak creates a leak error from the descriptions of live roots
func Leak(roots []string) *LeakError {
	return &LeakError{Roots: roots}
}

func (e *LeakError) Error() string {
	if len(e.Roots) == 0 {
		return "[dispose] leak: no objects"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d object(s) not disposed:\n", len(e.Roots)))
	for _, r := range e.Roots {
		b.WriteString("  - ")
		b.WriteString(r)
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *LeakError) Is(target error) bool {
	_, ok := target.(*LeakError)
	return ok
}

func describe(v any) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T(%v)", v, v)
}
