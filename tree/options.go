package tree

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/disposetree/resource"
)

// DefaultDisposedMemo is the number of disposed identities remembered by
// default.
const DefaultDisposedMemo = 1024

// Option configures a Tree.
type Option func(*Tree)

// WithLogger sets the logger used for callback failures and leaks.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tree) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithTraceAllocation captures a stack trace at every registration.
// Traces show up in Leaks and AssertEmpty; capturing them is expensive.
func WithTraceAllocation(enabled bool) Option {
	return func(t *Tree) {
		t.traceAlloc = enabled
	}
}

// WithDisposedMemo sets how many disposed identities are remembered so that
// registering under them is rejected. Zero disables the memo.
func WithDisposedMemo(size int) Option {
	return func(t *Tree) {
		t.memoSize = size
	}
}

// WithObserver subscribes o to lifecycle events.
func WithObserver(o resource.Observer) Option {
	return func(t *Tree) {
		t.observers.Subscribe(o)
	}
}

// WithTracer sets the tracer used for dispose spans.
func WithTracer(tr trace.Tracer) Option {
	return func(t *Tree) {
		if tr != nil {
			t.tracer = tr
		}
	}
}

// WithStrictErrors makes Dispose return every collected failure combined,
// instead of logging non-cancellation failures and returning nil.
func WithStrictErrors(strict bool) Option {
	return func(t *Tree) {
		t.strict = strict
	}
}

// WithAction replaces DefaultAction for Dispose and DisposeContext.
func WithAction(a Action) Option {
	return func(t *Tree) {
		if a != nil {
			t.action = a
		}
	}
}
