package disposetree

import "context"

// Disposable is implemented by objects with explicit teardown logic.
type Disposable interface {
	Dispose() error
}

// ContextCloser is implemented by resources whose teardown takes a context,
// such as wazero runtimes and modules.
type ContextCloser interface {
	Close(ctx context.Context) error
}

// BeforeDisposer is implemented by objects that want to be notified before
// any of their children are disposed. The hook cannot fail; implement
// PrepareDisposer to report an error instead of panicking.
type BeforeDisposer interface {
	BeforeDispose()
}

// PrepareDisposer is the fallible form of BeforeDisposer. A returned error
// is logged and never stops the teardown of the subtree.
type PrepareDisposer interface {
	PrepareDispose() error
}

// Func adapts a teardown function to the Disposable interface.
// Func values are not comparable; register a pointer to one.
type Func func() error

func (f Func) Dispose() error {
	return f()
}

// Named is a no-op Disposable used as a grouping parent.
type Named struct {
	name string
}

// NewDisposable returns a fresh grouping parent. Each call returns a
// distinct identity even for equal names.
func NewDisposable(name string) *Named {
	return &Named{name: name}
}

func (n *Named) Dispose() error {
	return nil
}

func (n *Named) String() string {
	return n.name
}
