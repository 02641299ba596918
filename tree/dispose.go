package tree

import (
	"context"
	"fmt"
	"reflect"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/disposetree/errors"
	"github.com/wippyai/disposetree/resource"
)

// pass carries the state of one top-level disposal request.
type pass struct {
	ctx      context.Context
	action   Action
	span     trace.Span
	errs     []error
	executed int
}

// Dispose disposes obj and everything it owns with the tree's action.
func (t *Tree) Dispose(obj any) error {
	return t.DisposeWith(context.Background(), obj, nil)
}

// DisposeContext is Dispose with a context handed to ContextCloser objects.
// The context is not consulted for cancellation: a started pass always runs
// to the end.
func (t *Tree) DisposeContext(ctx context.Context, obj any) error {
	return t.DisposeWith(ctx, obj, nil)
}

// DisposeWith disposes obj's subtree using action, or the tree's action when
// action is nil.
//
// The returned error is the first cancellation-flavored failure of the
// subtree, if any. Other failures are logged, or returned combined when the
// tree was built WithStrictErrors(true).
func (t *Tree) DisposeWith(ctx context.Context, obj any, action Action) error {
	h, ok := t.lookupForDispose(obj)
	if !ok {
		return nil
	}

	p := t.newPass(ctx, action, obj)
	defer p.span.End()

	t.execute(p, h)
	return t.report(p)
}

// DisposeChildren disposes every child of obj, last registered first, and
// leaves obj itself registered.
func (t *Tree) DisposeChildren(obj any) error {
	h, ok := t.lookupForDispose(obj)
	if !ok {
		return nil
	}

	t.mu.Lock()
	children := t.arena.Children(h)
	t.mu.Unlock()

	p := t.newPass(context.Background(), nil, obj)
	defer p.span.End()

	for i := len(children) - 1; i >= 0; i-- {
		t.execute(p, children[i])
	}
	return t.report(p)
}

func (t *Tree) lookupForDispose(obj any) (resource.Handle, bool) {
	if !usableKey(obj) {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.nodes[obj]
	if !ok {
		return 0, false
	}
	if _, busy := t.executing[h]; busy {
		return 0, false
	}
	return h, true
}

func (t *Tree) newPass(ctx context.Context, action Action, obj any) *pass {
	if ctx == nil {
		ctx = context.Background()
	}
	if action == nil {
		action = t.action
	}
	ctx, span := t.tracer.Start(ctx, "disposetree.dispose",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("disposetree.object", describe(obj)),
		),
	)
	return &pass{ctx: ctx, action: action, span: span}
}

// execute tears down the subtree rooted at h. Recursion is bounded by the
// tree depth; the executing set makes re-entry on the same node a no-op.
func (t *Tree) execute(p *pass, h resource.Handle) {
	t.mu.Lock()
	obj, ok := t.arena.Get(h)
	if !ok {
		t.mu.Unlock()
		return
	}
	if _, busy := t.executing[h]; busy {
		t.mu.Unlock()
		return
	}
	t.executing[h] = struct{}{}
	children := t.arena.Children(h)
	t.mu.Unlock()

	if err := t.invoke(errors.PhaseBefore, obj, func() error {
		return p.action.Before(obj)
	}); err != nil {
		t.logger.Warn("before-dispose hook failed",
			zap.Stringer("object", describer{obj}),
			zap.Error(err))
	}

	for i := len(children) - 1; i >= 0; i-- {
		t.execute(p, children[i])
	}

	t.mu.Lock()
	orphans := t.arena.DetachChildren(h)
	orphanEvents := make([]resource.Event, 0, len(orphans))
	for _, o := range orphans {
		t.roots[o] = struct{}{}
		v, _ := t.arena.Get(o)
		orphanEvents = append(orphanEvents, resource.Event{Type: resource.EventOrphaned, Handle: o, Value: v, Parent: obj})
	}
	t.mu.Unlock()

	for _, e := range orphanEvents {
		t.logger.Warn("child registered during disposal was detached",
			zap.Stringer("parent", describer{obj}),
			zap.Stringer("child", describer{e.Value}))
	}
	t.notify(orphanEvents)

	err := t.invoke(errors.PhaseExecute, obj, func() error {
		return p.action.Execute(p.ctx, obj)
	})
	if err != nil {
		p.errs = append(p.errs, err)
	}
	p.executed++
	p.span.AddEvent("executed", trace.WithAttributes(
		attribute.String("disposetree.object", describe(obj)),
		attribute.Bool("disposetree.failed", err != nil),
	))

	t.mu.Lock()
	parentH := t.arena.Parent(h)
	parent, _ := t.arena.Get(parentH)
	if parentH != 0 {
		t.arena.RemoveChild(parentH, h)
	} else {
		delete(t.roots, h)
	}
	delete(t.nodes, obj)
	delete(t.executing, h)
	if k, ok := t.keyOf[h]; ok {
		delete(t.keys, k)
		delete(t.keyOf, h)
	}
	t.arena.Drop(h)
	if t.disposed != nil {
		t.disposed.Add(obj, struct{}{})
	}
	t.mu.Unlock()

	// observers see the node only after it left the registry
	t.observers.Notify(resource.Event{Type: resource.EventExecuted, Handle: h, Value: obj, Err: err})
	t.observers.Notify(resource.Event{Type: resource.EventRemoved, Handle: h, Value: obj, Parent: parent})
}

// invoke runs a callback, turning panics into errors.
func (t *Tree) invoke(phase errors.Phase, obj any, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Panic(phase, obj, r)
		}
	}()
	if cerr := fn(); cerr != nil {
		return errors.Callback(phase, obj, cerr)
	}
	return nil
}

func (t *Tree) report(p *pass) error {
	p.span.SetAttributes(
		attribute.Int("disposetree.executed", p.executed),
		attribute.Int("disposetree.errors", len(p.errs)),
	)
	if len(p.errs) == 0 {
		return nil
	}

	if t.strict {
		err := errors.Combine(p.errs...)
		p.span.RecordError(err)
		p.span.SetStatus(codes.Error, err.Error())
		return err
	}

	var cancel error
	for _, err := range p.errs {
		if cancel == nil && errors.IsCancellation(err) {
			cancel = err
			continue
		}
		t.logger.Warn("dispose failed", zap.Error(err))
	}

	if cancel != nil {
		p.span.RecordError(cancel)
		p.span.SetStatus(codes.Error, cancel.Error())
	}
	return cancel
}

type describer struct {
	v any
}

func (d describer) String() string {
	return describe(d.v)
}

func describe(v any) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	if v != nil && reflect.TypeOf(v).Kind() == reflect.Pointer {
		return fmt.Sprintf("%T(%p)", v, v)
	}
	return fmt.Sprintf("%T(%v)", v, v)
}
