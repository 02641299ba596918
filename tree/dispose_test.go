package tree

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/multierr"

	dterrors "github.com/wippyai/disposetree/errors"
	"github.com/wippyai/disposetree/resource"
)

func TestDispose_Scenario(t *testing.T) {
	tr := New()
	rec := &recorder{}
	r := newRes(rec, "R")
	a := newRes(rec, "A")
	b := newRes(rec, "B")
	c := newRes(rec, "C")

	tr.Register(nil, r)
	tr.Register(r, a)
	tr.Register(r, b)
	tr.Register(a, c)

	if err := tr.Dispose(r); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	// B was registered after A, so it goes first.
	want := []string{"B", "C", "A", "R"}
	if got := executed(rec.list()); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for _, obj := range []*res{r, a, b, c} {
		if tr.IsRegistered(obj) {
			t.Errorf("%s still registered", obj.name)
		}
	}
	if tr.Len() != 0 {
		t.Fatalf("expected empty tree, got %d", tr.Len())
	}
}

func TestDispose_BeforeIsPreOrder(t *testing.T) {
	tr := New()
	rec := &recorder{}
	r := newRes(rec, "R")
	a := newRes(rec, "A")
	b := newRes(rec, "B")

	tr.Register(r, a)
	tr.Register(a, b)
	tr.Dispose(r)

	want := []string{"before:R", "before:A", "before:B", "B", "A", "R"}
	if got := rec.list(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDispose_ReverseSiblingOrder(t *testing.T) {
	tr := New()
	rec := &recorder{}
	parent := newRes(rec, "parent")

	var want []string
	for i := 0; i < 10; i++ {
		tr.Register(parent, newRes(rec, fmt.Sprintf("c%d", i)))
	}
	for i := 9; i >= 0; i-- {
		want = append(want, fmt.Sprintf("c%d", i))
	}
	want = append(want, "parent")

	tr.Dispose(parent)
	if got := executed(rec.list()); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDispose_Subtree(t *testing.T) {
	tr := New()
	rec := &recorder{}
	r := newRes(rec, "R")
	a := newRes(rec, "A")
	b := newRes(rec, "B")
	c := newRes(rec, "C")

	tr.Register(r, a)
	tr.Register(r, b)
	tr.Register(a, c)

	tr.Dispose(a)

	if got := executed(rec.list()); !slices.Equal(got, []string{"C", "A"}) {
		t.Fatalf("unexpected order %v", got)
	}
	kids := tr.Children(r)
	if len(kids) != 1 || kids[0] != b {
		t.Fatalf("A must be gone from R's children, got %v", kids)
	}
	if !tr.IsRegistered(r) || !tr.IsRegistered(b) {
		t.Fatal("R and B must stay registered")
	}
}

func TestDispose_Idempotent(t *testing.T) {
	tr := New()
	obj := newRes(nil, "obj")
	tr.Register(nil, obj)

	if err := tr.Dispose(obj); err != nil {
		t.Fatalf("first Dispose: %v", err)
	}
	if err := tr.Dispose(obj); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}
	if obj.disposed != 1 {
		t.Fatalf("expected one callback, got %d", obj.disposed)
	}
}

func TestDispose_Unregistered(t *testing.T) {
	tr := New()
	obj := newRes(nil, "obj")

	if err := tr.Dispose(obj); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if obj.disposed != 0 {
		t.Fatal("unregistered objects are not touched")
	}
}

func TestDispose_FailureDoesNotStopSiblings(t *testing.T) {
	logger, logs := observedLogger()
	tr := New(WithLogger(logger))
	rec := &recorder{}
	parent := newRes(rec, "parent")
	x := newRes(rec, "x")
	y := newRes(rec, "y")
	z := newRes(rec, "z")
	y.err = errors.New("y failed")

	tr.Register(parent, x)
	tr.Register(parent, y)
	tr.Register(parent, z)

	if err := tr.Dispose(parent); err != nil {
		t.Fatalf("generic failures must only be logged, got %v", err)
	}

	if got := executed(rec.list()); !slices.Equal(got, []string{"z", "y", "x", "parent"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if tr.Len() != 0 {
		t.Fatalf("structure must be cleaned despite failure, %d left", tr.Len())
	}
	if n := logs.FilterMessage("dispose failed").Len(); n != 1 {
		t.Fatalf("expected 1 logged failure, got %d", n)
	}
}

func TestDispose_PanicIsContained(t *testing.T) {
	logger, logs := observedLogger()
	tr := New(WithLogger(logger))
	rec := &recorder{}
	parent := newRes(rec, "parent")
	bad := newRes(rec, "bad")
	good := newRes(rec, "good")
	bad.panicVal = "boom"

	tr.Register(parent, good)
	tr.Register(parent, bad)

	if err := tr.Dispose(parent); err != nil {
		t.Fatalf("panic must be logged, got %v", err)
	}
	if got := executed(rec.list()); !slices.Equal(got, []string{"bad", "good", "parent"}) {
		t.Fatalf("unexpected order %v", got)
	}
	entries := logs.FilterMessage("dispose failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 logged failure, got %d", len(entries))
	}
}

func TestDispose_CancellationPreferred(t *testing.T) {
	logger, logs := observedLogger()
	tr := New(WithLogger(logger))
	rec := &recorder{}
	r := newRes(rec, "R")
	a := newRes(rec, "A")
	b := newRes(rec, "B")
	c := newRes(rec, "C")
	a.err = errors.New("generic A")
	b.err = dterrors.Cancelled(nil)
	c.err = errors.New("generic C")

	tr.Register(r, a)
	tr.Register(r, b)
	tr.Register(r, c)

	err := tr.Dispose(r)
	if !dterrors.IsCancellation(err) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if !errors.Is(err, dterrors.ErrCancelled) {
		t.Fatalf("expected ErrCancelled in chain, got %v", err)
	}
	if n := logs.FilterMessage("dispose failed").Len(); n != 2 {
		t.Fatalf("expected both generic failures logged, got %d", n)
	}
	if tr.Len() != 0 {
		t.Fatal("whole subtree must be gone")
	}
	if got := executed(rec.list()); !slices.Equal(got, []string{"C", "B", "A", "R"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestDispose_ContextCancellationFromCallback(t *testing.T) {
	tr := New()
	obj := newRes(nil, "obj")
	obj.err = fmt.Errorf("shutdown: %w", context.Canceled)
	tr.Register(nil, obj)

	err := tr.Dispose(obj)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDispose_CancellationInsideAggregate(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"multierr", multierr.Combine(errors.New("boom"), dterrors.Cancelled(nil))},
		{"join", errors.Join(errors.New("boom"), dterrors.Cancelled(nil))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			obj := newRes(nil, "obj")
			obj.err = tt.err
			tr.Register(nil, obj)

			err := tr.Dispose(obj)
			if !dterrors.IsCancellation(err) {
				t.Fatalf("expected cancellation to surface, got %v", err)
			}
		})
	}
}

func TestDispose_NestedStrictResultKeepsCancellation(t *testing.T) {
	inner := New(WithStrictErrors(true))
	cancelled := newRes(nil, "cancelled")
	cancelled.err = dterrors.Cancelled(nil)
	failing := newRes(nil, "failing")
	failing.err = errors.New("boom")
	group := newRes(nil, "group")
	inner.Register(group, cancelled)
	inner.Register(group, failing)

	outer := New()
	owner := newRes(nil, "owner")
	owner.before = func() { owner.err = inner.Dispose(group) }
	outer.Register(nil, owner)

	err := outer.Dispose(owner)
	if !dterrors.IsCancellation(err) {
		t.Fatalf("expected cancellation from nested strict dispose, got %v", err)
	}
}

func TestDispose_PanicWithCancellation(t *testing.T) {
	tr := New()
	obj := newRes(nil, "obj")
	obj.panicVal = dterrors.Cancelled(nil)
	tr.Register(nil, obj)

	if err := tr.Dispose(obj); !dterrors.IsCancellation(err) {
		t.Fatalf("expected cancellation from panic, got %v", err)
	}
}

func TestDispose_StrictErrors(t *testing.T) {
	tr := New(WithStrictErrors(true))
	parent := newRes(nil, "parent")
	a := newRes(nil, "a")
	b := newRes(nil, "b")
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	a.err = errA
	b.err = errB

	tr.Register(parent, a)
	tr.Register(parent, b)

	err := tr.Dispose(parent)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both failures, got %v", err)
	}
	if n := len(dterrors.Errors(err)); n != 2 {
		t.Fatalf("expected 2 combined errors, got %d", n)
	}
}

func TestDispose_BeforeFailureLoggedOnly(t *testing.T) {
	logger, logs := observedLogger()
	tr := New(WithLogger(logger))
	rec := &recorder{}
	obj := newRes(rec, "obj")
	child := newRes(rec, "child")
	obj.before = func() { panic(dterrors.Cancelled(nil)) }

	tr.Register(obj, child)

	if err := tr.Dispose(obj); err != nil {
		t.Fatalf("before-phase failures are never returned, got %v", err)
	}
	if got := executed(rec.list()); !slices.Equal(got, []string{"child", "obj"}) {
		t.Fatalf("teardown must continue, got %v", got)
	}
	if n := logs.FilterMessage("before-dispose hook failed").Len(); n != 1 {
		t.Fatalf("expected before failure logged, got %d", n)
	}
}

type preparer struct {
	name string
	err  error
	done bool
}

func (p *preparer) String() string        { return p.name }
func (p *preparer) PrepareDispose() error { return p.err }
func (p *preparer) BeforeDispose()        { panic("PrepareDispose takes precedence") }

func (p *preparer) Dispose() error {
	p.done = true
	return nil
}

func TestDispose_PrepareFailureLoggedOnly(t *testing.T) {
	logger, logs := observedLogger()
	tr := New(WithLogger(logger))
	obj := &preparer{name: "obj", err: errors.New("flush queue")}
	child := &preparer{name: "child"}
	tr.Register(obj, child)

	if err := tr.Dispose(obj); err != nil {
		t.Fatalf("before-phase failures are never returned, got %v", err)
	}
	if !obj.done || !child.done {
		t.Fatal("teardown must continue after a failed prepare")
	}
	if n := logs.FilterMessage("before-dispose hook failed").Len(); n != 1 {
		t.Fatalf("expected one before failure logged, got %d", n)
	}
	if err := (DefaultAction{}).Before(obj); err != obj.err {
		t.Fatalf("DefaultAction must return the hook error, got %v", err)
	}
}

func TestDispose_RecursionGuard(t *testing.T) {
	tr := New()
	rec := &recorder{}
	parent := newRes(rec, "parent")
	child := newRes(rec, "child")

	// the child tries to dispose its parent and itself while already in flight
	child.before = func() {
		if err := tr.Dispose(parent); err != nil {
			t.Errorf("re-entrant Dispose(parent): %v", err)
		}
		if err := tr.Dispose(child); err != nil {
			t.Errorf("re-entrant Dispose(child): %v", err)
		}
		if !tr.IsDisposing(parent) || !tr.IsDisposing(child) {
			t.Error("both must report disposing")
		}
	}
	tr.Register(parent, child)

	tr.Dispose(parent)

	if got := executed(rec.list()); !slices.Equal(got, []string{"child", "parent"}) {
		t.Fatalf("expected single pass, got %v", got)
	}
	if parent.disposed != 1 || child.disposed != 1 {
		t.Fatalf("duplicate callbacks: parent=%d child=%d", parent.disposed, child.disposed)
	}
}

func TestDispose_CallbackMayDisposeUnrelated(t *testing.T) {
	tr := New()
	rec := &recorder{}
	a := newRes(rec, "a")
	other := newRes(rec, "other")
	tr.Register(nil, a)
	tr.Register(nil, other)

	a.before = func() {
		if err := tr.Dispose(other); err != nil {
			t.Errorf("nested Dispose: %v", err)
		}
	}

	tr.Dispose(a)
	if got := executed(rec.list()); !slices.Equal(got, []string{"other", "a"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if tr.Len() != 0 {
		t.Fatal("both must be gone")
	}
}

func TestDispose_SiblingDisposedByEarlierSibling(t *testing.T) {
	tr := New()
	rec := &recorder{}
	parent := newRes(rec, "parent")
	first := newRes(rec, "first")
	second := newRes(rec, "second")

	// second goes first and takes first down with it
	second.before = func() { tr.Dispose(first) }
	tr.Register(parent, first)
	tr.Register(parent, second)

	tr.Dispose(parent)
	if first.disposed != 1 {
		t.Fatalf("first disposed %d times", first.disposed)
	}
	if got := executed(rec.list()); !slices.Equal(got, []string{"first", "second", "parent"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestDispose_LateChildDuringBeforeIsOrphaned(t *testing.T) {
	logger, logs := observedLogger()
	tr := New(WithLogger(logger))
	rec := &recorder{}
	r := newRes(rec, "R")
	a := newRes(rec, "A")
	d := newRes(rec, "D")

	a.before = func() {
		if err := tr.Register(a, d); err != nil {
			t.Errorf("late Register: %v", err)
		}
	}
	tr.Register(r, a)

	var orphaned []resource.Event
	tr.Subscribe(resource.ObserverFunc(func(e resource.Event) {
		if e.Type == resource.EventOrphaned {
			orphaned = append(orphaned, e)
		}
	}))

	if err := tr.Dispose(r); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	if d.disposed != 0 {
		t.Fatal("D was registered after the snapshot and must not be disposed")
	}
	if !tr.IsRegistered(d) {
		t.Fatal("D must remain registered")
	}
	if _, ok := tr.Parent(d); ok {
		t.Fatal("D must be parentless")
	}
	roots := tr.Roots()
	if len(roots) != 1 || roots[0] != d {
		t.Fatalf("D must be the only root left, got %v", roots)
	}
	if len(orphaned) != 1 || orphaned[0].Value != d || orphaned[0].Parent != a {
		t.Fatalf("expected one orphan event for D, got %+v", orphaned)
	}
	if logs.FilterMessage("registered child under an object that is being disposed").Len() != 1 {
		t.Fatal("late registration must be logged")
	}
	if got := executed(rec.list()); !slices.Equal(got, []string{"A", "R"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestDispose_LateChildDuringSiblingTeardown(t *testing.T) {
	tr := New()
	rec := &recorder{}
	parent := newRes(rec, "parent")
	c1 := newRes(rec, "c1")
	c2 := newRes(rec, "c2")
	late := newRes(rec, "late")

	// c2 runs first and hangs a new child on parent after the snapshot
	c2.before = func() { tr.Register(parent, late) }
	tr.Register(parent, c1)
	tr.Register(parent, c2)

	tr.Dispose(parent)

	if late.disposed != 0 || !tr.IsRegistered(late) {
		t.Fatal("late child must survive as an orphan")
	}
	if _, ok := tr.Parent(late); ok {
		t.Fatal("late child must be parentless")
	}
}

func TestDisposeChildren(t *testing.T) {
	tr := New()
	rec := &recorder{}
	parent := newRes(rec, "parent")
	a := newRes(rec, "a")
	b := newRes(rec, "b")
	tr.Register(parent, a)
	tr.Register(parent, b)

	if err := tr.DisposeChildren(parent); err != nil {
		t.Fatalf("DisposeChildren: %v", err)
	}
	if got := executed(rec.list()); !slices.Equal(got, []string{"b", "a"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if !tr.IsRegistered(parent) {
		t.Fatal("parent must stay registered")
	}
	if len(tr.Children(parent)) != 0 {
		t.Fatal("parent must have no children")
	}
}

type ctxCloser struct {
	gotCtx context.Context
}

func (c *ctxCloser) Close(ctx context.Context) error {
	c.gotCtx = ctx
	return nil
}

type plainCloser struct{ closed bool }

func (p *plainCloser) Close() error {
	p.closed = true
	return nil
}

type voidDisposer struct{ disposed bool }

func (v *voidDisposer) Dispose() { v.disposed = true }

type ctxKey struct{}

func TestDefaultAction_Dispatch(t *testing.T) {
	tr := New()
	root := newRes(nil, "root")
	cc := &ctxCloser{}
	pc := &plainCloser{}
	vd := &voidDisposer{}
	marker := key{id: 1}

	tr.Register(root, cc)
	tr.Register(root, pc)
	tr.Register(root, vd)
	tr.Register(root, marker)

	ctx := context.WithValue(context.Background(), ctxKey{}, "v")
	if err := tr.DisposeContext(ctx, root); err != nil {
		t.Fatalf("DisposeContext: %v", err)
	}

	if cc.gotCtx == nil || cc.gotCtx.Value(ctxKey{}) != "v" {
		t.Fatal("ContextCloser must receive the caller's context")
	}
	if !pc.closed {
		t.Fatal("io.Closer not closed")
	}
	if !vd.disposed {
		t.Fatal("Dispose() not called")
	}
	if root.disposed != 1 {
		t.Fatal("root not disposed")
	}
}

func TestDisposeWith_CustomAction(t *testing.T) {
	tr := New()
	rec := &recorder{}
	root := newRes(rec, "root")
	child := newRes(rec, "child")
	tr.Register(root, child)

	var seen []string
	action := ActionFuncs{
		BeforeFunc: func(obj any) error {
			seen = append(seen, "before:"+obj.(*res).name)
			return errors.New("ignored")
		},
		ExecuteFunc: func(ctx context.Context, obj any) error {
			seen = append(seen, obj.(*res).name)
			return nil
		},
	}

	if err := tr.DisposeWith(context.Background(), root, action); err != nil {
		t.Fatalf("DisposeWith: %v", err)
	}
	want := []string{"before:root", "before:child", "child", "root"}
	if !slices.Equal(seen, want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	if len(rec.list()) != 0 {
		t.Fatal("default action must not run")
	}
}

func TestWithAction(t *testing.T) {
	var count int
	tr := New(WithAction(ActionFuncs{ExecuteFunc: func(context.Context, any) error {
		count++
		return nil
	}}))
	tr.Register(nil, key{id: 1})
	tr.Register(key{id: 1}, key{id: 2})
	tr.Dispose(key{id: 1})

	if count != 2 {
		t.Fatalf("expected 2 executions, got %d", count)
	}
}

func TestDispose_Events(t *testing.T) {
	var events []resource.Event
	tr := New(WithObserver(resource.ObserverFunc(func(e resource.Event) {
		if e.Type != resource.EventRegistered {
			events = append(events, e)
		}
	})))
	parent := newRes(nil, "parent")
	child := newRes(nil, "child")
	child.err = errors.New("bad")
	tr.Register(parent, child)

	tr.Dispose(parent)

	want := []resource.EventType{resource.EventExecuted, resource.EventRemoved, resource.EventExecuted, resource.EventRemoved}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, w := range want {
		if events[i].Type != w {
			t.Errorf("event %d: expected %s, got %s", i, w, events[i].Type)
		}
	}
	if events[0].Value != child || events[0].Err == nil {
		t.Fatal("child executed event must carry its failure")
	}
	if events[1].Parent != parent {
		t.Fatal("child removed event must name the former parent")
	}
	if events[3].Parent != nil {
		t.Fatal("root removed event has no parent")
	}
}

func TestDispose_PanickingObserver(t *testing.T) {
	logger, logs := observedLogger()
	tr := New(WithLogger(logger))
	r := newRes(nil, "r")
	c := newRes(nil, "c")
	tr.Register(r, c)

	tr.Subscribe(resource.ObserverFunc(func(e resource.Event) {
		if e.Type == resource.EventExecuted && e.Value == c {
			panic("observer failed")
		}
	}))

	if err := tr.Dispose(r); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if tr.IsDisposing(r) || tr.IsDisposing(c) {
		t.Fatal("no node may stay in flight")
	}
	if tr.IsRegistered(r) || tr.IsRegistered(c) || tr.Len() != 0 {
		t.Fatalf("expected empty tree, got %d", tr.Len())
	}
	if r.disposed != 1 || c.disposed != 1 {
		t.Fatalf("each node disposed once: r=%d c=%d", r.disposed, c.disposed)
	}
	if logs.FilterMessage("observer panicked").Len() != 1 {
		t.Fatal("observer panic must be logged")
	}
}

func TestDispose_Span(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tr := New(WithTracer(tp.Tracer("test")))

	root := newRes(nil, "root")
	child := newRes(nil, "child")
	child.err = dterrors.Cancelled(nil)
	tr.Register(root, child)

	tr.Dispose(root)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "disposetree.dispose" {
		t.Fatalf("unexpected span name %q", span.Name())
	}
	if len(span.Events()) < 2 {
		t.Fatalf("expected executed events, got %d", len(span.Events()))
	}
	if span.Status().Code != codes.Error {
		t.Fatal("cancellation must mark the span as failed")
	}
}

func TestDispose_ConcurrentRegistrationAndDisposal(t *testing.T) {
	tr := New()
	root := newRes(nil, "root")
	tr.Register(nil, root)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				parent := &res{name: fmt.Sprintf("p%d-%d", g, i)}
				child := &res{name: fmt.Sprintf("c%d-%d", g, i)}
				if err := tr.Register(root, parent); err != nil {
					t.Errorf("Register: %v", err)
					return
				}
				tr.Register(parent, child)
				tr.Dispose(parent)
				if tr.IsRegistered(child) {
					t.Errorf("%s survived its parent", child.name)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if n := len(tr.Children(root)); n != 0 {
		t.Fatalf("expected no children left, got %d", n)
	}
	if err := tr.Dispose(root); err != nil {
		t.Fatalf("Dispose(root): %v", err)
	}
	if tr.Len() != 0 {
		t.Fatalf("expected empty tree, got %d", tr.Len())
	}
}
