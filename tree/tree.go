package tree

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/disposetree/errors"
	"github.com/wippyai/disposetree/resource"
)

// TracerName is the instrumentation name of dispose spans.
const TracerName = "github.com/wippyai/disposetree/tree"

// Tree is a disposal tree. The zero value is not usable; call New.
type Tree struct {
	mu         sync.Mutex
	arena      *resource.Arena
	nodes      map[any]resource.Handle
	roots      map[resource.Handle]struct{}
	executing  map[resource.Handle]struct{}
	keys       map[any]resource.Handle
	keyOf      map[resource.Handle]any
	disposed   *lru.Cache[any, struct{}]
	observers  resource.Observers
	stamp      atomic.Uint64
	logger     *zap.Logger
	tracer     trace.Tracer
	action     Action
	memoSize   int
	traceAlloc bool
	strict     bool
}

// New creates an empty tree.
func New(opts ...Option) *Tree {
	t := &Tree{
		arena:     resource.NewArena(),
		nodes:     make(map[any]resource.Handle),
		roots:     make(map[resource.Handle]struct{}),
		executing: make(map[resource.Handle]struct{}),
		keys:      make(map[any]resource.Handle),
		keyOf:     make(map[resource.Handle]any),
		logger:    Logger(),
		tracer:    otel.Tracer(TracerName),
		action:    DefaultAction{},
		memoSize:  DefaultDisposedMemo,
	}

	for _, opt := range opts {
		opt(t)
	}

	t.observers.OnPanic(func(e resource.Event, recovered any) {
		t.logger.Error("observer panicked",
			zap.Stringer("event", e.Type),
			zap.Stringer("object", describer{e.Value}),
			zap.Any("recovered", recovered))
	})

	if t.memoSize > 0 {
		// only fails for non-positive sizes
		t.disposed, _ = lru.New[any, struct{}](t.memoSize)
	}

	return t
}

// Equaler lets FindRegistered match children by value instead of identity.
type Equaler interface {
	Equal(other any) bool
}

func checkKey(obj any) error {
	if obj == nil {
		return errors.InvalidInput(errors.PhaseRegister, "object must not be nil")
	}
	if !reflect.TypeOf(obj).Comparable() {
		return errors.New(errors.PhaseRegister, errors.KindInvalidInput).
			Detail("object of type %T cannot be used as an identity", obj).
			Build()
	}
	return nil
}

func usableKey(obj any) bool {
	return obj != nil && reflect.TypeOf(obj).Comparable()
}

// Register makes child owned by parent. A nil parent registers child as a root.
//
// An unknown parent is registered as a root first. An already registered
// child is moved under the new parent; a move that would close a loop fails.
func (t *Tree) Register(parent, child any) error {
	if err := checkKey(child); err != nil {
		return err
	}
	if parent != nil {
		if err := checkKey(parent); err != nil {
			return err
		}
		if parent == child {
			return errors.SelfRegistration(child)
		}
	}

	var stack []byte
	if t.traceAlloc {
		stack = captureTrace()
	}

	var (
		events    []resource.Event
		parentH   resource.Handle
		busyOwner bool
	)

	t.mu.Lock()
	if parent != nil {
		if t.isDisposedLocked(parent) {
			t.mu.Unlock()
			return errors.AlreadyDisposed(parent)
		}
		ph, ok := t.nodes[parent]
		if !ok {
			ph = t.createLocked(parent, stack)
			t.roots[ph] = struct{}{}
			events = append(events, resource.Event{Type: resource.EventRegistered, Handle: ph, Value: parent})
		}
		parentH = ph
		_, busyOwner = t.executing[ph]
	}

	ch, exists := t.nodes[child]
	if exists {
		for cur := parentH; cur != 0; cur = t.arena.Parent(cur) {
			if cur == ch {
				t.mu.Unlock()
				return errors.Cycle(parent, child)
			}
		}
		old := t.arena.Parent(ch)
		if old == parentH && (old != 0 || t.isRootLocked(ch)) {
			t.mu.Unlock()
			t.notify(events)
			return nil
		}
		if old != 0 {
			t.arena.RemoveChild(old, ch)
		} else {
			delete(t.roots, ch)
		}
	} else {
		if t.disposed != nil {
			t.disposed.Remove(child)
		}
		ch = t.createLocked(child, stack)
	}

	if parentH != 0 {
		t.arena.AddChild(parentH, ch)
	} else {
		t.roots[ch] = struct{}{}
	}
	events = append(events, resource.Event{Type: resource.EventRegistered, Handle: ch, Value: child, Parent: parent})
	t.mu.Unlock()

	if busyOwner {
		t.logger.Warn("registered child under an object that is being disposed",
			zap.Stringer("parent", describer{parent}),
			zap.Stringer("child", describer{child}))
	}
	t.notify(events)
	return nil
}

// RegisterKey registers child under parent like Register and makes it
// reachable through Get(key) until it is disposed. A key names one live
// object at a time; rebinding a child drops its previous key.
func (t *Tree) RegisterKey(parent, child, key any) error {
	if err := checkKey(key); err != nil {
		return err
	}

	t.mu.Lock()
	err := t.keyConflictLocked(child, key)
	t.mu.Unlock()
	if err != nil {
		return err
	}

	if err := t.Register(parent, child); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.keyConflictLocked(child, key); err != nil {
		return err
	}
	ch, ok := t.nodes[child]
	if !ok {
		return errors.New(errors.PhaseRegister, errors.KindAlreadyDisposed).
			Value(child).
			Detail("object was disposed before its key was bound").
			Build()
	}
	if old, ok := t.keyOf[ch]; ok {
		delete(t.keys, old)
	}
	t.keys[key] = ch
	t.keyOf[ch] = key
	return nil
}

func (t *Tree) keyConflictLocked(child, key any) error {
	h, ok := t.keys[key]
	if !ok {
		return nil
	}
	if owner, live := t.arena.Get(h); live && owner != child {
		return errors.New(errors.PhaseRegister, errors.KindInvalidInput).
			Value(child).
			Detail("key %v already names %s", key, describe(owner)).
			Build()
	}
	return nil
}

// Get returns the live object registered under key.
func (t *Tree) Get(key any) (any, bool) {
	if !usableKey(key) {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.keys[key]
	if !ok {
		return nil, false
	}
	return t.arena.Get(h)
}

func (t *Tree) createLocked(obj any, stack []byte) resource.Handle {
	h := t.arena.Create(obj, 0, t.stamp.Add(1), stack)
	t.nodes[obj] = h
	return h
}

func (t *Tree) isRootLocked(h resource.Handle) bool {
	_, ok := t.roots[h]
	return ok
}

func (t *Tree) isDisposedLocked(obj any) bool {
	if _, live := t.nodes[obj]; live {
		return false
	}
	return t.disposed != nil && t.disposed.Contains(obj)
}

// IsRegistered reports whether obj is currently in the tree.
func (t *Tree) IsRegistered(obj any) bool {
	if !usableKey(obj) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.nodes[obj]
	return ok
}

// IsDisposing reports whether obj is in the middle of being disposed.
func (t *Tree) IsDisposing(obj any) bool {
	if !usableKey(obj) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.nodes[obj]
	if !ok {
		return false
	}
	_, busy := t.executing[h]
	return busy
}

// IsDisposed reports whether obj was disposed recently enough to still be
// remembered and has not been registered again since.
func (t *Tree) IsDisposed(obj any) bool {
	if !usableKey(obj) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isDisposedLocked(obj)
}

// Parent returns the owner of obj. Roots and unknown objects report false.
func (t *Tree) Parent(obj any) (any, bool) {
	if !usableKey(obj) {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.nodes[obj]
	if !ok {
		return nil, false
	}
	return t.arena.Get(t.arena.Parent(h))
}

// Children returns the direct children of obj in registration order.
func (t *Tree) Children(obj any) []any {
	if !usableKey(obj) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.nodes[obj]
	if !ok {
		return nil
	}
	return t.valuesLocked(t.arena.Children(h))
}

// Roots returns every parentless object in registration order.
func (t *Tree) Roots() []any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.valuesLocked(t.sortedRootsLocked())
}

// Len returns the number of registered objects.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arena.Len()
}

// FindRegistered returns the direct child of parent equal to candidate.
// Children implementing Equaler decide equality themselves.
func (t *Tree) FindRegistered(parent, candidate any) (any, bool) {
	if !usableKey(parent) {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ph, ok := t.nodes[parent]
	if !ok {
		return nil, false
	}
	h, ok := t.arena.FindChildEqualTo(ph, candidate, equal)
	if !ok {
		return nil, false
	}
	return t.arena.Get(h)
}

func equal(existing, candidate any) bool {
	if e, ok := existing.(Equaler); ok {
		return e.Equal(candidate)
	}
	return existing == candidate
}

// AllocationTrace returns the stack captured when obj was registered.
// It is nil unless the tree was created WithTraceAllocation(true).
func (t *Tree) AllocationTrace(obj any) []byte {
	if !usableKey(obj) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.nodes[obj]
	if !ok {
		return nil
	}
	return t.arena.Trace(h)
}

// Subscribe adds an observer for lifecycle events and returns a function
// removing it. Observers run on the goroutine that caused the event, with no
// tree lock held.
func (t *Tree) Subscribe(o resource.Observer) (unsubscribe func()) {
	return t.observers.Subscribe(o)
}

// NodeInfo describes one node in a Snapshot.
type NodeInfo struct {
	Value     any
	Parent    any
	Stamp     uint64
	Depth     int
	Children  int
	Disposing bool
}

// Snapshot returns the forest depth-first, roots and children in
// registration order.
func (t *Tree) Snapshot() []NodeInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []NodeInfo
	var walk func(h resource.Handle, parent any, depth int)
	walk = func(h resource.Handle, parent any, depth int) {
		v, ok := t.arena.Get(h)
		if !ok {
			return
		}
		children := t.arena.Children(h)
		_, busy := t.executing[h]
		out = append(out, NodeInfo{
			Value:     v,
			Parent:    parent,
			Stamp:     t.arena.Stamp(h),
			Depth:     depth,
			Children:  len(children),
			Disposing: busy,
		})
		for _, ch := range children {
			walk(ch, v, depth+1)
		}
	}
	for _, r := range t.sortedRootsLocked() {
		walk(r, nil, 0)
	}
	return out
}

func (t *Tree) sortedRootsLocked() []resource.Handle {
	roots := make([]resource.Handle, 0, len(t.roots))
	for h := range t.roots {
		roots = append(roots, h)
	}
	sort.Slice(roots, func(i, j int) bool {
		return t.arena.Stamp(roots[i]) < t.arena.Stamp(roots[j])
	})
	return roots
}

func (t *Tree) valuesLocked(hs []resource.Handle) []any {
	if len(hs) == 0 {
		return nil
	}
	out := make([]any, 0, len(hs))
	for _, h := range hs {
		if v, ok := t.arena.Get(h); ok {
			out = append(out, v)
		}
	}
	return out
}

func (t *Tree) notify(events []resource.Event) {
	for _, e := range events {
		t.observers.Notify(e)
	}
}
