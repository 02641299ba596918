package resource

// Arena is an in-memory slot store for disposal tree nodes.
type Arena struct {
	slots    []slot
	freeList []uint32
	live     int
}

type slot struct {
	value    any
	children []Handle
	trace    []byte
	stamp    uint64
	parent   Handle
	gen      uint32
	valid    bool
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		slots:    make([]slot, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// Create stores a value in a fresh slot and returns its handle.
// The parent link is recorded but the child is not appended to the
// parent's child list; use AddChild for that.
func (a *Arena) Create(value any, parent Handle, stamp uint64, trace []byte) Handle {
	s := slot{
		value:  value,
		parent: parent,
		stamp:  stamp,
		trace:  trace,
		valid:  true,
	}
	a.live++

	if len(a.freeList) > 0 {
		idx := a.freeList[len(a.freeList)-1]
		a.freeList = a.freeList[:len(a.freeList)-1]
		s.gen = a.slots[idx].gen + 1
		a.slots[idx] = s
		return makeHandle(idx, s.gen)
	}

	a.slots = append(a.slots, s)
	return makeHandle(uint32(len(a.slots)-1), 0)
}

func (a *Arena) lookup(h Handle) *slot {
	if h == 0 {
		return nil
	}
	idx := h.index()
	if int(idx) >= len(a.slots) {
		return nil
	}
	s := &a.slots[idx]
	if !s.valid || s.gen != h.generation() {
		return nil
	}
	return s
}

// Valid reports whether h refers to a live slot.
func (a *Arena) Valid(h Handle) bool {
	return a.lookup(h) != nil
}

// Get retrieves the value stored under a handle.
func (a *Arena) Get(h Handle) (any, bool) {
	s := a.lookup(h)
	if s == nil {
		return nil, false
	}
	return s.value, true
}

// Parent returns the parent handle, or 0 for roots and invalid handles.
func (a *Arena) Parent(h Handle) Handle {
	s := a.lookup(h)
	if s == nil {
		return 0
	}
	return s.parent
}

// Children returns a copy of the child list in registration order.
func (a *Arena) Children(h Handle) []Handle {
	s := a.lookup(h)
	if s == nil || len(s.children) == 0 {
		return nil
	}
	out := make([]Handle, len(s.children))
	copy(out, s.children)
	return out
}

// Stamp returns the creation stamp of a node.
func (a *Arena) Stamp(h Handle) uint64 {
	s := a.lookup(h)
	if s == nil {
		return 0
	}
	return s.stamp
}

// Trace returns the allocation trace captured for a node, if any.
func (a *Arena) Trace(h Handle) []byte {
	s := a.lookup(h)
	if s == nil {
		return nil
	}
	return s.trace
}

// AddChild appends child to parent's child list and points child at parent.
func (a *Arena) AddChild(parent, child Handle) bool {
	p := a.lookup(parent)
	c := a.lookup(child)
	if p == nil || c == nil {
		return false
	}
	p.children = append(p.children, child)
	c.parent = parent
	return true
}

// RemoveChild unlinks child from parent. The list is scanned from the end
// because teardown usually removes the most recently added child first.
func (a *Arena) RemoveChild(parent, child Handle) bool {
	p := a.lookup(parent)
	if p == nil {
		return false
	}
	for i := len(p.children) - 1; i >= 0; i-- {
		if p.children[i] == child {
			p.children = append(p.children[:i], p.children[i+1:]...)
			if c := a.lookup(child); c != nil && c.parent == parent {
				c.parent = 0
			}
			return true
		}
	}
	return false
}

// FindChildEqualTo returns the first direct child whose value matches
// candidate according to eq.
func (a *Arena) FindChildEqualTo(parent Handle, candidate any, eq func(existing, candidate any) bool) (Handle, bool) {
	p := a.lookup(parent)
	if p == nil {
		return 0, false
	}
	for _, ch := range p.children {
		c := a.lookup(ch)
		if c != nil && eq(c.value, candidate) {
			return ch, true
		}
	}
	return 0, false
}

// DetachChildren clears the child list of h, resets the parent of every
// detached child and returns the handles that were still attached.
func (a *Arena) DetachChildren(h Handle) []Handle {
	s := a.lookup(h)
	if s == nil || len(s.children) == 0 {
		return nil
	}
	detached := s.children
	s.children = nil
	out := detached[:0]
	for _, ch := range detached {
		if c := a.lookup(ch); c != nil {
			if c.parent == h {
				c.parent = 0
			}
			out = append(out, ch)
		}
	}
	return out
}

// Drop invalidates a slot and returns its value.
func (a *Arena) Drop(h Handle) (any, bool) {
	s := a.lookup(h)
	if s == nil {
		return nil, false
	}
	value := s.value
	s.valid = false
	s.value = nil
	s.children = nil
	s.trace = nil
	s.parent = 0
	a.freeList = append(a.freeList, h.index())
	a.live--
	return value, true
}

// Len returns the number of live nodes.
func (a *Arena) Len() int {
	return a.live
}

// Each iterates over all live nodes in slot order.
func (a *Arena) Each(fn func(Handle, any) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.valid {
			if !fn(makeHandle(uint32(i), s.gen), s.value) {
				break
			}
		}
	}
}
