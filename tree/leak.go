package tree

import (
	"go.uber.org/zap"

	"github.com/wippyai/disposetree/errors"
	"github.com/wippyai/disposetree/resource"
)

// Leak is a root still registered when the tree was expected to be empty.
type Leak struct {
	Value any
	Trace []byte
	Size  int
}

// Leaks returns every registered root with the size of its subtree and the
// allocation trace, if one was captured.
func (t *Tree) Leaks() []Leak {
	t.mu.Lock()
	defer t.mu.Unlock()

	roots := t.sortedRootsLocked()
	out := make([]Leak, 0, len(roots))
	for _, r := range roots {
		v, ok := t.arena.Get(r)
		if !ok {
			continue
		}
		size := 0
		stack := []resource.Handle{r}
		for len(stack) > 0 {
			h := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			size++
			stack = append(stack, t.arena.Children(h)...)
		}
		out = append(out, Leak{Value: v, Trace: t.arena.Trace(r), Size: size})
	}
	return out
}

// AssertEmpty logs and returns a LeakError when anything is still registered.
func (t *Tree) AssertEmpty() error {
	leaks := t.Leaks()
	if len(leaks) == 0 {
		return nil
	}

	roots := make([]string, 0, len(leaks))
	for _, l := range leaks {
		roots = append(roots, describe(l.Value))
		fields := []zap.Field{
			zap.Stringer("object", describer{l.Value}),
			zap.Int("subtree", l.Size),
		}
		if l.Trace != nil {
			fields = append(fields, zap.ByteString("allocation", l.Trace))
		}
		t.logger.Error("object not disposed", fields...)
	}
	return errors.Leak(roots)
}
