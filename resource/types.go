package resource

import "fmt"

// Handle is an opaque reference to a node slot in an Arena.
// Handle 0 is reserved and always invalid.
type Handle uint64

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index+1))
}

func (h Handle) index() uint32 {
	return uint32(h) - 1
}

func (h Handle) generation() uint32 {
	return uint32(h >> 32)
}

// String renders the handle as index@generation.
func (h Handle) String() string {
	if h == 0 {
		return "nil"
	}
	return fmt.Sprintf("%d@%d", h.index(), h.generation())
}

// EventType identifies a node lifecycle notification.
type EventType uint8

const (
	// EventRegistered fires after a node is created or moved under a parent.
	EventRegistered EventType = iota
	// EventExecuted fires after the main disposal action of a node ran.
	EventExecuted
	// EventRemoved fires once a node left the registry.
	EventRemoved
	// EventOrphaned fires for a child detached from a parent mid-disposal.
	EventOrphaned
)

func (t EventType) String() string {
	switch t {
	case EventRegistered:
		return "registered"
	case EventExecuted:
		return "executed"
	case EventRemoved:
		return "removed"
	case EventOrphaned:
		return "orphaned"
	default:
		return fmt.Sprintf("event(%d)", uint8(t))
	}
}

// Event represents a node lifecycle event.
type Event struct {
	Value  any
	Parent any
	Err    error
	Handle Handle
	Type   EventType
}

// Observer receives notifications about node lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) {
	f(e)
}
