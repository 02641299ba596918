// Package resource provides the node arena backing a disposal tree.
//
// Nodes are stored in slots addressed by integer handles. Parent and child
// links are handles too, so detaching a node is an index invalidation rather
// than pointer surgery, and the arena never holds reference cycles.
//
// # Handles
//
// A Handle packs a slot index and a generation:
//
//	arena := resource.NewArena()
//
//	// Create a root node
//	root := arena.Create(db, 0, 1, nil)
//
//	// Create a child and link it
//	conn := arena.Create(c, root, 2, nil)
//	arena.AddChild(root, conn)
//
//	// Drop invalidates the handle; the slot is reused with a new generation
//	arena.Drop(conn)
//	arena.Valid(conn) // false
//
// Handle 0 is reserved and always invalid.
//
// # Locking
//
// Arena is not safe for concurrent use. The owning tree guards every call
// with its single structural lock.
//
// # Observers
//
// Observers receive lifecycle events emitted by the tree:
//
//	var obs resource.Observers
//	obs.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    switch e.Type {
//	    case resource.EventRegistered:
//	        log.Printf("node %d registered", e.Handle)
//	    case resource.EventRemoved:
//	        log.Printf("node %d removed", e.Handle)
//	    }
//	}))
package resource
