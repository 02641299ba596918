// Package tree implements the disposal tree: a registry of parent/child
// ownership among disposable objects with ordered, failure-tolerant teardown.
//
// # Registration
//
//	t := tree.New()
//	t.Register(nil, app)     // app becomes a root
//	t.Register(app, server)  // server is owned by app
//	t.Register(server, conn) // conn is owned by server
//
// Registering under an unknown parent makes the parent a root first.
// Registering an already registered child moves it under the new parent.
//
// # Disposal
//
// Dispose tears a subtree down post-order:
//
//  1. the subtree's current children are snapshotted under the lock
//  2. the "before" hook of the object runs (failures are logged)
//  3. children are disposed last-registered first, failures collected
//  4. children registered meanwhile are detached and left as roots
//  5. the main disposal action runs (failures collected)
//  6. the node leaves its parent and the registry
//
// Once the whole subtree is gone, a cancellation-flavored failure is returned
// to the caller; every other failure is logged.
//
// Disposing an unknown, already disposed, or currently disposing object is a
// no-op.
//
// # Locking
//
// One mutex guards all structure. Callbacks always run without it, so they
// may register children or dispose unrelated objects.
package tree
