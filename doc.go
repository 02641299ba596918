// Package disposetree tracks ownership among disposable resources and tears
// them down in a safe, deterministic order.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	disposetree/         Root package with the Disposable family of interfaces
//	├── tree/            Disposal tree: registration, recursive disposal, leaks
//	├── resource/        Handle-addressed node arena and lifecycle observers
//	├── errors/          Structured error types and cancellation detection
//	├── observability/   OpenTelemetry tracing setup
//	├── wasmhost/        wazero runtime, modules and instances as a disposal tree
//	├── internal/        CLI configuration (viper) and scenario files
//	└── cmd/disposetree  Scenario runner, interactive tree browser, wasm host demo
//
// # Quick Start
//
//	t := tree.New(tree.WithLogger(logger))
//
//	db := openDB()
//	t.Register(nil, db)        // root
//	t.Register(db, pool)       // child of db
//	t.Register(pool, conn)     // grandchild
//
//	// conn, then pool, then db
//	if err := t.Dispose(db); err != nil {
//	    // only cancellation-flavored failures reach the caller
//	}
//
// # Ordering
//
// Children are disposed before their parent, and siblings in reverse
// registration order. A failing callback never stops the rest of the
// subtree from being torn down.
//
// # Thread Safety
//
// Tree is safe for concurrent use. Disposal callbacks run on the caller's
// goroutine with no tree lock held, so a callback may register or dispose
// other objects.
package disposetree
