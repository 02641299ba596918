// Package wasmhost ties wazero resources to a disposal tree.
//
// The runtime is registered as a root, every compiled module under the
// runtime and every instance under the compiled module it came from:
//
//	runtime
//	├── compiled "math"
//	│   ├── instance "math-1"
//	│   └── instance "math-2"
//	└── compiled "io"
//
// Closing the host disposes that subtree bottom-up, so instances close
// before their compiled module and compiled modules before the runtime.
// Release disposes a single compiled module or instance together with
// everything it owns.
package wasmhost
