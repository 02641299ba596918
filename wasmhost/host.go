package wasmhost

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/disposetree/errors"
	"github.com/wippyai/disposetree/tree"
)

// Config holds host configuration.
type Config struct {
	// Logger receives lifecycle logs. Defaults to tree.Logger().
	Logger *zap.Logger

	// MemoryLimitPages caps memory per instance in 64KB pages.
	// 0 keeps the wazero default.
	MemoryLimitPages uint32

	// CloseOnContextDone makes running guest code observe context cancellation.
	CloseOnContextDone bool
}

// Host owns a wazero runtime and the modules created from it.
type Host struct {
	tree    *tree.Tree
	runtime *Runtime
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// New creates a runtime and registers it as a root of t.
// A fresh tree is created when t is nil.
func New(ctx context.Context, t *tree.Tree, cfg *Config) (*Host, error) {
	if t == nil {
		t = tree.New()
	}
	if cfg == nil {
		cfg = &Config{}
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.CloseOnContextDone {
		runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = tree.Logger()
	}

	rt := &Runtime{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}
	if err := t.Register(nil, rt); err != nil {
		rt.runtime.Close(ctx)
		return nil, err
	}

	return &Host{tree: t, runtime: rt, logger: logger}, nil
}

// Tree returns the tree the host registers into.
func (h *Host) Tree() *tree.Tree {
	return h.tree
}

// Runtime returns the registered runtime node.
func (h *Host) Runtime() *Runtime {
	return h.runtime
}

// Compile compiles bin and registers the result under the runtime.
func (h *Host) Compile(ctx context.Context, name string, bin []byte) (*Compiled, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	mod, err := h.runtime.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Cause(err).
			Detail("compile %q", name).
			Build()
	}

	c := &Compiled{name: name, module: mod}
	if err := h.tree.Register(h.runtime, c); err != nil {
		mod.Close(ctx)
		return nil, err
	}

	h.logger.Debug("compiled module registered",
		zap.String("module", name),
		zap.Int("exports", len(mod.ExportedFunctions())))
	return c, nil
}

// Instantiate creates an instance of c and registers it under c. An empty
// name instantiates anonymously.
func (h *Host) Instantiate(ctx context.Context, c *Compiled, name string) (*Instance, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.InvalidInput(errors.PhaseHost, "compiled module must not be nil")
	}
	if !h.tree.IsRegistered(c) {
		return nil, errors.New(errors.PhaseHost, errors.KindAlreadyDisposed).
			Value(c).
			Detail("compiled module is not registered").
			Build()
	}

	mod, err := h.runtime.runtime.InstantiateModule(ctx, c.module, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, errors.New(errors.PhaseHost, errors.KindCallbackFailed).
			Value(c).
			Cause(err).
			Detail("instantiate %q", name).
			Build()
	}

	inst := &Instance{name: name, compiled: c, module: mod}
	if err := h.tree.Register(c, inst); err != nil {
		mod.Close(ctx)
		return nil, err
	}

	h.logger.Debug("instance registered",
		zap.String("module", c.name),
		zap.String("instance", name))
	return inst, nil
}

// Release disposes obj and everything registered under it.
func (h *Host) Release(ctx context.Context, obj any) error {
	return h.tree.DisposeContext(ctx, obj)
}

// Close disposes the runtime subtree. Subsequent calls are no-ops.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.logger.Debug("closing wasm host",
		zap.Int("compiled", len(h.tree.Children(h.runtime))))
	return h.tree.DisposeContext(ctx, h.runtime)
}

func (h *Host) checkOpen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New(errors.PhaseHost, errors.KindAlreadyDisposed).
			Detail("host is closed").
			Build()
	}
	return nil
}

// Runtime is the tree node for the wazero runtime.
type Runtime struct {
	runtime wazero.Runtime
}

func (r *Runtime) String() string { return "wazero runtime" }

// Close closes the runtime.
func (r *Runtime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

// Compiled is the tree node for a compiled module.
type Compiled struct {
	name   string
	module wazero.CompiledModule
}

func (c *Compiled) String() string { return "compiled " + c.name }

// Name returns the name the module was compiled under.
func (c *Compiled) Name() string { return c.name }

// Close releases the compiled code.
func (c *Compiled) Close(ctx context.Context) error {
	return c.module.Close(ctx)
}

// Instance is the tree node for an instantiated module.
type Instance struct {
	name     string
	compiled *Compiled
	module   api.Module
}

func (i *Instance) String() string {
	if i.name == "" {
		return "instance of " + i.compiled.name
	}
	return "instance " + i.name
}

// Module returns the underlying wazero module.
func (i *Instance) Module() api.Module { return i.module }

// Call invokes the exported function fn.
func (i *Instance) Call(ctx context.Context, fn string, params ...uint64) ([]uint64, error) {
	f := i.module.ExportedFunction(fn)
	if f == nil {
		return nil, errors.NotFound(errors.PhaseHost, "function", fn)
	}
	return f.Call(ctx, params...)
}

// Close closes the instance.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}
