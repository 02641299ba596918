// Command disposetree drives disposal trees from scenario files, an
// interactive browser, or a wazero host.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/disposetree/internal/config"
	"github.com/wippyai/disposetree/observability"
	"github.com/wippyai/disposetree/tree"
)

func main() {
	// a missing .env is normal; DISPOSETREE_* variables may come from anywhere
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "disposetree",
		Short:         "Inspect and exercise disposal trees",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path")

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newTUICmd(&configPath),
		newWasmCmd(&configPath),
	)
	return rootCmd
}

// app is the per-command environment built from configuration.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	tracer *observability.TracerProvider
}

func setup(ctx context.Context, configPath string, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Validate() {
		fmt.Fprintf(stderr, "Warning: %s\n", w)
	}

	logger, err := cfg.Logger()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	tp, err := observability.InitTracing(ctx, cfg.TracingConfig())
	if err != nil {
		logger.Sync()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, tracer: tp}, nil
}

func (a *app) newTree(opts ...tree.Option) *tree.Tree {
	base := append(a.cfg.TreeOptions(),
		tree.WithLogger(a.logger),
		a.tracer.TreeOption(),
	)
	return tree.New(append(base, opts...)...)
}

func (a *app) close(ctx context.Context) {
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("tracer shutdown failed", zap.Error(err))
	}
	a.logger.Sync()
}

// printTree writes the registry as an indented forest.
func printTree(w io.Writer, tr *tree.Tree) {
	snap := tr.Snapshot()
	if len(snap) == 0 {
		fmt.Fprintln(w, "remaining: none")
		return
	}
	fmt.Fprintf(w, "remaining (%d):\n", len(snap))
	for _, n := range snap {
		fmt.Fprintf(w, "  %s%v\n", strings.Repeat("  ", n.Depth), n.Value)
	}
}
