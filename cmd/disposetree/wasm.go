package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/wippyai/disposetree/resource"
	"github.com/wippyai/disposetree/tree"
	"github.com/wippyai/disposetree/wasmhost"
)

func newWasmCmd(configPath *string) *cobra.Command {
	var (
		files     []string
		instances int
		call      string
		memPages  uint32
	)

	cmd := &cobra.Command{
		Use:   "wasm",
		Short: "Load modules into a wazero host and tear it down",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			var (
				mu    sync.Mutex
				order []string
			)
			tr := a.newTree(tree.WithObserver(resource.ObserverFunc(func(e resource.Event) {
				if e.Type != resource.EventExecuted {
					return
				}
				mu.Lock()
				order = append(order, fmt.Sprint(e.Value))
				mu.Unlock()
			})))

			host, err := wasmhost.New(ctx, tr, &wasmhost.Config{
				Logger:           a.logger,
				MemoryLimitPages: memPages,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, file := range files {
				bin, err := os.ReadFile(file)
				if err != nil {
					host.Close(ctx)
					return fmt.Errorf("read file: %w", err)
				}
				name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
				compiled, err := host.Compile(ctx, name, bin)
				if err != nil {
					host.Close(ctx)
					return err
				}
				for i := 0; i < instances; i++ {
					inst, err := host.Instantiate(ctx, compiled, fmt.Sprintf("%s-%d", name, i+1))
					if err != nil {
						host.Close(ctx)
						return err
					}
					if call == "" {
						continue
					}
					results, err := inst.Call(ctx, call)
					if err != nil {
						fmt.Fprintf(out, "%v: %s: %v\n", inst, call, err)
						continue
					}
					fmt.Fprintf(out, "%v: %s => %v\n", inst, call, results)
				}
			}

			fmt.Fprintln(out, "loaded:")
			for _, n := range tr.Snapshot() {
				fmt.Fprintf(out, "  %s%v\n", strings.Repeat("  ", n.Depth), n.Value)
			}

			closeErr := host.Close(ctx)

			fmt.Fprintln(out, "closed:")
			mu.Lock()
			for _, o := range order {
				fmt.Fprintf(out, "  %s\n", o)
			}
			mu.Unlock()
			printTree(out, tr)
			return closeErr
		},
	}

	cmd.Flags().StringSliceVar(&files, "file", nil, "Core wasm module (repeatable)")
	cmd.Flags().IntVar(&instances, "instances", 1, "Instances per module")
	cmd.Flags().StringVar(&call, "call", "", "Exported function to call on every instance")
	cmd.Flags().Uint32Var(&memPages, "memory-pages", 0, "Memory limit per instance in 64KB pages")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
