package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wippyai/disposetree/internal/scenario"
)

func newRunCmd(configPath *string) *cobra.Command {
	var scenarioPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build a tree from a scenario file and dispose its targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			s, err := scenario.Load(scenarioPath)
			if err != nil {
				return err
			}

			tr := a.newTree()
			journal := &scenario.Journal{}
			nodes, err := s.Build(tr, journal)
			if err != nil {
				return err
			}

			results := s.Run(ctx, tr, nodes)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "callbacks:")
			for _, e := range journal.Entries() {
				fmt.Fprintf(out, "  %s\n", e)
			}
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(out, "dispose %s: %v\n", r.Target, r.Err)
				} else {
					fmt.Fprintf(out, "dispose %s: ok\n", r.Target)
				}
			}
			printTree(out, tr)
			return nil
		},
	}

	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario file (yaml, json or toml)")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}
