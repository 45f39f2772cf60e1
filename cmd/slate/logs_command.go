package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"slate/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lineLimit int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := logs.DefaultPath(cfg)
			if path == "" {
				return fmt.Errorf("no log directory configured")
			}

			result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: lineLimit})
			if err != nil {
				return err
			}
			for _, line := range result.Lines {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			if !follow {
				return nil
			}

			offset := result.Offset
			for {
				result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{
					Offset: offset,
					Follow: true,
					Wait:   5 * time.Second,
				})
				if err != nil {
					return err
				}
				for _, line := range result.Lines {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				offset = result.Offset
			}
		},
	}

	cmd.Flags().IntVarP(&lineLimit, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new lines")
	return cmd
}
