package main

import (
	"github.com/spf13/cobra"
)

func newDeliverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deliver",
		Short: "Run one delivery pass over the queue",
		Long: `Deliver attempts every eligible queued record once: binary upload,
metadata registration, then quota accounting. Records that fail stay
queued with their attempt count bumped so backoff applies.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSinglePass(cmd, ctx)
		},
	}
}
