package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"slate/internal/rubric"
)

func newRubricCommand(ctx *commandContext) *cobra.Command {
	rubricCmd := &cobra.Command{
		Use:   "rubric",
		Short: "Inspect the scoring rubric",
	}

	rubricCmd.AddCommand(newRubricShowCommand(ctx))
	return rubricCmd
}

func newRubricShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active rubric rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Rubric.Path == "" {
				return fmt.Errorf("no rubric configured; set rubric.path in the config file")
			}

			provider := rubric.NewFileProvider(cfg.Rubric.Path)
			active, err := provider.Active(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", active.Name, active.ID)
			rows := make([][]string, 0, len(active.Rows))
			for _, row := range active.Rows {
				rows = append(rows, []string{
					row.Key,
					row.DisplayLabel(),
					fmt.Sprintf("%d", row.MaxPoints),
				})
			}
			headers := []string{"Key", "Label", "Max"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignRight}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			fmt.Fprintf(cmd.OutOrStdout(), "Maximum total: %d\n", active.MaxTotal())
			return nil
		},
	}
}
