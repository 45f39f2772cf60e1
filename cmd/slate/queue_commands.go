package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"slate/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the upload queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				if health.Total == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := [][]string{
					{"Total", fmt.Sprintf("%d", health.Total)},
					{"Queued", fmt.Sprintf("%d", health.Queued)},
					{"In flight", fmt.Sprintf("%d", health.InFlight)},
					{"Retrying", fmt.Sprintf("%d", health.Retrying)},
					{"Spool size", formatBytes(health.SpoolSize)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List upload records",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]queue.Status, 0, len(listStatuses))
			for _, raw := range listStatuses {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q (known: queued, in_flight)", raw)
				}
				statuses = append(statuses, status)
			}

			return ctx.withStore(func(store *queue.Store) error {
				records, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No upload records")
					return nil
				}

				rows := make([][]string, 0, len(records))
				for _, record := range records {
					rows = append(rows, []string{
						record.ClientArtifactID,
						string(record.Status),
						record.ParticipantRef,
						record.ClassRef,
						formatBytes(record.ByteSize),
						fmt.Sprintf("%d", record.Attempts),
						progressLabel(record),
						record.EnqueuedAt.Local().Format(time.RFC3339),
					})
				}
				headers := []string{"Artifact", "Status", "Participant", "Class", "Size", "Attempts", "Progress", "Enqueued"}
				aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))

				for _, record := range records {
					if record.LastError != "" {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: last error: %s\n", record.ClientArtifactID, record.LastError)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (queued, in_flight)")
	return cmd
}

func progressLabel(record *queue.Record) string {
	if record.ByteSize <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", float64(record.BytesSent)/float64(record.ByteSize)*100)
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <artifact-id>",
		Short: "Clear a record's failure state so it retries immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			artifactID := strings.TrimSpace(args[0])
			return ctx.withStore(func(store *queue.Store) error {
				ok, err := store.ResetAttempts(cmd.Context(), artifactID)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no upload record %s", artifactID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Record %s queued for immediate retry\n", artifactID)
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <artifact-id>",
		Short: "Remove an upload record and its spooled payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			artifactID := strings.TrimSpace(args[0])
			return ctx.withStore(func(store *queue.Store) error {
				removed, err := store.Remove(cmd.Context(), artifactID)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("no upload record %s", artifactID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", artifactID)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all upload records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("clearing drops undelivered captures; re-run with --yes to confirm")
			}
			return ctx.withStore(func(store *queue.Store) error {
				count, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d records\n", count)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm removal of undelivered captures")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue database diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				health, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				rows := [][]string{
					{"Database", health.DBPath},
					{"Exists", yesNo(health.DatabaseExists)},
					{"Readable", yesNo(health.DatabaseReadable)},
					{"Table present", yesNo(health.TableExists)},
					{"Integrity", yesNo(health.IntegrityCheck)},
					{"Records", fmt.Sprintf("%d", health.TotalRecords)},
				}
				if health.Error != "" {
					rows = append(rows, []string{"Error", health.Error})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Result"}, rows, []columnAlignment{alignLeft, alignLeft}))
				return nil
			})
		},
	}
}
