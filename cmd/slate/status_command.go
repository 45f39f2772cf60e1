package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"slate/internal/ledger"
	"slate/internal/preflight"
	"slate/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var checkLedger bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			lockPath := filepath.Join(cfg.Paths.LogDir, "slated.lock")
			daemonLabel := "not running"
			if _, err := os.Stat(lockPath); err == nil {
				daemonLabel = "lock file present"
			}

			return ctx.withStore(func(store *queue.Store) error {
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}

				rows := [][]string{
					{"Daemon", daemonLabel},
					{"Queue database", store.Path()},
					{"Records", fmt.Sprintf("%d", health.Total)},
					{"Queued", fmt.Sprintf("%d", health.Queued)},
					{"In flight", fmt.Sprintf("%d", health.InFlight)},
					{"Retrying", fmt.Sprintf("%d", health.Retrying)},
					{"Spool size", formatBytes(health.SpoolSize)},
				}

				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Item", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))

				checks := preflight.RunAll(cmd.Context(), cfg)
				if checkLedger {
					logger, err := ctx.ensureLogger()
					if err != nil {
						return err
					}
					svc, err := ledger.New(cmd.Context(), cfg, logger)
					if err != nil {
						return err
					}
					checks = append(checks, preflight.CheckLedger(cmd.Context(), svc))
				}

				colorize := isTerminal(cmd.OutOrStdout())
				checkRows := make([][]string, 0, len(checks))
				for _, check := range checks {
					state := "ok"
					if !check.Passed {
						state = "FAIL"
					}
					if colorize {
						if check.Passed {
							state = ansiGreen + state + ansiReset
						} else {
							state = ansiRed + state + ansiReset
						}
					}
					checkRows = append(checkRows, []string{check.Name, state, check.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "State", "Detail"}, checkRows, []columnAlignment{alignLeft, alignLeft, alignLeft}))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&checkLedger, "ledger", false, "Probe the remote ledger and report reachability")
	return cmd
}
