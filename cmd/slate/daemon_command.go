package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"slate/internal/capture"
	"slate/internal/daemon"
	"slate/internal/delivery"
	"slate/internal/ledger"
	"slate/internal/queue"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var noHotplug bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the delivery daemon in the foreground",
		Long: `Daemon opens the upload queue, recovers any uploads interrupted by a
crash, and delivers queued captures whenever connectivity allows. It runs
until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, err := ledger.New(runCtx, cfg, logger)
			if err != nil {
				return err
			}
			worker := delivery.NewWorker(store, svc, cfg, logger)

			d, err := daemon.New(cfg, store, svc, worker, logger)
			if err != nil {
				return err
			}
			if err := d.Start(runCtx); err != nil {
				return err
			}
			defer d.Close()

			if !noHotplug {
				monitor := capture.NewHotplugMonitor(logger, cfg.Capture.DevicePath)
				if err := monitor.Start(runCtx); err != nil {
					logger.Warn("hotplug monitoring unavailable", "error", err)
				} else {
					defer monitor.Stop()
					go d.WatchHotplug(runCtx, monitor)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "slated running (queue: %s)\n", store.Path())
			<-runCtx.Done()
			fmt.Fprintln(cmd.OutOrStdout(), "Shutting down")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noHotplug, "no-hotplug", false, "Disable capture device hotplug monitoring")
	return cmd
}
