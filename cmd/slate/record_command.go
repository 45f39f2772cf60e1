package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"slate/internal/artifact"
	"slate/internal/capture"
	"slate/internal/delivery"
	"slate/internal/ledger"
	"slate/internal/queue"
	"slate/internal/rubric"
	"slate/internal/services"
	"slate/internal/session"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var (
		participantRef string
		classRef       string
		durationFlag   time.Duration
		directionFlag  string
		scoreSpecs     []string
		tagSpecs       []string
		localOnly      bool
		deliverNow     bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture a scored session and queue it for delivery",
		Long: `Record captures from the configured device for the requested duration,
applies any scheduled scores and tags, then packages the session and
enqueues it. Interrupting with Ctrl-C stops the recording early and still
packages what was captured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			scores := make([]timedScore, 0, len(scoreSpecs))
			for _, spec := range scoreSpecs {
				score, err := parseScoreSpec(spec)
				if err != nil {
					return err
				}
				scores = append(scores, score)
			}
			tags := make([]timedTag, 0, len(tagSpecs))
			for _, spec := range tagSpecs {
				tag, err := parseTagSpec(spec)
				if err != nil {
					return err
				}
				tags = append(tags, tag)
			}

			directionValue := directionFlag
			if strings.TrimSpace(directionValue) == "" {
				directionValue = cfg.Capture.Direction
			}
			direction, ok := capture.ParseDirection(strings.ToLower(strings.TrimSpace(directionValue)))
			if !ok {
				return fmt.Errorf("invalid direction %q: expected front or back", directionValue)
			}

			var activeRubric *rubric.Rubric
			if cfg.Rubric.Path != "" {
				provider := rubric.NewFileProvider(cfg.Rubric.Path)
				active, err := provider.Active(cmd.Context())
				if err != nil {
					return fmt.Errorf("load rubric: %w", err)
				}
				activeRubric = active
			}

			device := capture.NewPipelineDevice(capture.WithBinary(cfg.Capture.PipelineBinary))
			constraints := capture.Constraints{
				DevicePath:    cfg.Capture.DevicePath,
				Direction:     direction,
				MimeType:      cfg.Capture.MimeType,
				ChunkInterval: time.Duration(cfg.Capture.ChunkInterval) * time.Second,
			}
			minDuration := time.Duration(cfg.Capture.MinDurationSeconds) * time.Second
			machine := session.NewMachine(device, constraints, minDuration, logger)

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := machine.StartPreview(runCtx); err != nil {
				if errors.Is(err, services.ErrDeviceUnavailable) {
					return fmt.Errorf("capture device %s is unavailable: %w", cfg.Capture.DevicePath, err)
				}
				return err
			}
			defer func() {
				if machine.State() == session.StatePreviewActive {
					_ = machine.Discard(false)
				}
			}()

			if err := machine.StartRecording(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recording from %s for %s (Ctrl-C stops early)\n", cfg.Capture.DevicePath, durationFlag)

			runTimeline(runCtx, machine, buildTimeline(scores, tags), durationFlag)

			art, err := machine.Stop(session.StopInput{
				ParticipantRef: participantRef,
				ClassRef:       classRef,
				Rubric:         activeRubric,
				LocalOnly:      localOnly,
			})
			if err != nil {
				if errors.Is(err, services.ErrTooShort) {
					_ = machine.Discard(true)
					return fmt.Errorf("capture shorter than the %s minimum was rejected", minDuration)
				}
				return err
			}

			var record *queue.Record
			if err := ctx.withStore(func(store *queue.Store) error {
				var enqueueErr error
				record, enqueueErr = store.Enqueue(cmd.Context(), art)
				return enqueueErr
			}); err != nil {
				// The capture succeeded; only durability failed. Salvage
				// the packaged artifact to plain files so nothing is lost.
				recoveryPath, writeErr := artifact.WriteRecovery(art, cfg.Paths.StagingDir)
				if writeErr != nil {
					return fmt.Errorf("upload queue unavailable (%v) and recovery write failed: %w", err, writeErr)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: upload queue unavailable; capture %s saved to %s\n",
					art.ClientArtifactID, recoveryPath)
				return fmt.Errorf("queue capture for delivery: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Captured %s (%s, %.1fs) with %d scores and %d tags, total %d\n",
				art.ClientArtifactID, formatBytes(art.ByteSize), art.DurationSeconds,
				len(art.ScoreEvents), len(art.TagEvents), art.TotalScore)
			fmt.Fprintf(out, "Queued for delivery as %s\n", record.ClientArtifactID)

			if deliverNow {
				return runSinglePass(cmd, ctx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&participantRef, "participant", "", "Participant reference (required)")
	cmd.Flags().StringVar(&classRef, "class", "", "Class reference (required)")
	cmd.Flags().DurationVar(&durationFlag, "duration", 10*time.Second, "How long to record")
	cmd.Flags().StringVar(&directionFlag, "direction", "", "Capture direction: front or back")
	cmd.Flags().StringArrayVar(&scoreSpecs, "score", nil, "Scheduled score as row=value@offset (repeatable)")
	cmd.Flags().StringArrayVar(&tagSpecs, "tag", nil, "Scheduled tag as kind=value@offset (repeatable)")
	cmd.Flags().BoolVar(&localOnly, "local-only", false, "Register metadata only; keep the binary off the ledger")
	cmd.Flags().BoolVar(&deliverNow, "deliver", false, "Run a delivery pass right after queueing")
	_ = cmd.MarkFlagRequired("participant")
	_ = cmd.MarkFlagRequired("class")

	return cmd
}

// runTimeline sleeps through the recording window, firing scheduled scores
// and tags at their offsets. Cancellation stops the recording early with
// whatever was applied so far.
func runTimeline(ctx context.Context, machine *session.Machine, events []scheduledEvent, total time.Duration) {
	started := time.Now()
	for _, event := range events {
		due := time.Duration(event.offsetSeconds * float64(time.Second))
		if due > total {
			break
		}
		if !sleepUntil(ctx, started.Add(due)) {
			return
		}
		if event.score != nil {
			_ = machine.RecordScore(event.score.RowKey, event.score.Value)
		}
		if event.tag != nil {
			_ = machine.RecordTag(event.tag.Kind, event.tag.Value)
		}
	}
	sleepUntil(ctx, started.Add(total))
}

func sleepUntil(ctx context.Context, deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return true
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func runSinglePass(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return err
	}
	svc, err := ledger.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	return ctx.withStore(func(store *queue.Store) error {
		worker := delivery.NewWorker(store, svc, cfg, logger)
		report, err := worker.RunPass(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Delivery pass: %d delivered, %d failed, %d deferred, %d held by quota\n",
			report.Delivered, report.Failed, report.Deferred, report.QuotaHeld)
		return nil
	})
}
