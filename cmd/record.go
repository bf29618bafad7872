package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/wavedeck/internal/library"
	"github.com/audiolibrelab/wavedeck/internal/service"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record from the microphone without the UI",
	Long: `Record one take from the microphone and save it to the output directory.
Recording stops on Ctrl+C or when --duration elapses.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		duration, _ := cmd.Flags().GetDuration("duration")
		slog.Info("Record command started", "name", name, "duration", duration)

		svc := service.New(cfg)
		defer svc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := svc.StartRecording(ctx); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		fmt.Printf("Recording with %s - press Ctrl+C to stop\n", svc.Capability())

		g, gCtx := errgroup.WithContext(ctx)
		done := make(chan struct{})

		g.Go(func() error {
			defer close(done)
			var timeout <-chan time.Time
			if duration > 0 {
				timer := time.NewTimer(duration)
				defer timer.Stop()
				timeout = timer.C
			}
			select {
			case <-gCtx.Done():
			case <-timeout:
			}
			return nil
		})

		g.Go(func() error {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					fmt.Println()
					return nil
				case <-ticker.C:
					fmt.Printf("\r● REC %s", svc.Status().ElapsedHuman)
				}
			}
		})

		if err := g.Wait(); err != nil {
			return err
		}

		// ctx is already cancelled after Ctrl+C
		rec, err := svc.StopRecordingAs(context.Background(), name)
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		if rec == nil {
			return fmt.Errorf("recording was interrupted")
		}

		path, err := svc.Export(rec.ID)
		if err != nil {
			return fmt.Errorf("failed to save recording: %w", err)
		}
		fmt.Printf("Saved %s (%s, %s)\n", path, library.FormatDuration(rec.Duration), library.FormatSize(rec.Size))
		return nil
	},
}

func init() {
	recordCmd.Flags().StringP("name", "n", "", "recording name (default is the start time)")
	recordCmd.Flags().DurationP("duration", "d", 0, "stop after this long (default is until Ctrl+C)")
}
