package cmd

import (
	"context"
	"log/slog"

	"github.com/audiolibrelab/wavedeck/internal/service"
	"github.com/audiolibrelab/wavedeck/internal/ui"

	"github.com/spf13/cobra"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Open the terminal recorder",
	Long: `Open the terminal UI: 'r' starts and stops a recording, space plays or
pauses the selected take, 'd' saves it to the output directory and 'x'
deletes it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUI(cmd.Context())
	},
}

func runUI(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	slog.Info("Starting terminal UI", "codec_preferences", cfg.Encoder.Preferences)
	svc := service.New(cfg)
	defer svc.Close()

	return ui.Run(ctx, svc, ui.Options{
		FPS:         cfg.Visualizer.FPS,
		AccentColor: cfg.Visualizer.AccentColor,
	})
}
