package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/audiolibrelab/wavedeck/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "wavedeck",
	Short: "Microphone recorder with live waveform and instant playback",
	Long: `WaveDeck records from the microphone, shows a live waveform while
recording and keeps every take in a session list where it can be played back,
downloaded or deleted.

Without a subcommand it opens the terminal UI, same as 'wavedeck ui'.`,
	Args: cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Use default config path if not specified
		if cfgFile == "" {
			cfgFile = os.ExpandEnv("$HOME/.config/wavedeck.yaml")
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			setupLogging(verboseLevel, os.Stderr)
			return fmt.Errorf("failed to load config: %w", err)
		}

		// The TUI owns the terminal, so its logs go to a rotating file
		if ownsTerminal(cmd) {
			setupLogging(verboseLevel, logFile(cfg.Log))
		} else {
			setupLogging(verboseLevel, os.Stderr)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUI(cmd.Context())
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/wavedeck.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	rootCmd.AddCommand(uiCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(codecsCmd)
	rootCmd.AddCommand(configCmd)
}

func ownsTerminal(cmd *cobra.Command) bool {
	return cmd == rootCmd || cmd == uiCmd
}

func logFile(lc config.LogConfig) io.Writer {
	if lc.File == "" {
		return io.Discard
	}
	if err := os.MkdirAll(filepath.Dir(lc.File), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		return io.Discard
	}
	return &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
	}
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int, w io.Writer) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(w, opts)
	slog.SetDefault(slog.New(handler))
}
