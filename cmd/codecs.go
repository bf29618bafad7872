package cmd

import (
	"fmt"

	"github.com/audiolibrelab/wavedeck/internal/audio"

	"github.com/spf13/cobra"
)

var codecsCmd = &cobra.Command{
	Use:   "codecs",
	Short: "Show which recording formats are available",
	Long: `Probe every entry of encoder.preferences in order and report whether it
can be encoded here. Recording uses the first supported entry, chosen once at
startup.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prober := &audio.FFmpegProber{Path: cfg.Encoder.FFmpegPath}

		fmt.Printf("=== ENCODER PREFERENCES ===\n")
		for i, line := range audio.Describe(cfg.Encoder.Preferences, prober) {
			fmt.Printf("%d. %s\n", i+1, line)
		}

		capability := audio.Negotiate(cfg.Encoder.Preferences, prober)
		fmt.Printf("\n=== SELECTED ===\n")
		if !capability.Supported() {
			fmt.Println("none, recording is disabled")
			return nil
		}
		fmt.Printf("%s (.%s)\n", capability.Codec.MimeType, capability.Codec.Extension)
		return nil
	},
}
