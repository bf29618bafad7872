package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/audiolibrelab/wavedeck/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture devices",
	Long:  `List the microphones miniaudio can capture from. The configured audio.device is matched by case-insensitive substring.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mic := audio.NewMalgoMicrophone(cfg.Audio.Device, cfg.Visualizer.SampleSize)
		defer mic.Close()

		devices, err := mic.Devices()
		if err != nil {
			return fmt.Errorf("failed to list capture devices: %w", err)
		}

		fmt.Printf("🎙  Capture devices (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")
		if len(devices) == 0 {
			fmt.Println("  none found, recording will be unavailable")
			return nil
		}

		configured := strings.ToLower(cfg.Audio.Device)
		for i, d := range devices {
			var marks []string
			if d.Default {
				marks = append(marks, "default")
			}
			if configured != "" && strings.Contains(strings.ToLower(d.Name), configured) {
				marks = append(marks, "configured")
			}
			line := fmt.Sprintf("  %d. %s", i+1, d.Name)
			if len(marks) > 0 {
				line += " (" + strings.Join(marks, ", ") + ")"
			}
			fmt.Println(line)
		}

		fmt.Printf("\n💡 Set audio.device in the config to a part of the name to pick a device.\n")
		return nil
	},
}
