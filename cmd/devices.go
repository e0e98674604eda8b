// cmd/devices.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/impulsedetect/internal/audio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio capture devices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		capture := audio.New(audio.DefaultConfig())
		if err := capture.Init(); err != nil {
			return fmt.Errorf("audio: %w", err)
		}
		defer capture.Close()

		devices, err := capture.ListDevices()
		if err != nil {
			return fmt.Errorf("audio: %w", err)
		}
		out := cmd.OutOrStdout()
		for i, d := range devices {
			def := ""
			if d.IsDefault != 0 {
				def = " (default)"
			}
			fmt.Fprintf(out, "%3d  %s%s\n", i, d.Name(), def)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
