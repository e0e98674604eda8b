// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/impulsedetect/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "impulsedetect",
	Short: "Impulse (click/pop) detector for audio input",
	Long: `A median-based impulse detector. It listens to an audio device or scans a
WAV recording and reports short peaks that stand out from the running
per-offset median and the window noise level.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.Get()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		setupLogging(s)
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().IntP("device", "d", -1, "audio device index (-1 for default)")
	rootCmd.PersistentFlags().IntP("taps", "n", 31, "blocks held in the detection window")
	rootCmd.PersistentFlags().IntP("tap-size", "t", 160, "samples per block")
	rootCmd.PersistentFlags().Float64P("level", "l", 2000, "minimum deviation above the median")
	rootCmd.PersistentFlags().Float64("rms", 4.0, "deviation must exceed this multiple of the window RMS")
	rootCmd.PersistentFlags().Float64("energy", 1.5, "shape test ratio (0 disables)")
	rootCmd.PersistentFlags().Int("holdoff", 500, "suppress repeat events within this many milliseconds")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	// Bind flags to viper
	viper.BindPFlag("device_index", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("num_taps", rootCmd.PersistentFlags().Lookup("taps"))
	viper.BindPFlag("tap_size", rootCmd.PersistentFlags().Lookup("tap-size"))
	viper.BindPFlag("det_level", rootCmd.PersistentFlags().Lookup("level"))
	viper.BindPFlag("det_rms", rootCmd.PersistentFlags().Lookup("rms"))
	viper.BindPFlag("det_energy", rootCmd.PersistentFlags().Lookup("energy"))
	viper.BindPFlag("holdoff_ms", rootCmd.PersistentFlags().Lookup("holdoff"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(s *config.Settings) {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(s.Level())
}
