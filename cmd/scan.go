// cmd/scan.go
package cmd

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/impulsedetect/internal/audio"
	"github.com/ColonelBlimp/impulsedetect/internal/config"
	"github.com/ColonelBlimp/impulsedetect/internal/monitor"
	"github.com/ColonelBlimp/impulsedetect/internal/peak"
)

// maxRawHits bounds the output of scan --raw
const maxRawHits = 100000

var scanCmd = &cobra.Command{
	Use:   "scan <file.wav>",
	Short: "Detect impulses in a WAV recording",
	Long: `Runs the detector over the first channel of a WAV file and prints every
impulse with its sample index and time. --raw reports every detector hit and
ignores the holdoff.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Bool("raw", false, "report every hit, without holdoff")
	scanCmd.Flags().Bool("summary", true, "print level statistics of the recording")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	s, err := config.Get()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	rec, err := audio.LoadWAV(args[0])
	if err != nil {
		return err
	}
	// the recording's rate wins over the configured capture rate
	s.SampleRate = float64(rec.SampleRate)

	out := cmd.OutOrStdout()
	if summary, _ := cmd.Flags().GetBool("summary"); summary {
		sum, err := summarize(rec.Samples)
		if err != nil {
			return fmt.Errorf("summary: %w", err)
		}
		fmt.Fprintf(out, "%s: %d Hz, %d ch, %s\n", args[0], rec.SampleRate, rec.Channels,
			time.Duration(float64(len(rec.Samples))/s.SampleRate*float64(time.Second)).Round(time.Millisecond))
		fmt.Fprintf(out, "  peak=%.0f rms=%.1f mean=%.1f stddev=%.1f p99=%.0f\n",
			sum.Peak, sum.RMS, sum.Mean, sum.StdDev, sum.P99)
	}

	if raw, _ := cmd.Flags().GetBool("raw"); raw {
		return scanRaw(out, rec, s.PeakConfig())
	}

	mon, err := newMonitor(s, nil)
	if err != nil {
		return err
	}
	var n int
	mon.SetCallback(func(ev monitor.Event) {
		n++
		fmt.Fprintf(out, "%10d  %12s  dev=%d\n", ev.Index, ev.Offset.Round(time.Millisecond), ev.Deviation)
	})
	mon.Write(rec.Samples)
	fmt.Fprintf(out, "%d impulses\n", n)
	return nil
}

func scanRaw(out io.Writer, rec *audio.Recording, cfg peak.Config) error {
	hits := make([]int64, maxRawHits)
	n, err := peak.DetectRecording(rec.Samples, cfg, hits)
	if err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	for _, idx := range hits[:min(n, len(hits))] {
		at := time.Duration(float64(idx) / float64(rec.SampleRate) * float64(time.Second))
		fmt.Fprintf(out, "%10d  %12s\n", idx, at.Round(time.Millisecond))
	}
	if n > len(hits) {
		fmt.Fprintf(out, "... %d more\n", n-len(hits))
	}
	fmt.Fprintf(out, "%d hits\n", n)
	return nil
}

// levelSummary describes the sample levels of a recording.
type levelSummary struct {
	Peak, RMS, Mean, StdDev, P99 float64
}

func summarize(samples []int16) (levelSummary, error) {
	if len(samples) == 0 {
		return levelSummary{}, nil
	}
	data := make(stats.Float64Data, len(samples))
	abs := make(stats.Float64Data, len(samples))
	squares := make(stats.Float64Data, len(samples))
	for i, v := range samples {
		f := float64(v)
		data[i] = f
		abs[i] = math.Abs(f)
		squares[i] = f * f
	}

	var sum levelSummary
	var err error
	if sum.Peak, err = abs.Max(); err != nil {
		return sum, err
	}
	if sum.Mean, err = data.Mean(); err != nil {
		return sum, err
	}
	if sum.StdDev, err = data.StandardDeviation(); err != nil {
		return sum, err
	}
	if sum.P99, err = abs.Percentile(99); err != nil {
		return sum, err
	}
	ms, err := squares.Mean()
	if err != nil {
		return sum, err
	}
	sum.RMS = math.Sqrt(ms)
	return sum, nil
}
