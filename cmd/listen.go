// cmd/listen.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/impulsedetect/internal/audio"
	"github.com/ColonelBlimp/impulsedetect/internal/config"
	"github.com/ColonelBlimp/impulsedetect/internal/monitor"
	"github.com/ColonelBlimp/impulsedetect/internal/recovery"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Detect impulses on a live audio device",
	Long:  `Captures mono 16-bit audio and prints one line per detected impulse until interrupted.`,
	RunE:  runListen,
}

func init() {
	listenCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on host:port")
	viper.BindPFlag("metrics_addr", listenCmd.Flags().Lookup("metrics-addr"))
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, _ []string) error {
	s, err := config.Get()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	mon, err := newMonitor(s, reg)
	if err != nil {
		return err
	}
	mon.SetCallback(printEvent(cmd.OutOrStdout()))

	capture := audio.New(audio.Config{
		DeviceIndex: s.DeviceIndex,
		SampleRate:  uint32(s.SampleRate),
		BufferSize:  uint32(s.BufferSize),
	})
	if err := capture.Init(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	defer capture.Close()

	if s.MetricsAddr != "" {
		srv := serveMetrics(s.MetricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := capture.Start(ctx); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"device":      s.DeviceIndex,
		"sample_rate": s.SampleRate,
	}).Info("listening")

	done := make(chan error, 1)
	recovery.Go(func() {
		done <- mon.Run(ctx, capture.Samples)
	}, func() {
		_ = capture.Close()
	})

	err = <-done
	if errors.Is(err, context.Canceled) {
		logrus.Info("stopped")
		return nil
	}
	return err
}

// newMonitor builds a monitor from validated settings.
func newMonitor(s *config.Settings, reg prometheus.Registerer) (*monitor.Monitor, error) {
	mon, err := monitor.New(monitor.Config{
		Peak:       s.PeakConfig(),
		SampleRate: s.SampleRate,
		Holdoff:    time.Duration(s.HoldoffMs) * time.Millisecond,
	}, logrus.StandardLogger(), reg)
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	return mon, nil
}

func printEvent(w io.Writer) monitor.EventCallback {
	return func(ev monitor.Event) {
		fmt.Fprintf(w, "%s  %10d  %12s  dev=%-6d rms=%.1f\n",
			ev.Detected.Format("15:04:05.000"), ev.Index, ev.Offset.Round(time.Millisecond), ev.Deviation, ev.NoiseRMS)
	}
}

func serveMetrics(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	recovery.Go(func() {
		logrus.WithField("addr", addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("metrics server")
		}
	}, nil)
	return srv
}
