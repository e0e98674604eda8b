// internal/monitor/metrics.go
package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the monitor's Prometheus collectors.
type Metrics struct {
	Blocks     prometheus.Counter
	Hits       prometheus.Counter
	Events     prometheus.Counter
	Suppressed prometheus.Counter
	NoiseRMS   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg if it is
// not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "impulse_blocks_total",
			Help: "Blocks fed to the detector.",
		}),
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "impulse_hits_total",
			Help: "Detector hits before holdoff.",
		}),
		Events: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "impulse_events_total",
			Help: "Impulse events emitted.",
		}),
		Suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "impulse_suppressed_total",
			Help: "Hits dropped by the holdoff.",
		}),
		NoiseRMS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "impulse_noise_rms",
			Help: "Window noise RMS at the last evaluated block.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Blocks, m.Hits, m.Events, m.Suppressed, m.NoiseRMS} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
