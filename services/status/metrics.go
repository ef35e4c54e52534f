package status

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"weatherstation-go/errcode"
	"weatherstation-go/x/strx"
)

type MetricsConfig struct {
	PushURL string // pushgateway base URL; empty keeps metrics local
	Job     string
}

// Metrics keeps per-cycle gauges and counters on a private registry and
// pushes them to a gateway after every report.
type Metrics struct {
	cfg MetricsConfig
	reg *prometheus.Registry

	reading      *prometheus.GaugeVec
	cycles       *prometheus.CounterVec
	sendFailures prometheus.Counter
	syncFailures prometheus.Counter
	acquire      prometheus.Histogram
	transmit     prometheus.Histogram
	sleep        prometheus.Gauge
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	cfg.Job = strx.Coalesce(cfg.Job, "weathernode")
	m := &Metrics{
		cfg: cfg,
		reg: prometheus.NewRegistry(),
		reading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weather_reading",
			Help: "Last value read per field.",
		}, []string{"field"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_cycles_total",
			Help: "Completed measurement cycles by mode.",
		}, []string{"mode"}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_send_failures_total",
			Help: "Cycles whose readings were not delivered.",
		}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_time_sync_failures_total",
			Help: "Cycles whose time sync failed.",
		}),
		acquire: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "weather_acquire_seconds",
			Help:    "Time spent reading sensors.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		transmit: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "weather_transmit_seconds",
			Help:    "Time spent connecting, syncing and sending.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		sleep: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weather_sleep_seconds",
			Help: "Length of the last inter-cycle sleep.",
		}),
	}
	m.reg.MustRegister(m.reading, m.cycles, m.sendFailures, m.syncFailures, m.acquire, m.transmit, m.sleep)
	return m
}

// Registry exposes the private registry for scraping or tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Report(ctx context.Context, r Report) error {
	mode := "production"
	if r.Test {
		mode = "test"
	}
	m.cycles.WithLabelValues(mode).Inc()
	for field, v := range r.Readings {
		m.reading.WithLabelValues(field).Set(v)
	}
	if !r.Sent {
		m.sendFailures.Inc()
	}
	if !r.Synced {
		m.syncFailures.Inc()
	}
	m.acquire.Observe(r.Acquire.Seconds())
	m.transmit.Observe(r.Transmit.Seconds())
	m.sleep.Set(r.Sleep.Seconds())

	if m.cfg.PushURL == "" {
		return nil
	}
	err := push.New(m.cfg.PushURL, m.cfg.Job).
		Gatherer(m.reg).
		Grouping("instance", r.Device).
		PushContext(ctx)
	return errcode.Wrap(errcode.NotConnected, "status.push", err)
}
