package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/coffersTech/livequery/internal/core"
)

// Metrics are the Prometheus collectors of the query server.
type Metrics struct {
	Registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	connections prometheus.Counter
	active      prometheus.Gauge
	faults      prometheus.Counter
}

// NewMetrics registers the server collectors on a fresh registry. hub may be
// nil.
func NewMetrics(hub *core.Hub) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Metrics{
		Registry: reg,
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "livequery",
			Name:      "requests_total",
			Help:      "Query requests by table and response status.",
		}, []string{"table", "status"}),
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "livequery",
			Name:      "request_duration_seconds",
			Help:      "Time from parsing a request to the end of its response.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"table"}),
		connections: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "livequery",
			Name:      "connections_total",
			Help:      "Accepted client connections.",
		}),
		active: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "livequery",
			Name:      "active_connections",
			Help:      "Open client connections.",
		}),
		faults: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "livequery",
			Name:      "accessor_faults_total",
			Help:      "Rows skipped because reading a column failed.",
		}),
	}
	if hub != nil {
		promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "livequery",
			Name:      "waiters",
			Help:      "Queries blocked in a wait.",
		}, func() float64 { return float64(hub.Waiters()) })
	}
	return m
}

func (m *Metrics) observe(table string, status int, faults int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if table == "" {
		table = "-"
	}
	m.requests.WithLabelValues(table, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(table).Observe(elapsed.Seconds())
	if faults > 0 {
		m.faults.Add(float64(faults))
	}
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.active.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.active.Dec()
}
