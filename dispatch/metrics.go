package dispatch

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"carestore/store"
	"carestore/version"
)

// metrics records per-command counters and latencies. A nil *metrics
// records nothing.
type metrics struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer, s *store.Store) (*metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carestore",
			Subsystem: "dispatch",
			Name:      "commands_total",
			Help:      "Requests handled, by command and response status.",
		}, []string{"command", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carestore",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent handling a request, by command.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"command"}),
	}
	for _, c := range []prometheus.Collector{m.commands, m.duration, newStoreCollector(s), newBuildInfo(version.Get())} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) observe(command string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.commands.WithLabelValues(command, status).Inc()
	m.duration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// newBuildInfo is the constant 1 gauge that carries the build identity
// as labels.
func newBuildInfo(info version.Info) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carestore",
		Name:      "build_info",
		Help:      "Build of the running server; always 1.",
		ConstLabels: prometheus.Labels{
			"version":    info.Tag,
			"commit":     info.Commit,
			"go_version": info.GoVersion,
		},
	})
	g.Set(1)
	return g
}

// storeCollector exports collection sizes as gauges, read from
// Store.Stats at scrape time.
type storeCollector struct {
	store *store.Store
	size  *prometheus.Desc
}

func newStoreCollector(s *store.Store) *storeCollector {
	return &storeCollector{
		store: s,
		size: prometheus.NewDesc(
			"carestore_store_records",
			"Number of records held in each collection",
			[]string{"collection"}, nil,
		),
	}
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.store.Stats()
	for _, v := range []struct {
		name string
		n    int
	}{
		{"users", st.Users},
		{"sessions", st.Sessions},
		{"appointments", st.Appointments},
		{"history", st.History},
		{"emergency", st.Emergency},
	} {
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(v.n), v.name)
	}
}

// commandLabel keeps label cardinality bounded: names without a handler
// are all recorded as "unknown".
func commandLabel(name string, err error) string {
	var ce *UnknownCommandError
	switch {
	case errors.As(err, &ce):
		return "unknown"
	case errors.Is(err, errEmpty):
		return "empty"
	}
	return name
}
