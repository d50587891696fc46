// Package metrics exposes Prometheus collectors for the proxy controller.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/creamcroissant/clashpilot/internal/service"
)

// Metrics holds the controller's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	selections      *prometheus.CounterVec
	publishedGroups prometheus.Gauge

	serviceState *prometheus.GaugeVec
	trafficRate  *prometheus.GaugeVec
	trafficTotal *prometheus.GaugeVec
	connections  prometheus.Gauge

	processRSS prometheus.Gauge
	processCPU prometheus.Gauge
}

var serviceStates = []service.State{
	service.StateIdle,
	service.StateConnecting,
	service.StateRunning,
	service.StateStopping,
	service.StateError,
}

// New registers every collector under namespace, plus the Go runtime collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "clashpilot"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		refreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxygroup",
			Name:      "refresh_total",
			Help:      "Full proxy group refreshes by result.",
		}, []string{"result"}),
		refreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxygroup",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of full proxy group refreshes.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		selections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxygroup",
			Name:      "selections_total",
			Help:      "Selection, pin and restore attempts by result.",
		}, []string{"kind", "result"}),
		publishedGroups: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxygroup",
			Name:      "published_groups",
			Help:      "Number of groups in the last published list.",
		}),
		serviceState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "state",
			Help:      "1 for the current lifecycle state, 0 otherwise.",
		}, []string{"state"}),
		trafficRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "traffic_bytes_per_second",
			Help:      "Last sampled traffic rate.",
		}, []string{"direction"}),
		trafficTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "traffic_bytes_total",
			Help:      "Cumulative traffic reported by the core.",
		}, []string{"direction"}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "connections",
			Help:      "Open connections tracked by the core.",
		}),
		processRSS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "resident_memory_bytes",
			Help:      "Resident memory of the controller process.",
		}),
		processCPU: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage of the controller process.",
		}),
	}
	m.StateChanged(service.StateIdle)
	return m
}

// Registry returns the registry for extra collectors such as HTTP middleware.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RefreshCompleted records one full refresh.
func (m *Metrics) RefreshCompleted(elapsed time.Duration, err error) {
	m.refreshTotal.WithLabelValues(result(err == nil)).Inc()
	m.refreshDuration.Observe(elapsed.Seconds())
}

// SelectionCompleted records a select, pin, unpin or restore.
func (m *Metrics) SelectionCompleted(kind string, ok bool) {
	m.selections.WithLabelValues(kind, result(ok)).Inc()
}

// GroupsPublished records the size of a published list.
func (m *Metrics) GroupsPublished(count int) {
	m.publishedGroups.Set(float64(count))
}

// StateChanged sets the lifecycle state gauge.
func (m *Metrics) StateChanged(state service.State) {
	for _, s := range serviceStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.serviceState.WithLabelValues(s.String()).Set(v)
	}
}

// TrafficObserved records a polling sample.
func (m *Metrics) TrafficObserved(sample service.TrafficSnapshot) {
	m.trafficRate.WithLabelValues("up").Set(float64(sample.Now.Up))
	m.trafficRate.WithLabelValues("down").Set(float64(sample.Now.Down))
	m.trafficTotal.WithLabelValues("up").Set(float64(sample.Total.Up))
	m.trafficTotal.WithLabelValues("down").Set(float64(sample.Total.Down))
	m.connections.Set(float64(sample.Total.Connections))
}

// ProcessObserved records the controller's own resource usage.
func (m *Metrics) ProcessObserved(rss uint64, cpuPercent float64) {
	m.processRSS.Set(float64(rss))
	m.processCPU.Set(cpuPercent)
}
