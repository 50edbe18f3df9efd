// Package metrics provides Prometheus metrics for the backup agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	CyclesTotal          *prometheus.CounterVec
	CycleDuration        prometheus.Histogram
	ChatsBackedUpTotal   prometheus.Counter
	ChatFailuresTotal    prometheus.Counter
	CleaningBackupsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backup_cycles_total",
				Help: "Total number of backup cycles by trigger and outcome.",
			},
			[]string{"trigger", "status"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backup_cycle_duration_seconds",
				Help:    "Duration of backup cycles.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ChatsBackedUpTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backup_chats_total",
				Help: "Total number of chats successfully backed up.",
			},
		),
		ChatFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backup_chat_failures_total",
				Help: "Total number of per-chat backup failures.",
			},
		),
		CleaningBackupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backup_cleaning_backups_total",
				Help: "Total chats fetched by retention sweeps, by result.",
			},
			[]string{"result"},
		),
		registry: reg,
	}

	reg.MustRegister(m.CyclesTotal)
	reg.MustRegister(m.CycleDuration)
	reg.MustRegister(m.ChatsBackedUpTotal)
	reg.MustRegister(m.ChatFailuresTotal)
	reg.MustRegister(m.CleaningBackupsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCycle increments the cycle counter.
func (m *Metrics) RecordCycle(trigger, status string) {
	m.CyclesTotal.WithLabelValues(trigger, status).Inc()
}

// ObserveCycleDuration records how long a cycle took.
func (m *Metrics) ObserveCycleDuration(seconds float64) {
	m.CycleDuration.Observe(seconds)
}
