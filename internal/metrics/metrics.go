// Package metrics exports plugin lifecycle metrics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/lumen/internal/plugin"
)

const namespace = "lumen"

// Metrics counts plugin lifecycle events.
type Metrics struct {
	running prometheus.Gauge
	starts  *prometheus.CounterVec
	exits   *prometheus.CounterVec
	actions *prometheus.CounterVec
}

// New creates the plugin metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugins_running",
			Help:      "Number of running plugin instances",
		}),
		starts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_starts_total",
			Help:      "Total number of plugin start attempts per plugin and result",
		}, []string{"plugin", "result"}),
		exits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_exits_total",
			Help:      "Total number of plugin instance exits per plugin and outcome",
		}, []string{"plugin", "outcome"}),
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_actions_total",
			Help:      "Total number of plugin lifecycle events per action and success",
		}, []string{"action", "success"}),
	}
}

// Observe records a lifecycle event. It is a plugin.EventHandler.
func (m *Metrics) Observe(ev plugin.ActionEvent) {
	m.actions.WithLabelValues(ev.Action.String(), boolLabel(ev.Success)).Inc()

	switch ev.Action {
	case plugin.ActionStarted:
		if ev.Success {
			m.running.Inc()
			m.starts.WithLabelValues(ev.ID, "ok").Inc()
		} else {
			m.starts.WithLabelValues(ev.ID, "failed").Inc()
		}
	case plugin.ActionStopped:
		m.running.Dec()
		m.exits.WithLabelValues(ev.ID, "stopped").Inc()
	case plugin.ActionError:
		m.running.Dec()
		m.exits.WithLabelValues(ev.ID, "error").Inc()
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
