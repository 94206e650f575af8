// Package metrics exposes Prometheus metrics for sources, runs, deliveries
// and the connection.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"contestbot/internal/eventbus"
)

var connectionStates = []string{"connecting", "open", "closed_retryable", "closed_terminal"}

type Collector struct {
	fetches       *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	fetched       *prometheus.GaugeVec
	runs          *prometheus.CounterVec
	runLatency    prometheus.Histogram
	selected      prometheus.Gauge
	deliveries    *prometheus.CounterVec
	reminders     *prometheus.CounterVec
	connection    *prometheus.GaugeVec
	lastRunUnixMs prometheus.Gauge
}

// NewCollector creates the collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contestbot_source_fetch_total",
			Help: "Source fetches by result.",
		}, []string{"source", "result"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contestbot_source_fetch_seconds",
			Help:    "Source fetch latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		fetched: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contestbot_source_contests",
			Help: "Contests returned by the last successful fetch.",
		}, []string{"source"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contestbot_runs_total",
			Help: "Pipeline runs by result.",
		}, []string{"result"}),
		runLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contestbot_run_seconds",
			Help:    "Pipeline run duration in seconds.",
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		selected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contestbot_selected_contests",
			Help: "Contests in the window at the last run.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contestbot_deliveries_total",
			Help: "Per-recipient sends by result.",
		}, []string{"result"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contestbot_reminders_total",
			Help: "Reminder lifecycle events.",
		}, []string{"event"}),
		connection: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contestbot_connection_state",
			Help: "1 for the current delivery channel state.",
		}, []string{"state"}),
		lastRunUnixMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contestbot_last_run_timestamp_ms",
			Help: "Finish time of the last pipeline run.",
		}),
	}

	reg.MustRegister(
		c.fetches,
		c.fetchLatency,
		c.fetched,
		c.runs,
		c.runLatency,
		c.selected,
		c.deliveries,
		c.reminders,
		c.connection,
		c.lastRunUnixMs,
	)
	c.setConnection("connecting")
	return c
}

// ObserveFetch records one adapter fetch.
func (c *Collector) ObserveFetch(source string, count int, took time.Duration, err error) {
	c.fetchLatency.WithLabelValues(source).Observe(took.Seconds())
	if err != nil {
		c.fetches.WithLabelValues(source, "error").Inc()
		return
	}
	c.fetches.WithLabelValues(source, "ok").Inc()
	c.fetched.WithLabelValues(source).Set(float64(count))
}

// ObserveRun records one pipeline run. result is "ok", "failed" or "skipped".
func (c *Collector) ObserveRun(result string, took time.Duration, selected int) {
	c.runs.WithLabelValues(result).Inc()
	if result == "skipped" {
		return
	}
	c.runLatency.Observe(took.Seconds())
	c.selected.Set(float64(selected))
	c.lastRunUnixMs.Set(float64(time.Now().UnixMilli()))
}

func (c *Collector) setConnection(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.connection.WithLabelValues(s).Set(v)
	}
}

// Watch updates delivery, reminder and connection metrics from bus events
// until ctx ends.
func (c *Collector) Watch(ctx context.Context, bus eventbus.Bus) {
	if bus == nil {
		return
	}
	events, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.observeEvent(e)
		}
	}
}

func (c *Collector) observeEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.DeliverySent:
		c.deliveries.WithLabelValues("ok").Inc()
	case eventbus.DeliveryFailed:
		c.deliveries.WithLabelValues("error").Inc()
	case eventbus.ReminderScheduled:
		c.reminders.WithLabelValues("scheduled").Inc()
	case eventbus.ReminderFired:
		c.reminders.WithLabelValues("fired").Inc()
	case eventbus.ReminderFailed:
		c.reminders.WithLabelValues("failed").Inc()
	case eventbus.ConnectionState:
		if m, ok := e.Data.(map[string]any); ok {
			if to, ok := m["to"].(string); ok {
				c.setConnection(to)
			}
		}
	}
}

// Handler serves the registry for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
