// Package metrics provides Prometheus metrics for configuration loading and
// request dispatch.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Pylons/pyramid-zcml/ports"
)

const namespace = "zcml"

// Collector holds all Prometheus metrics. It implements ports.Metrics.
type Collector struct {
	// Configuration metrics
	DirectivesTotal *prometheus.CounterVec
	LoadsTotal      *prometheus.CounterVec
	ActionsTotal    prometheus.Counter
	ConflictsTotal  prometheus.Counter

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Reload metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge

	gatherer prometheus.Gatherer
}

var _ ports.Metrics = (*Collector)(nil)

// New creates a collector registered with the default registry.
func New() *Collector {
	return newCollector(promauto.With(prometheus.DefaultRegisterer), prometheus.DefaultGatherer)
}

// NewWithRegistry creates a collector registered with reg.
// Useful for testing to avoid global state.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	return newCollector(promauto.With(reg), reg)
}

func newCollector(factory promauto.Factory, gatherer prometheus.Gatherer) *Collector {
	return &Collector{
		DirectivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "directives_total",
				Help:      "Total number of configuration directives processed",
			},
			[]string{"directive"},
		),
		LoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loads_total",
				Help:      "Total number of configuration file loads by result",
			},
			[]string{"result"},
		),
		ActionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_committed_total",
				Help:      "Total number of configuration actions executed at commit",
			},
		),
		ConflictsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflicts_total",
				Help:      "Total number of conflicting discriminators reported at commit",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests dispatched",
			},
			[]string{"route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful application reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of failed application reloads",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful application reload",
			},
		),
		gatherer: gatherer,
	}
}

func (c *Collector) DirectiveProcessed(directive string) {
	c.DirectivesTotal.WithLabelValues(directive).Inc()
}

func (c *Collector) LoadFinished(result string) {
	c.LoadsTotal.WithLabelValues(result).Inc()
}

func (c *Collector) ActionsCommitted(n int) {
	c.ActionsTotal.Add(float64(n))
}

func (c *Collector) Conflicts(n int) {
	c.ConflictsTotal.Add(float64(n))
}

// RequestDispatched records a request. Unmatched requests are labelled
// with the route "(traversal)".
func (c *Collector) RequestDispatched(route string, status int, duration time.Duration) {
	if route == "" {
		route = "(traversal)"
	}
	c.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// Reloaded records the outcome of an application reload.
func (c *Collector) Reloaded(at time.Time, err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.Set(float64(at.Unix()))
}

// Handler serves the collected metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
