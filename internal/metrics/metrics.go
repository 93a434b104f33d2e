// Package metrics exposes hub, notification and broker activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"tracehub/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tracehub"

// Collector implements the hub observer and the notify delivery observer.
// Params: collectors registered on one registry.
// Returns: metrics sink and /metrics handler.
type Collector struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	rejected        prometheus.Counter
	violations      prometheus.Counter
	alerts          *prometheus.CounterVec
	totalOperations prometheus.Gauge
	activeCountries prometheus.Gauge
	activeCorridors prometheus.Gauge
	activeAlerts    prometheus.Gauge
	totalVolume     prometheus.Gauge
	brokerProbes    *prometheus.CounterVec
	brokerLatency   prometheus.Histogram
	deliveries      *prometheus.CounterVec
	dropped         prometheus.Counter
}

// New registers all collectors on a fresh registry.
// Params: none.
// Returns: collector.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_recorded_total",
			Help:      "Operations recorded by workflow stage.",
		}, []string{"stage"}),
		ingestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent validating and committing one operation.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_rejected_total",
			Help:      "Operations refused by intake validation.",
		}),
		violations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_violations_total",
			Help:      "Individual validation violations across rejected operations.",
		}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts raised by type and level.",
		}, []string{"type", "level"}),
		totalOperations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operations",
			Help:      "Operations currently stored.",
		}),
		activeCountries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_countries",
			Help:      "Countries that appeared in at least one operation.",
		}),
		activeCorridors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_corridors",
			Help:      "Distinct origin-destination corridors.",
		}),
		activeAlerts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_alerts",
			Help:      "Alerts not yet cleared.",
		}),
		totalVolume: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "supervised_volume",
			Help:      "Sum of declared operation values.",
		}),
		brokerProbes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "probes_total",
			Help:      "Broker exchanges by outcome.",
		}, []string{"outcome"}),
		brokerLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "latency_seconds",
			Help:      "Observed broker latency.",
			Buckets:   prometheus.ExponentialBuckets(0.025, 2, 10),
		}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Alert deliveries by channel and outcome.",
		}, []string{"channel", "outcome"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Alert deliveries dropped because the queue was full or closed.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveIngest(stage domain.WorkflowStage, elapsed time.Duration) {
	c.operations.WithLabelValues(string(stage)).Inc()
	c.ingestDuration.Observe(elapsed.Seconds())
}

func (c *Collector) ObserveRejected(violations int) {
	c.rejected.Inc()
	c.violations.Add(float64(violations))
}

func (c *Collector) ObserveAlerts(raised []domain.Alert) {
	for _, alert := range raised {
		c.alerts.WithLabelValues(string(alert.Type), string(alert.Level)).Inc()
	}
}

// ObserveState refreshes gauges from the latest statistics.
// Params: global statistics and active alert count.
// Returns: nothing.
func (c *Collector) ObserveState(stats domain.GlobalStats, activeAlerts int) {
	c.totalOperations.Set(float64(stats.TotalOperations))
	c.activeCountries.Set(float64(stats.ActiveCountries))
	c.activeCorridors.Set(float64(stats.ActiveCorridors))
	c.activeAlerts.Set(float64(activeAlerts))
	c.totalVolume.Set(stats.TotalVolume)
}

func (c *Collector) ObserveBrokerSample(latency time.Duration, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	c.brokerProbes.WithLabelValues(outcome).Inc()
	c.brokerLatency.Observe(latency.Seconds())
}

func (c *Collector) ObserveDelivery(channel string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.deliveries.WithLabelValues(channel, outcome).Inc()
}

func (c *Collector) ObserveDropped(count int) {
	c.dropped.Add(float64(count))
}
