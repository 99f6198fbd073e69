// Package metrics exports the agent's view of the network as Prometheus
// collectors. The collector subscribes to the bus like any other consumer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thetooth/ping-agent/bus"
	"github.com/thetooth/ping-agent/probe"
	"github.com/thetooth/ping-agent/sample"
	"github.com/thetooth/ping-agent/telemetry"
)

const namespace = "pingagent"

// Collector holds every metric the agent exports.
type Collector struct {
	registry *prometheus.Registry

	// Gauges
	severity *prometheus.GaugeVec
	latency  *prometheus.GaugeVec
	average  *prometheus.GaugeVec
	jitter   *prometheus.GaugeVec
	loss     *prometheus.GaugeVec
	probeUp  *prometheus.GaugeVec
	lastTick prometheus.Gauge

	// Counters
	samples     *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	submissions *prometheus.CounterVec
}

// NewCollector registers the agent metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{registry: reg}

	c.severity = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "severity",
		Help:      "Severity of the last quality tick, 0 normal to 4 no service",
	}, []string{"target"})

	c.latency = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "latency_milliseconds",
		Help:      "Round trip time of the latest reply",
	}, []string{"target"})

	c.average = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "baseline_average_milliseconds",
		Help:      "Baseline average over the sample buffer",
	}, []string{"target"})

	c.jitter = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jitter_milliseconds",
		Help:      "Mean absolute difference between consecutive samples",
	}, []string{"target"})

	c.loss = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "packet_loss_percent",
		Help:      "Failed samples in the buffer, in percent",
	}, []string{"target"})

	c.probeUp = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "probe_running",
		Help:      "1 while the probe process for the target is running",
	}, []string{"target"})

	c.lastTick = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_quality_tick_timestamp_seconds",
		Help:      "Unix time of the last evaluated quality tick",
	})

	c.samples = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_total",
		Help:      "Samples parsed from probe output",
	}, []string{"target", "result"})

	c.alerts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Out of band alerts by kind",
	}, []string{"kind", "target"})

	c.transitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probe_transitions_total",
		Help:      "Probe supervisor state changes by new state",
	}, []string{"target", "state"})

	c.submissions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "telemetry_submissions_total",
		Help:      "Telemetry batch submissions by result",
	}, []string{"result"})

	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Subscribe attaches the collector to every bus event category.
func (c *Collector) Subscribe(b *bus.Bus) {
	b.SubscribeSamples(c)
	b.SubscribeQuality(c)
	b.SubscribeAlerts(c)
}

func (c *Collector) HandleSample(t sample.Target, s sample.Sample) {
	if !s.OK() {
		c.samples.WithLabelValues(t.ID, "failure").Inc()
		return
	}
	c.samples.WithLabelValues(t.ID, "success").Inc()
	if ms, ok := s.Latency(); ok {
		c.latency.WithLabelValues(t.ID).Set(ms)
	}
}

func (c *Collector) HandleQuality(q bus.QualityState) {
	for id, sev := range q.Severities {
		c.severity.WithLabelValues(id).Set(float64(sev))
	}
	for _, st := range q.Stats {
		c.average.WithLabelValues(st.Target).Set(st.Baseline.Average)
		c.jitter.WithLabelValues(st.Target).Set(st.Jitter)
		c.loss.WithLabelValues(st.Target).Set(st.PacketLoss)
	}
	c.lastTick.Set(float64(q.Time.Unix()))
}

func (c *Collector) HandleAlert(a bus.Alert) {
	c.alerts.WithLabelValues(string(a.Kind), a.Target).Inc()
}

// ProbeStateChanged is meant for probe.Options.OnStateChange.
func (c *Collector) ProbeStateChanged(t sample.Target, from, to probe.State) {
	c.transitions.WithLabelValues(t.ID, to.String()).Inc()
	if to == probe.Running {
		c.probeUp.WithLabelValues(t.ID).Set(1)
	} else {
		c.probeUp.WithLabelValues(t.ID).Set(0)
	}
}

// SubmissionResult is meant for telemetry.Batcher.OnResult.
func (c *Collector) SubmissionResult(_ telemetry.Batch, err error) {
	if err != nil {
		c.submissions.WithLabelValues("error").Inc()
		return
	}
	c.submissions.WithLabelValues("ok").Inc()
}
