// Package bus is the in-process dispatch layer between probes, the quality
// engine and the consumers of its results. Each event category has its own
// typed handler so payload shapes are checked at compile time.
package bus

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thetooth/ping-agent/sample"
	"github.com/thetooth/ping-agent/statistics"
)

// QualityState is published once per aggregation tick.
type QualityState struct {
	Time       time.Time                      `json:"time"`
	Severities map[string]statistics.Severity `json:"state"`
	Stats      []statistics.TargetStat        `json:"stats"`
}

// AlertKind identifies an out-of-band event.
type AlertKind string

const (
	// AlertSpike is a sudden latency increase between two consecutive replies.
	AlertSpike AlertKind = "spike"
	// AlertPingFail is a failed probe on the latency sensitive target.
	AlertPingFail AlertKind = "ping_fail"
)

// Alert is published as soon as a sample warrants it, between ticks.
type Alert struct {
	Kind        AlertKind `json:"type"`
	Time        time.Time `json:"time"`
	Target      string    `json:"target"`
	PercentDiff float64   `json:"percent_diff,omitempty"`
	Latency     float64   `json:"latency,omitempty"`
	Previous    float64   `json:"previous,omitempty"`
}

type SampleHandler interface {
	HandleSample(sample.Target, sample.Sample)
}

type QualityHandler interface {
	HandleQuality(QualityState)
}

type AlertHandler interface {
	HandleAlert(Alert)
}

// SampleFunc adapts a function to SampleHandler.
type SampleFunc func(sample.Target, sample.Sample)

func (f SampleFunc) HandleSample(t sample.Target, s sample.Sample) { f(t, s) }

// QualityFunc adapts a function to QualityHandler.
type QualityFunc func(QualityState)

func (f QualityFunc) HandleQuality(q QualityState) { f(q) }

// AlertFunc adapts a function to AlertHandler.
type AlertFunc func(Alert)

func (f AlertFunc) HandleAlert(a Alert) { f(a) }

// Bus fans events out to subscribers synchronously, in subscription order.
// Subscriptions are expected during setup; publishing is safe from any goroutine.
type Bus struct {
	mu       sync.RWMutex
	samples  []SampleHandler
	quality  []QualityHandler
	alerts   []AlertHandler
	shutdown []func()

	done         chan struct{}
	shutdownOnce sync.Once
}

func New() *Bus {
	return &Bus{done: make(chan struct{})}
}

func (b *Bus) SubscribeSamples(h SampleHandler) {
	b.mu.Lock()
	b.samples = append(b.samples, h)
	b.mu.Unlock()
}

func (b *Bus) SubscribeQuality(h QualityHandler) {
	b.mu.Lock()
	b.quality = append(b.quality, h)
	b.mu.Unlock()
}

func (b *Bus) SubscribeAlerts(h AlertHandler) {
	b.mu.Lock()
	b.alerts = append(b.alerts, h)
	b.mu.Unlock()
}

// OnShutdown registers fn to run when Shutdown is first called. Hooks run in
// reverse registration order.
func (b *Bus) OnShutdown(fn func()) {
	b.mu.Lock()
	b.shutdown = append(b.shutdown, fn)
	b.mu.Unlock()
}

// PublishSample delivers a sample-received event.
func (b *Bus) PublishSample(t sample.Target, s sample.Sample) {
	b.mu.RLock()
	handlers := b.samples
	b.mu.RUnlock()

	for _, h := range handlers {
		h.HandleSample(t, s)
	}
}

// PublishQuality delivers a quality-state event.
func (b *Bus) PublishQuality(q QualityState) {
	b.mu.RLock()
	handlers := b.quality
	b.mu.RUnlock()

	for _, h := range handlers {
		h.HandleQuality(q)
	}
}

// PublishAlert delivers an out-of-band alert.
func (b *Bus) PublishAlert(a Alert) {
	b.mu.RLock()
	handlers := b.alerts
	b.mu.RUnlock()

	for _, h := range handlers {
		h.HandleAlert(a)
	}
}

// Shutdown runs the shutdown hooks exactly once, no matter how many triggers
// fire or from where.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		logrus.Info("[ SHUTDOWN ] stopping all components")
		close(b.done)

		b.mu.RLock()
		hooks := b.shutdown
		b.mu.RUnlock()

		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}
	})
}

// Done is closed once Shutdown has been called.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}
