package decision

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thetooth/ping-agent/bus"
	"github.com/thetooth/ping-agent/sample"
	"github.com/thetooth/ping-agent/statistics"
)

// Defaults for Options.
const (
	DefaultInterval       = 5 * time.Second
	DefaultMinSamples     = 5
	DefaultSpikeThreshold = 0.3
)

// Options controls evaluation. Zero values select the defaults.
type Options struct {
	// Interval between aggregation ticks.
	Interval time.Duration
	// Capacity of each target's sample store.
	Capacity int
	// SpikeWindow is the number of recent samples graded for spikes.
	SpikeWindow int
	// MinSamples every known target needs before a tick is evaluated.
	MinSamples int
	// SpikeThreshold is the relative increase between two replies that raises an alert.
	SpikeThreshold float64
	// SensitiveTarget is the target id watched for immediate spike and ping-fail alerts.
	SensitiveTarget string
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Capacity <= 0 {
		o.Capacity = sample.DefaultCapacity
	}
	if o.SpikeWindow <= 0 {
		o.SpikeWindow = statistics.DefaultSpikeWindow
	}
	if o.MinSamples <= 0 {
		o.MinSamples = DefaultMinSamples
	}
	if o.SpikeThreshold <= 0 {
		o.SpikeThreshold = DefaultSpikeThreshold
	}
	if o.SensitiveTarget == "" {
		o.SensitiveTarget = sample.Internet
	}
	return o
}

// Publisher receives the engine's results.
type Publisher interface {
	PublishQuality(bus.QualityState)
	PublishAlert(bus.Alert)
}

type ingestEvent struct {
	target sample.Target
	sample sample.Sample
}

// Engine owns the sample store of every target. Samples and ticks are handled
// by a single goroutine in Run, so the stores are never read and written at
// the same time.
type Engine struct {
	targets []sample.Target
	stores  map[string]*sample.Store
	opts    Options
	pub     Publisher

	ingest   chan ingestEvent
	reconfig chan Options
	stopped  chan struct{}
}

// New creates an engine for targets. The first target is the reference used
// for logging; every known target gates the tick.
func New(targets []sample.Target, pub Publisher, opts Options) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		targets:  targets,
		stores:   make(map[string]*sample.Store, len(targets)),
		opts:     opts,
		pub:      pub,
		ingest:   make(chan ingestEvent, 64),
		reconfig: make(chan Options, 1),
		stopped:  make(chan struct{}),
	}
	for _, t := range targets {
		e.stores[t.ID] = sample.NewStore(opts.Capacity)
	}
	return e
}

// HandleSample queues a sample for the engine goroutine. It blocks while the
// queue is full and returns immediately once the engine has stopped.
func (e *Engine) HandleSample(t sample.Target, s sample.Sample) {
	select {
	case e.ingest <- ingestEvent{target: t, sample: s}:
	case <-e.stopped:
	}
}

// Reconfigure swaps the evaluation thresholds from the engine goroutine. The
// store capacity is fixed at creation and is not changed.
func (e *Engine) Reconfigure(opts Options) {
	select {
	case <-e.reconfig:
	default:
	}
	select {
	case e.reconfig <- opts:
	case <-e.stopped:
	}
}

// Run processes samples and ticks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-e.ingest:
			e.Ingest(ev.target, ev.sample)

		case opts := <-e.reconfig:
			opts.Capacity = e.opts.Capacity
			opts = opts.withDefaults()
			if opts.Interval != e.opts.Interval {
				ticker.Reset(opts.Interval)
			}
			e.opts = opts
			logrus.Info("[ CONFIG_RELOAD ] engine: interval ", opts.Interval, " spike window ", opts.SpikeWindow,
				" min samples ", opts.MinSamples, " spike threshold ", opts.SpikeThreshold)

		case now := <-ticker.C:
			if q, ok := e.Tick(now); ok {
				e.pub.PublishQuality(q)
			}
		}
	}
}

// Ingest appends s to its target's store and raises the immediate alerts for
// the sensitive target.
func (e *Engine) Ingest(t sample.Target, s sample.Sample) {
	st, ok := e.stores[t.ID]
	if !ok {
		logrus.Debug("Sample for unmonitored target: ", t)
		return
	}
	st.Append(s)

	if t.ID != e.opts.SensitiveTarget {
		return
	}
	if !s.OK() {
		logrus.Debug("[ PING_FAIL ] target: ", t)
		e.pub.PublishAlert(bus.Alert{Kind: bus.AlertPingFail, Time: s.Timestamp, Target: t.ID})
		return
	}
	if a, ok := checkLastSpike(t, st, e.opts.SpikeThreshold); ok {
		e.pub.PublishAlert(a)
	}
}

// Store exposes a target's store to code running on the engine goroutine.
func (e *Engine) Store(id string) (*sample.Store, bool) {
	st, ok := e.stores[id]
	return st, ok
}
