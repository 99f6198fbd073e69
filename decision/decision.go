package decision

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thetooth/ping-agent/bus"
	"github.com/thetooth/ping-agent/sample"
	"github.com/thetooth/ping-agent/statistics"
)

// Tick grades every known target over its full window. Nothing is produced
// until each known target holds at least MinSamples samples.
func (e *Engine) Tick(now time.Time) (q bus.QualityState, ok bool) {
	known := 0
	for _, t := range e.targets {
		if !sample.IsKnown(t.ID) {
			continue
		}
		known++
		if e.stores[t.ID].Len() < e.opts.MinSamples {
			logrus.Trace("Not enough samples for ", t.ID, ": ", e.stores[t.ID].Len())
			return
		}
	}
	if known == 0 {
		return
	}

	q = bus.QualityState{
		Time:       now,
		Severities: make(map[string]statistics.Severity, known),
	}
	for _, t := range e.targets {
		// Unknown targets should never be configured, skip them if they are
		if !sample.IsKnown(t.ID) {
			continue
		}

		values := e.stores[t.ID].Latencies()
		s := statistics.Evaluate(t.ID, t.Address, values, e.opts.SpikeWindow)

		logrus.Info(fmt.Sprintf("[ QUALITY ] id: %s spikeSev: %d jitterSev: %d jitter: %.2fms avg: %.2f high: %.2f low: %.2f (%.2f%%)",
			t.ID, s.SpikeSeverity, s.JitterSeverity, s.Jitter,
			s.Baseline.Average, s.Baseline.High, s.Baseline.Low, s.Baseline.Spread()))

		q.Severities[t.ID] = s.Severity
		q.Stats = append(q.Stats, s)
	}

	return q, true
}
