package statistics

import (
	"math"
)

// TargetStat is the evaluation of a single target's window.
type TargetStat struct {
	Target  string `json:"target"`
	Address string `json:"address"`

	Samples    int     `json:"samples"`
	Failures   int     `json:"failures"`
	PacketLoss float64 `json:"packet_loss"`
	MinRtt     float64 `json:"min_rtt"`
	MaxRtt     float64 `json:"max_rtt"`
	LastRtt    float64 `json:"last_rtt"`

	Baseline Baseline `json:"baseline"`
	Jitter   float64  `json:"jitter"`

	SpikeSeverity  Severity `json:"spike_severity"`
	JitterSeverity Severity `json:"jitter_severity"`
	Severity       Severity `json:"severity"`
}

// Evaluate runs the baseline and both classifiers over values, zero meaning a
// failed probe, and combines them into a single grade.
func Evaluate(target, address string, values []float64, spikeWindow int) TargetStat {
	s := TargetStat{
		Target:  target,
		Address: address,
		Samples: len(values),
	}

	var recv int
	for i, v := range values {
		if v == 0 {
			s.Failures++
			continue
		}
		if recv == 0 || v < s.MinRtt {
			s.MinRtt = v
		}
		s.MaxRtt = math.Max(s.MaxRtt, v)
		if i == len(values)-1 {
			s.LastRtt = v
		}
		recv++
	}
	if len(values) > 0 {
		s.PacketLoss = float64(s.Failures) / float64(len(values)) * 100
	}

	s.Baseline = Compute(values)
	s.Jitter = Jitter(values)
	s.SpikeSeverity = Spike(values, s.Baseline, spikeWindow)
	s.JitterSeverity = JitterSeverity(s.Jitter)
	s.Severity = Max(s.SpikeSeverity, s.JitterSeverity)

	return s
}
