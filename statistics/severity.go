package statistics

import "strconv"

// Severity grades the quality of a target from Normal to NoService.
type Severity uint8

const (
	Normal Severity = iota
	Low
	Medium
	High
	NoService
)

var severityNames = [...]string{"normal", "low", "medium", "high", "no-service"}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return "severity(" + strconv.Itoa(int(s)) + ")"
}

// Deviation bounds relative to the high baseline.
const (
	LowDeviation  = 0.30
	HighDeviation = 0.65
)

// Jitter bounds in milliseconds.
const (
	JitterNormal = 20.0
	JitterLow    = 50.0
	JitterMedium = 80.0
)

// DefaultSpikeWindow is how many of the most recent samples are graded for spikes.
const DefaultSpikeWindow = 5

// Spike grades the last window values against the baseline. Zero values are
// failed probes: a window made only of failures means no service, and failure
// rates above HighDeviation and LowDeviation map to High and Medium.
//
// Otherwise the successful samples are folded oldest to newest starting from
// High. Each sample can only move the grade down to its own deviation bucket,
// so the result is the lowest bucket any sample reached.
func Spike(values []float64, b Baseline, window int) Severity {
	if window < 1 {
		window = DefaultSpikeWindow
	}
	recent := values
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	if len(recent) == 0 {
		return Normal
	}

	var fails int
	for _, v := range recent {
		if v == 0 {
			fails++
		}
	}
	if fails == len(recent) {
		return NoService
	}
	failRate := float64(fails) / float64(len(recent))
	if failRate > HighDeviation {
		return High
	}
	if failRate > LowDeviation {
		return Medium
	}

	severity := High
	for _, v := range recent {
		if v == 0 {
			continue
		}

		var deviation float64
		if v >= b.High {
			deviation = v/b.High - 1
		}

		switch {
		case deviation == 0:
			severity = Normal
		case deviation <= LowDeviation && severity >= Low:
			severity = Low
		case deviation <= HighDeviation && deviation > LowDeviation && severity >= Medium:
			severity = Medium
		case deviation > HighDeviation && severity >= High:
			severity = High
		}
	}

	return severity
}

// Jitter is the mean absolute difference between consecutive values. Pairs
// ending in a failure are skipped but still count towards the divisor.
func Jitter(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var total float64
	for i := 1; i < len(values); i++ {
		if values[i] == 0 {
			continue
		}
		diff := values[i-1] - values[i]
		if diff < 0 {
			diff = -diff
		}
		total += diff
	}
	if total == 0 {
		return 0
	}

	return total / float64(len(values))
}

// JitterSeverity maps a jitter value in milliseconds onto Normal through High.
func JitterSeverity(jitter float64) Severity {
	switch {
	case jitter <= JitterNormal:
		return Normal
	case jitter <= JitterLow:
		return Low
	case jitter <= JitterMedium:
		return Medium
	default:
		return High
	}
}

// Max returns the worse of the two grades.
func Max(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}
