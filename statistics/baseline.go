package statistics

import "math"

// Baseline is the statistical band around the mean latency of a window.
type Baseline struct {
	Average float64 `json:"average"`
	High    float64 `json:"high"`
	Low     float64 `json:"low"`
	// StdError is twice the standard error of the mean.
	StdError float64 `json:"std_error"`
}

// Compute derives the baseline from the entire window. Failures are expected as
// zero values and take part in the mean. A window summing to zero has no data
// yet and yields a zero baseline.
func Compute(values []float64) (b Baseline) {
	var total float64
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		total += v
	}
	if total == 0 {
		return
	}

	n := float64(len(values))
	b.Average = total / n

	// A single value has no spread
	if len(values) > 1 {
		var diff float64
		for _, v := range values {
			if math.IsNaN(v) {
				v = 0
			}
			diff += (b.Average - v) * (b.Average - v)
		}
		stdDev := math.Sqrt(diff / (n - 1))
		b.StdError = stdDev / math.Sqrt(n) * 2
	}

	b.High = b.Average + b.StdError
	b.Low = b.Average - b.StdError

	return
}

// Spread is how far the high band sits above the average, in percent.
func (b Baseline) Spread() float64 {
	if b.Average == 0 {
		return 0
	}
	return (b.High/b.Average - 1) * 100
}
