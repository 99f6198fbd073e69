package statistics_test

import (
	"testing"

	"github.com/thetooth/ping-agent/statistics"
)

func TestSpikeAllFailed(t *testing.T) {
	values := []float64{12, 14, 0, 0, 0, 0, 0}
	b := statistics.Compute(values)
	if sev := statistics.Spike(values, b, 5); sev != statistics.NoService {
		t.Errorf("Spike() = %v, want %v", sev, statistics.NoService)
	}
}

func TestSpikeSteady(t *testing.T) {
	values := []float64{10, 10, 10, 10, 10}
	b := statistics.Compute(values)
	if b.Average != 10 {
		t.Fatalf("average = %v", b.Average)
	}
	if sev := statistics.Spike(values, b, 5); sev != statistics.Normal {
		t.Errorf("Spike() = %v, want %v", sev, statistics.Normal)
	}
}

func TestSpikeFailureRate(t *testing.T) {
	b := statistics.Baseline{Average: 10, High: 10, Low: 10}
	tests := []struct {
		name     string
		values   []float64
		expected statistics.Severity
	}{
		{"four of five failed", []float64{10, 0, 0, 0, 0}, statistics.High},
		{"two of five failed", []float64{10, 0, 10, 0, 10}, statistics.Medium},
		{"one of five failed", []float64{10, 10, 0, 10, 10}, statistics.Normal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if sev := statistics.Spike(tt.values, b, 5); sev != tt.expected {
				t.Errorf("Spike(%v) = %v, want %v", tt.values, sev, tt.expected)
			}
		})
	}
}

// The fold only ever lowers the grade, so the lowest bucket in the window wins
// regardless of where the mild sample sits.
func TestSpikeFoldOrder(t *testing.T) {
	b := statistics.Baseline{Average: 90, High: 100, Low: 80}
	tests := []struct {
		name     string
		values   []float64
		expected statistics.Severity
	}{
		{"all severe", []float64{170, 180, 200, 190, 170}, statistics.High},
		{"all medium", []float64{140, 150, 160, 140, 150}, statistics.Medium},
		{"all low", []float64{110, 120, 125, 115, 105}, statistics.Low},
		{"severe then mild", []float64{200, 200, 200, 200, 110}, statistics.Low},
		{"mild then severe", []float64{110, 200, 200, 200, 200}, statistics.Low},
		{"medium then severe", []float64{150, 200, 200, 200, 200}, statistics.Medium},
		{"one below band", []float64{200, 200, 90, 200, 200}, statistics.Normal},
		{"exactly at band", []float64{200, 200, 200, 200, 100}, statistics.Normal},
		{"failure ignored in fold", []float64{200, 0, 150, 150, 150}, statistics.Medium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if sev := statistics.Spike(tt.values, b, 5); sev != tt.expected {
				t.Errorf("Spike(%v) = %v, want %v", tt.values, sev, tt.expected)
			}
		})
	}
}

func TestSpikeWindow(t *testing.T) {
	b := statistics.Baseline{Average: 90, High: 100, Low: 80}
	// only the last three samples are graded
	values := []float64{50, 50, 200, 200, 200}
	if sev := statistics.Spike(values, b, 3); sev != statistics.High {
		t.Errorf("Spike() = %v, want %v", sev, statistics.High)
	}
	if sev := statistics.Spike(nil, b, 5); sev != statistics.Normal {
		t.Errorf("empty window = %v, want %v", sev, statistics.Normal)
	}
}

func TestJitter(t *testing.T) {
	if j := statistics.Jitter([]float64{10, 10, 10, 10, 10}); j != 0 {
		t.Errorf("Jitter(flat) = %v", j)
	}
	if sev := statistics.JitterSeverity(statistics.Jitter([]float64{10, 10, 10, 10, 10})); sev != statistics.Normal {
		t.Errorf("flat jitter severity = %v", sev)
	}

	alternating := []float64{10, 90, 10, 90}
	j := statistics.Jitter(alternating)
	if j != 60 {
		t.Errorf("Jitter(%v) = %v, want 60", alternating, j)
	}
	if sev := statistics.JitterSeverity(j); sev < statistics.Medium {
		t.Errorf("alternating jitter severity = %v, want at least %v", sev, statistics.Medium)
	}

	// the pair ending in a failure is skipped, the divisor is still the full length
	if j := statistics.Jitter([]float64{10, 0, 30, 50}); j != 50.0/4 {
		t.Errorf("Jitter with failure = %v", j)
	}
	if j := statistics.Jitter(nil); j != 0 {
		t.Errorf("Jitter(nil) = %v", j)
	}
}

func TestJitterSeverity(t *testing.T) {
	tests := []struct {
		jitter   float64
		expected statistics.Severity
	}{
		{0, statistics.Normal},
		{20, statistics.Normal},
		{20.1, statistics.Low},
		{50, statistics.Low},
		{80, statistics.Medium},
		{80.5, statistics.High},
		{500, statistics.High},
	}
	for _, tt := range tests {
		if sev := statistics.JitterSeverity(tt.jitter); sev != tt.expected {
			t.Errorf("JitterSeverity(%v) = %v, want %v", tt.jitter, sev, tt.expected)
		}
	}
}

func TestSeverityString(t *testing.T) {
	if statistics.NoService.String() != "no-service" || statistics.Normal.String() != "normal" {
		t.Error("unexpected severity names")
	}
}
