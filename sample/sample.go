package sample

import (
	"encoding/json"
	"math"
	"time"
)

// Well known target identifiers
const (
	Local    = "local"
	Gateway  = "gateway"
	Internet = "internet"
)

// KnownTargets lists the identifiers the quality model understands, in display order.
var KnownTargets = []string{Local, Gateway, Internet}

// IsKnown reports whether id is one of KnownTargets.
func IsKnown(id string) bool {
	for _, k := range KnownTargets {
		if k == id {
			return true
		}
	}
	return false
}

// Target is the immutable identity of a probed address.
type Target struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

func (t Target) String() string {
	return t.ID + "(" + t.Address + ")"
}

// Result is either a Success or a Failure.
type Result interface {
	isResult()
}

// Success is an echo reply.
type Success struct {
	// Latency is the round trip time in milliseconds, NaN when the reply line carried no time.
	Latency float64
	Seq     int
	Bytes   int
}

// Failure is a timed out or unreachable echo.
type Failure struct {
	Reason string
}

func (Success) isResult() {}
func (Failure) isResult() {}

// Sample is one structured observation derived from a single probe output line.
type Sample struct {
	Timestamp time.Time
	Address   string
	Result    Result
}

// OK reports whether the sample is a usable echo reply.
func (s Sample) OK() bool {
	_, ok := s.Latency()
	return ok
}

// Latency returns the round trip in milliseconds. Failures and replies without a
// parseable time report false.
func (s Sample) Latency() (float64, bool) {
	r, ok := s.Result.(Success)
	if !ok || math.IsNaN(r.Latency) {
		return 0, false
	}
	return r.Latency, true
}

// Value is the latency as used by the classifiers, zero for anything that is not a reply.
func (s Sample) Value() float64 {
	v, _ := s.Latency()
	return v
}

type wireSample struct {
	Timestamp time.Time `json:"timestamp"`
	TargetIP  string    `json:"target_ip"`
	Success   bool      `json:"ping_success"`
	Time      float64   `json:"time"`
	Seq       *int      `json:"icmp_seq,omitempty"`
	Bytes     *int      `json:"bytes,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// MarshalJSON flattens the sample into the collector's record layout.
func (s Sample) MarshalJSON() ([]byte, error) {
	w := wireSample{
		Timestamp: s.Timestamp,
		TargetIP:  s.Address,
	}
	switch r := s.Result.(type) {
	case Success:
		w.Success = true
		w.Time = s.Value()
		seq, bytes := r.Seq, r.Bytes
		w.Seq, w.Bytes = &seq, &bytes
	case Failure:
		w.Reason = r.Reason
	}
	return json.Marshal(w)
}
