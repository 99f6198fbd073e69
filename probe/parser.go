package probe

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/thetooth/ping-agent/sample"
)

// Banner is the prefix of the header line ping prints on start.
const Banner = "PING "

// failure markers as printed by iputils and BSD ping
var failureMarkers = []struct {
	marker string
	reason string
}{
	{"Request timeout", "timeout"},
	{"Request timed out", "timeout"},
	{"no answer yet", "timeout"},
	{"Destination Host Unreachable", "unreachable"},
	{"Destination Net Unreachable", "unreachable"},
	{"Destination Port Unreachable", "unreachable"},
	{"Destination Host Prohibited", "unreachable"},
	{"Time to live exceeded", "ttl exceeded"},
	{"Time to Live exceeded", "ttl exceeded"},
}

// Parse converts a single line of ping output into a sample. The second return
// is false for anything that does not describe an echo: the banner, blank
// lines and the trailing statistics.
//
// Reply lines are read positionally, "64 bytes from 8.8.8.8: icmp_seq=1 ttl=117 time=14.2 ms".
// Fields that are missing are left as NaN/-1 rather than rejecting the line.
func Parse(line string, now time.Time) (sample.Sample, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, Banner) {
		return sample.Sample{}, false
	}

	parts := strings.Fields(line)
	if len(parts) >= 4 && parts[1] == "bytes" && parts[2] == "from" {
		r := sample.Success{Latency: math.NaN(), Seq: -1, Bytes: -1}
		if n, err := strconv.Atoi(parts[0]); err == nil {
			r.Bytes = n
		}
		for _, p := range parts[4:] {
			switch {
			case strings.HasPrefix(p, "icmp_seq="):
				if n, err := strconv.Atoi(p[len("icmp_seq="):]); err == nil {
					r.Seq = n
				}
			case strings.HasPrefix(p, "time="), strings.HasPrefix(p, "time<"):
				if f, err := strconv.ParseFloat(strings.TrimSuffix(p[len("time="):], "ms"), 64); err == nil {
					r.Latency = f
				}
			}
		}
		return sample.Sample{
			Timestamp: now,
			Address:   strings.TrimSuffix(parts[3], ":"),
			Result:    r,
		}, true
	}

	for _, f := range failureMarkers {
		if strings.Contains(line, f.marker) {
			return sample.Sample{Timestamp: now, Result: sample.Failure{Reason: f.reason}}, true
		}
	}

	return sample.Sample{}, false
}
