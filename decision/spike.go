package decision

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/thetooth/ping-agent/bus"
	"github.com/thetooth/ping-agent/sample"
)

// checkLastSpike compares the newest sample with the one before it. Both must
// be replies and the increase must exceed threshold.
func checkLastSpike(t sample.Target, st *sample.Store, threshold float64) (a bus.Alert, ok bool) {
	if st.Len() < 2 {
		return
	}
	last, _ := st.At(-1)
	previous, _ := st.At(-2)

	cur, curOK := last.Latency()
	prev, prevOK := previous.Latency()
	if !curOK || !prevOK || prev <= 0 || cur <= prev {
		return
	}

	diff := (cur - prev) / prev
	if diff <= threshold {
		return
	}

	logrus.Info(fmt.Sprintf("[ SPIKE ] target: %s percent: %.2f%% last ping: %.2fms previous ping: %.2fms",
		t.ID, diff*100, cur, prev))

	return bus.Alert{
		Kind:        bus.AlertSpike,
		Time:        last.Timestamp,
		Target:      t.ID,
		PercentDiff: diff,
		Latency:     cur,
		Previous:    prev,
	}, true
}
