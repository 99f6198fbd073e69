package bus_test

import (
	"sync"
	"testing"

	"github.com/thetooth/ping-agent/bus"
	"github.com/thetooth/ping-agent/sample"
	"github.com/thetooth/ping-agent/statistics"
)

func TestPublishOrder(t *testing.T) {
	b := bus.New()

	var got []string
	b.SubscribeSamples(bus.SampleFunc(func(tgt sample.Target, s sample.Sample) {
		got = append(got, "first:"+tgt.ID)
	}))
	b.SubscribeSamples(bus.SampleFunc(func(tgt sample.Target, s sample.Sample) {
		got = append(got, "second:"+tgt.ID)
	}))

	b.PublishSample(sample.Target{ID: sample.Local}, sample.Sample{})
	if len(got) != 2 || got[0] != "first:local" || got[1] != "second:local" {
		t.Errorf("handlers ran as %v", got)
	}
}

func TestPublishQualityAndAlert(t *testing.T) {
	b := bus.New()

	var q bus.QualityState
	var a bus.Alert
	b.SubscribeQuality(bus.QualityFunc(func(s bus.QualityState) { q = s }))
	b.SubscribeAlerts(bus.AlertFunc(func(al bus.Alert) { a = al }))

	b.PublishQuality(bus.QualityState{Severities: map[string]statistics.Severity{sample.Internet: statistics.High}})
	b.PublishAlert(bus.Alert{Kind: bus.AlertSpike, Target: sample.Internet})

	if q.Severities[sample.Internet] != statistics.High {
		t.Errorf("quality state not delivered: %+v", q)
	}
	if a.Kind != bus.AlertSpike {
		t.Errorf("alert not delivered: %+v", a)
	}
}

func TestShutdownOnce(t *testing.T) {
	b := bus.New()

	var order []int
	b.OnShutdown(func() { order = append(order, 1) })
	b.OnShutdown(func() { order = append(order, 2) })

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Shutdown()
		}()
	}
	wg.Wait()

	select {
	case <-b.Done():
	default:
		t.Error("Done() not closed")
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("shutdown hooks ran as %v", order)
	}
}
