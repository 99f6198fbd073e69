package probe_test

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thetooth/ping-agent/probe"
	"github.com/thetooth/ping-agent/sample"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.ErrorLevel)
	os.Exit(m.Run())
}

// fakeProcess writes output then either exits or blocks until killed.
type fakeProcess struct {
	stdout io.Reader
	wait   func() error
}

func (p *fakeProcess) Stdout() io.Reader { return p.stdout }
func (p *fakeProcess) Stderr() io.Reader { return strings.NewReader("") }
func (p *fakeProcess) Wait() error       { return p.wait() }

type fakeSpawner struct {
	spawns  atomic.Int64
	fail    atomic.Bool
	output  string
	persist bool
}

func (f *fakeSpawner) Spawn(ctx context.Context, name string, args ...string) (probe.Process, error) {
	f.spawns.Add(1)
	if f.fail.Load() {
		return nil, errors.New("exec: \"ping\": executable file not found in $PATH")
	}
	if !f.persist {
		return &fakeProcess{stdout: strings.NewReader(f.output), wait: func() error { return nil }}, nil
	}

	pr, pw := io.Pipe()
	go io.WriteString(pw, f.output)
	go func() {
		<-ctx.Done()
		pw.Close()
	}()
	return &fakeProcess{stdout: pr, wait: func() error { return ctx.Err() }}, nil
}

type collector struct {
	mu      sync.Mutex
	samples []sample.Sample
}

func (c *collector) PublishSample(_ sample.Target, s sample.Sample) {
	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

var target = sample.Target{ID: sample.Internet, Address: "8.8.8.8"}

const output = "PING 8.8.8.8 (8.8.8.8) 56(84) bytes of data.\n" +
	"64 bytes from 8.8.8.8: icmp_seq=1 ttl=117 time=14.2 ms\n" +
	"no answer yet for icmp_seq=2\n"

func TestSupervisorRelaunchesUntilStopped(t *testing.T) {
	spawner := &fakeSpawner{output: output}
	c := &collector{}
	sup := probe.NewSupervisor(target, c, probe.Options{Spawner: spawner})

	done := make(chan error, 1)
	go func() {
		done <- sup.Run(context.Background())
	}()

	waitFor(t, "repeated relaunches", func() bool { return spawner.spawns.Load() >= 10 })

	sup.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	spawned := spawner.spawns.Load()
	time.Sleep(20 * time.Millisecond)
	if spawner.spawns.Load() != spawned {
		t.Error("probe was spawned after Stop")
	}
	if sup.State() != probe.Stopped {
		t.Errorf("State() = %v, want %v", sup.State(), probe.Stopped)
	}
	if c.len() < 2 {
		t.Errorf("expected samples from the relaunched probes, got %d", c.len())
	}

	// stopping twice is harmless
	sup.Stop()
}

func TestSupervisorPublishesSamples(t *testing.T) {
	spawner := &fakeSpawner{output: output, persist: true}
	c := &collector{}
	sup := probe.NewSupervisor(target, c, probe.Options{Spawner: spawner})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sup.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "two samples", func() bool { return c.len() == 2 })

	if sup.State() != probe.Running {
		t.Errorf("State() = %v, want %v", sup.State(), probe.Running)
	}

	c.mu.Lock()
	first, second := c.samples[0], c.samples[1]
	c.mu.Unlock()
	if v, ok := first.Latency(); !ok || v != 14.2 {
		t.Errorf("first sample latency = %v, %v", v, ok)
	}
	if second.OK() || second.Address != target.Address {
		t.Errorf("second sample = %+v, want a failure for %s", second, target.Address)
	}

	sup.Stop()
	waitFor(t, "stopped state", func() bool { return sup.State() == probe.Stopped })
	if spawner.spawns.Load() != 1 {
		t.Errorf("spawns = %d, want 1", spawner.spawns.Load())
	}
}

func TestSupervisorRetriesSpawnFailure(t *testing.T) {
	spawner := &fakeSpawner{output: output, persist: true}
	spawner.fail.Store(true)
	sup := probe.NewSupervisor(target, &collector{}, probe.Options{
		Spawner:      spawner,
		RestartDelay: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var spawnErr *probe.SpawnError
	if err := sup.Start(ctx); !errors.As(err, &spawnErr) {
		t.Fatalf("Start() = %v, want a spawn error", err)
	}

	waitFor(t, "retries", func() bool { return spawner.spawns.Load() >= 3 })
	spawner.fail.Store(false)
	waitFor(t, "recovery", func() bool { return sup.State() == probe.Running })

	cancel()
	waitFor(t, "stopped state", func() bool { return sup.State() == probe.Stopped })
	if sup.Launches() != 1 {
		t.Errorf("Launches() = %d, want 1", sup.Launches())
	}
}

func TestSupervisorStopDuringBackoff(t *testing.T) {
	spawner := &fakeSpawner{}
	spawner.fail.Store(true)
	sup := probe.NewSupervisor(target, &collector{}, probe.Options{
		Spawner:      spawner,
		RestartDelay: time.Hour,
	})

	done := make(chan error, 1)
	go func() {
		done <- sup.Run(context.Background())
	}()
	waitFor(t, "first attempt", func() bool { return spawner.spawns.Load() == 1 })

	sup.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not interrupt the retry delay")
	}
	if spawner.spawns.Load() != 1 {
		t.Errorf("spawns = %d, want 1", spawner.spawns.Load())
	}
}

func TestArgs(t *testing.T) {
	if got := strings.Join(probe.Args("linux", "1.1.1.1"), " "); got != "-n -O 1.1.1.1" {
		t.Errorf("linux args = %q", got)
	}
	if got := strings.Join(probe.Args("darwin", "1.1.1.1"), " "); got != "-n 1.1.1.1" {
		t.Errorf("darwin args = %q", got)
	}
}
