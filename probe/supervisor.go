package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/thetooth/ping-agent/sample"
)

// DefaultRestartDelay is the wait between failed spawn attempts.
const DefaultRestartDelay = 2 * time.Second

// State of a supervised probe.
type State int32

const (
	Starting State = iota
	Running
	Restarting
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Restarting:
		return "restarting"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Publisher receives every sample a probe produces.
type Publisher interface {
	PublishSample(sample.Target, sample.Sample)
}

// SpawnError wraps a failure to start the probe process at all.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string { return "spawn probe: " + e.Err.Error() }
func (e *SpawnError) Unwrap() error { return e.Err }

// Options tune a Supervisor. Zero values select the defaults.
type Options struct {
	Command      string
	Args         []string
	RestartDelay time.Duration
	Spawner      Spawner

	// OnStateChange is called from the supervisor goroutine on every transition.
	OnStateChange func(target sample.Target, from, to State)
}

// Supervisor keeps exactly one probe process alive for a target. Ordinary exits
// are relaunched straight away, spawn failures are retried after RestartDelay,
// and nothing is launched once Stop has been called.
type Supervisor struct {
	Target sample.Target

	command      string
	args         []string
	restartDelay time.Duration
	spawner      Spawner
	publisher    Publisher
	onState      func(sample.Target, State, State)

	state    atomic.Int32
	launches atomic.Int64

	// Channel and mutex used to communicate when the Supervisor should stop between goroutines.
	done   chan interface{}
	lock   sync.Mutex
	cancel context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once
	spawnErr  chan error
}

// NewSupervisor returns a supervisor for target publishing into p.
func NewSupervisor(target sample.Target, p Publisher, opts Options) *Supervisor {
	s := &Supervisor{
		Target:       target,
		command:      opts.Command,
		args:         opts.Args,
		restartDelay: opts.RestartDelay,
		spawner:      opts.Spawner,
		publisher:    p,
		onState:      opts.OnStateChange,
		done:         make(chan interface{}),
		ready:        make(chan struct{}),
		spawnErr:     make(chan error, 1),
	}
	if s.command == "" {
		s.command = Command
	}
	if s.args == nil {
		s.args = DefaultArgs(target.Address)
	}
	if s.restartDelay <= 0 {
		s.restartDelay = DefaultRestartDelay
	}
	if s.spawner == nil {
		s.spawner = ExecSpawner{}
	}
	return s
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Launches is the number of processes successfully spawned so far.
func (s *Supervisor) Launches() int64 {
	return s.launches.Load()
}

// Ready is closed once the first output line has been read.
func (s *Supervisor) Ready() <-chan struct{} {
	return s.ready
}

func (s *Supervisor) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from != to && s.onState != nil {
		s.onState(s.Target, from, to)
	}
}

// Start runs the supervisor in the background and returns once the probe has
// produced its first line. If the first spawn fails the error is returned while
// the supervisor keeps retrying.
func (s *Supervisor) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.Run(ctx)
	}()

	select {
	case <-s.ready:
		return nil
	case err := <-s.spawnErr:
		return err
	case err := <-errc:
		if err == nil {
			err = errors.New("probe stopped before producing output")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run blocks supervising the probe until Stop is called or ctx is done. Probe
// failures never end Run.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(Stopped)

	for {
		if s.stopping(ctx) {
			return nil
		}
		s.setState(Starting)

		err := s.runOnce(ctx)
		if s.stopping(ctx) {
			return nil
		}
		s.setState(Restarting)

		var spawnErr *SpawnError
		if errors.As(err, &spawnErr) {
			logrus.Error("[ PROBE_SPAWN_FAIL ] target: ", s.Target, " error: ", err, " retry in: ", s.restartDelay)
			select {
			case s.spawnErr <- err:
			default:
			}

			t := time.NewTimer(s.restartDelay)
			select {
			case <-t.C:
			case <-s.done:
				t.Stop()
			case <-ctx.Done():
				t.Stop()
			}
			continue
		}

		logrus.Info("[ PROBE_EXIT ] target: ", s.Target, " status: ", exitStatus(err), ". Attempting restart...")
	}
}

func (s *Supervisor) runOnce(ctx context.Context) error {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Spawning under the lock guarantees Stop either sees the live process or
	// prevents the launch altogether.
	s.lock.Lock()
	select {
	case <-s.done:
		s.lock.Unlock()
		return nil
	default:
	}
	proc, err := s.spawner.Spawn(pctx, s.command, s.args...)
	if err != nil {
		s.lock.Unlock()
		return &SpawnError{Err: err}
	}
	s.cancel = cancel
	s.lock.Unlock()

	defer func() {
		s.lock.Lock()
		s.cancel = nil
		s.lock.Unlock()
	}()

	s.launches.Add(1)
	s.setState(Running)
	logrus.Info("[ PROBE_START ] target: ", s.Target, " args: ", s.args)

	var g errgroup.Group
	g.Go(func() error {
		return s.drainStderr(proc.Stderr())
	})
	g.Go(func() error {
		return s.readStdout(proc.Stdout())
	})
	if err := g.Wait(); err != nil {
		logrus.Debug("[ PROBE_READ ] target: ", s.Target, " error: ", err)
	}

	return proc.Wait()
}

func (s *Supervisor) readStdout(r io.Reader) error {
	if r == nil {
		return nil
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		s.readyOnce.Do(func() { close(s.ready) })
		logrus.Trace("[ PROBE_LINE ] target: ", s.Target.ID, " line: ", line)

		smp, ok := Parse(line, time.Now())
		if !ok {
			continue
		}
		if smp.Address == "" {
			smp.Address = s.Target.Address
		}
		s.publisher.PublishSample(s.Target, smp)
	}
	return scanner.Err()
}

func (s *Supervisor) drainStderr(r io.Reader) error {
	if r == nil {
		return nil
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logrus.Info("[ PROBE_STDERR ] target: ", s.Target.ID, " ", scanner.Text())
	}
	return scanner.Err()
}

// Stop terminates the live probe and suppresses any further relaunch. It is
// safe to call more than once and from any goroutine.
func (s *Supervisor) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}
	if s.cancel != nil {
		s.cancel()
	}
	logrus.Info("[ PROBE_STOP ] target: ", s.Target)
}

func (s *Supervisor) stopping(ctx context.Context) bool {
	select {
	case <-s.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func exitStatus(err error) string {
	if err == nil {
		return "exit 0"
	}
	return err.Error()
}
