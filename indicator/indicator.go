// Package indicator forwards quality states and alerts to the status LED helper.
// The helper reads one JSON message per line on stdin and owns all rendering.
package indicator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/thetooth/ping-agent/bus"
	"github.com/thetooth/ping-agent/statistics"
)

// DefaultKeepAlive is the period of the keep-alive animation.
const DefaultKeepAlive = 2 * time.Minute

// Options for the helper process.
type Options struct {
	Command    string
	Pixels     int
	WaitMs     int
	Brightness int
	KeepAlive  time.Duration
}

func (o Options) args() []string {
	return []string{
		strconv.Itoa(o.Pixels),
		strconv.Itoa(o.WaitMs),
		strconv.Itoa(o.Brightness),
		"true",
	}
}

func clamp(o Options) Options {
	if o.Pixels <= 0 {
		o.Pixels = 8
	}
	if o.WaitMs < 0 {
		o.WaitMs = 0
	}
	o.Brightness = ClampBrightness(o.Brightness)
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	return o
}

// ClampBrightness limits b to 0..100.
func ClampBrightness(b int) int {
	if b < 0 {
		return 0
	}
	if b > 100 {
		return 100
	}
	return b
}

type setLED struct {
	Type  string                         `json:"type"`
	State map[string]statistics.Severity `json:"state"`
}

type spike struct {
	Type        string  `json:"type"`
	PercentDiff float64 `json:"percent_diff"`
}

type pingFail struct {
	Type   string `json:"type"`
	Target string `json:"target"`
}

type keepAlive struct {
	Type          string `json:"type"`
	KeepAliveType string `json:"keep_alive_type"`
}

// session is one helper process, or any writer standing in for it.
type session struct {
	enc    *json.Encoder
	closer io.Closer
	cmd    *exec.Cmd
}

func newSession(w io.Writer) *session {
	s := &session{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// close never blocks, a write stuck on the helper's stdin fails once the pipe
// is closed.
func (s *session) close() {
	if s.closer != nil {
		s.closer.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Signal(os.Interrupt)
	}
}

// Driver encodes events for the helper. Writes are serialised so messages
// from the engine, alerts and the keep-alive timer never interleave.
type Driver struct {
	// mu serialises writes, state guards cur, opts and closed and is never
	// held across a write.
	mu     sync.Mutex
	state  sync.Mutex
	cur    *session
	opts   Options
	closed bool

	// swap serialises helper restarts.
	swap   sync.Mutex
	launch func(Options) (*session, error)

	keepAlive time.Duration
}

// NewDriver writes messages to w.
func NewDriver(w io.Writer, keepAlive time.Duration) *Driver {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &Driver{cur: newSession(w), keepAlive: keepAlive}
}

// NewLogDriver is used when no LED is attached, messages only reach the debug log.
func NewLogDriver(keepAlive time.Duration) *Driver {
	return NewDriver(logrus.StandardLogger().WriterLevel(logrus.DebugLevel), keepAlive)
}

// Start launches the helper process and returns a driver feeding its stdin.
func Start(opts Options) (*Driver, error) {
	opts = clamp(opts)

	s, err := launch(opts)
	if err != nil {
		return nil, err
	}
	return &Driver{cur: s, opts: opts, launch: launch, keepAlive: opts.KeepAlive}, nil
}

func launch(opts Options) (*session, error) {
	cmd := exec.Command(opts.Command, opts.args()...)
	// the helper must print immediately
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start indicator %s: %w", opts.Command, err)
	}
	logrus.Info("[ INDICATOR_START ] command: ", opts.Command, " args: ", opts.args())

	go func() {
		// Wait closes the pipes, drain them first
		var g errgroup.Group
		g.Go(func() error {
			return logLines("stdout", stdout)
		})
		g.Go(func() error {
			return logLines("stderr", stderr)
		})
		if err := g.Wait(); err != nil {
			logrus.Debug("[ INDICATOR_READ ] error: ", err)
		}
		logrus.Info("[ INDICATOR_EXIT ] status: ", cmd.Wait())
	}()

	s := newSession(stdin)
	s.cmd = cmd
	return s, nil
}

func logLines(stream string, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logrus.Info("[ INDICATOR ] ", stream, ": ", scanner.Text())
	}
	return scanner.Err()
}

func (d *Driver) send(v interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state.Lock()
	s, closed := d.cur, d.closed
	d.state.Unlock()
	if closed {
		return
	}

	if err := s.enc.Encode(v); err != nil {
		logrus.Warn("Failed to write indicator message: ", err)
	}
}

// HandleQuality renders the per target severities.
func (d *Driver) HandleQuality(q bus.QualityState) {
	d.send(setLED{Type: "set_led", State: q.Severities})
}

// HandleAlert forwards spike and ping-fail alerts.
func (d *Driver) HandleAlert(a bus.Alert) {
	switch a.Kind {
	case bus.AlertSpike:
		d.send(spike{Type: "spike", PercentDiff: a.PercentDiff})
	case bus.AlertPingFail:
		d.send(pingFail{Type: "ping_fail", Target: a.Target})
	}
}

// Brightness is the level the helper is currently running with.
func (d *Driver) Brightness() int {
	d.state.Lock()
	defer d.state.Unlock()
	return d.opts.Brightness
}

// SetBrightness restarts the helper with brightness b, clamped to 0..100. The
// helper only reads brightness from its arguments. Drivers without a helper
// just record the level.
func (d *Driver) SetBrightness(b int) {
	d.swap.Lock()
	defer d.swap.Unlock()

	b = ClampBrightness(b)
	d.state.Lock()
	if d.closed || d.opts.Brightness == b {
		d.state.Unlock()
		return
	}
	opts := d.opts
	opts.Brightness = b
	if d.launch == nil {
		d.opts = opts
		d.state.Unlock()
		logrus.Debug("[ INDICATOR_BRIGHTNESS ] no helper, brightness: ", b)
		return
	}
	old := d.cur
	d.state.Unlock()

	logrus.Info("[ INDICATOR_RESTART ] brightness: ", b)
	old.close()
	next, err := d.launch(opts)
	if err != nil {
		logrus.Error("Failed to restart indicator, continuing without LED: ", err)
		next = newSession(logrus.StandardLogger().WriterLevel(logrus.DebugLevel))
	}

	d.state.Lock()
	defer d.state.Unlock()
	if d.closed {
		next.close()
		return
	}
	d.cur = next
	d.opts = opts
}

// Run emits the keep-alive animation until ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			logrus.Info("Keep Alive triggering.")
			d.send(keepAlive{Type: "keep-alive", KeepAliveType: "pingpong"})
		}
	}
}

// Close terminates the helper. It returns even while a write is stuck on the
// helper's stdin.
func (d *Driver) Close() {
	d.state.Lock()
	defer d.state.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	d.cur.close()
}
