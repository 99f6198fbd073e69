package probe

import (
	"context"
	"io"
	"os/exec"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Command is the probe executable looked up on PATH.
const Command = "ping"

// Args returns the arguments for a continuous, numeric only ping of address on
// the given operating system.
func Args(goos, address string) []string {
	switch goos {
	case "darwin", "freebsd", "openbsd", "netbsd":
		// No attempt will be made to lookup symbolic names for host addresses
		return []string{"-n", address}
	default:
		// iputils: -O reports echoes that got no answer before the next send
		return []string{"-n", "-O", address}
	}
}

// DefaultArgs is Args for the running platform.
func DefaultArgs(address string) []string {
	return Args(runtime.GOOS, address)
}

// Process is a running probe.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits. Stdout and Stderr must be drained first.
	Wait() error
}

// Spawner starts probe processes. Cancelling ctx must terminate the process.
type Spawner interface {
	Spawn(ctx context.Context, name string, args ...string) (Process, error)
}

// ExecSpawner runs probes as operating system processes.
type ExecSpawner struct{}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) Wait() error       { return p.cmd.Wait() }

// Spawn starts name with args, killed when ctx is done.
func (ExecSpawner) Spawn(ctx context.Context, name string, args ...string) (Process, error) {
	logrus.Tracef("EXEC: %v %v", name, args)

	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}
