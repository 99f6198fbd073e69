package util

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Exec runs command with space separated args and collects its output.
func Exec(ctx context.Context, command string, args string) (stdout, stderr string, err error) {
	logrus.Tracef("EXEC: %v %v", command, args)

	cmd := exec.CommandContext(ctx, command, strings.Fields(args)...)
	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb

	err = cmd.Run()
	stdout = outb.String()
	stderr = errb.String()

	return
}
