package util_test

import (
	"context"
	"strings"
	"testing"

	"github.com/thetooth/ping-agent/util"
)

func TestIsIPv6(t *testing.T) {
	if util.IsIPv6("192.168.1.1") {
		t.Error("IPv4 address reported as IPv6")
	}
	if !util.IsIPv6("2001:4860:4860::8888") {
		t.Error("IPv6 address not detected")
	}
}

func TestInterfaceAddrUnknown(t *testing.T) {
	if _, err := util.InterfaceAddr("does-not-exist0", false); err == nil {
		t.Error("expected an error for a missing interface")
	}
}

func TestExec(t *testing.T) {
	stdout, _, err := util.Exec(context.Background(), "echo", "hello  world")
	if err != nil {
		t.Skip("echo not available: ", err)
	}
	if strings.TrimSpace(stdout) != "hello world" {
		t.Errorf("stdout = %q", stdout)
	}
}
