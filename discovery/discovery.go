// Package discovery finds the local router and the first hop beyond it. Both
// lookups are retried until they succeed, the network may still be coming up
// when the agent starts.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/thetooth/ping-agent/util"
)

// DefaultRetry is the wait between failed lookups.
const DefaultRetry = 3 * time.Second

// Result holds the discovered addresses.
type Result struct {
	Local     string
	Interface string
	Gateway   string
}

// ExecFunc runs a command, see util.Exec.
type ExecFunc func(ctx context.Context, command string, args string) (stdout, stderr string, err error)

// Discoverer looks up the local router and the internet gateway.
type Discoverer struct {
	// Landmark is the internet address the gateway hop is measured towards.
	Landmark string
	Retry    time.Duration
	GOOS     string
	Exec     ExecFunc
	// Hop finds the router ttl hops towards dst, nil skips straight to traceroute.
	Hop func(ctx context.Context, source, dst string, ttl int) (string, error)
}

// New returns a discoverer for the running platform.
func New(landmark string, retry time.Duration) *Discoverer {
	if retry <= 0 {
		retry = DefaultRetry
	}
	return &Discoverer{
		Landmark: landmark,
		Retry:    retry,
		GOOS:     runtime.GOOS,
		Exec:     util.Exec,
		Hop:      ProbeHop,
	}
}

// Discover blocks until both addresses are known or ctx is done.
func (d *Discoverer) Discover(ctx context.Context) (res Result, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.retry(gctx, "local gateway", func() error {
			var err error
			res.Local, res.Interface, err = d.LocalGateway(gctx)
			return err
		})
	})
	g.Go(func() error {
		return d.retry(gctx, "internet gateway", func() error {
			var err error
			res.Gateway, err = d.InternetGateway(gctx)
			return err
		})
	})

	err = g.Wait()
	if err == nil {
		logrus.Info("[ DISCOVERY ] local: ", res.Local, " (", res.Interface, ") gateway: ", res.Gateway, " internet: ", d.Landmark)
	}
	return
}

func (d *Discoverer) retry(ctx context.Context, what string, fn func() error) error {
	for {
		err := fn()
		if err == nil {
			return nil
		}
		logrus.Error("[ DISCOVERY ] could not get ", what, ": ", err, " retry in: ", d.Retry)

		t := time.NewTimer(d.Retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// LocalGateway reads the default route from the routing table.
func (d *Discoverer) LocalGateway(ctx context.Context) (gateway, iface string, err error) {
	if d.GOOS == "darwin" {
		stdout, stderr, err := d.Exec(ctx, "route", "-n get default")
		if err != nil {
			return "", "", fmt.Errorf("route: %w: %s", err, strings.TrimSpace(stderr))
		}
		return ParseRouteGet(stdout)
	}

	stdout, stderr, err := d.Exec(ctx, "ip", "-4 route show default")
	if err != nil {
		return "", "", fmt.Errorf("ip route: %w: %s", err, strings.TrimSpace(stderr))
	}
	return ParseIPRoute(stdout)
}

// InternetGateway finds the second hop towards the landmark, the first router
// past the local one. A raw ICMP probe is tried first and traceroute after.
func (d *Discoverer) InternetGateway(ctx context.Context) (string, error) {
	if d.Hop != nil {
		var source string
		if _, iface, err := d.LocalGateway(ctx); err == nil && iface != "" {
			source, _ = util.InterfaceAddr(iface, util.IsIPv6(d.Landmark))
		}
		hop, err := d.Hop(ctx, source, d.Landmark, 2)
		if err == nil {
			return hop, nil
		}
		logrus.Debug("Hop probe failed, falling back to traceroute: ", err)
	}

	stdout, stderr, err := d.Exec(ctx, "traceroute", "-m 2 -n "+d.Landmark)
	if err != nil {
		return "", fmt.Errorf("traceroute: %w: %s", err, strings.TrimSpace(stderr))
	}
	return ParseTraceroute(stdout, 2)
}

// ParseIPRoute extracts the gateway and device from `ip route show default`.
func ParseIPRoute(out string) (gateway, iface string, err error) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != "default" {
			continue
		}
		for i := 1; i+1 < len(fields); i++ {
			switch fields[i] {
			case "via":
				gateway = fields[i+1]
			case "dev":
				iface = fields[i+1]
			}
		}
		if net.ParseIP(gateway) != nil {
			return gateway, iface, nil
		}
	}
	return "", "", errors.New("no default route")
}

// ParseRouteGet extracts the gateway and interface from `route -n get default`.
func ParseRouteGet(out string) (gateway, iface string, err error) {
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		switch key {
		case "gateway":
			gateway = strings.TrimSpace(value)
		case "interface":
			iface = strings.TrimSpace(value)
		}
	}
	if net.ParseIP(gateway) == nil {
		return "", "", errors.New("no default route")
	}
	return gateway, iface, nil
}

// ParseTraceroute returns the address that answered for hop in numeric
// traceroute output.
func ParseTraceroute(out string, hop int) (string, error) {
	want := fmt.Sprint(hop)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != want {
			continue
		}
		for _, f := range fields[1:] {
			if net.ParseIP(f) != nil {
				return f, nil
			}
		}
		return "", fmt.Errorf("hop %d did not answer", hop)
	}
	return "", fmt.Errorf("hop %d not in traceroute output", hop)
}
