package discovery_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thetooth/ping-agent/discovery"
)

func TestParseIPRoute(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		gateway string
		iface   string
		wantErr bool
	}{
		{"dhcp", "default via 192.168.1.1 dev eth0 proto dhcp src 192.168.1.50 metric 100\n", "192.168.1.1", "eth0", false},
		{"second route", "10.0.0.0/8 dev wg0 scope link\ndefault via 10.1.1.1 dev wlan0\n", "10.1.1.1", "wlan0", false},
		{"point to point", "default dev ppp0 scope link\n", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, iface, err := discovery.ParseIPRoute(tt.out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if gw != tt.gateway || iface != tt.iface {
				t.Errorf("got %q %q, want %q %q", gw, iface, tt.gateway, tt.iface)
			}
		})
	}
}

func TestParseRouteGet(t *testing.T) {
	out := `   route to: default
destination: default
       mask: default
    gateway: 192.168.0.1
  interface: en0
      flags: <UP,GATEWAY,DONE,STATIC,PRCLONING>
`
	gw, iface, err := discovery.ParseRouteGet(out)
	if err != nil {
		t.Fatal(err)
	}
	if gw != "192.168.0.1" || iface != "en0" {
		t.Errorf("got %q %q", gw, iface)
	}

	if _, _, err := discovery.ParseRouteGet("route: writing to routing socket: not in table\n"); err == nil {
		t.Error("expected error without a gateway")
	}
}

func TestParseTraceroute(t *testing.T) {
	out := `traceroute to 8.8.8.8 (8.8.8.8), 2 hops max, 60 byte packets
 1  192.168.1.1  1.012 ms  0.981 ms  0.950 ms
 2  100.96.185.33  9.144 ms  9.131 ms  9.502 ms
`
	hop, err := discovery.ParseTraceroute(out, 2)
	if err != nil {
		t.Fatal(err)
	}
	if hop != "100.96.185.33" {
		t.Errorf("hop = %q", hop)
	}

	partial := ` 1  192.168.1.1  1.012 ms
 2  * 100.96.185.34  9.5 ms *
`
	if hop, err := discovery.ParseTraceroute(partial, 2); err != nil || hop != "100.96.185.34" {
		t.Errorf("partial answer = %q, %v", hop, err)
	}

	silent := ` 1  192.168.1.1  1.012 ms
 2  * * *
`
	if _, err := discovery.ParseTraceroute(silent, 2); err == nil {
		t.Error("expected error for silent hop")
	}
	if _, err := discovery.ParseTraceroute(" 1  192.168.1.1  1.0 ms\n", 2); err == nil {
		t.Error("expected error for missing hop")
	}
}

func TestDiscoverRetries(t *testing.T) {
	var routeCalls int32
	d := &discovery.Discoverer{
		Landmark: "8.8.8.8",
		Retry:    time.Millisecond,
		GOOS:     "linux",
		Exec: func(ctx context.Context, command string, args string) (string, string, error) {
			switch command {
			case "ip":
				// the first lookup fails as if the link was still down
				if atomic.AddInt32(&routeCalls, 1) == 1 {
					return "", "", nil
				}
				return "default via 192.168.1.1 dev eth0\n", "", nil
			case "traceroute":
				return " 1  192.168.1.1  1.0 ms\n 2  100.96.185.33  9.1 ms\n", "", nil
			}
			return "", "", errors.New("unexpected command " + command)
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := d.Discover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Local != "192.168.1.1" || res.Interface != "eth0" || res.Gateway != "100.96.185.33" {
		t.Errorf("result = %+v", res)
	}
	if atomic.LoadInt32(&routeCalls) < 2 {
		t.Errorf("route lookup ran %d times, want a retry", routeCalls)
	}
}

func TestDiscoverPrefersHopProbe(t *testing.T) {
	d := &discovery.Discoverer{
		Landmark: "8.8.8.8",
		Retry:    time.Millisecond,
		GOOS:     "darwin",
		Exec: func(ctx context.Context, command string, args string) (string, string, error) {
			if command == "route" {
				return "gateway: 10.0.0.1\ninterface: en0\n", "", nil
			}
			return "", "", errors.New("unexpected command " + command)
		},
		Hop: func(ctx context.Context, source, dst string, ttl int) (string, error) {
			if dst != "8.8.8.8" || ttl != 2 {
				return "", errors.New("bad probe")
			}
			return "172.16.0.1", nil
		},
	}

	res, err := d.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Local != "10.0.0.1" || res.Gateway != "172.16.0.1" {
		t.Errorf("result = %+v", res)
	}
}

func TestDiscoverCancelled(t *testing.T) {
	d := &discovery.Discoverer{
		Landmark: "8.8.8.8",
		Retry:    time.Hour,
		GOOS:     "linux",
		Exec: func(ctx context.Context, command string, args string) (string, string, error) {
			return "", "network is unreachable", errors.New("exit status 2")
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := d.Discover(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
