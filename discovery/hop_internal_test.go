package discovery

import (
	"net"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

func marshal(t *testing.T, m icmp.Message) []byte {
	t.Helper()
	b, err := m.Marshal(nil)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestMatchHop(t *testing.T) {
	tracker := uuid.New()
	echo := marshal(t, icmp.Message{Type: ipv4.ICMPTypeEcho, Body: &icmp.Echo{ID: 42, Seq: 2, Data: tracker[:]}})

	hdr := ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TotalLen: ipv4.HeaderLen + len(echo),
		TTL:      1,
		Protocol: protocolICMP,
		Src:      net.ParseIP("192.168.1.50"),
		Dst:      net.ParseIP("8.8.8.8"),
	}
	quoted, err := hdr.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	quoted = append(quoted, echo...)

	exceeded := marshal(t, icmp.Message{Type: ipv4.ICMPTypeTimeExceeded, Body: &icmp.TimeExceeded{Data: quoted}})
	if !matchHop(exceeded, 42, 2, tracker) {
		t.Error("time exceeded for our probe not matched")
	}
	if matchHop(exceeded, 43, 2, tracker) {
		t.Error("time exceeded for another process matched")
	}

	reply := marshal(t, icmp.Message{Type: ipv4.ICMPTypeEchoReply, Body: &icmp.Echo{ID: 42, Seq: 2, Data: tracker[:]}})
	if !matchHop(reply, 42, 2, tracker) {
		t.Error("echo reply not matched")
	}
	other := marshal(t, icmp.Message{Type: ipv4.ICMPTypeEchoReply, Body: &icmp.Echo{ID: 42, Seq: 2, Data: []byte("x")}})
	if matchHop(other, 42, 2, tracker) {
		t.Error("echo reply with foreign payload matched")
	}

	if matchHop([]byte{1, 2}, 42, 2, tracker) {
		t.Error("garbage matched")
	}
}
