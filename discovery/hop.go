package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	protocolICMP = 1
	hopTimeout   = 2 * time.Second
)

// ProbeHop sends a single echo request to dst limited to ttl hops and returns
// the address of the router that reports the time exceeded. If dst itself is
// closer than ttl its address is returned. Needs a raw socket (root or
// CAP_NET_RAW).
func ProbeHop(ctx context.Context, source, dst string, ttl int) (string, error) {
	dstAddr, err := net.ResolveIPAddr("ip4", dst)
	if err != nil {
		return "", err
	}

	conn, err := icmp.ListenPacket("ip4:icmp", source)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := conn.IPv4PacketConn().SetTTL(ttl); err != nil {
		return "", err
	}

	deadline := time.Now().Add(hopTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", err
	}

	// The tracker identifies our echo reply, time exceeded messages only carry
	// the id and sequence number.
	tracker := uuid.New()
	id := os.Getpid() & 0xffff
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: ttl, Data: tracker[:]},
	}
	msgBytes, err := msg.Marshal(nil)
	if err != nil {
		return "", err
	}
	if _, err := conn.WriteTo(msgBytes, dstAddr); err != nil {
		return "", err
	}

	buf := make([]byte, 1500)
	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			var neterr net.Error
			if errors.As(err, &neterr) && neterr.Timeout() {
				return "", fmt.Errorf("no answer from hop %d towards %s", ttl, dst)
			}
			return "", err
		}

		if matchHop(buf[:n], id, ttl, tracker) {
			return peer.String(), nil
		}
	}
}

// matchHop reports whether the ICMP message answers our probe. Packets meant
// for other processes on the host are ignored.
func matchHop(b []byte, id, seq int, tracker uuid.UUID) bool {
	m, err := icmp.ParseMessage(protocolICMP, b)
	if err != nil {
		return false
	}

	switch body := m.Body.(type) {
	case *icmp.TimeExceeded:
		return quotedEcho(body.Data, id, seq)
	case *icmp.Echo:
		if m.Type != ipv4.ICMPTypeEchoReply || body.ID != id || body.Seq != seq {
			return false
		}
		return bytes.Equal(body.Data, tracker[:])
	}
	return false
}

// quotedEcho checks the original datagram quoted inside an ICMP error.
func quotedEcho(data []byte, id, seq int) bool {
	hdr, err := ipv4.ParseHeader(data)
	if err != nil || len(data) < hdr.Len+8 {
		return false
	}
	inner := data[hdr.Len:]
	if inner[0] != byte(ipv4.ICMPTypeEcho) {
		return false
	}
	return int(inner[4])<<8|int(inner[5]) == id && int(inner[6])<<8|int(inner[7]) == seq
}
