package power

import (
	"context"
	"fmt"
	"math"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const DefaultProbeTimeout = 2 * time.Second

const (
	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

// checkAddress rejects values that can never name a host. Everything else
// is left to resolution, whose failures count as unreachable.
func checkAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: empty", ErrMalformedAddress)
	}
	if strings.HasPrefix(address, "-") {
		return fmt.Errorf("%w: %q", ErrMalformedAddress, address)
	}
	for _, r := range address {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q", ErrMalformedAddress, address)
		}
	}
	return nil
}

func probeTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultProbeTimeout
	}
	return d
}

// ICMPPinger sends a single ICMP echo request and waits for the reply.
// It prefers unprivileged datagram sockets and falls back to raw sockets.
type ICMPPinger struct {
	Timeout time.Duration

	seq atomic.Uint32
}

func (p *ICMPPinger) IsReachable(ctx context.Context, address string) (bool, error) {
	if err := checkAddress(address); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout(p.Timeout))
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, address)
	if err != nil || len(addrs) == 0 {
		return false, nil
	}
	return p.echo(ctx, addrs[0].IP), nil
}

func (p *ICMPPinger) echo(ctx context.Context, ip net.IP) bool {
	v4 := ip.To4() != nil
	conn, privileged, err := listenICMP(v4)
	if err != nil {
		return false
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	id := os.Getpid() & 0xffff
	seq := int(p.seq.Add(1) & 0xffff)

	var (
		request icmp.Type = ipv4.ICMPTypeEcho
		reply   icmp.Type = ipv4.ICMPTypeEchoReply
		proto             = protocolICMP
	)
	if !v4 {
		request, reply, proto = ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply, protocolIPv6ICMP
	}

	msg := icmp.Message{
		Type: request,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: []byte("home-wake")},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return false
	}

	var dst net.Addr = &net.IPAddr{IP: ip}
	if !privileged {
		dst = &net.UDPAddr{IP: ip}
	}
	if _, err := conn.WriteTo(wb, dst); err != nil {
		return false
	}

	rb := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(rb)
		if err != nil {
			return false
		}
		rm, err := icmp.ParseMessage(proto, rb[:n])
		if err != nil || rm.Type != reply {
			continue
		}
		echo, ok := rm.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq {
			continue
		}
		// The kernel rewrites the identifier on datagram sockets.
		if privileged && echo.ID != id {
			continue
		}
		if peerIP(peer).Equal(ip) {
			return true
		}
	}
}

func listenICMP(v4 bool) (*icmp.PacketConn, bool, error) {
	network, raw, bind := "udp4", "ip4:icmp", "0.0.0.0"
	if !v4 {
		network, raw, bind = "udp6", "ip6:ipv6-icmp", "::"
	}
	if conn, err := icmp.ListenPacket(network, bind); err == nil {
		return conn, false, nil
	}
	conn, err := icmp.ListenPacket(raw, bind)
	if err != nil {
		return nil, false, err
	}
	return conn, true, nil
}

func peerIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.IPAddr:
		return a.IP
	}
	return nil
}

// ExecPinger shells out to the system ping binary, which is usually
// installed with the capabilities raw ICMP needs.
type ExecPinger struct {
	Timeout time.Duration
	// Binary defaults to "ping".
	Binary string
}

func (p *ExecPinger) IsReachable(ctx context.Context, address string) (bool, error) {
	if err := checkAddress(address); err != nil {
		return false, err
	}

	timeout := probeTimeout(p.Timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	binary := p.Binary
	if binary == "" {
		binary = "ping"
	}

	cmd := exec.CommandContext(ctx, binary, pingArgs(runtime.GOOS, address, timeout)...)
	return cmd.Run() == nil, nil
}

func pingArgs(goos, address string, timeout time.Duration) []string {
	switch goos {
	case "windows":
		return []string{"-n", "1", "-w", strconv.FormatInt(timeout.Milliseconds(), 10), address}
	case "darwin", "freebsd", "openbsd", "netbsd":
		return []string{"-c", "1", "-t", strconv.Itoa(ceilSeconds(timeout)), address}
	default:
		return []string{"-c", "1", "-W", strconv.Itoa(ceilSeconds(timeout)), address}
	}
}

func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
