// Package discovery locates a file server on the local network with a UDP
// broadcast handshake.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/AK1OS/file-transfer/internal/errors"
)

// Handshake messages
const (
	RequestMessage = "FILE_SERVER_DISCOVER"
	ResponsePrefix = "FILE_SERVER_RESPONSE"
)

const maxResponseSize = 255

var errNoServer = fmt.Errorf("no server responded")

// Server is a discovered file server
type Server struct {
	IP   string
	Port int
}

// Address returns the server address in ip:port form
func (s Server) Address() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(s.Port))
}

// Discoverer broadcasts discovery requests and waits for the first answer
type Discoverer struct {
	port    int
	timeout time.Duration

	// targets replaces the broadcast addresses when set
	targets []*net.UDPAddr
}

// New creates a discoverer for servers listening on port
func New(port int, timeout time.Duration) *Discoverer {
	return &Discoverer{port: port, timeout: timeout}
}

// Discover sends the request to the limited broadcast address and to the
// directed broadcast address of every IPv4 interface, then returns the
// first server that answers within the timeout.
func (d *Discoverer) Discover(ctx context.Context) (Server, error) {
	lc := net.ListenConfig{Control: enableBroadcast}
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return Server{}, errors.NewConnectionError("listen", ":0", err)
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true); err != nil {
		slog.Debug("Control messages unavailable", "error", err)
	}

	targets := d.targets
	if targets == nil {
		targets = BroadcastTargets(d.port)
	}

	sent := 0
	for _, target := range targets {
		if _, err := pc.WriteTo([]byte(RequestMessage), nil, target); err != nil {
			slog.Debug("Discovery request not sent", "target", target.String(), "error", err)
			continue
		}
		sent++
	}
	if sent == 0 {
		return Server{}, errors.NewConnectionError("broadcast",
			fmt.Sprintf("udp4:%d", d.port), fmt.Errorf("no discovery request could be sent"))
	}
	slog.Info("Searching for server", "port", d.port, "targets", sent, "timeout", d.timeout)

	deadline := time.Now().Add(d.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := pc.SetReadDeadline(deadline); err != nil {
		return Server{}, errors.NewConnectionError("set_deadline", conn.LocalAddr().String(), err)
	}

	buf := make([]byte, maxResponseSize)
	for {
		n, cm, src, err := pc.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				err = errNoServer
			}
			return Server{}, errors.NewConnectionError("discover", fmt.Sprintf("udp4:%d", d.port), err)
		}

		port, err := ParseResponse(buf[:n])
		if err != nil {
			slog.Debug("Ignoring discovery reply", "from", src.String(), "error", err)
			continue
		}

		udpAddr, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}

		server := Server{IP: udpAddr.IP.String(), Port: port}
		attrs := []any{"address", server.Address()}
		if cm != nil {
			attrs = append(attrs, "interface_index", cm.IfIndex)
		}
		slog.Info("Server discovered", attrs...)
		return server, nil
	}
}

// ParseResponse extracts the advertised port from FILE_SERVER_RESPONSE:<port>
func ParseResponse(msg []byte) (int, error) {
	text := strings.TrimRight(string(msg), "\x00 \r\n\t")
	if !strings.HasPrefix(text, ResponsePrefix) {
		return 0, errors.NewProtocolError("parse_discovery", "unexpected discovery reply", nil)
	}

	_, portStr, found := strings.Cut(text, ":")
	if !found {
		return 0, errors.NewProtocolError("parse_discovery", "discovery reply carries no port", nil)
	}

	port, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil || port <= 0 || port > 65535 {
		return 0, errors.NewProtocolError("parse_discovery",
			fmt.Sprintf("invalid port %q in discovery reply", portStr), err)
	}
	return port, nil
}

// BroadcastTargets lists 255.255.255.255 followed by the directed broadcast
// address of each IPv4 interface address, without duplicates.
func BroadcastTargets(port int) []*net.UDPAddr {
	targets := []*net.UDPAddr{{IP: net.IPv4bcast, Port: port}}
	seen := map[string]bool{net.IPv4bcast.String(): true}

	ifaces, err := net.Interfaces()
	if err != nil {
		slog.Debug("Failed to list interfaces", "error", err)
		return targets
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			bcast := DirectedBroadcast(ipNet)
			if bcast == nil || seen[bcast.String()] {
				continue
			}
			seen[bcast.String()] = true
			targets = append(targets, &net.UDPAddr{IP: bcast, Port: port})
		}
	}
	return targets
}

// DirectedBroadcast returns the broadcast address of an IPv4 network, or
// nil for any other address family.
func DirectedBroadcast(ipNet *net.IPNet) net.IP {
	ip := ipNet.IP.To4()
	if ip == nil {
		return nil
	}
	mask := ipNet.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return nil
	}

	bcast := make(net.IP, net.IPv4len)
	for i := range ip {
		bcast[i] = ip[i] | ^mask[i]
	}
	return bcast
}

func enableBroadcast(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
