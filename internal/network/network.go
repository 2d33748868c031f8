package network

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/AK1OS/file-transfer/internal/errors"
)

const keepAlivePeriod = 30 * time.Second

// setSocketOptions runs on the raw socket before it connects
var setSocketOptions = func(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// Conn is a TCP connection whose every Read and Write is bounded by a fixed
// timeout, the equivalent of SO_RCVTIMEO / SO_SNDTIMEO on a blocking socket.
type Conn struct {
	net.Conn
	timeout time.Duration
}

// Read arms the receive deadline and reads from the connection
func (c *Conn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

// Write arms the send deadline and writes to the connection
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// Timeout returns the per-call timeout of the connection
func (c *Conn) Timeout() time.Duration {
	return c.timeout
}

// Connect opens one TCP connection to ip:port with address reuse enabled.
// There is no retry; the returned ConnectionError's Op tells socket setup,
// address and connect failures apart.
func Connect(ctx context.Context, ip string, port int, timeout time.Duration) (*Conn, error) {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))

	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return nil, errors.NewConnectionError("resolve", addr, fmt.Errorf("invalid IPv4 address %q", ip))
	}
	if port <= 0 || port > 65535 {
		return nil, errors.NewConnectionError("resolve", addr, fmt.Errorf("invalid port %d", port))
	}

	var sockErr error
	dialer := &net.Dialer{
		Timeout: timeout,
		Control: func(network, address string, rc syscall.RawConn) error {
			if err := rc.Control(func(fd uintptr) {
				sockErr = setSocketOptions(fd)
			}); err != nil {
				sockErr = err
			}
			return sockErr
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		if sockErr != nil {
			return nil, errors.NewConnectionError("socket", addr, sockErr)
		}
		return nil, errors.NewConnectionError("connect", addr, err)
	}

	if err := OptimizeTCPConnection(conn); err != nil {
		slog.Warn("Failed to optimize TCP connection", "error", err)
	}

	return &Conn{Conn: conn, timeout: timeout}, nil
}

// OptimizeTCPConnection enables keep-alive so dead peers are detected
func OptimizeTCPConnection(conn net.Conn) error {
	tcpConn, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return nil // Not a TCP connection, skip optimizations
	}

	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.NewConnectionError("set_keepalive", conn.RemoteAddr().String(), err)
	}

	if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
		slog.Warn("Failed to set TCP keepalive period", "error", err)
	}

	return nil
}

// SplitAddress parses "ip:port" into its parts
func SplitAddress(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, errors.NewConnectionError("resolve", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, errors.NewConnectionError("resolve", address, err)
	}
	return host, port, nil
}
