package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// tcpConn is the baseline transport: a plain TCP stream, no framing of
// its own. Close runs once so the coordinator and a racing reader never
// double-close the socket.
type tcpConn struct {
	net.Conn
	closeOnce sync.Once
	closeErr  error
}

func newTCPConn(c net.Conn) *tcpConn {
	if tc, ok := c.(*net.TCPConn); ok {
		// Input events are tiny and latency-sensitive.
		tc.SetNoDelay(true)
	}
	return &tcpConn{Conn: c}
}

// Close closes the socket exactly once; later calls return the first result.
func (c *tcpConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}

// --- Listener ---

type tcpListener struct {
	ln   net.Listener
	port int
}

// listenTCP creates a TCP listener on the specified port.
func listenTCP(port int) (*tcpListener, error) {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("TCP listen: %w", err)
	}
	return &tcpListener{
		ln:   ln,
		port: ln.Addr().(*net.TCPAddr).Port,
	}, nil
}

// Port returns the TCP port the listener is bound to.
func (l *tcpListener) Port() int {
	return l.port
}

// Accept waits for the next TCP connection.
func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	// Use a channel so we can respect context cancellation
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("accept TCP connection: %w", res.err)
		}
		return newTCPConn(res.conn), nil
	case <-ctx.Done():
		// The goroutine may still be blocked on l.ln.Accept(). It unblocks
		// when the listener is closed; a connection accepted before that
		// is closed so it doesn't leak.
		go func() {
			res := <-ch
			if res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close shuts down the TCP listener.
func (l *tcpListener) Close() error {
	return l.ln.Close()
}

// --- Dialer ---

// dialTCP connects to a host's TCP listener.
func dialTCP(ctx context.Context, host string, port int) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("TCP dial: %w", err)
	}
	return newTCPConn(c), nil
}
