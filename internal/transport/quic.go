package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// streamPreamble is written by the dialer on the session stream before any
// frame. QUIC announces a stream only once data flows on it, so without it
// the listener's AcceptStream would wait for the viewer's first input
// event. The preamble is consumed here and never reaches the frame reader.
var streamPreamble = []byte{'G', 'D', 'K', 0x01}

const preambleTimeout = 5 * time.Second

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:    30 * time.Second,
		KeepAlivePeriod:   10 * time.Second,
		InitialPacketSize: 1200, // Tailscale MTU is 1280; default 1350 gets dropped
	}
}

// quicConn carries the frame stream over one bidirectional QUIC stream.
type quicConn struct {
	qconn  *quic.Conn
	stream *quic.Stream
	tr     *quic.Transport // dialer side only: keeps the UDP socket alive

	closeOnce sync.Once
}

func (c *quicConn) Read(p []byte) (int, error) {
	n, err := c.stream.Read(p)
	return n, quicReadErr(err)
}

func (c *quicConn) Write(p []byte) (int, error) {
	return c.stream.Write(p)
}

// RemoteAddr returns the peer's UDP address.
func (c *quicConn) RemoteAddr() net.Addr {
	return c.qconn.RemoteAddr()
}

// Close sends FIN on the stream, then closes the connection and, on the
// dialer side, the UDP transport.
func (c *quicConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stream.CancelRead(0)
		c.stream.Close()
		err = c.qconn.CloseWithError(0, "closed")
		if c.tr != nil {
			c.tr.Close()
		}
	})
	return err
}

// ConnectionStats returns QUIC-level connection statistics.
// Satisfies the ProfileableConn optional interface.
func (c *quicConn) ConnectionStats() quic.ConnectionStats {
	return c.qconn.ConnectionStats()
}

// quicReadErr maps a graceful remote connection close to io.EOF so the
// dispatcher treats it like a TCP FIN.
func quicReadErr(err error) error {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.Remote && appErr.ErrorCode == 0 {
		return io.EOF
	}
	return err
}

// --- Listener ---

type quicListener struct {
	tr   *quic.Transport
	ln   *quic.Listener
	port int
}

// listenQUIC creates a QUIC listener using the provided TLS certificate.
func listenQUIC(port int, cert tls.Certificate) (*quicListener, error) {
	udpConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	ln, err := tr.Listen(serverTLS(cert), quicConfig())
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("QUIC listen: %w", err)
	}

	return &quicListener{
		tr:   tr,
		ln:   ln,
		port: udpConn.LocalAddr().(*net.UDPAddr).Port,
	}, nil
}

// Port returns the UDP port the listener is bound to.
func (l *quicListener) Port() int {
	return l.port
}

// Accept waits for a QUIC connection and its session stream.
func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	qconn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept QUIC connection: %w", err)
	}

	conn, err := acceptSessionStream(ctx, qconn)
	if err != nil {
		qconn.CloseWithError(1, "bad session stream")
		return nil, err
	}
	return conn, nil
}

func acceptSessionStream(ctx context.Context, qconn *quic.Conn) (*quicConn, error) {
	ctx, cancel := context.WithTimeout(ctx, preambleTimeout)
	defer cancel()

	stream, err := qconn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept session stream: %w", err)
	}

	// Deadline prevents a misbehaving client from blocking the accept path.
	stream.SetReadDeadline(time.Now().Add(preambleTimeout))
	got := make([]byte, len(streamPreamble))
	_, err = io.ReadFull(stream, got)
	stream.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, fmt.Errorf("read stream preamble: %w", err)
	}
	if !bytes.Equal(got, streamPreamble) {
		return nil, fmt.Errorf("bad stream preamble % x", got)
	}

	return &quicConn{qconn: qconn, stream: stream}, nil
}

// Close shuts down the listener and underlying transport.
func (l *quicListener) Close() error {
	l.ln.Close()
	return l.tr.Close()
}

// --- Dialer ---

// dialQUIC connects to a host's QUIC listener and opens the session stream.
func dialQUIC(ctx context.Context, host string, port int) (Conn, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%d: %w", host, port, err)
	}

	// Use a fresh UDP socket for the client
	udpConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	qconn, err := tr.Dial(ctx, addr, clientTLS(), quicConfig())
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("QUIC dial: %w", err)
	}

	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		qconn.CloseWithError(1, "open stream failed")
		tr.Close()
		return nil, fmt.Errorf("open session stream: %w", err)
	}
	if _, err := stream.Write(streamPreamble); err != nil {
		qconn.CloseWithError(1, "preamble failed")
		tr.Close()
		return nil, fmt.Errorf("write stream preamble: %w", err)
	}

	return &quicConn{qconn: qconn, stream: stream, tr: tr}, nil
}
