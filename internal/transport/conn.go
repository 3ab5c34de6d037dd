package transport

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/quic-go/quic-go"
)

// Mode selects the transport carrying the frame stream.
type Mode string

const (
	ModeTCP  Mode = "tcp"  // plain TCP, the baseline wire
	ModeQUIC Mode = "quic" // one bidirectional QUIC stream
	ModeWS   Mode = "ws"   // WebSocket binary messages
	ModeDual Mode = "dual" // listener only: TCP and QUIC on the same port
)

// ParseMode validates a mode name from config or flags.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeTCP, ModeQUIC, ModeWS, ModeDual:
		return m, nil
	default:
		return "", fmt.Errorf("unknown transport %q (want tcp, quic, ws or dual)", s)
	}
}

// Conn is one reliable, ordered byte stream between host and viewer.
// All implementations satisfy the same contract:
//   - Read returns io.EOF once the peer has closed cleanly.
//   - Write may be called from one goroutine at a time (mux.Writer
//     serializes producers) concurrently with Read.
//   - Close is idempotent and unblocks pending Read and Write calls.
type Conn interface {
	io.Reader
	io.Writer
	Close() error
	RemoteAddr() net.Addr
}

// Listener accepts transport connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Port() int
	Close() error
}

// ProfileableConn is an optional interface for connections that can
// provide QUIC-level connection statistics (used by --profile).
type ProfileableConn interface {
	ConnectionStats() quic.ConnectionStats
}

// Listen binds a listener for mode on port (0 picks a free port).
func Listen(mode Mode, port int) (Listener, error) {
	switch mode {
	case ModeTCP:
		return listenTCP(port)
	case ModeQUIC:
		cert, err := hostCertificate()
		if err != nil {
			return nil, fmt.Errorf("generate TLS cert: %w", err)
		}
		return listenQUIC(port, cert)
	case ModeWS:
		return listenWS(port)
	case ModeDual:
		return ListenDual(port)
	default:
		return nil, fmt.Errorf("unknown transport %q", mode)
	}
}

// Dial connects to a listener of the given mode. ModeDual listeners accept
// either tcp or quic dials.
func Dial(ctx context.Context, mode Mode, host string, port int) (Conn, error) {
	switch mode {
	case ModeTCP:
		return dialTCP(ctx, host, port)
	case ModeQUIC:
		return dialQUIC(ctx, host, port)
	case ModeWS:
		return dialWS(ctx, host, port)
	default:
		return nil, fmt.Errorf("cannot dial transport %q", mode)
	}
}
