package transport

import (
	"context"
	"fmt"
	"net"
)

// dualListener accepts connections from both QUIC (UDP) and plain TCP
// listeners on the same port number. Accept returns whichever connection
// arrives first.
type dualListener struct {
	quic *quicListener
	tcp  *tcpListener
	port int

	// connCh receives connections from both accept loops.
	connCh chan acceptRes
	// cancel stops both accept loops on Close; done is closed with it.
	cancel context.CancelFunc
	done   <-chan struct{}
}

type acceptRes struct {
	conn Conn
	err  error
}

// ListenDual creates both a QUIC (UDP) and a TCP listener on the same port.
// Bind order: QUIC first (gets a free port from the OS when port is 0),
// then TCP on the same port.
func ListenDual(port int) (Listener, error) {
	cert, err := hostCertificate()
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}

	ql, err := listenQUIC(port, cert)
	if err != nil {
		return nil, err
	}

	// UDP and TCP port spaces don't conflict.
	tl, err := listenTCP(ql.Port())
	if err != nil {
		ql.Close()
		return nil, fmt.Errorf("TCP listen on port %d: %w", ql.Port(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	dl := &dualListener{
		quic:   ql,
		tcp:    tl,
		port:   ql.Port(),
		connCh: make(chan acceptRes, 4),
		cancel: cancel,
		done:   ctx.Done(),
	}

	go dl.acceptLoop(ctx, dl.quic)
	go dl.acceptLoop(ctx, dl.tcp)

	return dl, nil
}

// acceptLoop feeds one underlying listener into connCh. A failed QUIC
// handshake is reported and the loop keeps going; only a closed listener
// or Close ends it.
func (dl *dualListener) acceptLoop(ctx context.Context, ln Listener) {
	for {
		conn, err := ln.Accept(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		select {
		case dl.connCh <- acceptRes{conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil && IsExpectedCloseError(err) {
			return
		}
	}
}

// Accept returns the next connection from either transport.
func (dl *dualListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case res := <-dl.connCh:
		return res.conn, res.err
	case <-dl.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Port returns the port number both listeners are bound to.
func (dl *dualListener) Port() int {
	return dl.port
}

// Close shuts down both listeners.
func (dl *dualListener) Close() error {
	dl.cancel()
	tcpErr := dl.tcp.Close()
	quicErr := dl.quic.Close()
	if quicErr != nil {
		return quicErr
	}
	return tcpErr
}
