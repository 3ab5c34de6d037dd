package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsPath is the HTTP path the WebSocket listener upgrades on.
const wsPath = "/godesk"

// wsConn adapts a WebSocket to a byte stream. Each Write becomes one
// binary message; Read drains messages in order and ignores their
// boundaries, so frames may span messages.
type wsConn struct {
	ws *websocket.Conn
	r  io.Reader // current message, nil between messages

	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				return 0, wsReadErr(err)
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// RemoteAddr returns the peer's TCP address.
func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// Close sends a normal-closure control frame and closes the socket once.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// wsReadErr maps a normal close handshake from the peer to io.EOF.
func wsReadErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.CloseAbnormalClosure {
		return io.ErrUnexpectedEOF
	}
	return err
}

// --- Listener ---

type wsListener struct {
	srv    *http.Server
	port   int
	connCh chan *wsConn
	done   chan struct{}
	once   sync.Once
}

func listenWS(port int) (*wsListener, error) {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("WebSocket listen: %w", err)
	}

	l := &wsListener{
		port:   ln.Addr().(*net.TCPAddr).Port,
		connCh: make(chan *wsConn),
		done:   make(chan struct{}),
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return // Upgrade already wrote the HTTP error
		}
		c := &wsConn{ws: ws}
		select {
		case l.connCh <- c:
		case <-l.done:
			c.Close()
		}
	})
	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go l.srv.Serve(ln)
	return l, nil
}

// Port returns the TCP port the listener is bound to.
func (l *wsListener) Port() int {
	return l.port
}

// Accept returns the next upgraded WebSocket connection.
func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the HTTP server. Connections already accepted stay open.
func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

// --- Dialer ---

func dialWS(ctx context.Context, host string, port int) (Conn, error) {
	d := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	url := "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + wsPath
	ws, resp, err := d.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("WebSocket dial: %w", err)
	}
	return &wsConn{ws: ws}, nil
}
