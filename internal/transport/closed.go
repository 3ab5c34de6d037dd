package transport

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
)

// IsExpectedCloseError reports whether err is the normal result of one
// side closing the connection: a clean EOF, a use of the closed socket
// after our own Close, a broken pipe or reset from a peer that went away,
// or a graceful QUIC or WebSocket close. Sessions log these at info
// level; anything else is a real failure.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorCode == 0 {
		return true
	}
	if errors.Is(err, quic.ErrServerClosed) || errors.Is(err, quic.ErrTransportClosed) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
	)
}
