package mux

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/chronologos/godesk/internal/metrics"
	"github.com/chronologos/godesk/internal/protocol"
)

// ErrWriteFailed wraps the transport error that broke a Writer.
var ErrWriteFailed = errors.New("write failed")

// Writer serializes whole frames onto one shared stream. Every producer
// of a session writes through the same Writer; the mutex guarantees a
// frame's header and payload are never interleaved with another frame.
//
// After the first failed write the Writer is broken: the stream may hold
// a partial frame, so every later call returns the same error without
// touching the stream.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	limits  protocol.Limits
	broken  error
	metrics *metrics.Metrics
}

// NewWriter returns a Writer over w. Outbound payloads are checked against
// limits so a peer is never sent a frame it is bound to reject. m may be nil.
func NewWriter(w io.Writer, limits protocol.Limits, m *metrics.Metrics) *Writer {
	return &Writer{
		w:       w,
		limits:  limits,
		metrics: m,
	}
}

// WriteFrame writes one frame. Oversized payloads return
// protocol.ErrPayloadTooLarge and leave the Writer usable; transport
// errors return an error wrapping ErrWriteFailed and break it.
func (w *Writer) WriteFrame(t protocol.PacketType, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return protocol.ErrPayloadTooLarge
	}
	if err := w.limits.Check(t, uint32(len(payload))); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return w.broken
	}
	if err := protocol.WriteFrame(w.w, t, payload); err != nil {
		w.broken = fmt.Errorf("%w: %s frame: %w", ErrWriteFailed, t, err)
		return w.broken
	}
	w.metrics.FrameSent(t, len(payload))
	return nil
}

// WriteMessage encodes msg and writes it as one frame.
func (w *Writer) WriteMessage(msg any) error {
	t, payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return w.WriteFrame(t, payload)
}

// Err returns the error that broke the Writer, or nil.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.broken
}
