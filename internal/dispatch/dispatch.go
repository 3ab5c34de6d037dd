// Package dispatch runs the inbound half of a session: the single reader
// that decodes frames and hands them to handlers in wire order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/chronologos/godesk/internal/metrics"
	"github.com/chronologos/godesk/internal/protocol"
)

// Handlers receive decoded inbound events. A nil handler means the event
// type is read and discarded, e.g. the host has no use for ScreenImage.
// Handlers run synchronously on the dispatcher goroutine: the next frame
// is not read until the handler returns.
type Handlers struct {
	Mouse     func(protocol.MouseEvent)
	Keyboard  func(protocol.KeyboardEvent)
	Scroll    func(protocol.ScrollEvent)
	Clipboard func(text string)
	Screen    func(image []byte)
}

// Dispatcher reads frames from one stream.
type Dispatcher struct {
	handlers Handlers
	limits   protocol.Limits
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// New returns a Dispatcher. log and m may be nil.
func New(h Handlers, limits protocol.Limits, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		handlers: h,
		limits:   limits,
		log:      log,
		metrics:  m,
	}
}

// Run reads and dispatches frames until the stream ends or ctx is
// cancelled. A clean close by the peer at a frame boundary returns nil;
// that is the normal way a session ends. Any other read failure, a close
// partway through a frame, or a protocol fault is returned and never
// retried.
//
// Cancellation is observed between frames. A read already blocked is
// released by closing the stream, not by ctx.
func (d *Dispatcher) Run(ctx context.Context, r io.Reader) error {
	fr := protocol.NewReader(r, d.limits)
	for {
		if ctx.Err() != nil {
			return nil
		}
		f, err := fr.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.log.Debug("peer closed stream")
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if err := d.dispatch(f); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) dispatch(f protocol.Frame) error {
	if !f.Type.Known() {
		d.metrics.FrameDiscarded()
		d.log.Debug("skipped frame of unknown type", zap.Uint8("type", uint8(f.Type)))
		return nil
	}
	d.metrics.FrameReceived(f.Type, len(f.Payload))

	switch f.Type {
	case protocol.PacketMouse:
		ev, err := protocol.DecodeMouseEvent(f.Payload)
		if err != nil {
			return err
		}
		if d.handlers.Mouse != nil {
			d.handlers.Mouse(*ev)
		}
	case protocol.PacketKeyboard:
		ev, err := protocol.DecodeKeyboardEvent(f.Payload)
		if err != nil {
			return err
		}
		if d.handlers.Keyboard != nil {
			d.handlers.Keyboard(*ev)
		}
	case protocol.PacketScroll:
		ev, err := protocol.DecodeScrollEvent(f.Payload)
		if err != nil {
			return err
		}
		if d.handlers.Scroll != nil {
			d.handlers.Scroll(*ev)
		}
	case protocol.PacketClipboard:
		if d.handlers.Clipboard != nil {
			d.handlers.Clipboard(string(f.Payload))
		}
	case protocol.PacketScreen:
		if d.handlers.Screen != nil {
			d.handlers.Screen(f.Payload)
		}
	}
	return nil
}
