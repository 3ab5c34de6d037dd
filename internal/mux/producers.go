package mux

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chronologos/godesk/internal/desktop"
	"github.com/chronologos/godesk/internal/protocol"
)

// Producer is one independently scheduled loop that writes frames.
//
// Run returns nil when ctx is cancelled or the producer has nothing more
// to send. A critical producer ending, for any reason, ends the whole
// multiplexer; a non-critical one only ends itself.
type Producer interface {
	Name() string
	Critical() bool
	Run(ctx context.Context, w *Writer) error
}

// sleep waits d or until ctx is done. Returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// --- Screen ---

// ScreenProducer captures and sends screen images. Interval is the delay
// between the end of one write and the start of the next capture, so a
// slow capture or a slow peer lowers the frame rate instead of queueing.
type ScreenProducer struct {
	Source   desktop.ScreenSource
	Interval time.Duration
	Log      *zap.Logger
}

func (p *ScreenProducer) Name() string   { return "screen" }
func (p *ScreenProducer) Critical() bool { return true }

func (p *ScreenProducer) Run(ctx context.Context, w *Writer) error {
	log := orNop(p.Log)
	for {
		if ctx.Err() != nil {
			return nil
		}
		img, err := p.Source.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("capture screen: %w", err)
		}
		if err := w.WriteFrame(protocol.PacketScreen, img); err != nil {
			if !errors.Is(err, protocol.ErrPayloadTooLarge) {
				return err
			}
			log.Warn("screen image dropped", zap.Int("bytes", len(img)), zap.Error(err))
		}
		if !sleep(ctx, p.Interval) {
			return nil
		}
	}
}

// --- Clipboard ---

// ClipboardProducer polls the clipboard and sends its text whenever it
// differs from the last text sent. Equal polls send nothing, so two peers
// echoing each other's clipboard settle after one round trip.
//
// A failed poll ends this producer only; losing clipboard sync does not
// end the session.
type ClipboardProducer struct {
	Clipboard desktop.Clipboard
	Interval  time.Duration
	Log       *zap.Logger

	last string
}

func (p *ClipboardProducer) Name() string   { return "clipboard" }
func (p *ClipboardProducer) Critical() bool { return false }

func (p *ClipboardProducer) Run(ctx context.Context, w *Writer) error {
	log := orNop(p.Log)
	for {
		if ctx.Err() != nil {
			return nil
		}
		text, err := p.Clipboard.GetText(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read clipboard: %w", err)
		}
		if text != p.last {
			p.last = text
			if err := w.WriteMessage(&protocol.ClipboardText{Text: text}); err != nil {
				if !errors.Is(err, protocol.ErrPayloadTooLarge) {
					return err
				}
				log.Warn("clipboard text not sent", zap.Int("bytes", len(text)), zap.Error(err))
			}
		}
		if !sleep(ctx, p.Interval) {
			return nil
		}
	}
}

// --- Events ---

// EventProducer forwards locally generated input events. Closing Events
// is how the local user ends the session.
type EventProducer struct {
	Events <-chan any

	sent atomic.Int64
}

// Sent returns the number of events written to the stream.
func (p *EventProducer) Sent() int64 {
	return p.sent.Load()
}

func (p *EventProducer) Name() string   { return "input" }
func (p *EventProducer) Critical() bool { return true }

func (p *EventProducer) Run(ctx context.Context, w *Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-p.Events:
			if !ok {
				return nil
			}
			if err := w.WriteMessage(ev); err != nil {
				return err
			}
			p.sent.Add(1)
		}
	}
}

func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
