package input

import (
	"context"

	"go.uber.org/zap"

	"github.com/chronologos/godesk/internal/desktop"
	"github.com/chronologos/godesk/internal/protocol"
)

// Logger logs each event and then passes it to Next, if set. With no Next
// it is a dry-run sink for hosts without an input backend.
type Logger struct {
	Log  *zap.Logger
	Next desktop.InputSink
}

func (l *Logger) ApplyMouse(ctx context.Context, ev protocol.MouseEvent) error {
	l.Log.Debug("mouse",
		zap.Stringer("action", ev.Action),
		zap.Int16("x", ev.X),
		zap.Int16("y", ev.Y),
	)
	if l.Next == nil {
		return nil
	}
	return l.Next.ApplyMouse(ctx, ev)
}

func (l *Logger) ApplyKeyboard(ctx context.Context, ev protocol.KeyboardEvent) error {
	l.Log.Debug("keyboard",
		zap.Uint8("key_code", ev.KeyCode),
		zap.Stringer("state", ev.State),
	)
	if l.Next == nil {
		return nil
	}
	return l.Next.ApplyKeyboard(ctx, ev)
}

func (l *Logger) ApplyScroll(ctx context.Context, ev protocol.ScrollEvent) error {
	l.Log.Debug("scroll", zap.Int32("delta", ev.Delta))
	if l.Next == nil {
		return nil
	}
	return l.Next.ApplyScroll(ctx, ev)
}
