// Package desktop defines the platform collaborators a session drives:
// where screen images come from, where input events go, and the clipboard.
//
// Implementations live in the screen, input and clipboard subpackages.
package desktop

import (
	"context"

	"github.com/chronologos/godesk/internal/protocol"
)

// ScreenSource captures one encoded whole-screen image per call. The bytes
// are opaque to the session; the viewer expects a format image.Decode
// understands (JPEG or PNG).
type ScreenSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

// InputSink applies remote input on the host. Errors are reported for
// logging only; the session never stops because an event could not be
// applied.
type InputSink interface {
	ApplyMouse(ctx context.Context, ev protocol.MouseEvent) error
	ApplyKeyboard(ctx context.Context, ev protocol.KeyboardEvent) error
	ApplyScroll(ctx context.Context, ev protocol.ScrollEvent) error
}

// Clipboard reads and replaces the local clipboard text. Implementations
// that need a particular OS thread marshal calls themselves (see
// clipboard.Pinned); callers treat both methods as plain blocking calls.
type Clipboard interface {
	GetText(ctx context.Context) (string, error)
	SetText(ctx context.Context, text string) error
}
