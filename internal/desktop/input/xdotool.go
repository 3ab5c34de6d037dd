// Package input provides desktop.InputSink implementations.
package input

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/chronologos/godesk/internal/protocol"
)

// DefaultClickGap separates the two clicks of a double-click.
const DefaultClickGap = 150 * time.Millisecond

// wheelStep is one wheel notch in event delta units.
const wheelStep = 120

// Xdotool applies input to an X11 session by running xdotool.
type Xdotool struct {
	Path     string        // xdotool binary, "" means look up "xdotool"
	ClickGap time.Duration // 0 means DefaultClickGap

	// Exec runs one xdotool invocation. Nil runs the binary.
	Exec func(ctx context.Context, args []string) error
}

func (x *Xdotool) run(ctx context.Context, args ...string) error {
	if x.Exec != nil {
		return x.Exec(ctx, args)
	}
	path := x.Path
	if path == "" {
		path = "xdotool"
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("xdotool %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ApplyMouse moves the pointer to the event position, then performs the
// click the action names.
func (x *Xdotool) ApplyMouse(ctx context.Context, ev protocol.MouseEvent) error {
	if err := x.run(ctx, "mousemove", strconv.Itoa(int(ev.X)), strconv.Itoa(int(ev.Y))); err != nil {
		return err
	}
	switch ev.Action {
	case protocol.MouseMove:
		return nil
	case protocol.MouseLeftClick:
		return x.run(ctx, "click", "1")
	case protocol.MouseRightClick:
		return x.run(ctx, "click", "3")
	case protocol.MouseDoubleClick:
		if err := x.run(ctx, "click", "1"); err != nil {
			return err
		}
		gap := x.ClickGap
		if gap == 0 {
			gap = DefaultClickGap
		}
		select {
		case <-time.After(gap):
		case <-ctx.Done():
			return ctx.Err()
		}
		return x.run(ctx, "click", "1")
	default:
		return fmt.Errorf("unsupported mouse action %v", ev.Action)
	}
}

func (x *Xdotool) ApplyKeyboard(ctx context.Context, ev protocol.KeyboardEvent) error {
	name, ok := KeyName(ev.KeyCode)
	if !ok {
		return fmt.Errorf("no X keysym for key code 0x%02x", ev.KeyCode)
	}
	switch ev.State {
	case protocol.KeyDown:
		return x.run(ctx, "keydown", name)
	case protocol.KeyUp:
		return x.run(ctx, "keyup", name)
	default:
		return fmt.Errorf("unsupported key state %v", ev.State)
	}
}

// ApplyScroll turns the delta into wheel clicks: positive scrolls up.
// Deltas smaller than one notch still scroll once.
func (x *Xdotool) ApplyScroll(ctx context.Context, ev protocol.ScrollEvent) error {
	if ev.Delta == 0 {
		return nil
	}
	button := "4"
	delta := int64(ev.Delta)
	if delta < 0 {
		button = "5"
		delta = -delta
	}
	repeat := max(delta/wheelStep, 1)
	return x.run(ctx, "click", "--repeat", strconv.FormatInt(repeat, 10), button)
}

// keyNames maps virtual key codes to X keysym names.
var keyNames = map[byte]string{
	0x08: "BackSpace",
	0x09: "Tab",
	0x0D: "Return",
	0x10: "Shift_L",
	0x11: "Control_L",
	0x12: "Alt_L",
	0x13: "Pause",
	0x14: "Caps_Lock",
	0x1B: "Escape",
	0x20: "space",
	0x21: "Prior",
	0x22: "Next",
	0x23: "End",
	0x24: "Home",
	0x25: "Left",
	0x26: "Up",
	0x27: "Right",
	0x28: "Down",
	0x2D: "Insert",
	0x2E: "Delete",
	0x5B: "Super_L",
	0x5C: "Super_R",
	0xBA: "semicolon",
	0xBB: "equal",
	0xBC: "comma",
	0xBD: "minus",
	0xBE: "period",
	0xBF: "slash",
	0xC0: "grave",
	0xDB: "bracketleft",
	0xDC: "backslash",
	0xDD: "bracketright",
	0xDE: "apostrophe",
}

// KeyName returns the X keysym name for a virtual key code.
func KeyName(code byte) (string, bool) {
	switch {
	case code >= '0' && code <= '9':
		return string(rune(code)), true
	case code >= 'A' && code <= 'Z':
		return string(rune(code + ('a' - 'A'))), true
	case code >= 0x70 && code <= 0x7B:
		return "F" + strconv.Itoa(int(code-0x70)+1), true
	}
	name, ok := keyNames[code]
	return name, ok
}
