package viewer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/chronologos/godesk/internal/protocol"
)

// errQuit is returned by ParseLine for the quit command.
var errQuit = errors.New("quit")

// LocalPoint is a pointer event in local display coordinates, before
// scaling to host pixels.
type LocalPoint struct {
	Action protocol.MouseAction
	X, Y   int
}

const consoleHelp = `commands:
  move X Y | click X Y | rclick X Y | dclick X Y
  key CODE down|up      CODE is a number (0x41) or a single letter/digit
  scroll DELTA          positive scrolls up, 120 per notch
  clip TEXT             send TEXT as clipboard contents
  quit`

// ParseLine turns one console line into a local event: a LocalPoint,
// protocol.KeyboardEvent, protocol.ScrollEvent or protocol.ClipboardText.
// Blank lines and comments yield nil.
func ParseLine(line string) (any, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}
	cmd, rest, _ := strings.Cut(line, " ")
	args := strings.Fields(rest)

	switch cmd {
	case "quit", "exit":
		return nil, errQuit
	case "move", "click", "rclick", "dclick":
		if len(args) != 2 {
			return nil, fmt.Errorf("%s needs X Y", cmd)
		}
		x, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("bad X: %w", err)
		}
		y, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("bad Y: %w", err)
		}
		return LocalPoint{Action: mouseActions[cmd], X: x, Y: y}, nil
	case "key":
		if len(args) != 2 {
			return nil, errors.New("key needs CODE down|up")
		}
		code, err := parseKeyCode(args[0])
		if err != nil {
			return nil, err
		}
		var state protocol.KeyState
		switch args[1] {
		case "down":
			state = protocol.KeyDown
		case "up":
			state = protocol.KeyUp
		default:
			return nil, fmt.Errorf("key state %q is not down or up", args[1])
		}
		return protocol.KeyboardEvent{KeyCode: code, State: state}, nil
	case "scroll":
		if len(args) != 1 {
			return nil, errors.New("scroll needs DELTA")
		}
		d, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad delta: %w", err)
		}
		return protocol.ScrollEvent{Delta: int32(d)}, nil
	case "clip":
		return protocol.ClipboardText{Text: strings.TrimPrefix(rest, " ")}, nil
	case "help":
		return nil, errors.New(consoleHelp)
	default:
		return nil, fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

var mouseActions = map[string]protocol.MouseAction{
	"move":   protocol.MouseMove,
	"click":  protocol.MouseLeftClick,
	"rclick": protocol.MouseRightClick,
	"dclick": protocol.MouseDoubleClick,
}

// parseKeyCode accepts a numeric virtual key code or a single letter or
// digit, whose key code is its uppercase ASCII value.
func parseKeyCode(s string) (byte, error) {
	if len(s) == 1 {
		c := s[0]
		switch {
		case c >= 'a' && c <= 'z':
			return c - ('a' - 'A'), nil
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return c, nil
		}
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("bad key code %q", s)
	}
	return byte(v), nil
}

// Console reads line commands and turns them into local input events.
type Console struct {
	In  io.Reader
	Out io.Writer // prompts and parse errors; nil discards
}

// Run sends parsed events to events until quit, end of input or ctx is
// done, then closes events. Closing events is what ends the session on
// the user's request.
func (c *Console) Run(ctx context.Context, events chan<- any) error {
	defer close(events)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	out := c.Out
	if out == nil {
		out = io.Discard
	}
	prompt := isTerminal(c.In)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		if prompt {
			fmt.Fprint(out, "godesk> ")
		}
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			ev, err := ParseLine(line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if ev == nil {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
