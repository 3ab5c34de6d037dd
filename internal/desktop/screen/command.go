// Package screen provides desktop.ScreenSource implementations.
package screen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Command captures the screen by running an external tool that writes one
// encoded image (JPEG or PNG) to stdout.
type Command struct {
	Argv []string
}

// DetectCommand picks a capture tool for the current desktop session.
func DetectCommand() (*Command, error) {
	switch {
	case runtime.GOOS == "darwin":
		return &Command{Argv: []string{"screencapture", "-x", "-t", "jpg", "/dev/stdout"}}, nil
	case os.Getenv("WAYLAND_DISPLAY") != "":
		return &Command{Argv: []string{"grim", "-t", "jpeg", "-"}}, nil
	case os.Getenv("DISPLAY") != "":
		return &Command{Argv: []string{"import", "-window", "root", "jpeg:-"}}, nil
	default:
		return nil, errors.New("no screen capture tool for this session (set DISPLAY or WAYLAND_DISPLAY)")
	}
}

// ParseCommand splits a whitespace-separated command line into a Command.
func ParseCommand(line string) (*Command, error) {
	argv := strings.Fields(line)
	if len(argv) == 0 {
		return nil, errors.New("empty capture command")
	}
	return &Command{Argv: argv}, nil
}

func (c *Command) Capture(ctx context.Context) ([]byte, error) {
	if len(c.Argv) == 0 {
		return nil, errors.New("capture command not configured")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", c.Argv[0], err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%s: produced no image", c.Argv[0])
	}
	return stdout.Bytes(), nil
}
