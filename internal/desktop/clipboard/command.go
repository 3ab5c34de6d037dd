// Package clipboard provides desktop.Clipboard implementations.
package clipboard

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

// Command reads and writes the clipboard through external tools, e.g.
// xclip, wl-clipboard or pbcopy. Get prints the clipboard to stdout; Set
// reads the new contents from stdin.
type Command struct {
	Get []string
	Set []string
}

// DetectCommand picks clipboard tools for the current desktop session.
func DetectCommand() (*Command, error) {
	switch {
	case runtime.GOOS == "darwin":
		return &Command{Get: []string{"pbpaste"}, Set: []string{"pbcopy"}}, nil
	case os.Getenv("WAYLAND_DISPLAY") != "":
		return &Command{
			Get: []string{"wl-paste", "--no-newline"},
			Set: []string{"wl-copy"},
		}, nil
	case os.Getenv("DISPLAY") != "":
		return &Command{
			Get: []string{"xclip", "-selection", "clipboard", "-o"},
			Set: []string{"xclip", "-selection", "clipboard", "-i"},
		}, nil
	default:
		return nil, errors.New("no clipboard tool for this session (set DISPLAY or WAYLAND_DISPLAY)")
	}
}

// GetText runs the Get command. A tool that exits non-zero without output
// is reporting an empty clipboard, which is not an error here.
func (c *Command) GetText(ctx context.Context) (string, error) {
	if len(c.Get) == 0 {
		return "", errors.New("clipboard get command not configured")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Get[0], c.Get[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stdout.Len() == 0 {
			return "", nil
		}
		return "", fmt.Errorf("%s: %w: %s", c.Get[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// SetText runs the Set command with text on stdin. Empty text is ignored:
// clearing the local clipboard because the peer's went empty loses data.
func (c *Command) SetText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if len(c.Set) == 0 {
		return errors.New("clipboard set command not configured")
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Set[0], c.Set[1:]...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", c.Set[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
