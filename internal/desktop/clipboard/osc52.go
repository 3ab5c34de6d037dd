package clipboard

import (
	"context"
	"io"
	"sync"

	"github.com/aymanbagabas/go-osc52/v2"
)

// OSC52 sets the clipboard of the terminal the process runs in by writing
// an OSC 52 escape sequence, which works over SSH. Terminals rarely allow
// reading the clipboard back, so GetText returns the last text set.
type OSC52 struct {
	Out  io.Writer
	Tmux bool // wrap the sequence for tmux passthrough

	mu   sync.Mutex
	last string
}

func (o *OSC52) GetText(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last, nil
}

func (o *OSC52) SetText(ctx context.Context, text string) error {
	seq := osc52.New(text)
	if text == "" {
		seq = osc52.Clear()
	}
	if o.Tmux {
		seq = seq.Tmux()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := seq.WriteTo(o.Out); err != nil {
		return err
	}
	o.last = text
	return nil
}
