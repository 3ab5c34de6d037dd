package input

import (
	"context"
	"sync"

	"github.com/chronologos/godesk/internal/protocol"
)

// Recorder keeps every applied event in order. Events are the protocol
// value types (MouseEvent, KeyboardEvent, ScrollEvent).
type Recorder struct {
	mu      sync.Mutex
	events  []any
	changed chan struct{}
}

func (r *Recorder) record(ev any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.changed != nil {
		close(r.changed)
		r.changed = nil
	}
	return nil
}

func (r *Recorder) ApplyMouse(ctx context.Context, ev protocol.MouseEvent) error {
	return r.record(ev)
}

func (r *Recorder) ApplyKeyboard(ctx context.Context, ev protocol.KeyboardEvent) error {
	return r.record(ev)
}

func (r *Recorder) ApplyScroll(ctx context.Context, ev protocol.ScrollEvent) error {
	return r.record(ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}

// WaitFor blocks until at least n events have been recorded and returns
// them, or returns ctx's error.
func (r *Recorder) WaitFor(ctx context.Context, n int) ([]any, error) {
	for {
		r.mu.Lock()
		if len(r.events) >= n {
			evs := append([]any(nil), r.events...)
			r.mu.Unlock()
			return evs, nil
		}
		if r.changed == nil {
			r.changed = make(chan struct{})
		}
		ch := r.changed
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return r.Events(), ctx.Err()
		}
	}
}
