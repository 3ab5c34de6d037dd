// Package coalesce collapses bursts of pointer moves on the viewer's input
// path.
//
// A dragged pointer produces far more move events than the host can apply
// or the screen stream can show. The Coalescer keeps only the newest
// pending move and releases it when:
//
//   - the deadline expires (measured from the first move in a burst, NOT
//     reset by later moves; deadline semantics, not debounce)
//   - any other event arrives, which must not overtake the move before it
//   - Flush is called at shutdown
//
// Clicks, keys, scrolls and clipboard text are never dropped or reordered.
package coalesce

import (
	"context"
	"time"

	"github.com/chronologos/godesk/internal/protocol"
)

// Delay is the default coalescing deadline, about one display frame.
const Delay = 16 * time.Millisecond

// Coalescer holds at most one pending pointer move.
// All methods are used from a single goroutine (the select loop).
type Coalescer struct {
	pending protocol.MouseEvent
	has     bool
	dropped int
	delay   time.Duration
	timer   *time.Timer
	armed   bool // true when timer is running
}

// New creates a Coalescer. A delay of 0 uses Delay.
func New(delay time.Duration) *Coalescer {
	if delay <= 0 {
		delay = Delay
	}
	t := time.NewTimer(0)
	// Drain the initial fire from NewTimer(0) so Timer() starts clean
	if !t.Stop() {
		<-t.C
	}
	return &Coalescer{delay: delay, timer: t}
}

// Move records ev as the pending move, replacing any earlier one. The
// deadline is armed by the first move of a burst only.
func (c *Coalescer) Move(ev protocol.MouseEvent) {
	if c.has {
		c.dropped++
	} else if !c.armed {
		c.timer.Reset(c.delay)
		c.armed = true
	}
	c.pending = ev
	c.has = true
}

// Flush returns the pending move, if any, and disarms the deadline.
func (c *Coalescer) Flush() (protocol.MouseEvent, bool) {
	if c.armed {
		if !c.timer.Stop() {
			// Timer already fired; drain so it doesn't trigger a
			// spurious select case later.
			select {
			case <-c.timer.C:
			default:
			}
		}
		c.armed = false
	}
	if !c.has {
		return protocol.MouseEvent{}, false
	}
	ev := c.pending
	c.pending = protocol.MouseEvent{}
	c.has = false
	return ev, true
}

// Timer returns the channel that fires when the deadline expires, or nil
// when no move is pending (nil channels block forever in select).
func (c *Coalescer) Timer() <-chan time.Time {
	if !c.armed {
		return nil
	}
	return c.timer.C
}

// Stop releases the timer. Call in defer when done with the Coalescer.
func (c *Coalescer) Stop() {
	c.timer.Stop()
	c.armed = false
}

// Pending reports whether a move is waiting.
func (c *Coalescer) Pending() bool {
	return c.has
}

// Dropped returns how many moves were superseded before being sent.
func (c *Coalescer) Dropped() int {
	return c.dropped
}

// Pump copies events from in to out, coalescing pointer moves. It closes
// out when in is closed (after flushing) or ctx is done.
func Pump(ctx context.Context, delay time.Duration, in <-chan any, out chan<- any) {
	defer close(out)
	c := New(delay)
	defer c.Stop()

	send := func(ev any) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	flush := func() bool {
		if ev, ok := c.Flush(); ok {
			return send(ev)
		}
		return true
	}

	for {
		select {
		case ev, ok := <-in:
			if !ok {
				flush()
				return
			}
			if m, isMouse := ev.(protocol.MouseEvent); isMouse && m.Action == protocol.MouseMove {
				c.Move(m)
				continue
			}
			if !flush() || !send(ev) {
				return
			}
		case <-c.Timer():
			if !flush() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
