package coalesce

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/chronologos/godesk/internal/protocol"
)

func move(x, y int16) protocol.MouseEvent {
	return protocol.MouseEvent{Action: protocol.MouseMove, X: x, Y: y}
}

func TestNewestMoveWins(t *testing.T) {
	c := New(time.Hour)
	defer c.Stop()

	c.Move(move(1, 1))
	c.Move(move(2, 2))
	c.Move(move(3, 3))

	ev, ok := c.Flush()
	if !ok || ev != move(3, 3) {
		t.Fatalf("Flush = %v, %v; want %v", ev, ok, move(3, 3))
	}
	if c.Dropped() != 2 {
		t.Fatalf("Dropped = %d, want 2", c.Dropped())
	}
	if _, ok := c.Flush(); ok {
		t.Fatal("expected empty second flush")
	}
	if c.Timer() != nil {
		t.Fatal("timer should be nil after flush")
	}
}

func TestTimerFires(t *testing.T) {
	c := New(5 * time.Millisecond)
	defer c.Stop()

	if c.Timer() != nil {
		t.Fatal("timer should be nil before any move")
	}
	c.Move(move(1, 1))
	timer := c.Timer()
	if timer == nil {
		t.Fatal("timer should be non-nil after Move")
	}

	select {
	case <-timer:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	if ev, ok := c.Flush(); !ok || ev != move(1, 1) {
		t.Fatalf("Flush = %v, %v", ev, ok)
	}
}

func TestDeadlineNotDebounce(t *testing.T) {
	c := New(30 * time.Millisecond)
	defer c.Stop()

	start := time.Now()
	c.Move(move(0, 0))
	// Keep moving; the deadline must still fire ~30ms after the first move.
	done := time.After(time.Second)
	for i := int16(1); ; i++ {
		select {
		case <-c.Timer():
			if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
				t.Fatalf("deadline was reset by later moves: fired after %v", elapsed)
			}
			return
		case <-done:
			t.Fatal("timer never fired")
		case <-time.After(2 * time.Millisecond):
			c.Move(move(i, i))
		}
	}
}

func TestFlushAfterTimerFiredDrains(t *testing.T) {
	c := New(time.Millisecond)
	defer c.Stop()

	c.Move(move(1, 1))
	time.Sleep(10 * time.Millisecond)
	c.Flush()
	if c.Timer() != nil {
		t.Fatal("timer should be disarmed after flush")
	}

	c.Move(move(2, 2))
	select {
	case <-c.Timer():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire for second burst")
	}
}

func collect(t *testing.T, out <-chan any) []any {
	t.Helper()
	var got []any
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-out:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("pump did not close out")
		}
	}
}

func TestPumpKeepsOrder(t *testing.T) {
	in := make(chan any, 16)
	out := make(chan any, 16)

	click := protocol.MouseEvent{Action: protocol.MouseLeftClick, X: 3, Y: 3}
	key := protocol.KeyboardEvent{KeyCode: 0x41, State: protocol.KeyDown}
	in <- move(1, 1)
	in <- move(2, 2)
	in <- click
	in <- move(4, 4)
	in <- key
	in <- move(5, 5)
	close(in)

	go Pump(context.Background(), time.Hour, in, out)
	got := collect(t, out)

	want := []any{move(2, 2), click, move(4, 4), key, move(5, 5)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPumpReleasesOnDeadline(t *testing.T) {
	in := make(chan any)
	out := make(chan any, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Pump(ctx, 5*time.Millisecond, in, out)
	in <- move(7, 7)

	select {
	case ev := <-out:
		if ev != any(move(7, 7)) {
			t.Fatalf("got %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("pending move was never released")
	}
}

func TestPumpStopsOnCancel(t *testing.T) {
	in := make(chan any)
	out := make(chan any)
	ctx, cancel := context.WithCancel(context.Background())

	go Pump(ctx, time.Hour, in, out)
	cancel()
	collect(t, out)
}
