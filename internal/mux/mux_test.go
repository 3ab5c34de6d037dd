package mux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chronologos/godesk/internal/protocol"
)

// --- Fakes ---

// gatedWriter appends to an in-memory buffer a few bytes at a time,
// yielding between pieces so unsynchronized writers would interleave.
type gatedWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (g *gatedWriter) Write(p []byte) (int, error) {
	for i := 0; i < len(p); i += 3 {
		end := min(i+3, len(p))
		g.mu.Lock()
		g.buf.Write(p[i:end])
		g.mu.Unlock()
		runtime.Gosched()
	}
	return len(p), nil
}

func (g *gatedWriter) frames(t *testing.T) []protocol.Frame {
	t.Helper()
	g.mu.Lock()
	data := append([]byte(nil), g.buf.Bytes()...)
	g.mu.Unlock()

	fr := protocol.NewReader(bytes.NewReader(data), protocol.Limits{})
	var out []protocol.Frame
	for {
		f, err := fr.ReadFrame()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("stream corrupt after %d frames: %v", len(out), err)
		}
		out = append(out, f)
	}
}

type failingWriter struct {
	calls atomic.Int32
}

func (f *failingWriter) Write(p []byte) (int, error) {
	f.calls.Add(1)
	return 0, errors.New("connection reset by peer")
}

// scriptedClipboard returns script values in order, then cancels.
type scriptedClipboard struct {
	script []string
	cancel context.CancelFunc
	i      int
}

func (c *scriptedClipboard) GetText(ctx context.Context) (string, error) {
	if c.i >= len(c.script) {
		c.cancel()
		return c.script[len(c.script)-1], nil
	}
	s := c.script[c.i]
	c.i++
	return s, nil
}

func (c *scriptedClipboard) SetText(ctx context.Context, text string) error { return nil }

type countingSource struct {
	captures atomic.Int32
	img      []byte
	err      error
}

func (s *countingSource) Capture(ctx context.Context) ([]byte, error) {
	s.captures.Add(1)
	return s.img, s.err
}

type stubProducer struct {
	name     string
	critical bool
	run      func(ctx context.Context, w *Writer) error
}

func (s *stubProducer) Name() string   { return s.name }
func (s *stubProducer) Critical() bool { return s.critical }
func (s *stubProducer) Run(ctx context.Context, w *Writer) error {
	return s.run(ctx, w)
}

// --- Writer ---

func TestWriterNoTornFrames(t *testing.T) {
	gw := &gatedWriter{}
	w := NewWriter(gw, protocol.Limits{}, nil)

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte(i)}, 100+i)
			for range perWriter {
				if err := w.WriteFrame(protocol.PacketScreen, payload); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	frames := gw.frames(t)
	if len(frames) != writers*perWriter {
		t.Fatalf("got %d frames, want %d", len(frames), writers*perWriter)
	}
	for i, f := range frames {
		id := f.Payload[0]
		if len(f.Payload) != 100+int(id) {
			t.Fatalf("frame %d: length %d does not match writer %d", i, len(f.Payload), id)
		}
		for _, b := range f.Payload {
			if b != id {
				t.Fatalf("frame %d: mixed payload bytes", i)
			}
		}
	}
}

func TestWriterStickyBroken(t *testing.T) {
	fw := &failingWriter{}
	w := NewWriter(fw, protocol.Limits{}, nil)

	err := w.WriteMessage(&protocol.KeyboardEvent{KeyCode: 0x41})
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	calls := fw.calls.Load()

	err2 := w.WriteMessage(&protocol.ScrollEvent{Delta: 1})
	if !errors.Is(err2, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed on second write, got %v", err2)
	}
	if fw.calls.Load() != calls {
		t.Fatal("broken writer touched the stream again")
	}
	if w.Err() == nil {
		t.Fatal("Err() should report the failure")
	}
}

func TestWriterRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, protocol.Limits{MaxClipboard: 4}, nil)

	err := w.WriteMessage(&protocol.ClipboardText{Text: "too long"})
	if !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatal("oversized frame reached the stream")
	}
	if err := w.WriteMessage(&protocol.ClipboardText{Text: "ok"}); err != nil {
		t.Fatalf("writer unusable after rejected frame: %v", err)
	}
}

// --- Producers ---

func TestClipboardDeduplication(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := &gatedWriter{}
	w := NewWriter(gw, protocol.Limits{}, nil)
	p := &ClipboardProducer{
		Clipboard: &scriptedClipboard{script: []string{"", "a", "a", "a", "b", "b", "a"}, cancel: cancel},
		Interval:  time.Millisecond,
	}
	if err := p.Run(ctx, w); err != nil {
		t.Fatal(err)
	}

	frames := gw.frames(t)
	want := []string{"a", "b", "a"}
	if len(frames) != len(want) {
		t.Fatalf("got %d clipboard frames, want %d", len(frames), len(want))
	}
	for i, f := range frames {
		if f.Type != protocol.PacketClipboard || string(f.Payload) != want[i] {
			t.Fatalf("frame %d = %v %q, want %q", i, f.Type, f.Payload, want[i])
		}
	}
}

func TestClipboardUnchangedTextSentOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := &gatedWriter{}
	p := &ClipboardProducer{
		Clipboard: &scriptedClipboard{script: []string{"x", "x", "x", "x"}, cancel: cancel},
		Interval:  time.Millisecond,
	}
	if err := p.Run(ctx, NewWriter(gw, protocol.Limits{}, nil)); err != nil {
		t.Fatal(err)
	}
	if n := len(gw.frames(t)); n != 1 {
		t.Fatalf("got %d frames for unchanged text, want 1", n)
	}
}

func TestScreenProducerStopsOnCancel(t *testing.T) {
	src := &countingSource{img: []byte{0xff, 0xd8}}
	gw := &gatedWriter{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- (&ScreenProducer{Source: src, Interval: 50 * time.Millisecond}).Run(ctx, NewWriter(gw, protocol.Limits{}, nil))
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("screen producer did not stop within one cycle")
	}

	n := src.captures.Load()
	if n < 2 {
		t.Fatalf("expected at least 2 captures, got %d", n)
	}
	if got := len(gw.frames(t)); got != int(n) {
		t.Fatalf("wrote %d frames for %d captures", got, n)
	}
}

func TestScreenProducerCaptureFailure(t *testing.T) {
	src := &countingSource{err: errors.New("display gone")}
	err := (&ScreenProducer{Source: src, Interval: time.Millisecond}).Run(context.Background(), NewWriter(io.Discard, protocol.Limits{}, nil))
	if err == nil {
		t.Fatal("expected capture error")
	}
	if src.captures.Load() != 1 {
		t.Fatal("capture failure should end the loop immediately")
	}
}

func TestEventProducerForwardsInOrder(t *testing.T) {
	events := make(chan any, 3)
	events <- &protocol.MouseEvent{Action: protocol.MouseMove, X: 1, Y: 2}
	events <- &protocol.KeyboardEvent{KeyCode: 0x41, State: protocol.KeyDown}
	events <- &protocol.KeyboardEvent{KeyCode: 0x41, State: protocol.KeyUp}
	close(events)

	gw := &gatedWriter{}
	p := &EventProducer{Events: events}
	if err := p.Run(context.Background(), NewWriter(gw, protocol.Limits{}, nil)); err != nil {
		t.Fatal(err)
	}
	if p.Sent() != 3 {
		t.Fatalf("Sent = %d, want 3", p.Sent())
	}
	frames := gw.frames(t)
	if len(frames) != 3 {
		t.Fatalf("got %d frames", len(frames))
	}
	if frames[0].Type != protocol.PacketMouse || frames[2].Payload[1] != byte(protocol.KeyUp) {
		t.Fatal("events reordered")
	}
}

// --- Multiplexer ---

func TestMultiplexerCriticalExitEnds(t *testing.T) {
	blocked := &stubProducer{name: "slow", run: func(ctx context.Context, w *Writer) error {
		<-ctx.Done()
		return nil
	}}
	events := make(chan any)
	close(events)

	m := New(NewWriter(io.Discard, protocol.Limits{}, nil), nil, blocked, &EventProducer{Events: events})
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	done := make(chan struct{})
	go func() { m.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("remaining producers were not cancelled")
	}
}

func TestMultiplexerNonCriticalFailureContinues(t *testing.T) {
	flaky := &stubProducer{name: "clipboard", run: func(ctx context.Context, w *Writer) error {
		return errors.New("xclip missing")
	}}
	stop := make(chan struct{})
	critical := &stubProducer{name: "screen", critical: true, run: func(ctx context.Context, w *Writer) error {
		<-stop
		return nil
	}}

	m := New(NewWriter(io.Discard, protocol.Limits{}, nil), nil, flaky, critical)
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(stop)
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestMultiplexerOnlyNonCriticalFailedBlocksUntilCancel(t *testing.T) {
	flaky := &stubProducer{name: "clipboard", run: func(ctx context.Context, w *Writer) error {
		return errors.New("xclip missing")
	}}

	m := New(NewWriter(io.Discard, protocol.Limits{}, nil), nil, flaky)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("Run returned after its only non-critical producer failed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run ignored cancel")
	}
}

func TestMultiplexerWriteFailureEnds(t *testing.T) {
	fw := &failingWriter{}
	writer := &stubProducer{name: "clipboard", run: func(ctx context.Context, w *Writer) error {
		return w.WriteMessage(&protocol.ClipboardText{Text: "x"})
	}}
	idle := &stubProducer{name: "idle", critical: true, run: func(ctx context.Context, w *Writer) error {
		<-ctx.Done()
		return nil
	}}

	m := New(NewWriter(fw, protocol.Limits{}, nil), nil, writer, idle)
	err := m.Run(context.Background())
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	m.Wait()
}

func TestMultiplexerNoProducersBlocksUntilCancel(t *testing.T) {
	m := New(NewWriter(io.Discard, protocol.Limits{}, nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-done:
		t.Fatal("Run returned without producers or cancel")
	case <-time.After(30 * time.Millisecond):
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
