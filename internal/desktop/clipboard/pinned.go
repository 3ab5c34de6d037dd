package clipboard

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/chronologos/godesk/internal/desktop"
)

// ErrClosed is returned by a Pinned clipboard after Close.
var ErrClosed = errors.New("clipboard closed")

// Pinned runs every call to an inner clipboard on one goroutine locked to
// one OS thread, for platform clipboard APIs that must always be used
// from the thread that initialized them.
type Pinned struct {
	inner desktop.Clipboard
	calls chan func()
	done  chan struct{}
	once  sync.Once
}

// NewPinned starts the pinned goroutine. Call Close to stop it.
func NewPinned(inner desktop.Clipboard) *Pinned {
	p := &Pinned{
		inner: inner,
		calls: make(chan func()),
		done:  make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *Pinned) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for {
		select {
		case fn := <-p.calls:
			fn()
		case <-p.done:
			return
		}
	}
}

// do runs fn on the pinned thread and waits for it.
func (p *Pinned) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	call := func() {
		defer close(finished)
		fn()
	}
	select {
	case p.calls <- call:
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (p *Pinned) GetText(ctx context.Context) (string, error) {
	var text string
	var err error
	if callErr := p.do(ctx, func() { text, err = p.inner.GetText(ctx) }); callErr != nil {
		return "", callErr
	}
	return text, err
}

func (p *Pinned) SetText(ctx context.Context, text string) error {
	var err error
	if callErr := p.do(ctx, func() { err = p.inner.SetText(ctx, text) }); callErr != nil {
		return callErr
	}
	return err
}

// Close stops the pinned goroutine. Calls after Close return ErrClosed.
func (p *Pinned) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
