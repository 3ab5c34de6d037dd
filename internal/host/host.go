// Package host is the controlled side: it listens for viewers, streams the
// screen and clipboard to the active one, and applies its input.
package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/chronologos/godesk/internal/desktop"
	"github.com/chronologos/godesk/internal/dispatch"
	"github.com/chronologos/godesk/internal/metrics"
	"github.com/chronologos/godesk/internal/mux"
	"github.com/chronologos/godesk/internal/protocol"
	"github.com/chronologos/godesk/internal/session"
	"github.com/chronologos/godesk/internal/transport"
)

const (
	// Delays before re-arming Accept after a failure; doubled per
	// consecutive failure and reset by a successful accept.
	acceptRetryMin = 5 * time.Millisecond
	acceptRetryMax = time.Second
)

const (
	DefaultPort              = 8888
	DefaultScreenInterval    = 100 * time.Millisecond
	DefaultClipboardInterval = 500 * time.Millisecond
)

// Config holds host configuration.
type Config struct {
	Mode transport.Mode
	Port int

	Screen    desktop.ScreenSource
	Input     desktop.InputSink
	Clipboard desktop.Clipboard // nil disables clipboard sync

	ScreenInterval    time.Duration
	ClipboardInterval time.Duration
	Grace             time.Duration
	Limits            protocol.Limits

	Log     *zap.Logger
	Metrics *metrics.Metrics
}

// Server accepts one viewer at a time. A new connection supersedes the
// active session: the old one is torn down before the new one starts.
type Server struct {
	cfg Config
	log *zap.Logger
	ln  transport.Listener

	listen func(transport.Mode, int) (transport.Listener, error)

	// Ready is closed after the listener is bound, with Port set.
	// Callers (tests, CLI) can wait on this before dialing.
	Ready chan struct{}
	Port  int
}

// New creates a server but does not start it. Call Run to begin.
func New(cfg Config) *Server {
	if cfg.Mode == "" {
		cfg.Mode = transport.ModeTCP
	}
	if cfg.ScreenInterval <= 0 {
		cfg.ScreenInterval = DefaultScreenInterval
	}
	if cfg.ClipboardInterval <= 0 {
		cfg.ClipboardInterval = DefaultClipboardInterval
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:   cfg,
		log:   log.With(zap.String("component", "host")),
		Ready: make(chan struct{}),

		listen: transport.Listen,
	}
}

// active is the running session, if any.
type active struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the session and waits for its teardown to finish.
func (a *active) stop() {
	if a == nil {
		return
	}
	a.cancel()
	<-a.done
}

// Run listens and serves viewers until ctx is cancelled. Accept errors are
// logged and accepting continues; only a failure to bind or a closed
// listener ends Run with an error.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Screen == nil || s.cfg.Input == nil {
		return errors.New("host needs a screen source and an input sink")
	}
	ln, err := s.listen(s.cfg.Mode, s.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = ln
	defer s.ln.Close()

	// Signal readiness: set port and close channel so waiters unblock.
	s.Port = s.ln.Port()
	close(s.Ready)
	s.log.Info("listening", zap.String("transport", string(s.cfg.Mode)), zap.Int("port", s.Port))
	if s.cfg.Mode == transport.ModeQUIC || s.cfg.Mode == transport.ModeDual {
		if fp, err := transport.CertificateFingerprint(); err == nil {
			s.log.Debug("quic certificate", zap.String("sha256", fp))
		}
	}

	acceptCh := make(chan acceptResult, 1)
	go s.acceptLoop(ctx, acceptCh, 0)

	var cur *active
	var retry time.Duration
	defer func() { cur.stop() }()

	for {
		// nil channel when idle: the case never fires.
		var curDone <-chan struct{}
		if cur != nil {
			curDone = cur.done
		}

		select {
		case res := <-acceptCh:
			if res.err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(res.err, net.ErrClosed) {
					return fmt.Errorf("accept: %w", res.err)
				}
				retry = min(max(2*retry, acceptRetryMin), acceptRetryMax)
				s.log.Warn("accept failed", zap.Error(res.err), zap.Duration("retry_in", retry))
			} else {
				retry = 0
				if cur != nil {
					s.log.Info("new viewer supersedes active session",
						zap.Stringer("remote", res.conn.RemoteAddr()))
				}
				cur.stop()
				cur = s.start(ctx, res.conn)
			}
			go s.acceptLoop(ctx, acceptCh, retry)

		case <-curDone:
			cur = nil
			s.log.Info("waiting for next viewer")

		case <-ctx.Done():
			return nil
		}
	}
}

// start runs a session over conn in the background.
func (s *Server) start(ctx context.Context, conn transport.Conn) *active {
	ctx, cancel := context.WithCancel(ctx)
	sess := session.New(conn, session.Config{
		Role:      "host",
		Handlers:  s.handlers(ctx),
		Producers: s.producers(),
		Limits:    s.cfg.Limits,
		Grace:     s.cfg.Grace,
		Log:       s.log,
		Metrics:   s.cfg.Metrics,
	})
	a := &active{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(a.done)
		defer cancel()
		sess.Run(ctx)
	}()
	return a
}

// handlers applies viewer input locally. Sink failures are logged and the
// session carries on. ScreenImage is not expected from a viewer and is
// discarded.
func (s *Server) handlers(ctx context.Context) dispatch.Handlers {
	h := dispatch.Handlers{
		Mouse: func(ev protocol.MouseEvent) {
			if err := s.cfg.Input.ApplyMouse(ctx, ev); err != nil {
				s.log.Warn("apply mouse event", zap.Stringer("action", ev.Action), zap.Error(err))
			}
		},
		Keyboard: func(ev protocol.KeyboardEvent) {
			if err := s.cfg.Input.ApplyKeyboard(ctx, ev); err != nil {
				s.log.Warn("apply keyboard event", zap.Uint8("key_code", ev.KeyCode), zap.Error(err))
			}
		},
		Scroll: func(ev protocol.ScrollEvent) {
			if err := s.cfg.Input.ApplyScroll(ctx, ev); err != nil {
				s.log.Warn("apply scroll event", zap.Int32("delta", ev.Delta), zap.Error(err))
			}
		},
	}
	if s.cfg.Clipboard != nil {
		h.Clipboard = func(text string) {
			if err := s.cfg.Clipboard.SetText(ctx, text); err != nil {
				s.log.Warn("set clipboard", zap.Error(err))
			}
		}
	}
	return h
}

// producers builds fresh producers per session so clipboard dedup state
// starts empty for every viewer.
func (s *Server) producers() []mux.Producer {
	ps := []mux.Producer{
		&mux.ScreenProducer{
			Source:   s.cfg.Screen,
			Interval: s.cfg.ScreenInterval,
			Log:      s.log,
		},
	}
	if s.cfg.Clipboard != nil {
		ps = append(ps, &mux.ClipboardProducer{
			Clipboard: s.cfg.Clipboard,
			Interval:  s.cfg.ClipboardInterval,
			Log:       s.log,
		})
	}
	return ps
}

// acceptResult carries the result of a single Accept call.
type acceptResult struct {
	conn transport.Conn
	err  error
}

// acceptLoop waits delay, calls Accept once and sends the result. Each
// call handles exactly one connection attempt; the main loop re-arms it
// after processing the result.
func (s *Server) acceptLoop(ctx context.Context, ch chan<- acceptResult, delay time.Duration) {
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
	}
	conn, err := s.ln.Accept(ctx)
	select {
	case ch <- acceptResult{conn: conn, err: err}:
	case <-ctx.Done():
		if conn != nil {
			conn.Close()
		}
	}
}
