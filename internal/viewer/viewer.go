// Package viewer is the controlling side: it connects to a host, shows the
// host's screen through a FrameSink and sends local input.
package viewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chronologos/godesk/internal/coalesce"
	"github.com/chronologos/godesk/internal/desktop"
	"github.com/chronologos/godesk/internal/dispatch"
	"github.com/chronologos/godesk/internal/metrics"
	"github.com/chronologos/godesk/internal/mux"
	"github.com/chronologos/godesk/internal/protocol"
	"github.com/chronologos/godesk/internal/session"
	"github.com/chronologos/godesk/internal/transport"
)

const (
	dialTimeout              = 10 * time.Second
	DefaultClipboardInterval = 500 * time.Millisecond
)

// ErrHostDisconnected reports that the session ended from the host's side
// (or the network), as opposed to the local user quitting.
var ErrHostDisconnected = errors.New("disconnected from host")

// Config holds viewer configuration.
type Config struct {
	Mode transport.Mode
	Host string
	Port int

	Sink      FrameSink
	Clipboard desktop.Clipboard // nil disables clipboard sync
	Display   Size              // local display size; zero means same as host

	// Events carries local input: LocalPoint values (scaled here to host
	// pixels) and protocol events, sent as is. Closing it ends the
	// session. Nil means no local input.
	Events <-chan any

	ClipboardInterval time.Duration
	CoalesceDelay     time.Duration
	Grace             time.Duration
	Limits            protocol.Limits

	Profile bool // log traffic and transport stats when the session ends
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

// Viewer runs exactly one session. It does not reconnect: when the
// session ends the caller decides what to do next.
type Viewer struct {
	cfg    Config
	log    *zap.Logger
	scaler *Scaler

	framesReceived atomic.Int64
	bytesReceived  atomic.Int64

	// input is the local input producer of the running session, if any.
	input *mux.EventProducer
}

// New creates a viewer with the given config.
func New(cfg Config) *Viewer {
	if cfg.Mode == "" {
		cfg.Mode = transport.ModeTCP
	}
	if cfg.Sink == nil {
		cfg.Sink = DiscardSink{}
	}
	if cfg.ClipboardInterval <= 0 {
		cfg.ClipboardInterval = DefaultClipboardInterval
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Viewer{
		cfg:    cfg,
		log:    log.With(zap.String("component", "viewer")),
		scaler: &Scaler{Display: cfg.Display},
	}
}

// Scaler exposes the viewer's coordinate scaler.
func (v *Viewer) Scaler() *Scaler {
	return v.scaler
}

// Run connects to the host and runs one session. It returns nil when the
// local user ended the session (closed Events) or ctx was cancelled, and
// an error wrapping ErrHostDisconnected when the host side ended it.
func (v *Viewer) Run(ctx context.Context) error {
	conn, err := v.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connect to %s:%d: %w", v.cfg.Host, v.cfg.Port, err)
	}
	v.log.Info("connected", zap.Stringer("remote", conn.RemoteAddr()), zap.String("transport", string(v.cfg.Mode)))
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := session.New(conn, session.Config{
		Role:      "viewer",
		Handlers:  v.handlers(ctx),
		Producers: v.producers(ctx),
		Limits:    v.cfg.Limits,
		Grace:     v.cfg.Grace,
		Log:       v.log,
		Metrics:   v.cfg.Metrics,
	})
	outcome, err := sess.Run(ctx)

	if v.cfg.Profile {
		v.logProfileSummary(conn, start)
	}

	switch {
	case outcome == session.OutcomeCancelled:
		return nil
	case outcome == session.OutcomeWrite && err == nil:
		// Events closed: the local user quit.
		return nil
	case err == nil, transport.IsExpectedCloseError(err):
		return ErrHostDisconnected
	default:
		return fmt.Errorf("%w: %w", ErrHostDisconnected, err)
	}
}

// dial connects to the host with a bounded timeout.
func (v *Viewer) dial(ctx context.Context) (transport.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return transport.Dial(dialCtx, v.cfg.Mode, v.cfg.Host, v.cfg.Port)
}

func (v *Viewer) handlers(ctx context.Context) dispatch.Handlers {
	h := dispatch.Handlers{Screen: v.onScreen}
	if v.cfg.Clipboard != nil {
		h.Clipboard = func(text string) {
			if err := v.cfg.Clipboard.SetText(ctx, text); err != nil {
				v.log.Warn("set clipboard", zap.Error(err))
			}
		}
	}
	return h
}

// onScreen learns the host size from the image header and hands the image
// to the sink. An undecodable image is shown anyway and the last known
// size kept.
func (v *Viewer) onScreen(img []byte) {
	v.framesReceived.Add(1)
	v.bytesReceived.Add(int64(len(img)))

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		v.log.Debug("screen image header not decodable", zap.Int("bytes", len(img)), zap.Error(err))
	} else {
		v.scaler.SetHost(cfg.Width, cfg.Height)
	}
	if err := v.cfg.Sink.ShowFrame(img); err != nil {
		v.log.Warn("show frame", zap.Error(err))
	}
}

// producers wires local input and clipboard polling. Local input flows
// Events -> scale -> coalesce -> EventProducer.
func (v *Viewer) producers(ctx context.Context) []mux.Producer {
	var ps []mux.Producer
	if v.cfg.Events != nil {
		scaled := make(chan any, 16)
		out := make(chan any, 16)
		go v.translate(ctx, v.cfg.Events, scaled)
		go coalesce.Pump(ctx, v.cfg.CoalesceDelay, scaled, out)
		v.input = &mux.EventProducer{Events: out}
		ps = append(ps, v.input)
	}
	if v.cfg.Clipboard != nil {
		ps = append(ps, &mux.ClipboardProducer{
			Clipboard: v.cfg.Clipboard,
			Interval:  v.cfg.ClipboardInterval,
			Log:       v.log,
		})
	}
	return ps
}

// translate scales LocalPoints to host pixels and passes everything else
// through. It closes out when in is closed or ctx is done.
func (v *Viewer) translate(ctx context.Context, in <-chan any, out chan<- any) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if p, isPoint := ev.(LocalPoint); isPoint {
				x, y := v.scaler.Scale(p.X, p.Y)
				ev = protocol.MouseEvent{Action: p.Action, X: x, Y: y}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
