// Package session runs one connection's worth of remote control: an
// inbound dispatcher and an outbound multiplexer sharing one stream, torn
// down together as soon as either side stops.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chronologos/godesk/internal/dispatch"
	"github.com/chronologos/godesk/internal/metrics"
	"github.com/chronologos/godesk/internal/mux"
	"github.com/chronologos/godesk/internal/protocol"
	"github.com/chronologos/godesk/internal/transport"
)

const tracerName = "github.com/chronologos/godesk/internal/session"

// DefaultGrace bounds how long teardown waits for the losing side to
// notice cancellation before the stream is closed under it.
const DefaultGrace = 2 * time.Second

// Outcome records which side of the session finished first.
type Outcome string

const (
	OutcomeRead      Outcome = "read"      // dispatcher ended: peer closed or inbound fault
	OutcomeWrite     Outcome = "write"     // multiplexer ended: write failure or critical producer
	OutcomeCancelled Outcome = "cancelled" // caller cancelled the context
)

// Config holds session configuration.
type Config struct {
	Role      string // "host" or "viewer"; labels logs, metrics and traces
	Handlers  dispatch.Handlers
	Producers []mux.Producer
	Limits    protocol.Limits
	Grace     time.Duration
	Log       *zap.Logger
	Metrics   *metrics.Metrics
}

// Session owns one transport connection for its whole life. It is not
// reusable: when Run returns the connection is closed, and resuming means
// building a new Session on a new connection.
type Session struct {
	ID   uuid.UUID
	cfg  Config
	conn transport.Conn
	log  *zap.Logger

	closeOnce sync.Once
}

// New creates a session over conn but does not start it. Call Run.
func New(conn transport.Conn, cfg Config) *Session {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.New()
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Session{
		ID:   id,
		cfg:  cfg,
		conn: conn,
		log:  log.With(zap.String("session_id", id.String()), zap.String("remote", remote)),
	}
}

// Run starts the dispatcher and the multiplexer and blocks until the
// session is over. Teardown order: whichever side finishes first (or ctx)
// decides the outcome, cancellation is broadcast to the other side, the
// other side gets Grace to stop on its own, the connection is closed
// exactly once, and Run waits up to another Grace for stragglers blocked
// in I/O.
//
// The returned error is the one that ended the session. A clean peer
// close and a cancelled ctx both return nil.
func (s *Session) Run(ctx context.Context) (Outcome, error) {
	role := s.cfg.Role
	ctx, span := otel.Tracer(tracerName).Start(ctx, "godesk.session",
		trace.WithAttributes(
			attribute.String("godesk.session_id", s.ID.String()),
			attribute.String("godesk.role", role),
		))
	defer span.End()

	s.cfg.Metrics.SessionStarted(role)
	s.log.Info("session started")
	start := time.Now()

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := mux.NewWriter(s.conn, s.cfg.Limits, s.cfg.Metrics)
	m := mux.New(w, s.log, s.cfg.Producers...)
	d := dispatch.New(s.cfg.Handlers, s.cfg.Limits, s.log, s.cfg.Metrics)

	readDone := make(chan error, 1)
	writeDone := make(chan error, 1)
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		readDone <- d.Run(ctx, s.conn)
	}()
	go func() {
		defer loops.Done()
		writeDone <- m.Run(ctx)
		m.Wait()
	}()
	allDone := make(chan struct{})
	go func() {
		loops.Wait()
		close(allDone)
	}()

	var outcome Outcome
	var err error
	select {
	case err = <-readDone:
		outcome = OutcomeRead
	case err = <-writeDone:
		outcome = OutcomeWrite
	case <-ctx.Done():
	}
	if parent.Err() != nil {
		// Both loops also return nil on cancellation; report the cause.
		outcome, err = OutcomeCancelled, nil
	}
	cancel()

	if !waitFor(allDone, s.cfg.Grace) {
		s.log.Debug("closing stream under running loops", zap.String("outcome", string(outcome)))
	}
	s.close()
	if !waitFor(allDone, s.cfg.Grace) {
		s.log.Warn("session loops still running after close")
	}

	s.finish(span, outcome, err, time.Since(start))
	return outcome, err
}

// close closes the connection exactly once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil && !transport.IsExpectedCloseError(err) {
			s.log.Debug("close connection", zap.Error(err))
		}
	})
}

func (s *Session) finish(span trace.Span, outcome Outcome, err error, elapsed time.Duration) {
	s.cfg.Metrics.SessionEnded(s.cfg.Role, string(outcome))
	span.SetAttributes(attribute.String("godesk.outcome", string(outcome)))

	fields := []zap.Field{
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", elapsed),
	}
	switch {
	case err == nil:
		s.log.Info("session ended", fields...)
	case transport.IsExpectedCloseError(err):
		s.log.Info("session ended", append(fields, zap.Error(err))...)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("session failed", append(fields, zap.Error(err))...)
	}
}

// waitFor reports whether done closed within d.
func waitFor(done <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
