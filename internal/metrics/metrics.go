// Package metrics exposes per-process frame, byte and session counters.
//
// All recording methods are nil-receiver safe so components can be built
// without metrics in tests and in the default CLI configuration.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chronologos/godesk/internal/protocol"
)

const namespace = "godesk"

// Metrics holds the collectors for one process.
type Metrics struct {
	reg *prometheus.Registry

	framesSent      *prometheus.CounterVec
	framesReceived  *prometheus.CounterVec
	bytesSent       *prometheus.CounterVec
	bytesReceived   *prometheus.CounterVec
	framesDiscarded prometheus.Counter
	sessionsTotal   *prometheus.CounterVec
	sessionsActive  *prometheus.GaugeVec
}

// New creates a Metrics with its own registry. Go runtime and process
// collectors are registered alongside the godesk counters.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to the peer, by packet type",
		}, []string{"type"}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames read from the peer, by packet type",
		}, []string{"type"}),
		bytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Payload bytes written to the peer, by packet type",
		}, []string{"type"}),
		bytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Payload bytes read from the peer, by packet type",
		}, []string{"type"}),
		framesDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_discarded_total",
			Help:      "Inbound frames of unknown type that were skipped",
		}),
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions, by role and outcome",
		}, []string{"role", "outcome"}),
		sessionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently running, by role",
		}, []string{"role"}),
	}
}

// FrameSent records one outbound frame.
func (m *Metrics) FrameSent(t protocol.PacketType, payloadLen int) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(t.String()).Inc()
	m.bytesSent.WithLabelValues(t.String()).Add(float64(payloadLen))
}

// FrameReceived records one inbound frame of a known type.
func (m *Metrics) FrameReceived(t protocol.PacketType, payloadLen int) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(t.String()).Inc()
	m.bytesReceived.WithLabelValues(t.String()).Add(float64(payloadLen))
}

// FrameDiscarded records one skipped inbound frame of unknown type.
func (m *Metrics) FrameDiscarded() {
	if m == nil {
		return
	}
	m.framesDiscarded.Inc()
}

// SessionStarted marks a session of the given role as active.
func (m *Metrics) SessionStarted(role string) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(role).Inc()
}

// SessionEnded marks a session as finished with the given outcome.
func (m *Metrics) SessionEnded(role, outcome string) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(role).Dec()
	m.sessionsTotal.WithLabelValues(role, outcome).Inc()
}

// Registry returns the registry backing m, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler returns the HTTP surface: /metrics in the Prometheus text format
// and /healthz for liveness probes.
func (m *Metrics) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	return r
}

// Serve runs the HTTP surface on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.serve(ctx, ln)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
