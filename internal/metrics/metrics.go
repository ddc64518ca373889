// Package metrics exposes the recorder's Prometheus surface, grounded
// verbatim on the teacher's promauto style
// (firestige-Otus/internal/metrics/metrics.go, server.go).
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the recorder's counters/gauges. Construct once per process
// with New. Only State is updated, by the daemon's status publisher; the
// other metrics are registered but no component updates them.
type Metrics struct {
	SamplesIngested  prometheus.Counter
	SamplesDropped   *prometheus.CounterVec // label "reason"
	PendingDepth     *prometheus.GaugeVec   // label "type_name"
	BufferDepth      prometheus.Gauge
	BytesWritten     prometheus.Counter
	FilesRotated     prometheus.Counter
	State            prometheus.Gauge // 0=STOPPED 1=RUNNING 2=PAUSED 3=SUSPENDED 4=CLOSED
	SchemaCount      prometheus.Gauge
}

// New registers every metric against reg (pass prometheus.DefaultRegisterer
// in production, a fresh prometheus.NewRegistry() in tests).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SamplesIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "recorder",
			Name:      "samples_ingested_total",
			Help:      "Samples accepted by Handler.AddSample, before any routing decision.",
		}),
		SamplesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recorder",
			Name:      "samples_dropped_total",
			Help:      "Samples dropped, labeled by reason (no_payload, stopped, pending_capacity, only_with_schema, suspended, downsampled).",
		}, []string{"reason"}),
		PendingDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "recorder",
			Name:      "pending_depth",
			Help:      "Samples currently queued in PendingStore, by type_name.",
		}, []string{"type_name"}),
		BufferDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "recorder",
			Name:      "buffer_depth",
			Help:      "Samples currently queued in the active buffer (RUNNING or PAUSED).",
		}),
		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "recorder",
			Name:      "bytes_written_total",
			Help:      "Cumulative bytes written to the output container.",
		}),
		FilesRotated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "recorder",
			Name:      "files_rotated_total",
			Help:      "Number of times the Writer rotated to a new file.",
		}),
		State: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "recorder",
			Name:      "state",
			Help:      "Current Controller state (0=STOPPED 1=RUNNING 2=PAUSED 3=SUSPENDED 4=CLOSED).",
		}),
		SchemaCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "recorder",
			Name:      "schema_count",
			Help:      "Number of distinct schemas registered with the Writer this run.",
		}),
	}
}

// Server wraps promhttp.Handler in a minimal net/http server, mirroring
// firestige-Otus/internal/metrics/server.go's Start(ctx)/Stop(ctx) shape.
type Server struct {
	addr   string
	srv    *http.Server
}

// NewServer builds a Server bound to addr (e.g. ":9090").
func NewServer(addr string, reg *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{addr: addr, srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start begins serving in a background goroutine; errors other than
// http.ErrServerClosed are returned via errCh.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		errCh <- nil
	}()
	return errCh
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
