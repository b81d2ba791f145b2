// Package metrics exposes the live scanner's Prometheus instrumentation.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"squeezeScanner/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the scanner.
type Metrics struct {
	registry *prometheus.Registry

	Sweeps              prometheus.Counter
	SweepDuration       prometheus.Histogram
	AlertsSent          *prometheus.CounterVec // labels: kind
	AlertsSuppressed    prometheus.Counter
	NotifierErrors      prometheus.Counter
	ProviderErrors      prometheus.Counter
	InsufficientHistory prometheus.Counter
	OpenPositions       prometheus.Gauge
	WatchlistSize       prometheus.Gauge
}

// New registers and returns all scanner metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweeps_total",
			Help: "Completed watchlist sweeps",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Wall time of one full watchlist sweep",
			Buckets: prometheus.DefBuckets,
		}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_sent_total",
			Help: "Alerts dispatched to the notifier (by signal kind)",
		}, []string{"kind"}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_suppressed_total",
			Help: "Alerts dropped by the cooldown table",
		}),
		NotifierErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifier_errors_total",
			Help: "Alert dispatches that failed",
		}),
		ProviderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provider_errors_total",
			Help: "Bar fetches that failed",
		}),
		InsufficientHistory: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insufficient_history_total",
			Help: "Symbols skipped for lack of trailing bars",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "open_positions",
			Help: "Symbols currently tracked in an open or partially closed position",
		}),
		WatchlistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchlist_size",
			Help: "Symbols the scanner sweeps",
		}),
	}

	m.registry.MustRegister(
		m.Sweeps,
		m.SweepDuration,
		m.AlertsSent,
		m.AlertsSuppressed,
		m.NotifierErrors,
		m.ProviderErrors,
		m.InsufficientHistory,
		m.OpenPositions,
		m.WatchlistSize,
	)

	return m
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server runs an HTTP server exposing /metrics.
type Server struct {
	srv    *http.Server
	logger ports.Logger
}

// NewServer creates a metrics server bound to addr.
func NewServer(addr string, m *Metrics, logger ports.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info(context.Background(), "Metrics server listening", map[string]interface{}{"addr": s.srv.Addr})
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(context.Background(), err, "Metrics server failed")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
