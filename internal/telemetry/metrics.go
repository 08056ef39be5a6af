// Package telemetry expone métricas Prometheus de los agentes.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snipebot"

// Metrics agrupa las métricas de un proceso. Cada proceso tiene su propio
// registry: los agentes son procesos separados y cada uno se scrapea aparte.
type Metrics struct {
	reg *prometheus.Registry

	TickErrors      *prometheus.CounterVec
	Ticks           *prometheus.CounterVec
	FeedEvents      *prometheus.CounterVec
	PositionsOpened *prometheus.CounterVec
	Exits           *prometheus.CounterVec
	BuysSkipped     *prometheus.CounterVec
	OpenPositions   *prometheus.GaugeVec
	WatchlistSize   prometheus.Gauge
	ScoredTokens    prometheus.Gauge
	RealizedPnL     *prometheus.CounterVec
	SessionRefresh  prometheus.Counter
}

// New crea y registra todas las métricas en un registry propio.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		TickErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_errors_total",
			Help:      "Ticks that ended in error, by agent",
		}, []string{"agent"}),
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks executed, by agent",
		}, []string{"agent"}),
		FeedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_total",
			Help:      "Push feed events received, by type",
		}, []string{"type"}),
		PositionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "opened_total",
			Help:      "Positions opened, by strategy",
		}, []string{"strategy"}),
		Exits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "exits_total",
			Help:      "Partial and full exits, by strategy and reason",
		}, []string{"strategy", "reason"}),
		BuysSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "buys_skipped_total",
			Help:      "Entry candidates skipped, by strategy and cause",
		}, []string{"strategy", "cause"}),
		OpenPositions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "open",
			Help:      "Open positions, by strategy",
		}, []string{"strategy"}),
		WatchlistSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watchlist_size",
			Help:      "Tokens in the watchlist",
		}),
		ScoredTokens: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scored_tokens",
			Help:      "Tokens that passed the hard filter in the last scoring cycle",
		}),
		RealizedPnL: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "realized_gain_total",
			Help:      "Positive realized gain in base units, by strategy",
		}, []string{"strategy"}),
		SessionRefresh: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_refresh_total",
			Help:      "Successful session refreshes",
		}),
	}
}

// Registry devuelve el registry (para tests).
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Serve expone /metrics en addr hasta que ctx termine. addr vacío = no-op.
func (m *Metrics) Serve(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("metrics server stopped", "addr", addr, "err", err)
	}
}
