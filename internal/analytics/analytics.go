// Package analytics recalcula en cada ciclo las estadísticas de la estrategia
// a partir del trade log y de los stores de posiciones, y emite señales de
// ajuste. Nunca acumula: cada snapshot sale entero de los datos.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/snipebot/internal/agent"
	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/ports"
	"github.com/alejandrodnm/snipebot/internal/telemetry"
)

const agentName = "analytics"

// Store es la vista del store compartido que usa analytics.
type Store interface {
	LoadTrades() ([]domain.TradeLogEntry, error)
	LoadPositions(strategy domain.Strategy) ([]domain.Position, error)
	SaveAnalytics(snap domain.AnalyticsSnapshot) error
	SaveReport(markdown string) error
}

// Agent es el agente de analytics.
type Agent struct {
	store    Store
	archive  ports.Archive // nil = sin histórico
	targets  Targets
	interval time.Duration
	recent   int
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// New crea el agente. archive puede ser nil.
func New(store Store, archive ports.Archive, targets Targets, interval time.Duration, recent int, m *telemetry.Metrics) *Agent {
	return &Agent{
		store:    store,
		archive:  archive,
		targets:  targets,
		interval: interval,
		recent:   recent,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run ejecuta el ciclo hasta que ctx termine.
func (a *Agent) Run(ctx context.Context) error {
	slog.Info("analytics starting", "interval", a.interval, "archive", a.archive != nil)
	agent.Loop(ctx, agentName, a.interval, a.metrics, a.Tick)
	slog.Info("analytics stopped")
	return nil
}

// Tick recalcula y publica el snapshot y el informe.
func (a *Agent) Tick(ctx context.Context) error {
	trades, err := a.store.LoadTrades()
	if err != nil {
		return fmt.Errorf("analytics.Tick: load trades: %w", err)
	}
	swing, err := a.store.LoadPositions(domain.StrategySwing)
	if err != nil {
		return fmt.Errorf("analytics.Tick: load swing: %w", err)
	}
	scalp, err := a.store.LoadPositions(domain.StrategyScalp)
	if err != nil {
		return fmt.Errorf("analytics.Tick: load scalp: %w", err)
	}

	now := a.now()
	snap := Compute(trades, append(swing, scalp...), now, a.targets, a.recent)
	if err := a.store.SaveAnalytics(snap); err != nil {
		return fmt.Errorf("analytics.Tick: save snapshot: %w", err)
	}

	if a.archive != nil {
		n, err := a.archive.SaveTrades(ctx, trades)
		if err != nil {
			slog.Warn("archive trades failed", "err", err)
		} else if n > 0 {
			slog.Debug("trades archived", "new", n)
		}
		if err := a.archive.SaveCycle(ctx, snap); err != nil {
			slog.Warn("archive cycle failed", "err", err)
		}
	}

	hist, err := a.history(ctx, now)
	if err != nil {
		slog.Warn("archive history unavailable", "err", err)
	}
	if err := a.store.SaveReport(Report(snap, hist)); err != nil {
		return fmt.Errorf("analytics.Tick: save report: %w", err)
	}

	for _, s := range snap.Signals {
		slog.Warn("strategy signal", "signal", s)
	}
	slog.Info("analytics cycle complete",
		"trades", snap.Overall.Trades,
		"win_rate", fmt.Sprintf("%.1f%%", snap.Overall.WinRate),
		"net", fmt.Sprintf("%+.6f", snap.Overall.NetPnL),
		"signals", len(snap.Signals),
	)
	return nil
}
