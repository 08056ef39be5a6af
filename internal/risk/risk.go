// Package risk es la máquina de estados de salida de las posiciones swing:
// parciales escalonadas con stop-loss que sube con cada stage, stop-loss y
// tiempo máximo. Evalúa en cada price update del feed y en un poll de respaldo.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/snipebot/internal/agent"
	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/exits"
	"github.com/alejandrodnm/snipebot/internal/ports"
	"github.com/alejandrodnm/snipebot/internal/session"
	"github.com/alejandrodnm/snipebot/internal/telemetry"
)

const agentName = "risk"

// Config del risk manager.
type Config struct {
	Chain          string
	Interval       time.Duration
	SessionRefresh time.Duration
	Rules          domain.SwingRules
}

// DefaultConfig: poll cada 8s, refresco de sesión cada 10 minutos.
func DefaultConfig() Config {
	return Config{
		Chain:          "solana",
		Interval:       8 * time.Second,
		SessionRefresh: 10 * time.Minute,
		Rules:          domain.DefaultSwingRules(),
	}
}

// Manager vigila las posiciones swing abiertas.
type Manager struct {
	cfg      Config
	store    ports.PositionStore
	quoter   ports.Quoter
	feed     ports.Feed
	sessions *session.Provider
	exits    *exits.Executor
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// New crea un Manager. feed puede ser nil.
func New(cfg Config, store ports.PositionStore, ex ports.Executor, feed ports.Feed, sessions *session.Provider, m *telemetry.Metrics) *Manager {
	r := &Manager{
		cfg:      cfg,
		store:    store,
		quoter:   ex,
		feed:     feed,
		sessions: sessions,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
	r.exits = exits.New(store, ex, sessions, m, cfg.Chain, func() time.Time { return r.now() })
	return r
}

// Run ejecuta el risk manager hasta que ctx termine.
func (r *Manager) Run(ctx context.Context) error {
	slog.Info("risk manager starting",
		"interval", r.cfg.Interval,
		"targets", fmt.Sprintf("+%.0f/+%.0f/+%.0f", r.cfg.Rules.Stage1GainPct, r.cfg.Rules.Stage2GainPct, r.cfg.Rules.FinalGainPct),
		"stops", fmt.Sprintf("%.0f/%.0f/%.0f", r.cfg.Rules.StopLossPct[0], r.cfg.Rules.StopLossPct[1], r.cfg.Rules.StopLossPct[2]),
		"max_hold", r.cfg.Rules.MaxHold,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		agent.ConsumeFeed(ctx, r.feed, r.cfg.Chain, r.metrics, r.HandleEvent)
	}()
	go func() {
		defer wg.Done()
		if r.cfg.SessionRefresh > 0 {
			r.sessions.Run(ctx, r.cfg.SessionRefresh)
		}
	}()

	agent.Loop(ctx, agentName, r.cfg.Interval, r.metrics, r.Tick)
	wg.Wait()
	slog.Info("risk manager stopped")
	return nil
}

// Tick es el poll de respaldo: cotiza cada posición abierta y la evalúa.
func (r *Manager) Tick(ctx context.Context) error {
	open, err := r.store.OpenPositions(domain.StrategySwing)
	if err != nil {
		return fmt.Errorf("risk.Tick: %w", err)
	}
	r.metrics.OpenPositions.WithLabelValues(string(domain.StrategySwing)).Set(float64(len(open)))

	var errs []error
	for _, p := range open {
		price, err := r.quoter.Quote(ctx, p.TokenAddress, r.cfg.Chain)
		if err != nil {
			slog.Warn("quote failed, using last known price", "symbol", p.TokenSymbol, "err", err)
			price = p.CurrentPrice
		}
		if err := r.Evaluate(ctx, p, price); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleEvent evalúa las posiciones del token del price update.
func (r *Manager) HandleEvent(ctx context.Context, ev domain.FeedEvent) {
	if ev.Type != domain.FeedPriceUpdate || ev.Price <= 0 {
		return
	}
	open, err := r.store.OpenPositions(domain.StrategySwing)
	if err != nil {
		slog.Warn("load swing positions on feed event failed", "err", err)
		return
	}
	for _, p := range open {
		if p.TokenAddress != ev.Address {
			continue
		}
		if err := r.Evaluate(ctx, p, ev.Price); err != nil {
			slog.Warn("swing exit from feed failed", "position", p.ID, "err", err)
		}
	}
}

// Evaluate aplica una transición como mucho. La posición se relee y verifica
// dentro del executor antes de vender.
func (r *Manager) Evaluate(ctx context.Context, p domain.Position, price float64) error {
	if price <= 0 || r.exits.InFlight(p.ID) {
		return nil
	}
	act := domain.EvaluateSwing(p, price, r.now(), r.cfg.Rules)
	if act.Kind == domain.ActionHold {
		return nil
	}
	slog.Info("swing transition",
		"symbol", p.TokenSymbol,
		"stage", p.Stage,
		"trigger", act.Trigger,
		"gain", fmt.Sprintf("%+.1f%%", p.GainPct(price)),
		"return", fmt.Sprintf("%+.1f%%", p.ReturnPct(price)),
		"stop", r.cfg.Rules.StopLossForStage(p.Stage),
	)
	if _, err := r.exits.Execute(ctx, p, act, price); err != nil {
		return fmt.Errorf("risk.Evaluate: %w", err)
	}
	return nil
}
