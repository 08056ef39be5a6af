// Package scalper abre posiciones rápidas sobre listados recién nacidos y
// gestiona sus propias salidas: take-profit, stop-loss, trailing stop y
// tiempo máximo. Las salidas se evalúan en cada price update del feed y en un
// poll de respaldo.
package scalper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/snipebot/internal/agent"
	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/exits"
	"github.com/alejandrodnm/snipebot/internal/ports"
	"github.com/alejandrodnm/snipebot/internal/session"
	"github.com/alejandrodnm/snipebot/internal/telemetry"
)

const agentName = "scalper"

// Config contiene filtros de entrada y reglas de salida scalp.
type Config struct {
	Chain          string
	Interval       time.Duration
	SessionRefresh time.Duration // 0 = sin refresco proactivo
	MaxOpen        int
	BuyAmount      float64
	MaxAge         time.Duration
	MinTxCount     int
	MinCurvePct    float64
	MinMarketCap   float64
	MaxDropPct     float64 // caída desde la observación previa que descarta el token
	Cooldown       time.Duration
	Rules          domain.ScalpRules
}

// DefaultConfig devuelve los valores de producción.
func DefaultConfig() Config {
	return Config{
		Chain:          "solana",
		Interval:       5 * time.Second,
		SessionRefresh: 10 * time.Minute,
		MaxOpen:        3,
		BuyAmount:      0.02,
		MaxAge:         2 * time.Minute,
		MinTxCount:     5,
		MinCurvePct:    3,
		MinMarketCap:   500,
		MaxDropPct:     5,
		Cooldown:       5 * time.Minute,
		Rules:          domain.DefaultScalpRules(),
	}
}

// Eligible devuelve "" si el token pasa el filtro de entrada scalp, o el motivo.
func (c Config) Eligible(t domain.WatchedToken, now time.Time) string {
	age := t.Age(now)
	switch {
	case age < 0 || age > c.MaxAge:
		return fmt.Sprintf("age %s outside 0-%s", age.Round(time.Second), c.MaxAge)
	case t.Security != nil && t.Security.Mintable:
		return "mint authority enabled"
	case t.Security != nil && t.Security.Freezable:
		return "freeze authority enabled"
	case t.TxCount < c.MinTxCount:
		return fmt.Sprintf("only %d txs", t.TxCount)
	case t.BondingCurve < c.MinCurvePct:
		return fmt.Sprintf("curve %.1f%%", t.BondingCurve)
	case t.MarketCap < c.MinMarketCap:
		return fmt.Sprintf("market cap $%.0f", t.MarketCap)
	case t.DropSincePrevPct() >= c.MaxDropPct:
		return fmt.Sprintf("dumping %.1f%%", t.DropSincePrevPct())
	}
	return ""
}

// Store es la vista del store compartido que usa el scalper.
type Store interface {
	ports.PositionStore
	LoadWatchlist() ([]domain.WatchedToken, error)
}

// Scalper es el agente de entradas y salidas rápidas.
type Scalper struct {
	cfg      Config
	store    Store
	exchange ports.Executor
	feed     ports.Feed
	sessions *session.Provider
	exits    *exits.Executor
	metrics  *telemetry.Metrics
	now      func() time.Time

	mu       sync.Mutex
	attempts map[string]time.Time
}

// New crea un Scalper. feed puede ser nil (solo poll).
func New(cfg Config, store Store, ex ports.Executor, feed ports.Feed, sessions *session.Provider, m *telemetry.Metrics) *Scalper {
	s := &Scalper{
		cfg:      cfg,
		store:    store,
		exchange: ex,
		feed:     feed,
		sessions: sessions,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
		attempts: make(map[string]time.Time),
	}
	s.exits = exits.New(store, ex, sessions, m, cfg.Chain, func() time.Time { return s.now() })
	return s
}

// Run ejecuta el scalper hasta que ctx termine.
func (s *Scalper) Run(ctx context.Context) error {
	slog.Info("scalper starting",
		"interval", s.cfg.Interval,
		"max_open", s.cfg.MaxOpen,
		"take_profit", s.cfg.Rules.TakeProfitPct,
		"stop_loss", s.cfg.Rules.StopLossPct,
		"max_hold", s.cfg.Rules.MaxHold,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		agent.ConsumeFeed(ctx, s.feed, s.cfg.Chain, s.metrics, s.HandleEvent)
	}()
	go func() {
		defer wg.Done()
		if s.cfg.SessionRefresh > 0 {
			s.sessions.Run(ctx, s.cfg.SessionRefresh)
		}
	}()

	agent.Loop(ctx, agentName, s.cfg.Interval, s.metrics, s.Tick)
	wg.Wait()
	slog.Info("scalper stopped")
	return nil
}

// Tick es el poll de respaldo de salidas seguido de un intento de entrada.
func (s *Scalper) Tick(ctx context.Context) error {
	exitErr := s.pollExits(ctx)
	if err := s.enter(ctx); err != nil {
		return errors.Join(exitErr, err)
	}
	return exitErr
}

// HandleEvent evalúa las salidas de las posiciones del token del evento.
func (s *Scalper) HandleEvent(ctx context.Context, ev domain.FeedEvent) {
	if ev.Type != domain.FeedPriceUpdate || ev.Price <= 0 {
		return
	}
	open, err := s.store.OpenPositions(domain.StrategyScalp)
	if err != nil {
		slog.Warn("load scalp positions on feed event failed", "err", err)
		return
	}
	for _, p := range open {
		if p.TokenAddress != ev.Address {
			continue
		}
		if err := s.check(ctx, p, ev.Price); err != nil {
			slog.Warn("scalp exit from feed failed", "position", p.ID, "err", err)
		}
	}
}

func (s *Scalper) pollExits(ctx context.Context) error {
	open, err := s.store.OpenPositions(domain.StrategyScalp)
	if err != nil {
		return fmt.Errorf("scalper.pollExits: %w", err)
	}
	s.metrics.OpenPositions.WithLabelValues(string(domain.StrategyScalp)).Set(float64(len(open)))

	var errs []error
	for _, p := range open {
		price, err := s.exchange.Quote(ctx, p.TokenAddress, s.cfg.Chain)
		if err != nil {
			// Sin precio el tiempo máximo se sigue aplicando con el último conocido.
			slog.Warn("quote failed", "symbol", p.TokenSymbol, "err", err)
			price = p.CurrentPrice
		}
		if err := s.check(ctx, p, price); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// check registra el precio (el pico solo sube) y ejecuta la salida si procede.
func (s *Scalper) check(ctx context.Context, p domain.Position, price float64) error {
	if price <= 0 || s.exits.InFlight(p.ID) {
		return nil
	}
	cur, err := s.store.UpdatePosition(domain.StrategyScalp, p.ID, func(cur *domain.Position) error {
		cur.ObservePrice(price)
		return nil
	})
	if err != nil {
		if exits.IsStale(err) {
			return nil
		}
		return fmt.Errorf("scalper.check %s: %w", p.ID, err)
	}

	act := domain.EvaluateScalp(cur, price, s.now(), s.cfg.Rules)
	if act.Kind == domain.ActionHold {
		return nil
	}
	slog.Debug("scalp exit triggered",
		"symbol", cur.TokenSymbol,
		"trigger", act.Trigger,
		"price", price,
		"peak", cur.PeakPrice,
		"gain", fmt.Sprintf("%+.1f%%", cur.GainPct(price)),
	)
	if _, err := s.exits.Execute(ctx, cur, act, price); err != nil {
		return fmt.Errorf("scalper.check: %w", err)
	}
	return nil
}

func (s *Scalper) enter(ctx context.Context) error {
	scalp, err := s.store.OpenPositions(domain.StrategyScalp)
	if err != nil {
		return fmt.Errorf("scalper.enter: load scalp: %w", err)
	}
	if len(scalp) >= s.cfg.MaxOpen {
		return nil
	}
	swing, err := s.store.OpenPositions(domain.StrategySwing)
	if err != nil {
		return fmt.Errorf("scalper.enter: load swing: %w", err)
	}
	tokens, err := s.store.LoadWatchlist()
	if err != nil {
		return fmt.Errorf("scalper.enter: load watchlist: %w", err)
	}

	now := s.now()
	cand, ok := s.pick(tokens, scalp, swing, now)
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.attempts[cand.Address] = now
	s.mu.Unlock()

	return s.buy(ctx, cand)
}

// pick elige el candidato fresco más activo. Empate: el más nuevo.
func (s *Scalper) pick(tokens []domain.WatchedToken, scalp, swing []domain.Position, now time.Time) (domain.WatchedToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, at := range s.attempts {
		if now.Sub(at) >= s.cfg.Cooldown {
			delete(s.attempts, addr)
		}
	}

	var eligible []domain.WatchedToken
	for _, t := range tokens {
		if _, cooling := s.attempts[t.Address]; cooling {
			continue
		}
		if domain.Holds(scalp, t.Address, t.Symbol) || domain.Holds(swing, t.Address, t.Symbol) {
			continue
		}
		if reason := s.cfg.Eligible(t, now); reason != "" {
			slog.Debug("scalp candidate rejected", "symbol", t.Symbol, "reason", reason)
			continue
		}
		eligible = append(eligible, t)
	}
	if len(eligible) == 0 {
		return domain.WatchedToken{}, false
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].TxCount != eligible[j].TxCount {
			return eligible[i].TxCount > eligible[j].TxCount
		}
		return eligible[i].ListedAt().After(eligible[j].ListedAt())
	})
	return eligible[0], true
}

func (s *Scalper) buy(ctx context.Context, cand domain.WatchedToken) error {
	live, err := s.exchange.Quote(ctx, cand.Address, s.cfg.Chain)
	if err != nil {
		return fmt.Errorf("scalper.buy: quote %s: %w", cand.Symbol, err)
	}
	if cand.Price > 0 {
		if drop := (cand.Price - live) / cand.Price * 100; drop >= s.cfg.MaxDropPct {
			s.skip("anti_rug")
			slog.Warn("anti-rug: fresh token dumping, aborting buy",
				"symbol", cand.Symbol, "seen_price", cand.Price, "live_price", live)
			return nil
		}
	}

	res, err := session.Retry(ctx, s.sessions, "buy", func(sess ports.Session) (ports.ExecResult, error) {
		return s.exchange.Buy(ctx, sess, cand.Address, s.cfg.BuyAmount, s.cfg.Chain)
	})
	if err != nil {
		if errors.Is(err, ports.ErrRejected) {
			s.skip("rejected")
			slog.Warn("scalp buy rejected", "symbol", cand.Symbol, "err", err)
			return nil
		}
		s.skip("failed")
		return fmt.Errorf("scalper.buy %s: %w", cand.Symbol, err)
	}

	amount := res.Amount
	if amount <= 0 && live > 0 {
		amount = s.cfg.BuyAmount / live
	}
	pos := domain.Position{
		ID:              uuid.NewString(),
		Strategy:        domain.StrategyScalp,
		TokenAddress:    cand.Address,
		TokenName:       cand.Name,
		TokenSymbol:     cand.Symbol,
		EntryPrice:      live,
		CurrentPrice:    live,
		PeakPrice:       live,
		EntryTime:       s.now(),
		TotalAmount:     amount,
		RemainingAmount: amount,
		AmountSpent:     s.cfg.BuyAmount,
		Status:          domain.PositionOpen,
		EntryTx:         res.TxRef,
	}
	if err := s.store.InsertPosition(pos); err != nil {
		return fmt.Errorf("scalper.buy %s: persist position (tx %s): %w", cand.Symbol, res.TxRef, err)
	}
	s.metrics.PositionsOpened.WithLabelValues(string(domain.StrategyScalp)).Inc()

	slog.Info("scalp position opened",
		"symbol", cand.Symbol,
		"age", cand.Age(s.now()).Round(time.Second),
		"txs", cand.TxCount,
		"price", live,
		"tx", res.TxRef,
	)
	return nil
}

func (s *Scalper) skip(cause string) {
	s.metrics.BuysSkipped.WithLabelValues(string(domain.StrategyScalp), cause).Inc()
}
