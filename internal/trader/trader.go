// Package trader abre posiciones swing sobre los mejores scores del analyst y
// mantiene fresco el precio de las que ya tiene abiertas.
package trader

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
	"github.com/alejandrodnm/snipebot/internal/ports"
	"github.com/alejandrodnm/snipebot/internal/session"
	"github.com/alejandrodnm/snipebot/internal/telemetry"
)

const agentName = "trader"

// Config contiene los límites de entrada swing.
type Config struct {
	Chain          string
	Interval       time.Duration
	SessionRefresh time.Duration // 0 = sin refresco proactivo
	MaxOpen        int
	MinScore       float64 // el candidato tiene que estar estrictamente por encima
	BuyAmount      float64 // en moneda base
	Cooldown       time.Duration
	MaxDropPct     float64
	MaxExposure    float64 // 0 = sin límite
}

// DefaultConfig devuelve los límites de producción.
func DefaultConfig() Config {
	return Config{
		Chain:          "solana",
		Interval:       10 * time.Second,
		SessionRefresh: 10 * time.Minute,
		MaxOpen:        5,
		MinScore:       60,
		BuyAmount:      0.05,
		Cooldown:       5 * time.Minute,
		MaxDropPct:     5,
	}
}

// Store es la vista del store compartido que usa el trader.
type Store interface {
	ports.PositionStore
	LoadScores() ([]domain.TokenScore, error)
}

// Trader es el agente de entradas swing.
type Trader struct {
	cfg      Config
	store    Store
	exchange ports.Executor
	sessions *session.Provider
	metrics  *telemetry.Metrics
	now      func() time.Time

	// attempts es el último intento de compra por address (cooldown).
	attempts map[string]time.Time
}

// New crea un Trader.
func New(cfg Config, store Store, ex ports.Executor, sessions *session.Provider, m *telemetry.Metrics) *Trader {
	return &Trader{
		cfg:      cfg,
		store:    store,
		exchange: ex,
		sessions: sessions,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
		attempts: make(map[string]time.Time),
	}
}

// Run ejecuta el trader hasta que ctx termine.
func (t *Trader) Run(ctx context.Context) error {
	slog.Info("trader starting",
		"interval", t.cfg.Interval,
		"max_open", t.cfg.MaxOpen,
		"min_score", t.cfg.MinScore,
		"buy_amount", t.cfg.BuyAmount,
	)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.sessions.Run(ctx, t.cfg.SessionRefresh)
	}()

	agent.Loop(ctx, agentName, t.cfg.Interval, t.metrics, t.Tick)
	wg.Wait()
	slog.Info("trader stopped")
	return nil
}

// Tick refresca precios y, si hay hueco, intenta una entrada.
func (t *Trader) Tick(ctx context.Context) error {
	if err := t.refreshPrices(ctx); err != nil {
		return err
	}
	return t.enter(ctx)
}

// refreshPrices propaga la cotización actual a las posiciones abiertas. La
// escritura es CAS sobre el registro recién leído, así que un cambio de stage
// del risk manager no se pisa.
func (t *Trader) refreshPrices(ctx context.Context) error {
	open, err := t.store.OpenPositions(domain.StrategySwing)
	if err != nil {
		return fmt.Errorf("trader.refreshPrices: %w", err)
	}
	for _, p := range open {
		price, err := t.exchange.Quote(ctx, p.TokenAddress, t.cfg.Chain)
		if err != nil {
			slog.Warn("quote failed", "symbol", p.TokenSymbol, "err", err)
			continue
		}
		_, err = t.store.UpdatePosition(domain.StrategySwing, p.ID, func(cur *domain.Position) error {
			cur.ObservePrice(price)
			return nil
		})
		if err != nil && !errors.Is(err, domain.ErrPositionClosed) {
			slog.Warn("price refresh not written", "position", p.ID, "err", err)
		}
	}
	return nil
}

func (t *Trader) enter(ctx context.Context) error {
	swing, err := t.store.OpenPositions(domain.StrategySwing)
	if err != nil {
		return fmt.Errorf("trader.enter: load swing: %w", err)
	}
	t.metrics.OpenPositions.WithLabelValues(string(domain.StrategySwing)).Set(float64(len(swing)))
	if len(swing) >= t.cfg.MaxOpen {
		slog.Debug("max open swing positions reached", "open", len(swing))
		return nil
	}
	if t.cfg.MaxExposure > 0 && domain.Exposure(swing)+t.cfg.BuyAmount > t.cfg.MaxExposure {
		t.skip("exposure")
		slog.Info("exposure limit reached, not buying", "exposure", domain.Exposure(swing), "limit", t.cfg.MaxExposure)
		return nil
	}

	scalp, err := t.store.OpenPositions(domain.StrategyScalp)
	if err != nil {
		return fmt.Errorf("trader.enter: load scalp: %w", err)
	}
	scores, err := t.store.LoadScores()
	if err != nil {
		return fmt.Errorf("trader.enter: load scores: %w", err)
	}

	now := t.now()
	t.pruneAttempts(now)
	cand, ok := t.pick(scores, swing, scalp, now)
	if !ok {
		return nil
	}
	t.attempts[cand.Address] = now

	return t.buy(ctx, cand)
}

// pick elige el mejor score por encima del umbral que no esté en cartera
// (propia o del scalper) ni en cooldown.
func (t *Trader) pick(scores []domain.TokenScore, swing, scalp []domain.Position, now time.Time) (domain.TokenScore, bool) {
	ranked := make([]domain.TokenScore, len(scores))
	copy(ranked, scores)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	for _, s := range ranked {
		if s.Score <= t.cfg.MinScore {
			break
		}
		if domain.Holds(swing, s.Address, s.Symbol) || domain.Holds(scalp, s.Address, s.Symbol) {
			continue
		}
		if last, ok := t.attempts[s.Address]; ok && now.Sub(last) < t.cfg.Cooldown {
			continue
		}
		return s, true
	}
	return domain.TokenScore{}, false
}

func (t *Trader) buy(ctx context.Context, cand domain.TokenScore) error {
	live, err := t.exchange.Quote(ctx, cand.Address, t.cfg.Chain)
	if err != nil {
		return fmt.Errorf("trader.buy: quote %s: %w", cand.Symbol, err)
	}
	if cand.Price > 0 {
		if drop := (cand.Price - live) / cand.Price * 100; drop > t.cfg.MaxDropPct {
			t.skip("anti_rug")
			slog.Warn("anti-rug: price dropped since scoring, aborting buy",
				"symbol", cand.Symbol,
				"scored_price", cand.Price,
				"live_price", live,
				"drop_pct", fmt.Sprintf("%.1f", drop),
			)
			return nil
		}
	}

	res, err := session.Retry(ctx, t.sessions, "buy", func(s ports.Session) (ports.ExecResult, error) {
		return t.exchange.Buy(ctx, s, cand.Address, t.cfg.BuyAmount, t.cfg.Chain)
	})
	if err != nil {
		if errors.Is(err, ports.ErrRejected) {
			t.skip("rejected")
			slog.Warn("buy rejected, cooling down", "symbol", cand.Symbol, "err", err)
			return nil
		}
		t.skip("failed")
		return fmt.Errorf("trader.buy %s: %w", cand.Symbol, err)
	}

	amount := res.Amount
	if amount <= 0 && live > 0 {
		amount = t.cfg.BuyAmount / live
	}
	pos := domain.Position{
		ID:              uuid.NewString(),
		Strategy:        domain.StrategySwing,
		TokenAddress:    cand.Address,
		TokenName:       cand.Name,
		TokenSymbol:     cand.Symbol,
		EntryPrice:      live,
		CurrentPrice:    live,
		EntryTime:       t.now(),
		TotalAmount:     amount,
		RemainingAmount: amount,
		AmountSpent:     t.cfg.BuyAmount,
		Status:          domain.PositionOpen,
		Score:           cand.Score,
		EntryTx:         res.TxRef,
	}
	if err := t.store.InsertPosition(pos); err != nil {
		return fmt.Errorf("trader.buy %s: persist position (tx %s): %w", cand.Symbol, res.TxRef, err)
	}
	t.metrics.PositionsOpened.WithLabelValues(string(domain.StrategySwing)).Inc()

	slog.Info("swing position opened",
		"symbol", cand.Symbol,
		"score", fmt.Sprintf("%.0f", cand.Score),
		"price", live,
		"amount", amount,
		"spent", t.cfg.BuyAmount,
		"tx", res.TxRef,
	)
	return nil
}

func (t *Trader) skip(cause string) {
	t.metrics.BuysSkipped.WithLabelValues(string(domain.StrategySwing), cause).Inc()
}

func (t *Trader) pruneAttempts(now time.Time) {
	for addr, at := range t.attempts {
		if now.Sub(at) >= t.cfg.Cooldown {
			delete(t.attempts, addr)
		}
	}
}
