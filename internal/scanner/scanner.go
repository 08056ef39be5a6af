package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/snipebot/internal/agent"
	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/ports"
	"github.com/alejandrodnm/snipebot/internal/session"
	"github.com/alejandrodnm/snipebot/internal/telemetry"
)

const agentName = "scanner"

// Config contiene la configuración del scanner.
type Config struct {
	Chain           string
	Interval        time.Duration
	BalanceInterval time.Duration
	FlushInterval   time.Duration // cada cuánto se persisten los price updates del feed
	PageSize        int
	Pages           int
	MaxWatchlist    int
}

// DefaultConfig devuelve una configuración sensata para producción.
func DefaultConfig() Config {
	return Config{
		Chain:           "solana",
		Interval:        30 * time.Second,
		BalanceInterval: 60 * time.Second,
		FlushInterval:   2 * time.Second,
		PageSize:        50,
		Pages:           2,
		MaxWatchlist:    100,
	}
}

// Store es lo que el scanner escribe en el store compartido.
type Store interface {
	LoadWatchlist() ([]domain.WatchedToken, error)
	SaveWatchlist(tokens []domain.WatchedToken) error
	SaveBalance(b domain.BalanceSnapshot) error
}

// Scanner mantiene la watchlist acotada: polling autoritativo de listados más
// push feed best-effort. También publica el saldo para el dashboard.
type Scanner struct {
	cfg      Config
	market   ports.MarketData
	feed     ports.Feed
	store    Store
	sessions *session.Provider
	metrics  *telemetry.Metrics
	now      func() time.Time

	mu    sync.Mutex
	watch domain.Watchlist
	dirty bool
}

// New crea un Scanner con todas las dependencias inyectadas. feed y sessions
// pueden ser nil (sin feed / sin snapshot de saldo).
func New(cfg Config, market ports.MarketData, feed ports.Feed, store Store, sessions *session.Provider, m *telemetry.Metrics) *Scanner {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &Scanner{
		cfg:      cfg,
		market:   market,
		feed:     feed,
		store:    store,
		sessions: sessions,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
		watch:    domain.NewWatchlist(nil),
	}
}

// Run ejecuta el scanner hasta que el contexto se cancele.
func (s *Scanner) Run(ctx context.Context) error {
	slog.Info("scanner starting",
		"chain", s.cfg.Chain,
		"interval", s.cfg.Interval,
		"max_watchlist", s.cfg.MaxWatchlist,
	)

	// Retomar la watchlist persistida conserva firstSeen entre reinicios.
	if tokens, err := s.store.LoadWatchlist(); err != nil {
		slog.Warn("previous watchlist unreadable, starting empty", "err", err)
	} else {
		s.mu.Lock()
		s.watch = domain.NewWatchlist(tokens)
		s.mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		agent.ConsumeFeed(ctx, s.feed, s.cfg.Chain, s.metrics, s.HandleEvent)
	}()
	go func() {
		defer wg.Done()
		if s.sessions == nil {
			return
		}
		agent.Loop(ctx, agentName, s.cfg.BalanceInterval, s.metrics, s.RefreshBalance)
	}()
	go func() {
		defer wg.Done()
		agent.Loop(ctx, agentName, s.cfg.FlushInterval, s.metrics, s.flush)
	}()

	agent.Loop(ctx, agentName, s.cfg.Interval, s.metrics, s.Poll)
	wg.Wait()
	slog.Info("scanner stopped")
	return nil
}

// Poll trae las páginas de listados recientes, las fusiona y persiste la
// watchlist truncada. Si la primera página falla el tick falla; las
// siguientes son best-effort.
func (s *Scanner) Poll(ctx context.Context) error {
	start := time.Now()

	var observed []domain.WatchedToken
	for page := 1; page <= s.cfg.Pages; page++ {
		tokens, err := s.market.NewListings(ctx, s.cfg.Chain, page, s.cfg.PageSize)
		if err != nil {
			if page == 1 {
				return fmt.Errorf("scanner.Poll: %w", err)
			}
			slog.Warn("listings page failed, using partial result", "page", page, "err", err)
			break
		}
		observed = append(observed, tokens...)
		if len(tokens) < s.cfg.PageSize {
			break
		}
	}

	s.mu.Lock()
	now := s.now()
	for _, obs := range observed {
		if obs.Address == "" {
			continue
		}
		s.watch.Apply(obs, now)
	}
	kept, err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("scanner.Poll: %w", err)
	}

	slog.Info("scan cycle complete",
		"observed", len(observed),
		"watchlist", kept,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// HandleEvent aplica un evento del feed con la misma lógica de merge que el
// polling. Los price updates de tokens fuera de la watchlist se ignoran.
func (s *Scanner) HandleEvent(_ context.Context, ev domain.FeedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	switch ev.Type {
	case domain.FeedNewToken:
		if ev.Token == nil || ev.Token.Address == "" {
			return
		}
		s.watch.Apply(*ev.Token, now)
		if _, err := s.persistLocked(); err != nil {
			slog.Warn("persist watchlist after new token failed", "err", err)
		}
		slog.Debug("new token from feed", "symbol", ev.Token.Symbol, "address", ev.Token.Address)
	case domain.FeedPriceUpdate:
		if s.watch.ApplyPrice(ev.Address, ev.Price, ev.MarketCap, now) {
			s.dirty = true
		}
	}
}

// flush persiste los price updates acumulados del feed.
func (s *Scanner) flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if _, err := s.persistLocked(); err != nil {
		return fmt.Errorf("scanner.flush: %w", err)
	}
	return nil
}

// persistLocked trunca y escribe la watchlist. Requiere s.mu.
func (s *Scanner) persistLocked() (int, error) {
	tokens := s.watch.Truncate(s.cfg.MaxWatchlist)
	if err := s.store.SaveWatchlist(tokens); err != nil {
		return 0, err
	}
	s.dirty = false
	s.metrics.WatchlistSize.Set(float64(len(tokens)))
	return len(tokens), nil
}

// RefreshBalance publica el snapshot de saldo y tenencias.
func (s *Scanner) RefreshBalance(ctx context.Context) error {
	snap, err := session.Retry(ctx, s.sessions, "balance", func(sess ports.Session) (domain.BalanceSnapshot, error) {
		return s.market.Balance(ctx, sess, s.cfg.Chain)
	})
	if err != nil {
		return fmt.Errorf("scanner.RefreshBalance: %w", err)
	}
	if err := s.store.SaveBalance(snap); err != nil {
		return fmt.Errorf("scanner.RefreshBalance: save: %w", err)
	}
	return nil
}

// Watchlist devuelve una copia de la watchlist en memoria (para tests).
func (s *Scanner) Watchlist() []domain.WatchedToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watch.Truncate(0)
}
