// Package analyst filtra y puntúa la watchlist. Cada ciclo reemplaza el
// archivo de scores entero: nunca se parchea un score existente.
package analyst

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/snipebot/internal/agent"
	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/telemetry"
)

const agentName = "analyst"

// Store es la vista del store compartido que usa el analyst.
type Store interface {
	LoadWatchlist() ([]domain.WatchedToken, error)
	SaveScores(scores []domain.TokenScore) error
}

// Analyst puntúa los tokens de la watchlist.
type Analyst struct {
	store    Store
	interval time.Duration
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// New crea un Analyst.
func New(store Store, interval time.Duration, m *telemetry.Metrics) *Analyst {
	return &Analyst{
		store:    store,
		interval: interval,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run ejecuta el ciclo de scoring hasta que ctx termine.
func (a *Analyst) Run(ctx context.Context) error {
	slog.Info("analyst starting", "interval", a.interval)
	agent.Loop(ctx, agentName, a.interval, a.metrics, a.Tick)
	slog.Info("analyst stopped")
	return nil
}

// Tick lee la watchlist, descarta con el filtro duro, puntúa y publica el
// ranking completo.
func (a *Analyst) Tick(context.Context) error {
	tokens, err := a.store.LoadWatchlist()
	if err != nil {
		return fmt.Errorf("analyst.Tick: load watchlist: %w", err)
	}

	scores, rejects := Rank(tokens, a.now())
	if err := a.store.SaveScores(scores); err != nil {
		return fmt.Errorf("analyst.Tick: save scores: %w", err)
	}
	a.metrics.ScoredTokens.Set(float64(len(scores)))

	for _, r := range rejects {
		slog.Debug("token rejected", "address", r.Address, "reason", r.Reason)
	}
	top := ""
	if len(scores) > 0 {
		top = fmt.Sprintf("%s %.0f", scores[0].Symbol, scores[0].Score)
	}
	slog.Info("scoring cycle complete",
		"watchlist", len(tokens),
		"scored", len(scores),
		"rejected", len(rejects),
		"top", top,
	)
	return nil
}

// Rank aplica el filtro duro y devuelve los supervivientes puntuados, de mayor
// a menor score. Empates: más transacciones primero, luego address.
func Rank(tokens []domain.WatchedToken, now time.Time) ([]domain.TokenScore, []domain.Reject) {
	scores := make([]domain.TokenScore, 0, len(tokens))
	var rejects []domain.Reject
	for _, t := range tokens {
		if reason := domain.HardFilter(t, now); reason != "" {
			rejects = append(rejects, domain.Reject{Address: t.Address, Reason: reason})
			continue
		}
		scores = append(scores, domain.ScoreToken(t, now))
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		if scores[i].TxCount != scores[j].TxCount {
			return scores[i].TxCount > scores[j].TxCount
		}
		return scores[i].Address < scores[j].Address
	})
	return scores, rejects
}
