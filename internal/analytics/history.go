package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/snipebot/internal/domain"
)

// History resume el archivo SQLite, que sobrevive al trade log en curso.
type History struct {
	Cycles   int
	Day      domain.Bucket // trades cerrados en las últimas 24h
	Lifetime domain.Bucket
}

// Summarize agrupa las salidas archivadas en trades cerrados.
func Summarize(entries []domain.TradeLogEntry, cycles int, now time.Time) History {
	h := History{
		Cycles:   cycles,
		Day:      domain.Bucket{Key: "24h"},
		Lifetime: domain.Bucket{Key: "lifetime"},
	}
	since := now.Add(-24 * time.Hour)
	for _, ct := range ClosedTrades(entries, nil) {
		h.Lifetime.Add(ct.PnL, ct.PnLPct)
		if !ct.ExitTime.Before(since) {
			h.Day.Add(ct.PnL, ct.PnLPct)
		}
	}
	h.Day.Finish()
	h.Lifetime.Finish()
	return h
}

// history lee el archivo completo hasta now. nil si no hay archivo.
func (a *Agent) history(ctx context.Context, now time.Time) (*History, error) {
	if a.archive == nil {
		return nil, nil
	}
	entries, err := a.archive.History(ctx, time.Unix(0, 0).UTC(), now)
	if err != nil {
		return nil, fmt.Errorf("analytics.history: %w", err)
	}
	cycles, err := a.archive.CycleCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("analytics.history: %w", err)
	}
	h := Summarize(entries, cycles, now)
	return &h, nil
}
