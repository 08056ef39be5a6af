// Package agent tiene el esqueleto común de los agentes: bucle de ticks
// aislados y consumo best-effort del push feed.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alejandrodnm/snipebot/internal/adapters/filestore"
	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/ports"
	"github.com/alejandrodnm/snipebot/internal/telemetry"
)

// Loop ejecuta tick inmediatamente y luego cada every hasta que ctx termine.
// Cada tick está aislado: un error se loguea y el bucle sigue.
func Loop(ctx context.Context, name string, every time.Duration, m *telemetry.Metrics, tick func(context.Context) error) {
	RunTick(ctx, name, m, tick)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			RunTick(ctx, name, m, tick)
		}
	}
}

// RunTick ejecuta un tick y registra el resultado.
func RunTick(ctx context.Context, name string, m *telemetry.Metrics, tick func(context.Context) error) {
	m.Ticks.WithLabelValues(name).Inc()
	err := tick(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}
	m.TickErrors.WithLabelValues(name).Inc()
	if errors.Is(err, filestore.ErrCorrupt) {
		// Sin datos legibles todavía: el siguiente tick lo reintenta.
		slog.Warn("store document unreadable, skipping tick", "err", err)
		return
	}
	slog.Error("tick failed", "err", err)
}

// ConsumeFeed se suscribe al feed y llama a handle por cada evento hasta que
// ctx termine o el feed se cierre. Un feed nil o que no se puede suscribir
// deja al agente en modo solo-polling.
func ConsumeFeed(ctx context.Context, feed ports.Feed, chain string, m *telemetry.Metrics, handle func(context.Context, domain.FeedEvent)) {
	if feed == nil {
		return
	}
	events, err := feed.Subscribe(ctx, chain)
	if err != nil {
		slog.Warn("push feed unavailable, polling only", "err", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.FeedEvents.WithLabelValues(string(ev.Type)).Inc()
			handle(ctx, ev)
		}
	}
}
