package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/snipebot/internal/domain"
)

// HealthStore es donde se publica el estado de las conexiones.
type HealthStore interface {
	SaveHealth(h domain.AgentHealth) error
}

// PublishHealth escribe probe() en el store al arrancar y cada every hasta que
// ctx termine. Un fallo de escritura no afecta al agente.
func PublishHealth(ctx context.Context, store HealthStore, every time.Duration, probe func() domain.AgentHealth) {
	publish := func() {
		if err := store.SaveHealth(probe()); err != nil {
			slog.Debug("health publish failed", "err", err)
		}
	}
	publish()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publish()
		}
	}
}
