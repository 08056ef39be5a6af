package ports

import (
	"context"
	"errors"
	"time"

	"github.com/alejandrodnm/snipebot/internal/domain"
)

// Archive guarda el histórico de trades y de ciclos de analytics.
type Archive interface {
	// SaveTrades inserta las entradas que todavía no estén archivadas.
	SaveTrades(ctx context.Context, trades []domain.TradeLogEntry) (int, error)

	// SaveCycle persiste el resumen de un ciclo de analytics.
	SaveCycle(ctx context.Context, snap domain.AnalyticsSnapshot) error

	// History devuelve las entradas archivadas con exit_time en el rango dado.
	History(ctx context.Context, from, to time.Time) ([]domain.TradeLogEntry, error)

	// CycleCount devuelve cuántos ciclos hay archivados.
	CycleCount(ctx context.Context) (int, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}

var (
	// ErrConflict lo devuelve un mutador cuando el estado previo esperado ya no se cumple.
	ErrConflict = errors.New("store conflict")
	// ErrNotFound indica que la posición pedida no existe en el store.
	ErrNotFound = errors.New("position not found")
)

// PositionStore es el store compartido de posiciones y trade log. Las
// mutaciones son compare-and-swap: fn recibe el registro recién leído y
// devuelve error para abortar sin escribir.
type PositionStore interface {
	LoadPositions(strategy domain.Strategy) ([]domain.Position, error)
	OpenPositions(strategy domain.Strategy) ([]domain.Position, error)
	InsertPosition(p domain.Position) error
	UpdatePosition(strategy domain.Strategy, id string, fn func(*domain.Position) error) (domain.Position, error)
	LoadTrades() ([]domain.TradeLogEntry, error)
	AppendTrades(entries ...domain.TradeLogEntry) error
}
