package ports

import (
	"context"

	"github.com/alejandrodnm/snipebot/internal/domain"
)

// MarketData obtiene listados nuevos y el saldo custodial.
type MarketData interface {
	// NewListings devuelve una página de los listados más recientes de la cadena.
	NewListings(ctx context.Context, chain string, page, limit int) ([]domain.WatchedToken, error)

	// Balance devuelve el saldo y las tenencias de la cuenta de la sesión.
	Balance(ctx context.Context, s Session, chain string) (domain.BalanceSnapshot, error)
}

// Feed es el push feed best-effort de listados y precios.
type Feed interface {
	// Subscribe devuelve un canal que se cierra cuando ctx termina o la
	// suscripción se pierde definitivamente.
	Subscribe(ctx context.Context, chain string) (<-chan domain.FeedEvent, error)
}
