package exchange

import (
	"time"

	"github.com/alejandrodnm/snipebot/internal/domain"
)

// mapToken convierte el DTO de la plataforma al WatchedToken del dominio.
func mapToken(d tokenDTO) domain.WatchedToken {
	t := domain.WatchedToken{
		Address:      d.Address,
		Name:         d.Name,
		Symbol:       d.Symbol,
		Price:        d.PriceUSD,
		MarketCap:    d.MarketCap,
		TxCount:      d.TxCount,
		BondingCurve: d.BondingCurve,
		Listed:       d.Graduated,
		Token2022:    d.Token2022,
	}
	if d.CreatedAt > 0 {
		t.CreatedAt = time.UnixMilli(d.CreatedAt).UTC()
	}
	if d.Security != nil {
		t.Security = &domain.Security{
			Mintable:     d.Security.Mintable,
			Freezable:    d.Security.Freezable,
			BuyTaxPct:    d.Security.BuyTax,
			SellTaxPct:   d.Security.SellTax,
			TopHolderPct: d.Security.TopHolderPct,
			LPLockedPct:  d.Security.LPLockedPct,
			Verified:     d.Security.Verified,
		}
	}
	if d.PriceChange != nil {
		t.PriceChange = &domain.PriceChange{M5: d.PriceChange.M5, H1: d.PriceChange.H1}
	}
	return t
}

// mapEvent convierte un mensaje del feed. ok=false para tipos desconocidos o
// mensajes incompletos.
func mapEvent(m wsMessage, now time.Time) (domain.FeedEvent, bool) {
	switch domain.FeedEventType(m.Type) {
	case domain.FeedNewToken:
		if m.Token == nil || m.Token.Address == "" {
			return domain.FeedEvent{}, false
		}
		tok := mapToken(*m.Token)
		return domain.FeedEvent{
			Type:      domain.FeedNewToken,
			Address:   tok.Address,
			Price:     tok.Price,
			MarketCap: tok.MarketCap,
			Token:     &tok,
			At:        now,
		}, true
	case domain.FeedPriceUpdate:
		if m.Address == "" || m.Price <= 0 {
			return domain.FeedEvent{}, false
		}
		return domain.FeedEvent{
			Type:      domain.FeedPriceUpdate,
			Address:   m.Address,
			Price:     m.Price,
			MarketCap: m.MarketCap,
			At:        now,
		}, true
	}
	return domain.FeedEvent{}, false
}
