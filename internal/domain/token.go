package domain

import (
	"sort"
	"strings"
	"time"
)

// Security agrupa los atributos de seguridad del contrato. Es opcional:
// la plataforma no siempre los devuelve para tokens recién listados.
type Security struct {
	Mintable     bool    `json:"mintable"`
	Freezable    bool    `json:"freezable"`
	BuyTaxPct    float64 `json:"buyTaxPct"`
	SellTaxPct   float64 `json:"sellTaxPct"`
	TopHolderPct float64 `json:"topHolderPct"`
	LPLockedPct  float64 `json:"lpLockedPct"`
	Verified     bool    `json:"verified"`
}

// PriceChange contiene la variación de precio en ventanas cortas (en %).
type PriceChange struct {
	M5 float64 `json:"m5"`
	H1 float64 `json:"h1"`
}

// WatchedToken es un token en la watchlist. La clave única es Address.
type WatchedToken struct {
	Address      string       `json:"address"`
	Name         string       `json:"name"`
	Symbol       string       `json:"symbol"`
	Price        float64      `json:"price"`
	PrevPrice    float64      `json:"prevPrice"`
	MarketCap    float64      `json:"marketCap"`
	TxCount      int          `json:"txCount"`
	BondingCurve float64      `json:"bondingCurve"` // % de progreso hacia la graduación
	Listed       bool         `json:"listed"`       // graduado a DEX
	Token2022    bool         `json:"token2022"`
	CreatedAt    time.Time    `json:"createdAt,omitempty"` // timestamp de listado según la plataforma
	FirstSeen    time.Time    `json:"firstSeen"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	Security     *Security    `json:"security,omitempty"`
	PriceChange  *PriceChange `json:"priceChange,omitempty"`
}

// ListedAt devuelve el momento de listado: CreatedAt si la plataforma lo dio,
// si no FirstSeen.
func (t WatchedToken) ListedAt() time.Time {
	if !t.CreatedAt.IsZero() {
		return t.CreatedAt
	}
	return t.FirstSeen
}

// Age devuelve la edad del token respecto a now.
func (t WatchedToken) Age(now time.Time) time.Duration {
	return now.Sub(t.ListedAt())
}

// DropSincePrevPct devuelve la caída en % desde la observación anterior.
// Positivo = el precio bajó. 0 si no hay observación previa.
func (t WatchedToken) DropSincePrevPct() float64 {
	if t.PrevPrice <= 0 || t.Price <= 0 {
		return 0
	}
	return (t.PrevPrice - t.Price) / t.PrevPrice * 100
}

// Observe fusiona una observación nueva sobre el estado conocido del token.
// Conserva FirstSeen y mueve el precio anterior a PrevPrice. Los campos que
// la observación no trae (cero / nil) se mantienen del estado previo.
func Observe(prev *WatchedToken, obs WatchedToken, now time.Time) WatchedToken {
	if prev == nil {
		obs.FirstSeen = now
		obs.UpdatedAt = now
		obs.PrevPrice = 0
		return obs
	}

	merged := *prev
	if obs.Name != "" {
		merged.Name = obs.Name
	}
	if obs.Symbol != "" {
		merged.Symbol = obs.Symbol
	}
	if obs.Price > 0 {
		merged.PrevPrice = prev.Price
		merged.Price = obs.Price
	}
	if obs.MarketCap > 0 {
		merged.MarketCap = obs.MarketCap
	}
	if obs.TxCount > 0 {
		merged.TxCount = obs.TxCount
	}
	if obs.BondingCurve > 0 {
		merged.BondingCurve = obs.BondingCurve
	}
	if obs.Listed {
		merged.Listed = true
	}
	if obs.Token2022 {
		merged.Token2022 = true
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = obs.CreatedAt
	}
	if obs.Security != nil {
		merged.Security = obs.Security
	}
	if obs.PriceChange != nil {
		merged.PriceChange = obs.PriceChange
	}
	merged.UpdatedAt = now
	return merged
}

// Watchlist es el mapa address → token que mantiene el scanner.
type Watchlist map[string]WatchedToken

// NewWatchlist construye el mapa desde la lista persistida.
func NewWatchlist(tokens []WatchedToken) Watchlist {
	w := make(Watchlist, len(tokens))
	for _, t := range tokens {
		if t.Address == "" {
			continue
		}
		w[t.Address] = t
	}
	return w
}

// Apply fusiona la observación en la watchlist.
func (w Watchlist) Apply(obs WatchedToken, now time.Time) WatchedToken {
	var prev *WatchedToken
	if cur, ok := w[obs.Address]; ok {
		prev = &cur
	}
	merged := Observe(prev, obs, now)
	w[obs.Address] = merged
	return merged
}

// ApplyPrice aplica un price update del feed. Devuelve false si el token no está
// en la watchlist (los updates de tokens desconocidos se ignoran).
func (w Watchlist) ApplyPrice(address string, price, marketCap float64, now time.Time) bool {
	cur, ok := w[address]
	if !ok || price <= 0 {
		return false
	}
	w[address] = Observe(&cur, WatchedToken{Address: address, Price: price, MarketCap: marketCap}, now)
	return true
}

// Truncate devuelve los tokens ordenados del más reciente al más antiguo,
// recortados a max. max <= 0 no recorta.
func (w Watchlist) Truncate(max int) []WatchedToken {
	tokens := make([]WatchedToken, 0, len(w))
	for _, t := range w {
		tokens = append(tokens, t)
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		ti, tj := tokens[i].ListedAt(), tokens[j].ListedAt()
		if ti.Equal(tj) {
			return tokens[i].Address < tokens[j].Address
		}
		return ti.After(tj)
	})
	if max > 0 && len(tokens) > max {
		for _, t := range tokens[max:] {
			delete(w, t.Address)
		}
		tokens = tokens[:max]
	}
	return tokens
}

// SameToken compara por address o, si ambos lo tienen, por símbolo (case-insensitive).
func SameToken(addrA, symA, addrB, symB string) bool {
	if addrA != "" && addrA == addrB {
		return true
	}
	return symA != "" && symB != "" && strings.EqualFold(symA, symB)
}
