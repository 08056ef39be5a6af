package domain

import "time"

// FeedEventType identifica el tipo de evento del push feed.
type FeedEventType string

const (
	FeedNewToken    FeedEventType = "new_token"
	FeedPriceUpdate FeedEventType = "price_update"
)

// FeedEvent es un evento del push feed. Token solo viene en new_token.
type FeedEvent struct {
	Type      FeedEventType
	Address   string
	Price     float64
	MarketCap float64
	Token     *WatchedToken
	At        time.Time
}

// BalanceSnapshot es el saldo custodial publicado para el dashboard.
type BalanceSnapshot struct {
	Chain    string    `json:"chain"`
	Base     float64   `json:"base"` // saldo en la moneda base de la cadena
	BaseUSD  float64   `json:"baseUsd"`
	Holdings []Holding `json:"holdings"`
	At       time.Time `json:"at"`
}

// Holding es una tenencia de un token.
type Holding struct {
	Address string  `json:"address"`
	Symbol  string  `json:"symbol"`
	Amount  float64 `json:"amount"`
	Value   float64 `json:"value"`
}
