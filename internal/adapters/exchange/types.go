package exchange

import "time"

// envelope es la respuesta de /buy y /sell. Se traduce a ports.ExecResult o a
// ports.ErrRejected en toResult; no sale de este paquete.
type envelope struct {
	Success bool    `json:"success"`
	TxRef   string  `json:"txRef"`
	Amount  float64 `json:"amount"`
	Message string  `json:"message"`
}

type authRequest struct {
	APIKey string `json:"apiKey"`
	Chain  string `json:"chain"`
}

type authResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type quoteResponse struct {
	Price float64 `json:"price"`
}

type orderRequest struct {
	Token  string  `json:"token"`
	Amount float64 `json:"amount"`
	Chain  string  `json:"chain"`
}

type listingsResponse struct {
	Tokens []tokenDTO `json:"tokens"`
}

type securityDTO struct {
	Mintable     bool    `json:"mintable"`
	Freezable    bool    `json:"freezable"`
	BuyTax       float64 `json:"buyTax"`
	SellTax      float64 `json:"sellTax"`
	TopHolderPct float64 `json:"topHolderPct"`
	LPLockedPct  float64 `json:"lpLockedPct"`
	Verified     bool    `json:"verified"`
}

type priceChangeDTO struct {
	M5 float64 `json:"m5"`
	H1 float64 `json:"h1"`
}

type tokenDTO struct {
	Address      string          `json:"address"`
	Name         string          `json:"name"`
	Symbol       string          `json:"symbol"`
	PriceUSD     float64         `json:"priceUsd"`
	MarketCap    float64         `json:"marketCap"`
	TxCount      int             `json:"txCount"`
	BondingCurve float64         `json:"bondingCurve"`
	Graduated    bool            `json:"graduated"`
	Token2022    bool            `json:"token2022"`
	CreatedAt    int64           `json:"createdAt"` // unix ms
	Security     *securityDTO    `json:"security,omitempty"`
	PriceChange  *priceChangeDTO `json:"priceChange,omitempty"`
}

type balanceResponse struct {
	Base     float64      `json:"base"`
	BaseUSD  float64      `json:"baseUsd"`
	Holdings []holdingDTO `json:"holdings"`
}

type holdingDTO struct {
	Address string  `json:"address"`
	Symbol  string  `json:"symbol"`
	Amount  float64 `json:"amount"`
	Value   float64 `json:"value"`
}

// wsMessage es cualquier mensaje del push feed.
type wsMessage struct {
	Type      string    `json:"type"`
	Chain     string    `json:"chain,omitempty"`
	Address   string    `json:"address,omitempty"`
	Price     float64   `json:"price,omitempty"`
	MarketCap float64   `json:"marketCap,omitempty"`
	Token     *tokenDTO `json:"token,omitempty"`
}
