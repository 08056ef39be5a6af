package domain

import (
	"errors"
	"fmt"
	"time"
)

// Strategy distingue las dos familias de posiciones.
type Strategy string

const (
	StrategySwing Strategy = "swing"
	StrategyScalp Strategy = "scalp"
)

// PositionStatus es el ciclo de vida de una posición: open → closed (terminal).
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// ExitReason es el motivo de una salida (parcial o total).
type ExitReason string

const (
	ExitTakeProfit ExitReason = "take-profit"
	ExitStopLoss   ExitReason = "stop-loss"
	ExitTimeExpiry ExitReason = "time-expiry"
)

// amountEpsilon absorbe el error de coma flotante al restar tercios.
const amountEpsilon = 1e-9

var (
	// ErrPositionClosed se devuelve al intentar mutar una posición cerrada.
	ErrPositionClosed = errors.New("position is closed")
	// ErrInvalidExit se devuelve si la salida pedida viola los invariantes.
	ErrInvalidExit = errors.New("invalid exit")
)

// Position es una posición swing o scalp. Nunca se borra: las cerradas quedan
// para auditoría.
type Position struct {
	ID              string         `json:"id"`
	Strategy        Strategy       `json:"strategy"`
	TokenAddress    string         `json:"tokenAddress"`
	TokenName       string         `json:"tokenName"`
	TokenSymbol     string         `json:"tokenSymbol"`
	EntryPrice      float64        `json:"entryPrice"`
	CurrentPrice    float64        `json:"currentPrice"`
	PeakPrice       float64        `json:"peakPrice,omitempty"` // solo scalp
	EntryTime       time.Time      `json:"entryTime"`
	TotalAmount     float64        `json:"totalAmount"`
	RemainingAmount float64        `json:"remainingAmount"`
	AmountSpent     float64        `json:"amountSpent"`
	RealizedPnL     float64        `json:"realizedPnl"`
	Status          PositionStatus `json:"status"`
	Stage           int            `json:"stage"` // solo swing: 0, 1, 2
	Score           float64        `json:"score,omitempty"`
	EntryTx         string         `json:"entryTx"`
	ExitPrice       float64        `json:"exitPrice,omitempty"`
	ExitTime        *time.Time     `json:"exitTime,omitempty"`
	ExitReason      ExitReason     `json:"exitReason,omitempty"`
	ExitTx          string         `json:"exitTx,omitempty"`
	Version         int64          `json:"version"`
}

// IsOpen indica si la posición sigue abierta.
func (p Position) IsOpen() bool { return p.Status == PositionOpen }

// GainPct devuelve la ganancia no realizada en % a un precio dado.
func (p Position) GainPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price/p.EntryPrice - 1) * 100
}

// ReturnPct devuelve el retorno combinado de la posición en % sobre lo invertido:
// P&L realizado de las salidas parciales + no realizado del remanente.
func (p Position) ReturnPct(price float64) float64 {
	if p.AmountSpent <= 0 || p.TotalAmount <= 0 {
		return p.GainPct(price)
	}
	remainingCost := p.AmountSpent * p.RemainingAmount / p.TotalAmount
	unrealized := remainingCost * p.GainPct(price) / 100
	return (p.RealizedPnL + unrealized) / p.AmountSpent * 100
}

// Held devuelve cuánto tiempo lleva abierta la posición (o estuvo, si cerrada).
func (p Position) Held(now time.Time) time.Duration {
	if p.ExitTime != nil {
		return p.ExitTime.Sub(p.EntryTime)
	}
	return now.Sub(p.EntryTime)
}

// Exit describe una venta ya ejecutada sobre la posición.
type Exit struct {
	Amount    float64 // tokens vendidos
	Price     float64
	At        time.Time
	Reason    ExitReason
	TxRef     string
	NextStage int
	Close     bool
}

// ApplyExit aplica una venta a la posición y devuelve la entrada del trade log
// correspondiente. Mantiene los invariantes: remaining ≤ total, stage no
// decrece, y una posición cerrada no vuelve a cambiar.
func (p *Position) ApplyExit(e Exit) (TradeLogEntry, error) {
	if !p.IsOpen() {
		return TradeLogEntry{}, ErrPositionClosed
	}
	if e.Amount <= 0 || e.Amount > p.RemainingAmount+amountEpsilon {
		return TradeLogEntry{}, fmt.Errorf("%w: sell %.9f of remaining %.9f", ErrInvalidExit, e.Amount, p.RemainingAmount)
	}
	if e.NextStage < p.Stage {
		return TradeLogEntry{}, fmt.Errorf("%w: stage %d → %d", ErrInvalidExit, p.Stage, e.NextStage)
	}

	fraction := 0.0
	if p.TotalAmount > 0 {
		fraction = e.Amount / p.TotalAmount
	}
	pct := p.GainPct(e.Price)
	gain := fraction * p.AmountSpent * pct / 100

	entry := TradeLogEntry{
		PositionID:   p.ID,
		Strategy:     p.Strategy,
		TokenAddress: p.TokenAddress,
		TokenName:    p.TokenName,
		TokenSymbol:  p.TokenSymbol,
		EntryPrice:   p.EntryPrice,
		ExitPrice:    e.Price,
		EntryTime:    p.EntryTime,
		ExitTime:     e.At,
		Reason:       e.Reason,
		Fraction:     fraction,
		AmountSold:   e.Amount,
		RealizedPnL:  gain,
		RealizedPct:  pct,
		ExitTx:       e.TxRef,
		Stage:        p.Stage,
		Score:        p.Score,
	}

	p.RemainingAmount -= e.Amount
	if p.RemainingAmount < amountEpsilon {
		p.RemainingAmount = 0
	}
	p.RealizedPnL += gain
	p.CurrentPrice = e.Price
	p.Stage = e.NextStage

	if e.Close || p.RemainingAmount == 0 {
		at := e.At
		p.Status = PositionClosed
		p.ExitPrice = e.Price
		p.ExitTime = &at
		p.ExitReason = e.Reason
		p.ExitTx = e.TxRef
	}
	return entry, nil
}

// ObservePrice actualiza el precio actual y, en scalp, el pico (que solo sube).
func (p *Position) ObservePrice(price float64) {
	if price <= 0 || !p.IsOpen() {
		return
	}
	p.CurrentPrice = price
	if p.Strategy == StrategyScalp && price > p.PeakPrice {
		p.PeakPrice = price
	}
}

// TradeLogEntry es un registro inmutable de una salida (parcial o total).
type TradeLogEntry struct {
	ID           string     `json:"id"`
	PositionID   string     `json:"positionId"`
	Strategy     Strategy   `json:"strategy,omitempty"`
	TokenAddress string     `json:"tokenAddress"`
	TokenName    string     `json:"tokenName"`
	TokenSymbol  string     `json:"tokenSymbol"`
	EntryPrice   float64    `json:"entryPrice"`
	ExitPrice    float64    `json:"exitPrice"`
	EntryTime    time.Time  `json:"entryTime"`
	ExitTime     time.Time  `json:"exitTime"`
	Reason       ExitReason `json:"reason"`
	Fraction     float64    `json:"fraction"`
	AmountSold   float64    `json:"amountSold"`
	RealizedPnL  float64    `json:"realizedPnl"`
	RealizedPct  float64    `json:"realizedPct"`
	ExitTx       string     `json:"exitTx"`
	Stage        int        `json:"stage"`
	Score        float64    `json:"score,omitempty"`
}

// Holds indica si alguna de las posiciones abiertas es del token (por address
// o símbolo).
func Holds(positions []Position, address, symbol string) bool {
	for _, p := range positions {
		if p.IsOpen() && SameToken(p.TokenAddress, p.TokenSymbol, address, symbol) {
			return true
		}
	}
	return false
}

// Exposure suma lo invertido en las posiciones abiertas.
func Exposure(positions []Position) float64 {
	var total float64
	for _, p := range positions {
		if p.IsOpen() {
			total += p.AmountSpent
		}
	}
	return total
}
