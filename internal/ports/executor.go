package ports

import (
	"context"
	"errors"
	"time"
)

// ErrRejected marca un rechazo de negocio (saldo insuficiente, slippage,
// token desconocido). No se reintenta en el mismo ciclo.
var ErrRejected = errors.New("rejected by venue")

// Session es una sesión autenticada con el colaborador de ejecución.
type Session struct {
	Token     string
	Chain     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExecResult es el resultado de una compra o venta confirmada.
// Amount es la cantidad de tokens recibidos/vendidos, 0 si el venue no la reporta.
type ExecResult struct {
	TxRef   string
	Amount  float64
	Message string
}

// Executor es el colaborador de ejecución: la única fuente de verdad de mercado
// y de liquidación.
type Executor interface {
	// Authenticate abre una sesión nueva para la cadena.
	Authenticate(ctx context.Context, chain string) (Session, error)

	// Quote devuelve el precio actual del token.
	Quote(ctx context.Context, token, chain string) (float64, error)

	// Buy compra amountBase (moneda base de la cadena) del token.
	Buy(ctx context.Context, s Session, token string, amountBase float64, chain string) (ExecResult, error)

	// Sell vende amount tokens.
	Sell(ctx context.Context, s Session, token string, amount float64, chain string) (ExecResult, error)
}

// Quoter es el subconjunto de solo lectura de Executor.
type Quoter interface {
	Quote(ctx context.Context, token, chain string) (float64, error)
}
