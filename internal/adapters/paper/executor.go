// Package paper es un executor simulado: rellena órdenes al precio cotizado
// con slippage y lleva un saldo virtual. Sirve para correr el pipeline entero
// sin mover fondos.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/ports"
)

// Executor implementa ports.Executor y ports.MarketData sobre un Quoter real.
type Executor struct {
	quoter      ports.Quoter
	slippagePct float64

	mu       sync.Mutex
	base     float64
	holdings map[string]float64
}

// NewExecutor crea un executor paper con un saldo inicial en moneda base.
func NewExecutor(q ports.Quoter, startingBase, slippagePct float64) *Executor {
	return &Executor{
		quoter:      q,
		slippagePct: slippagePct,
		base:        startingBase,
		holdings:    make(map[string]float64),
	}
}

func (e *Executor) Authenticate(_ context.Context, chain string) (ports.Session, error) {
	now := time.Now().UTC()
	return ports.Session{Token: "paper-" + uuid.NewString(), Chain: chain, IssuedAt: now}, nil
}

func (e *Executor) Quote(ctx context.Context, token, chain string) (float64, error) {
	return e.quoter.Quote(ctx, token, chain)
}

// Buy compra al precio cotizado empeorado por el slippage.
func (e *Executor) Buy(ctx context.Context, _ ports.Session, token string, amountBase float64, chain string) (ports.ExecResult, error) {
	if amountBase <= 0 {
		return ports.ExecResult{}, fmt.Errorf("paper.Buy: amount %.6f: %w", amountBase, ports.ErrRejected)
	}
	price, err := e.quoter.Quote(ctx, token, chain)
	if err != nil {
		return ports.ExecResult{}, fmt.Errorf("paper.Buy: %w", err)
	}
	fill := price * (1 + e.slippagePct/100)

	e.mu.Lock()
	defer e.mu.Unlock()
	if amountBase > e.base {
		return ports.ExecResult{}, fmt.Errorf("paper.Buy: insufficient balance %.6f < %.6f: %w", e.base, amountBase, ports.ErrRejected)
	}
	tokens := amountBase / fill
	e.base -= amountBase
	e.holdings[token] += tokens
	return ports.ExecResult{TxRef: "paper-" + uuid.NewString(), Amount: tokens}, nil
}

// Sell vende al precio cotizado empeorado por el slippage. Cada agente corre
// en su propio proceso con su propio executor (el trader compra, el risk
// manager vende), así que las tenencias locales no limitan la venta: la
// fuente de verdad de lo que se tiene es el store de posiciones.
func (e *Executor) Sell(ctx context.Context, _ ports.Session, token string, amount float64, chain string) (ports.ExecResult, error) {
	if amount <= 0 {
		return ports.ExecResult{}, fmt.Errorf("paper.Sell: amount %.6f: %w", amount, ports.ErrRejected)
	}
	price, err := e.quoter.Quote(ctx, token, chain)
	if err != nil {
		return ports.ExecResult{}, fmt.Errorf("paper.Sell: %w", err)
	}
	fill := price * (1 - e.slippagePct/100)

	e.mu.Lock()
	defer e.mu.Unlock()
	if held := e.holdings[token]; held > amount {
		e.holdings[token] = held - amount
	} else {
		delete(e.holdings, token)
	}
	e.base += amount * fill
	return ports.ExecResult{TxRef: "paper-" + uuid.NewString(), Amount: amount}, nil
}

// Balance devuelve el saldo virtual. Solo se usa si el scanner corre en paper.
func (e *Executor) Balance(_ context.Context, _ ports.Session, chain string) (domain.BalanceSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := domain.BalanceSnapshot{Chain: chain, Base: e.base, At: time.Now().UTC()}
	for addr, amt := range e.holdings {
		snap.Holdings = append(snap.Holdings, domain.Holding{Address: addr, Amount: amt})
	}
	return snap, nil
}
