// Package exits ejecuta salidas de posiciones. Lo comparten el risk manager
// (swing) y el scalper: ambos disparan desde el feed y desde el poll, así que
// la misma posición puede pedirse dos veces a la vez.
package exits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/ports"
	"github.com/alejandrodnm/snipebot/internal/session"
	"github.com/alejandrodnm/snipebot/internal/telemetry"
)

// Executor vende y registra salidas con verify-then-act.
type Executor struct {
	store    ports.PositionStore
	exchange ports.Executor
	sessions *session.Provider
	metrics  *telemetry.Metrics
	chain    string
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New crea un Executor. now puede ser nil (time.Now).
func New(store ports.PositionStore, ex ports.Executor, sessions *session.Provider, m *telemetry.Metrics, chain string, now func() time.Time) *Executor {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Executor{
		store:    store,
		exchange: ex,
		sessions: sessions,
		metrics:  m,
		chain:    chain,
		now:      now,
		inflight: make(map[string]struct{}),
	}
}

// InFlight indica si hay una salida en curso para la posición.
func (x *Executor) InFlight(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.inflight[id]
	return ok
}

func (x *Executor) begin(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.inflight[id]; ok {
		return false
	}
	x.inflight[id] = struct{}{}
	return true
}

func (x *Executor) end(id string) {
	x.mu.Lock()
	delete(x.inflight, id)
	x.mu.Unlock()
}

// Execute aplica act sobre la posición observada p al precio dado.
// Devuelve true si se vendió. Un Hold, una salida ya en curso o una posición
// que cambió desde que se evaluó (cerrada, o en otro stage) no son errores:
// se ignoran y la siguiente evaluación decidirá de nuevo.
func (x *Executor) Execute(ctx context.Context, p domain.Position, act domain.ExitAction, price float64) (bool, error) {
	if act.Kind == domain.ActionHold {
		return false, nil
	}
	if !x.begin(p.ID) {
		slog.Debug("exit already in flight", "position", p.ID)
		return false, nil
	}
	defer x.end(p.ID)

	fresh, ok, err := x.reload(p)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	amount := fresh.RemainingAmount
	if act.Kind == domain.ActionPartial {
		amount = math.Min(fresh.TotalAmount*act.Fraction, fresh.RemainingAmount)
	}
	if amount <= 0 {
		return false, nil
	}

	res, err := session.Retry(ctx, x.sessions, "sell", func(s ports.Session) (ports.ExecResult, error) {
		return x.exchange.Sell(ctx, s, fresh.TokenAddress, amount, x.chain)
	})
	if err != nil {
		slog.Warn("exit sell failed, position stays open",
			"position", fresh.ID, "symbol", fresh.TokenSymbol, "reason", act.Reason, "err", err)
		return false, fmt.Errorf("exits.Execute %s: %w", fresh.ID, err)
	}
	sold := amount
	if res.Amount > 0 && res.Amount < amount {
		sold = res.Amount
	}
	closing := act.Kind == domain.ActionClose
	if closing && sold < fresh.RemainingAmount-1e-9 {
		// Fill corto: la posición queda abierta con el resto y el siguiente
		// ciclo vuelve a evaluar la salida.
		slog.Warn("short fill on close, position stays open with the rest",
			"position", fresh.ID, "requested", amount, "sold", sold, "left", fresh.RemainingAmount-sold)
		closing = false
	}

	exit := domain.Exit{
		Amount:    sold,
		Price:     price,
		At:        x.now(),
		Reason:    act.Reason,
		TxRef:     res.TxRef,
		NextStage: max(act.NextStage, fresh.Stage),
		Close:     closing,
	}

	var entry domain.TradeLogEntry
	apply := func(checkStage bool) func(*domain.Position) error {
		return func(cur *domain.Position) error {
			if checkStage && cur.Stage != fresh.Stage {
				return fmt.Errorf("stage %d → %d: %w", fresh.Stage, cur.Stage, ports.ErrConflict)
			}
			e := exit
			e.NextStage = max(exit.NextStage, cur.Stage)
			if e.Amount > cur.RemainingAmount {
				e.Amount = cur.RemainingAmount
				e.Close = true
			}
			var err error
			entry, err = cur.ApplyExit(e)
			return err
		}
	}
	updated, err := x.store.UpdatePosition(fresh.Strategy, fresh.ID, apply(true))
	if errors.Is(err, ports.ErrConflict) {
		// Los tokens ya se vendieron: se descuentan del registro actual aunque
		// el stage haya cambiado, para que nadie los vuelva a vender.
		slog.Warn("position stage moved while selling, applying exit to current record",
			"position", fresh.ID, "tx", res.TxRef, "err", err)
		updated, err = x.store.UpdatePosition(fresh.Strategy, fresh.ID, apply(false))
	}
	if err != nil {
		// La venta ya se ejecutó: el trade log tiene que reflejarla aunque el
		// registro de la posición no admita el cambio (cerrada o borrada).
		slog.Warn("position changed while selling, recording exit anyway",
			"position", fresh.ID, "tx", res.TxRef, "err", err)
		tmp := fresh
		entry, err = tmp.ApplyExit(exit)
		if err != nil {
			return true, fmt.Errorf("exits.Execute %s: build trade entry: %w", fresh.ID, err)
		}
	}

	entry.ID = uuid.NewString()
	if err := x.store.AppendTrades(entry); err != nil {
		return true, fmt.Errorf("exits.Execute %s: append trade log: %w", fresh.ID, err)
	}

	x.metrics.Exits.WithLabelValues(string(fresh.Strategy), string(act.Reason)).Inc()
	if entry.RealizedPnL > 0 {
		x.metrics.RealizedPnL.WithLabelValues(string(fresh.Strategy)).Add(entry.RealizedPnL)
	}

	slog.Info("exit executed",
		"position", fresh.ID,
		"symbol", fresh.TokenSymbol,
		"kind", act.Kind.String(),
		"reason", act.Reason,
		"trigger", act.Trigger,
		"stage", fmt.Sprintf("%d→%d", fresh.Stage, updated.Stage),
		"sold", sold,
		"pnl", fmt.Sprintf("%+.4f", entry.RealizedPnL),
		"pct", fmt.Sprintf("%+.1f", entry.RealizedPct),
		"tx", res.TxRef,
	)
	return true, nil
}

// reload relee la posición y verifica que sigue abierta y en el stage evaluado.
func (x *Executor) reload(p domain.Position) (domain.Position, bool, error) {
	all, err := x.store.LoadPositions(p.Strategy)
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("exits.reload: %w", err)
	}
	for _, cur := range all {
		if cur.ID != p.ID {
			continue
		}
		if !cur.IsOpen() {
			slog.Debug("exit skipped: position already closed", "position", p.ID)
			return cur, false, nil
		}
		if cur.Stage != p.Stage {
			slog.Debug("exit skipped: stage moved", "position", p.ID, "evaluated", p.Stage, "current", cur.Stage)
			return cur, false, nil
		}
		return cur, true, nil
	}
	return domain.Position{}, false, fmt.Errorf("exits.reload %s: %w", p.ID, ports.ErrNotFound)
}

// IsStale indica si el error viene de una posición que ya no admite la salida.
func IsStale(err error) bool {
	return errors.Is(err, ports.ErrConflict) || errors.Is(err, domain.ErrPositionClosed) || errors.Is(err, ports.ErrNotFound)
}
