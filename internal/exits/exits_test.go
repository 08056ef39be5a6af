package exits_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/snipebot/internal/adapters/filestore"
	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/exits"
	"github.com/alejandrodnm/snipebot/internal/ports"
	"github.com/alejandrodnm/snipebot/internal/session"
	"github.com/alejandrodnm/snipebot/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExchange cuenta ventas; failFirst hace fallar las N primeras.
type fakeExchange struct {
	sells     atomic.Int32
	failFirst int32
	gate      chan struct{}
	fill      float64 // fracción rellenada; 0 = completa
	during    func()  // corre mientras la venta está en vuelo
}

func (f *fakeExchange) Authenticate(context.Context, string) (ports.Session, error) {
	return ports.Session{Token: "s"}, nil
}
func (f *fakeExchange) Quote(context.Context, string, string) (float64, error) { return 1, nil }
func (f *fakeExchange) Buy(context.Context, ports.Session, string, float64, string) (ports.ExecResult, error) {
	return ports.ExecResult{}, errors.New("not used")
}
func (f *fakeExchange) Sell(_ context.Context, _ ports.Session, _ string, amount float64, _ string) (ports.ExecResult, error) {
	n := f.sells.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if n <= f.failFirst {
		return ports.ExecResult{}, errors.New("timeout")
	}
	if f.during != nil {
		f.during()
	}
	if f.fill > 0 {
		amount *= f.fill
	}
	return ports.ExecResult{TxRef: "tx-sell", Amount: amount}, nil
}

var entryTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, ex *fakeExchange) (*exits.Executor, *filestore.Store, domain.Position) {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	p := domain.Position{
		ID: "p1", Strategy: domain.StrategySwing, TokenAddress: "tok", TokenSymbol: "TOK",
		EntryPrice: 1, CurrentPrice: 1, EntryTime: entryTime,
		TotalAmount: 300, RemainingAmount: 300, AmountSpent: 300, Status: domain.PositionOpen,
	}
	require.NoError(t, store.InsertPosition(p))

	sess := session.NewProvider(ex, "solana")
	x := exits.New(store, ex, sess, telemetry.New(), "solana", func() time.Time { return entryTime.Add(time.Minute) })
	return x, store, p
}

func stage1() domain.ExitAction {
	return domain.ExitAction{Kind: domain.ActionPartial, Reason: domain.ExitTakeProfit, Fraction: 1.0 / 3, NextStage: 1}
}

func TestExecute_PartialExitAdvancesStageAndLogs(t *testing.T) {
	x, store, p := setup(t, &fakeExchange{})

	sold, err := x.Execute(context.Background(), p, stage1(), 1.25)
	require.NoError(t, err)
	assert.True(t, sold)

	all, err := store.LoadPositions(domain.StrategySwing)
	require.NoError(t, err)
	got := all[0]
	assert.Equal(t, 1, got.Stage)
	assert.InDelta(t, 200, got.RemainingAmount, 1e-9)
	assert.True(t, got.IsOpen())

	trades, err := store.LoadTrades()
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.NotEmpty(t, trades[0].ID)
	assert.InDelta(t, 1.0/3, trades[0].Fraction, 1e-9)
	assert.InDelta(t, 25, trades[0].RealizedPnL, 1e-9)
	assert.Equal(t, "tx-sell", trades[0].ExitTx)
}

func TestExecute_CloseSellsRemaining(t *testing.T) {
	x, store, p := setup(t, &fakeExchange{})

	act := domain.ExitAction{Kind: domain.ActionClose, Reason: domain.ExitStopLoss}
	sold, err := x.Execute(context.Background(), p, act, 0.95)
	require.NoError(t, err)
	assert.True(t, sold)

	all, _ := store.LoadPositions(domain.StrategySwing)
	assert.False(t, all[0].IsOpen())
	assert.Equal(t, domain.ExitStopLoss, all[0].ExitReason)
	assert.Zero(t, all[0].RemainingAmount)

	// Una segunda evaluación sobre la posición ya cerrada no vende.
	sold, err = x.Execute(context.Background(), p, act, 0.95)
	require.NoError(t, err)
	assert.False(t, sold)
}

func TestExecute_StaleStageIsSkipped(t *testing.T) {
	ex := &fakeExchange{}
	x, _, p := setup(t, ex)

	_, err := x.Execute(context.Background(), p, stage1(), 1.25)
	require.NoError(t, err)

	// p sigue en stage 0: la acción evaluada ya no aplica.
	sold, err := x.Execute(context.Background(), p, stage1(), 1.26)
	require.NoError(t, err)
	assert.False(t, sold)
	assert.Equal(t, int32(1), ex.sells.Load())
}

func TestExecute_InFlightGuardPreventsDoubleSell(t *testing.T) {
	ex := &fakeExchange{gate: make(chan struct{})}
	x, store, p := setup(t, ex)
	act := domain.ExitAction{Kind: domain.ActionClose, Reason: domain.ExitTakeProfit}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := x.Execute(context.Background(), p, act, 2)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return x.InFlight(p.ID) && ex.sells.Load() == 1 }, time.Second, time.Millisecond)

	sold, err := x.Execute(context.Background(), p, act, 2)
	require.NoError(t, err)
	assert.False(t, sold)

	close(ex.gate)
	wg.Wait()

	assert.Equal(t, int32(1), ex.sells.Load())
	trades, _ := store.LoadTrades()
	assert.Len(t, trades, 1)
}

func TestExecute_RetriesOnceAfterSessionRefresh(t *testing.T) {
	ex := &fakeExchange{failFirst: 1}
	x, _, p := setup(t, ex)

	sold, err := x.Execute(context.Background(), p, stage1(), 1.25)
	require.NoError(t, err)
	assert.True(t, sold)
	assert.Equal(t, int32(2), ex.sells.Load())
}

func TestExecute_SellFailureLeavesPositionOpen(t *testing.T) {
	ex := &fakeExchange{failFirst: 2}
	x, store, p := setup(t, ex)

	sold, err := x.Execute(context.Background(), p, stage1(), 1.25)
	assert.Error(t, err)
	assert.False(t, sold)

	all, _ := store.LoadPositions(domain.StrategySwing)
	assert.True(t, all[0].IsOpen())
	assert.Equal(t, 0, all[0].Stage)
	trades, _ := store.LoadTrades()
	assert.Empty(t, trades)
	assert.False(t, x.InFlight(p.ID))
}

func TestExecute_HoldIsNoop(t *testing.T) {
	ex := &fakeExchange{}
	x, _, p := setup(t, ex)

	sold, err := x.Execute(context.Background(), p, domain.ExitAction{Kind: domain.ActionHold}, 1)
	require.NoError(t, err)
	assert.False(t, sold)
	assert.Zero(t, ex.sells.Load())
}

func TestExecute_ShortFillOnCloseKeepsRestOpen(t *testing.T) {
	ex := &fakeExchange{fill: 0.5}
	x, store, p := setup(t, ex)
	act := domain.ExitAction{Kind: domain.ActionClose, Reason: domain.ExitStopLoss}

	sold, err := x.Execute(context.Background(), p, act, 0.95)
	require.NoError(t, err)
	assert.True(t, sold)

	all, _ := store.LoadPositions(domain.StrategySwing)
	require.True(t, all[0].IsOpen())
	assert.InDelta(t, 150, all[0].RemainingAmount, 1e-9)

	ex.fill = 0
	sold, err = x.Execute(context.Background(), all[0], act, 0.95)
	require.NoError(t, err)
	assert.True(t, sold)

	all, _ = store.LoadPositions(domain.StrategySwing)
	assert.False(t, all[0].IsOpen())
	assert.Zero(t, all[0].RemainingAmount)
	trades, _ := store.LoadTrades()
	require.Len(t, trades, 2)
	assert.InDelta(t, 1, trades[0].Fraction+trades[1].Fraction, 1e-9)
}

func TestExecute_StageMovedDuringSellStillDeductsTokens(t *testing.T) {
	ex := &fakeExchange{}
	x, store, p := setup(t, ex)

	// Otro proceso aplica el stage 1 mientras nuestra venta está en vuelo.
	ex.during = func() {
		_, err := store.UpdatePosition(domain.StrategySwing, p.ID, func(cur *domain.Position) error {
			_, err := cur.ApplyExit(domain.Exit{Amount: 100, Price: 1.25, At: entryTime, Reason: domain.ExitTakeProfit, NextStage: 1})
			return err
		})
		require.NoError(t, err)
	}

	sold, err := x.Execute(context.Background(), p, stage1(), 1.25)
	require.NoError(t, err)
	assert.True(t, sold)

	all, _ := store.LoadPositions(domain.StrategySwing)
	assert.Equal(t, 1, all[0].Stage)
	assert.InDelta(t, 100, all[0].RemainingAmount, 1e-9, "the tokens we sold are no longer on the record")
}
