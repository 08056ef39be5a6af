package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/snipebot/internal/adapters/filestore"
	"github.com/alejandrodnm/snipebot/internal/adapters/paper"
	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/ports"
	"github.com/alejandrodnm/snipebot/internal/session"
	"github.com/alejandrodnm/snipebot/internal/telemetry"
)

// --- mocks ---

type mockExchange struct {
	mu       sync.Mutex
	price    float64
	sells    []float64
	failAll  bool
	sessions int
}

func (m *mockExchange) Authenticate(context.Context, string) (ports.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions++
	return ports.Session{Token: "s"}, nil
}

func (m *mockExchange) Quote(context.Context, string, string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.price, nil
}

func (m *mockExchange) Buy(context.Context, ports.Session, string, float64, string) (ports.ExecResult, error) {
	return ports.ExecResult{}, errors.New("not used")
}

func (m *mockExchange) Sell(_ context.Context, _ ports.Session, _ string, amount float64, _ string) (ports.ExecResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sells = append(m.sells, amount)
	if m.failAll {
		return ports.ExecResult{}, errors.New("rpc timeout")
	}
	return ports.ExecResult{TxRef: "tx", Amount: amount}, nil
}

func (m *mockExchange) set(price float64) {
	m.mu.Lock()
	m.price = price
	m.mu.Unlock()
}

// --- helpers ---

var entry = time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)

func setup(t *testing.T, ex *mockExchange) (*Manager, *filestore.Store, *time.Time) {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.InsertPosition(domain.Position{
		ID: "p1", Strategy: domain.StrategySwing, TokenAddress: "tok", TokenSymbol: "TOK",
		EntryPrice: 1, CurrentPrice: 1, EntryTime: entry,
		TotalAmount: 300, RemainingAmount: 300, AmountSpent: 300, Status: domain.PositionOpen,
	}))

	clock := entry
	m := New(DefaultConfig(), store, ex, nil, session.NewProvider(ex, "solana"), telemetry.New())
	m.now = func() time.Time { return clock }
	return m, store, &clock
}

func load(t *testing.T, store *filestore.Store) domain.Position {
	t.Helper()
	all, err := store.LoadPositions(domain.StrategySwing)
	require.NoError(t, err)
	require.Len(t, all, 1)
	return all[0]
}

func tickAt(t *testing.T, m *Manager, ex *mockExchange, clock *time.Time, after time.Duration, price float64) {
	t.Helper()
	*clock = entry.Add(after)
	ex.set(price)
	require.NoError(t, m.Tick(context.Background()))
}

// --- tests ---

func TestManager_Stage1ThenBreakevenDoesNotStopAt099(t *testing.T) {
	ex := &mockExchange{}
	m, store, clock := setup(t, ex)

	tickAt(t, m, ex, clock, time.Minute, 1.25)
	p := load(t, store)
	assert.Equal(t, 1, p.Stage)
	assert.InDelta(t, 200, p.RemainingAmount, 1e-9)
	assert.InDelta(t, 0, DefaultConfig().Rules.StopLossForStage(p.Stage), 1e-12)

	tickAt(t, m, ex, clock, 2*time.Minute, 0.99)
	p = load(t, store)
	assert.True(t, p.IsOpen())
	assert.Equal(t, 1, p.Stage)
	assert.Len(t, ex.sells, 1)
}

func TestManager_FullLadder(t *testing.T) {
	ex := &mockExchange{}
	m, store, clock := setup(t, ex)

	tickAt(t, m, ex, clock, time.Minute, 1.25)
	tickAt(t, m, ex, clock, 2*time.Minute, 1.5)
	p := load(t, store)
	assert.Equal(t, 2, p.Stage)
	assert.InDelta(t, 100, p.RemainingAmount, 1e-9)

	tickAt(t, m, ex, clock, 3*time.Minute, 2.0)
	p = load(t, store)
	assert.False(t, p.IsOpen())
	assert.Equal(t, domain.ExitTakeProfit, p.ExitReason)
	assert.InDelta(t, 0, p.RemainingAmount, 1e-9)

	trades, err := store.LoadTrades()
	require.NoError(t, err)
	require.Len(t, trades, 3)
	var fractions, pnl float64
	for _, tr := range trades {
		fractions += tr.Fraction
		pnl += tr.RealizedPnL
	}
	assert.InDelta(t, 1, fractions, 1e-9)
	assert.InDelta(t, 25+50+100, pnl, 1e-6)

	// Cerrada: ticks posteriores no hacen nada.
	tickAt(t, m, ex, clock, 4*time.Minute, 0.1)
	assert.Len(t, ex.sells, 3)
}

func TestManager_StageZeroStopLoss(t *testing.T) {
	ex := &mockExchange{}
	m, store, clock := setup(t, ex)

	tickAt(t, m, ex, clock, time.Minute, 0.95)
	p := load(t, store)
	assert.Equal(t, domain.ExitStopLoss, p.ExitReason)
	assert.InDelta(t, 0.95, p.ExitPrice, 1e-9)
}

func TestManager_TimeExpiryRegardlessOfPnL(t *testing.T) {
	ex := &mockExchange{}
	m, store, clock := setup(t, ex)

	tickAt(t, m, ex, clock, 21*time.Minute, 1.2)
	p := load(t, store)
	assert.False(t, p.IsOpen())
	assert.Equal(t, domain.ExitTimeExpiry, p.ExitReason)
}

// En paper cada proceso tiene su executor: el que vende no es el que compró.
func TestManager_PaperExitFromSeparateExecutor(t *testing.T) {
	quotes := &mockExchange{price: 1}
	buyer := paper.NewExecutor(quotes, 10, 1)
	seller := paper.NewExecutor(quotes, 10, 1)

	res, err := buyer.Buy(context.Background(), ports.Session{}, "tok", 0.1, "solana")
	require.NoError(t, err)

	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.InsertPosition(domain.Position{
		ID: "p1", Strategy: domain.StrategySwing, TokenAddress: "tok", TokenSymbol: "TOK",
		EntryPrice: 1, CurrentPrice: 1, EntryTime: entry,
		TotalAmount: res.Amount, RemainingAmount: res.Amount, AmountSpent: 0.1, Status: domain.PositionOpen,
	}))

	m := New(DefaultConfig(), store, seller, nil, session.NewProvider(seller, "solana"), telemetry.New())
	m.now = func() time.Time { return entry.Add(21 * time.Minute) }
	require.NoError(t, m.Tick(context.Background()))

	p := load(t, store)
	assert.False(t, p.IsOpen())
	assert.Equal(t, domain.ExitTimeExpiry, p.ExitReason)
	assert.InDelta(t, 0, p.RemainingAmount, 1e-12)
}

func TestManager_SellFailureRetriesOnceAndLeavesOpen(t *testing.T) {
	ex := &mockExchange{failAll: true}
	m, store, clock := setup(t, ex)

	*clock = entry.Add(time.Minute)
	ex.set(0.9)
	assert.Error(t, m.Tick(context.Background()))

	assert.Len(t, ex.sells, 2, "one retry after refresh")
	assert.Equal(t, 2, ex.sessions)
	assert.True(t, load(t, store).IsOpen())

	trades, err := store.LoadTrades()
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestManager_FeedEventTriggersExit(t *testing.T) {
	ex := &mockExchange{}
	m, store, clock := setup(t, ex)
	*clock = entry.Add(time.Minute)

	m.HandleEvent(context.Background(), domain.FeedEvent{Type: domain.FeedPriceUpdate, Address: "other", Price: 5})
	assert.Empty(t, ex.sells)

	m.HandleEvent(context.Background(), domain.FeedEvent{Type: domain.FeedPriceUpdate, Address: "tok", Price: 1.3})
	assert.Equal(t, 1, load(t, store).Stage)
}
