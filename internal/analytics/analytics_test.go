package analytics

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/snipebot/internal/adapters/filestore"
	"github.com/alejandrodnm/snipebot/internal/adapters/storage"
	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/telemetry"
)

var t0 = time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)

func targets() Targets {
	return Targets{Swing: domain.DefaultSwingRules(), Scalp: domain.DefaultScalpRules()}
}

// closedTrade construye una posición cerrada y su única salida.
func closedTrade(id string, strategy domain.Strategy, reason domain.ExitReason, pct float64, hold time.Duration, score float64, exitAt time.Time) (domain.Position, domain.TradeLogEntry) {
	entryTime := exitAt.Add(-hold)
	p := domain.Position{
		ID: id, Strategy: strategy, TokenSymbol: "S" + id,
		EntryPrice: 1, EntryTime: entryTime, TotalAmount: 100, AmountSpent: 1,
		Status: domain.PositionClosed, ExitReason: reason, Score: score, ExitTime: &exitAt,
	}
	e := domain.TradeLogEntry{
		ID: "e-" + id, PositionID: id, Strategy: strategy, TokenSymbol: "S" + id,
		EntryPrice: 1, ExitPrice: 1 + pct/100, EntryTime: entryTime, ExitTime: exitAt,
		Reason: reason, Fraction: 1, AmountSold: 100, RealizedPnL: pct / 100, RealizedPct: pct, Score: score,
	}
	return p, e
}

type fixture struct {
	positions []domain.Position
	trades    []domain.TradeLogEntry
}

func (f *fixture) add(p domain.Position, e domain.TradeLogEntry) {
	f.positions = append(f.positions, p)
	f.trades = append(f.trades, e)
}

func TestCompute_BucketsSumToOverall(t *testing.T) {
	var f fixture
	f.add(closedTrade("a", domain.StrategySwing, domain.ExitTakeProfit, 100, 5*time.Minute, 75, t0))
	f.add(closedTrade("b", domain.StrategySwing, domain.ExitStopLoss, -6, 3*time.Minute, 65, t0.Add(time.Minute)))
	f.add(closedTrade("c", domain.StrategyScalp, domain.ExitTimeExpiry, 1, 30*time.Second, 0, t0.Add(2*time.Hour)))
	f.add(closedTrade("d", domain.StrategyScalp, domain.ExitStopLoss, -70, 5*time.Second, 0, t0.Add(3*time.Hour)))

	snap := Compute(f.trades, f.positions, t0.Add(4*time.Hour), targets(), 0)

	assert.Equal(t, 4, snap.Overall.Trades)
	for name, m := range map[string]map[string]domain.Bucket{
		"strategy": snap.ByStrategy, "reason": snap.ByReason, "score": snap.ByScoreBand,
		"hold": snap.ByHoldBand, "hour": snap.ByHour, "tag": snap.ByTag,
	} {
		total := 0
		net := 0.0
		for _, b := range m {
			total += b.Trades
			net += b.NetPnL
		}
		assert.Equal(t, snap.Overall.Trades, total, name)
		assert.InDelta(t, snap.Overall.NetPnL, net, 1e-9, name)
	}
	assert.Equal(t, 2, snap.ByReason["stop-loss"].Trades)
	assert.Equal(t, 2, snap.ByScoreBand[bandNoScore].Trades)
	assert.Equal(t, 2, snap.ByHour["14"].Trades)
	assert.InDelta(t, 50, snap.Overall.WinRate, 1e-9)
}

func TestCompute_PartialExitsAggregateIntoOneTrade(t *testing.T) {
	exit := t0.Add(10 * time.Minute)
	p := domain.Position{ID: "p", Strategy: domain.StrategySwing, EntryTime: t0, Status: domain.PositionClosed,
		ExitReason: domain.ExitStopLoss, Score: 80, ExitTime: &exit}
	trades := []domain.TradeLogEntry{
		{PositionID: "p", Strategy: domain.StrategySwing, EntryTime: t0, ExitTime: t0.Add(time.Minute),
			Reason: domain.ExitTakeProfit, Fraction: 1.0 / 3, RealizedPnL: 0.25, RealizedPct: 25},
		{PositionID: "p", Strategy: domain.StrategySwing, EntryTime: t0, ExitTime: exit, Stage: 1,
			Reason: domain.ExitStopLoss, Fraction: 2.0 / 3, RealizedPnL: -0.01, RealizedPct: -1.5},
	}

	snap := Compute(trades, []domain.Position{p}, exit, targets(), 0)

	require.Equal(t, 1, snap.Overall.Trades)
	ct := snap.RecentTrades[0]
	assert.Equal(t, domain.ExitStopLoss, ct.Reason)
	assert.Equal(t, 1, ct.Stage)
	assert.InDelta(t, 0.24, ct.PnL, 1e-9)
	assert.InDelta(t, 25.0/3-1.0, ct.PnLPct, 1e-9)
	assert.Equal(t, 10*time.Minute, ct.Hold)
	// Stage 1: el objetivo del stop es breakeven.
	assert.InDelta(t, ct.PnLPct, snap.Overshoot.Avg, 1e-9)
}

func TestCompute_OpenPositionsAreNotTrades(t *testing.T) {
	p := domain.Position{ID: "open", Strategy: domain.StrategySwing, Status: domain.PositionOpen, EntryTime: t0}
	trades := []domain.TradeLogEntry{{PositionID: "open", Fraction: 1.0 / 3, RealizedPnL: 0.1, RealizedPct: 25, ExitTime: t0}}

	snap := Compute(trades, []domain.Position{p}, t0, targets(), 0)
	assert.Zero(t, snap.Overall.Trades)
	assert.Equal(t, 1, snap.OpenSwing)
}

func TestTag(t *testing.T) {
	tests := []struct {
		reason domain.ExitReason
		hold   time.Duration
		pct    float64
		want   string
	}{
		{domain.ExitStopLoss, 10 * time.Second, -60, TagInstantRug},
		{domain.ExitStopLoss, 10 * time.Second, -4, TagCleanStop},
		{domain.ExitStopLoss, 3 * time.Minute, -6, TagSlowBleed},
		{domain.ExitTakeProfit, 20 * time.Second, 10, TagInstantPump},
		{domain.ExitTakeProfit, 5 * time.Minute, 100, TagCleanTP},
		{domain.ExitTimeExpiry, 20 * time.Minute, 3, TagExpiredGreen},
		{domain.ExitTimeExpiry, 20 * time.Minute, -3, TagExpiredRed},
	}
	for _, tt := range tests {
		ct := domain.ClosedTrade{Reason: tt.reason, Hold: tt.hold, PnLPct: tt.pct, PnL: tt.pct / 100}
		assert.Equal(t, tt.want, Tag(ct), "%s %s %.0f", tt.reason, tt.hold, tt.pct)
	}
}

func TestCompute_GhostPositionSignal(t *testing.T) {
	exit := t0
	ghost := domain.Position{ID: "ghost", Strategy: domain.StrategySwing, Status: domain.PositionClosed, ExitTime: &exit}

	snap := Compute(nil, []domain.Position{ghost}, t0, targets(), 0)

	assert.Equal(t, []string{"ghost"}, snap.GhostIDs)
	require.NotEmpty(t, snap.Signals)
	assert.Contains(t, strings.Join(snap.Signals, "\n"), "ghost")
	assert.Zero(t, snap.Overall.Trades, "ghosts are flagged, never counted")
}

func TestCompute_Signals(t *testing.T) {
	var f fixture
	// 5 rugs scalp seguidos: racha fría, rugs repetidos, overshoot, scalp en pérdidas.
	for i := 0; i < 5; i++ {
		f.add(closedTrade(fmt.Sprintf("r%d", i), domain.StrategyScalp, domain.ExitStopLoss, -80, 5*time.Second, 0, t0.Add(time.Duration(i)*time.Minute)))
	}
	// Banda 60-70 con 5 trades netos negativos (ganan poco, pierden mucho).
	for i := 0; i < 5; i++ {
		pct := -10.0
		if i%2 == 0 {
			pct = 2
		}
		f.add(closedTrade(fmt.Sprintf("s%d", i), domain.StrategySwing, domain.ExitTimeExpiry, pct, 20*time.Minute, 65, t0.Add(-time.Duration(i+1)*time.Hour)))
	}

	snap := Compute(f.trades, f.positions, t0.Add(time.Hour), targets(), 0)
	all := strings.Join(snap.Signals, "\n")

	assert.Contains(t, all, "cold streak")
	assert.Contains(t, all, "instant rugs")
	assert.Contains(t, all, "overshoot")
	assert.Contains(t, all, "payoff ratio")
	assert.Contains(t, all, "scalp underperforming")
	assert.Contains(t, all, "score band 60-70")
	assert.Equal(t, 5, snap.ByTag[TagInstantRug].Trades)
	assert.InDelta(t, -77, snap.Overshoot.Avg, 1e-9)
}

func TestCompute_ExpectancyAndPayoff(t *testing.T) {
	var f fixture
	f.add(closedTrade("w1", domain.StrategySwing, domain.ExitTakeProfit, 30, time.Minute, 70, t0))
	f.add(closedTrade("w2", domain.StrategySwing, domain.ExitTakeProfit, 10, time.Minute, 70, t0.Add(time.Minute)))
	f.add(closedTrade("l1", domain.StrategySwing, domain.ExitStopLoss, -10, time.Minute, 70, t0.Add(2*time.Minute)))

	snap := Compute(f.trades, f.positions, t0, targets(), 2)

	assert.InDelta(t, 20, snap.AvgWinPct, 1e-9)
	assert.InDelta(t, -10, snap.AvgLossPct, 1e-9)
	assert.InDelta(t, 2, snap.PayoffRatio, 1e-9)
	assert.InDelta(t, 2.0/3*20-1.0/3*10, snap.Expectancy, 1e-9)
	require.Len(t, snap.RecentTrades, 2)
	assert.Equal(t, "l1", snap.RecentTrades[0].PositionID, "newest first")
	assert.Equal(t, 3, snap.Last10.Trades)
}

func TestReport_ContainsSections(t *testing.T) {
	var f fixture
	f.add(closedTrade("a", domain.StrategySwing, domain.ExitTakeProfit, 50, 5*time.Minute, 85, t0))
	snap := Compute(f.trades, f.positions, t0, targets(), 0)

	md := Report(snap, nil)
	assert.Contains(t, md, "# Trading report")
	assert.Contains(t, md, "## By exit reason")
	assert.Contains(t, md, "take-profit")
	assert.Contains(t, md, "80-90")
	assert.Contains(t, md, "## Recent trades")
}

func TestAgent_TickWritesSnapshotReportAndArchive(t *testing.T) {
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	archive, err := storage.NewSQLiteArchive(":memory:")
	require.NoError(t, err)
	defer archive.Close()

	p, e := closedTrade("a", domain.StrategySwing, domain.ExitTakeProfit, 50, 5*time.Minute, 85, t0)
	p.Status = domain.PositionOpen
	p.ExitTime = nil
	require.NoError(t, store.InsertPosition(p))
	_, err = store.UpdatePosition(domain.StrategySwing, "a", func(cur *domain.Position) error {
		at := t0
		cur.Status = domain.PositionClosed
		cur.ExitReason = domain.ExitTakeProfit
		cur.ExitTime = &at
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, store.AppendTrades(e))

	a := New(store, archive, targets(), time.Second, 10, telemetry.New())
	a.now = func() time.Time { return t0 }
	require.NoError(t, a.Tick(context.Background()))
	require.NoError(t, a.Tick(context.Background()))

	snap, err := store.LoadAnalytics()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Overall.Trades)

	cycles, err := archive.CycleCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cycles)

	hist, err := archive.History(context.Background(), t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, hist, 1, "trades are archived once")

	report, err := os.ReadFile(store.Path("report.md"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "## Archive")
	assert.Contains(t, string(report), "cycles archived: 2")
	assert.Contains(t, string(report), "lifetime: 1 trades (win 100%)")
}

func TestSummarize_DayAndLifetime(t *testing.T) {
	_, old := closedTrade("old", domain.StrategySwing, domain.ExitStopLoss, -5, time.Minute, 70, t0.Add(-48*time.Hour))
	_, recent := closedTrade("new", domain.StrategyScalp, domain.ExitTakeProfit, 10, time.Minute, 70, t0.Add(-time.Hour))
	partial := recent
	partial.PositionID, partial.ID, partial.Fraction = "open", "e-open", 0.25

	h := Summarize([]domain.TradeLogEntry{old, recent, partial}, 3, t0)
	assert.Equal(t, 3, h.Cycles)
	assert.Equal(t, 2, h.Lifetime.Trades, "partial exits of an unfinished position are not trades")
	assert.Equal(t, 1, h.Day.Trades)
	assert.InDelta(t, 0.05, h.Lifetime.NetPnL, 1e-9)
	assert.InDelta(t, 100, h.Day.WinRate, 1e-9)
}
