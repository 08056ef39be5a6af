package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/snipebot/internal/domain"
)

// Targets son los stops configurados, para medir el overshoot.
type Targets struct {
	Swing domain.SwingRules
	Scalp domain.ScalpRules
}

// Umbrales de las señales.
const (
	coldStreakLen      = 5
	overshootAlarmPct  = -5.0
	payoffMinTrades    = 10
	instantRugAlarm    = 3
	bandMinTrades      = 5
	scalpMinTrades     = 5
	instantRugHold     = 15 * time.Second
	instantRugLossPct  = -50.0
	instantPumpHold    = 30 * time.Second
	slowBleedHold      = 2 * time.Minute
	windowShort        = 10
	windowLong         = 30
	defaultRecentTrade = 20
)

// Tags cualitativos por trade.
const (
	TagInstantRug     = "instant rug"
	TagInstantPump    = "instant pump"
	TagCleanTP        = "clean take-profit"
	TagSlowBleed      = "slow bleed"
	TagCleanStop      = "clean stop"
	TagExpiredGreen   = "expired green"
	TagExpiredRed     = "expired red"
	bandNoScore       = "n/a"
	defaultStrategyID = domain.StrategySwing
)

// Compute recalcula el snapshot completo desde el trade log y los dos stores
// de posiciones. No depende de ningún snapshot anterior.
func Compute(trades []domain.TradeLogEntry, positions []domain.Position, now time.Time, tg Targets, recent int) domain.AnalyticsSnapshot {
	if recent <= 0 {
		recent = defaultRecentTrade
	}
	byID := make(map[string]domain.Position, len(positions))
	snap := domain.AnalyticsSnapshot{
		ComputedAt:  now,
		Overall:     domain.Bucket{Key: "all"},
		ByStrategy:  map[string]domain.Bucket{},
		ByReason:    map[string]domain.Bucket{},
		ByScoreBand: map[string]domain.Bucket{},
		ByHoldBand:  map[string]domain.Bucket{},
		ByHour:      map[string]domain.Bucket{},
		ByTag:       map[string]domain.Bucket{},
		Signals:     []string{},
	}
	for _, p := range positions {
		byID[p.ID] = p
		if p.IsOpen() {
			switch p.Strategy {
			case domain.StrategyScalp:
				snap.OpenScalp++
			default:
				snap.OpenSwing++
			}
		}
	}

	closed := ClosedTrades(trades, byID)
	logged := make(map[string]bool, len(trades))
	for _, e := range trades {
		logged[e.PositionID] = true
	}
	for _, p := range positions {
		if !p.IsOpen() && !logged[p.ID] {
			snap.GhostIDs = append(snap.GhostIDs, p.ID)
		}
	}
	sort.Strings(snap.GhostIDs)

	var overshoots []float64
	var winPct, lossPct []float64
	for i := range closed {
		ct := &closed[i]
		ct.Tag = Tag(*ct)

		snap.Overall.Add(ct.PnL, ct.PnLPct)
		add(snap.ByStrategy, string(ct.Strategy), *ct)
		add(snap.ByReason, string(ct.Reason), *ct)
		add(snap.ByScoreBand, ScoreBand(ct.Score), *ct)
		add(snap.ByHoldBand, HoldBand(ct.Hold), *ct)
		add(snap.ByHour, fmt.Sprintf("%02d", ct.ExitTime.UTC().Hour()), *ct)
		add(snap.ByTag, ct.Tag, *ct)

		if ct.Reason == domain.ExitStopLoss {
			overshoots = append(overshoots, ct.PnLPct-stopTarget(*ct, tg))
		}
		if ct.PnL > 0 {
			winPct = append(winPct, ct.PnLPct)
		} else {
			lossPct = append(lossPct, ct.PnLPct)
		}
	}
	snap.Overall.Finish()
	for _, m := range []map[string]domain.Bucket{snap.ByStrategy, snap.ByReason, snap.ByScoreBand, snap.ByHoldBand, snap.ByHour, snap.ByTag} {
		for k, b := range m {
			b.Finish()
			m[k] = b
		}
	}

	snap.Overshoot = overshootStats(overshoots)
	snap.Last10 = window(closed, windowShort)
	snap.Last30 = window(closed, windowLong)
	snap.AvgWinPct = mean(winPct)
	snap.AvgLossPct = mean(lossPct)
	if n := len(closed); n > 0 {
		pWin := float64(len(winPct)) / float64(n)
		snap.Expectancy = pWin*snap.AvgWinPct + (1-pWin)*snap.AvgLossPct
	}
	if snap.AvgLossPct < 0 {
		snap.PayoffRatio = snap.AvgWinPct / math.Abs(snap.AvgLossPct)
	}

	for i := len(closed) - 1; i >= 0 && len(snap.RecentTrades) < recent; i-- {
		snap.RecentTrades = append(snap.RecentTrades, closed[i])
	}
	snap.Signals = Signals(snap, closed)
	return snap
}

// ClosedTrades agrega las salidas por posición. Solo cuenta posiciones ya
// cerradas; las que no están en ningún store se consideran cerradas cuando
// sus fracciones suman el tamaño completo. Orden: exit time ascendente.
func ClosedTrades(trades []domain.TradeLogEntry, positions map[string]domain.Position) []domain.ClosedTrade {
	groups := make(map[string][]domain.TradeLogEntry)
	var order []string
	for _, e := range trades {
		if _, ok := groups[e.PositionID]; !ok {
			order = append(order, e.PositionID)
		}
		groups[e.PositionID] = append(groups[e.PositionID], e)
	}

	out := make([]domain.ClosedTrade, 0, len(order))
	for _, id := range order {
		entries := groups[id]
		var fraction float64
		ct := domain.ClosedTrade{PositionID: id}
		last := entries[0]
		for _, e := range entries {
			fraction += e.Fraction
			ct.PnL += e.RealizedPnL
			ct.PnLPct += e.Fraction * e.RealizedPct
			if !e.ExitTime.Before(last.ExitTime) {
				last = e
			}
		}

		pos, known := positions[id]
		switch {
		case known && pos.IsOpen():
			continue
		case !known && fraction < 1-1e-6:
			continue
		}

		ct.Strategy = last.Strategy
		if ct.Strategy == "" {
			ct.Strategy = defaultStrategyID
		}
		ct.Symbol = last.TokenSymbol
		ct.EntryTime = last.EntryTime
		ct.ExitTime = last.ExitTime
		ct.Reason = last.Reason
		ct.Stage = last.Stage
		ct.Score = last.Score
		ct.Hold = last.ExitTime.Sub(last.EntryTime)
		if known {
			ct.Score = pos.Score
			ct.Reason = pos.ExitReason
		}
		out = append(out, ct)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ExitTime.Before(out[j].ExitTime) })
	return out
}

// Tag clasifica un trade por duración, motivo y magnitud.
func Tag(ct domain.ClosedTrade) string {
	switch ct.Reason {
	case domain.ExitStopLoss:
		switch {
		case ct.Hold < instantRugHold && ct.PnLPct < instantRugLossPct:
			return TagInstantRug
		case ct.Hold >= slowBleedHold:
			return TagSlowBleed
		default:
			return TagCleanStop
		}
	case domain.ExitTakeProfit:
		if ct.Hold < instantPumpHold {
			return TagInstantPump
		}
		return TagCleanTP
	default:
		if ct.PnL > 0 {
			return TagExpiredGreen
		}
		return TagExpiredRed
	}
}

// ScoreBand agrupa el score de entrada. Los scalps no tienen score.
func ScoreBand(score float64) string {
	switch {
	case score <= 0:
		return bandNoScore
	case score < 60:
		return "<60"
	case score < 70:
		return "60-70"
	case score < 80:
		return "70-80"
	case score < 90:
		return "80-90"
	default:
		return "90+"
	}
}

// HoldBand agrupa la duración del trade.
func HoldBand(d time.Duration) string {
	switch {
	case d < 15*time.Second:
		return "<15s"
	case d < 30*time.Second:
		return "15-30s"
	case d < 2*time.Minute:
		return "30s-2m"
	case d < 10*time.Minute:
		return "2-10m"
	case d < 20*time.Minute:
		return "10-20m"
	default:
		return ">20m"
	}
}

func add(m map[string]domain.Bucket, key string, ct domain.ClosedTrade) {
	b, ok := m[key]
	if !ok {
		b.Key = key
	}
	b.Add(ct.PnL, ct.PnLPct)
	m[key] = b
}

// stopTarget es el stop configurado que aplicaba al cerrar.
func stopTarget(ct domain.ClosedTrade, tg Targets) float64 {
	if ct.Strategy == domain.StrategyScalp {
		return tg.Scalp.StopLossPct
	}
	return tg.Swing.StopLossForStage(ct.Stage)
}

func overshootStats(xs []float64) domain.OvershootStats {
	if len(xs) == 0 {
		return domain.OvershootStats{}
	}
	st := domain.OvershootStats{Count: len(xs), Worst: xs[0]}
	for _, x := range xs {
		st.Worst = math.Min(st.Worst, x)
	}
	st.Avg = mean(xs)
	return st
}

func window(closed []domain.ClosedTrade, size int) domain.Window {
	w := domain.Window{Size: size}
	start := len(closed) - size
	if start < 0 {
		start = 0
	}
	wins := 0
	for _, ct := range closed[start:] {
		w.Trades++
		w.NetPnL += ct.PnL
		if ct.PnL > 0 {
			wins++
		}
	}
	if w.Trades > 0 {
		w.WinRate = float64(wins) / float64(w.Trades) * 100
	}
	return w
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
