package analytics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alejandrodnm/snipebot/internal/domain"
)

// Signals genera las alertas de texto a partir del snapshot. closed va en
// orden de exit time ascendente.
func Signals(snap domain.AnalyticsSnapshot, closed []domain.ClosedTrade) []string {
	out := []string{}

	if n := len(closed); n >= coldStreakLen {
		streak := true
		for _, ct := range closed[n-coldStreakLen:] {
			if ct.PnL > 0 {
				streak = false
				break
			}
		}
		if streak {
			out = append(out, fmt.Sprintf("cold streak: last %d trades all losses, consider pausing entries", coldStreakLen))
		}
	}

	if snap.Overshoot.Count > 0 && snap.Overshoot.Avg < overshootAlarmPct {
		out = append(out, fmt.Sprintf("stop-loss overshoot avg %.1f%% (worst %.1f%%): exits are late, tighten polling or stops",
			snap.Overshoot.Avg, snap.Overshoot.Worst))
	}

	if snap.Overall.Trades >= payoffMinTrades && snap.PayoffRatio < 1 {
		out = append(out, fmt.Sprintf("payoff ratio %.2f < 1: average loss exceeds average win", snap.PayoffRatio))
	}

	start := len(closed) - windowLong
	if start < 0 {
		start = 0
	}
	rugs := 0
	for _, ct := range closed[start:] {
		if ct.Tag == TagInstantRug {
			rugs++
		}
	}
	if rugs >= instantRugAlarm {
		out = append(out, fmt.Sprintf("%d instant rugs in last %d trades: entry filter is letting rugs through", rugs, len(closed[start:])))
	}

	if len(snap.GhostIDs) > 0 {
		out = append(out, fmt.Sprintf("%d ghost position(s) closed without exit record: %s",
			len(snap.GhostIDs), strings.Join(snap.GhostIDs, ", ")))
	}

	scalp := snap.ByStrategy[string(domain.StrategyScalp)]
	if scalp.Trades >= scalpMinTrades && scalp.NetPnL < 0 {
		swing := snap.ByStrategy[string(domain.StrategySwing)]
		if swing.Trades == 0 || swing.WinRate > scalp.WinRate || swing.NetPnL > scalp.NetPnL {
			out = append(out, fmt.Sprintf("scalp underperforming: %d trades, win %.0f%%, net %+.4f",
				scalp.Trades, scalp.WinRate, scalp.NetPnL))
		}
	}

	bands := make([]string, 0, len(snap.ByScoreBand))
	for k := range snap.ByScoreBand {
		bands = append(bands, k)
	}
	sort.Strings(bands)
	for _, k := range bands {
		b := snap.ByScoreBand[k]
		if k == bandNoScore || b.Trades < bandMinTrades || b.NetPnL >= 0 {
			continue
		}
		out = append(out, fmt.Sprintf("score band %s net negative (%d trades, %+.4f): consider raising the entry threshold",
			k, b.Trades, b.NetPnL))
	}
	return out
}
