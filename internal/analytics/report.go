package analytics

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"

	"github.com/alejandrodnm/snipebot/internal/domain"
)

// Report genera el informe legible (markdown) derivado del snapshot y, si hay
// archivo, del histórico.
func Report(snap domain.AnalyticsSnapshot, hist *History) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Trading report\n\n_computed %s_\n\n", snap.ComputedAt.UTC().Format(time.RFC3339))

	o := snap.Overall
	fmt.Fprintf(&buf, "- trades: %d (win %.1f%%)\n", o.Trades, o.WinRate)
	fmt.Fprintf(&buf, "- net P&L: %+.6f\n", o.NetPnL)
	fmt.Fprintf(&buf, "- expectancy: %+.2f%% per trade\n", snap.Expectancy)
	fmt.Fprintf(&buf, "- payoff ratio: %.2f (avg win %+.2f%% / avg loss %+.2f%%)\n", snap.PayoffRatio, snap.AvgWinPct, snap.AvgLossPct)
	fmt.Fprintf(&buf, "- last 10: win %.0f%%, net %+.6f\n", snap.Last10.WinRate, snap.Last10.NetPnL)
	fmt.Fprintf(&buf, "- last 30: win %.0f%%, net %+.6f\n", snap.Last30.WinRate, snap.Last30.NetPnL)
	fmt.Fprintf(&buf, "- open: %d swing, %d scalp\n", snap.OpenSwing, snap.OpenScalp)
	if snap.Overshoot.Count > 0 {
		fmt.Fprintf(&buf, "- stop overshoot: avg %+.2f%%, worst %+.2f%% over %d stops\n",
			snap.Overshoot.Avg, snap.Overshoot.Worst, snap.Overshoot.Count)
	}

	buf.WriteString("\n## Signals\n\n")
	if len(snap.Signals) == 0 {
		buf.WriteString("none\n")
	}
	for _, s := range snap.Signals {
		fmt.Fprintf(&buf, "- %s\n", s)
	}

	if hist != nil {
		fmt.Fprintf(&buf, "\n## Archive\n\n- cycles archived: %d\n", hist.Cycles)
		for _, b := range []domain.Bucket{hist.Day, hist.Lifetime} {
			fmt.Fprintf(&buf, "- %s: %d trades (win %.0f%%), net %+.6f, avg %+.1f%%\n",
				b.Key, b.Trades, b.WinRate, b.NetPnL, b.AvgPnLPct)
		}
	}

	bucketTable(&buf, "By strategy", snap.ByStrategy)
	bucketTable(&buf, "By exit reason", snap.ByReason)
	bucketTable(&buf, "By score band", snap.ByScoreBand)
	bucketTable(&buf, "By hold time", snap.ByHoldBand)
	bucketTable(&buf, "By hour (UTC)", snap.ByHour)
	bucketTable(&buf, "By tag", snap.ByTag)

	if len(snap.RecentTrades) > 0 {
		buf.WriteString("\n## Recent trades\n\n")
		tbl := tablewriter.NewTable(&buf, tablewriter.WithRenderer(renderer.NewMarkdown()))
		tbl.Header("Exit", "Strategy", "Symbol", "Reason", "Tag", "Hold", "PnL", "PnL%")
		for _, ct := range snap.RecentTrades {
			tbl.Append(ct.ExitTime.UTC().Format("01-02 15:04:05"), string(ct.Strategy), ct.Symbol, string(ct.Reason),
				ct.Tag, ct.Hold.Round(time.Second).String(), fmt.Sprintf("%+.6f", ct.PnL), fmt.Sprintf("%+.1f", ct.PnLPct))
		}
		tbl.Render()
	}
	return buf.String()
}

func bucketTable(buf *bytes.Buffer, title string, m map[string]domain.Bucket) {
	if len(m) == 0 {
		return
	}
	fmt.Fprintf(buf, "\n## %s\n\n", title)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tbl := tablewriter.NewTable(buf, tablewriter.WithRenderer(renderer.NewMarkdown()))
	tbl.Header("Bucket", "Trades", "Win%", "Net", "Avg%")
	for _, k := range keys {
		b := m[k]
		tbl.Append(k, fmt.Sprintf("%d", b.Trades), fmt.Sprintf("%.0f", b.WinRate),
			fmt.Sprintf("%+.6f", b.NetPnL), fmt.Sprintf("%+.1f", b.AvgPnLPct))
	}
	tbl.Render()
}
