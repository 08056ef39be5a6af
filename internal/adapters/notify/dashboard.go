package notify

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/ports"
)

const (
	clearScreen = "\033[?25l\033[H\033[2J"
	restoreTerm = "\033[0m\033[?25h\n"
	minWidth    = 60
	minHeight   = 20
)

// Dashboard implementa ports.Renderer con tablas de tablewriter.
type Dashboard struct {
	out   io.Writer
	clear bool
	now   func() time.Time
}

// NewDashboard crea un dashboard que pinta en stdout limpiando la pantalla.
func NewDashboard() *Dashboard {
	return &Dashboard{out: os.Stdout, clear: true, now: time.Now}
}

// NewDashboardWriter crea un dashboard para tests: sin limpiar pantalla.
func NewDashboardWriter(w io.Writer, now func() time.Time) *Dashboard {
	return &Dashboard{out: w, now: now}
}

// Restore deja el terminal como estaba (cursor visible, atributos por defecto).
func (d *Dashboard) Restore() error {
	if !d.clear {
		return nil
	}
	_, err := io.WriteString(d.out, restoreTerm)
	return err
}

// layout reparte la altura disponible entre las secciones.
type layout struct {
	tableRows int
	logLines  int
	compact   bool
}

func layoutFor(width, height int) layout {
	if height < minHeight {
		height = minHeight
	}
	l := layout{compact: width < 100}
	// ~26 líneas fijas de cabeceras y bordes entre las 6 tablas.
	free := height - 26
	l.tableRows = clamp(free/6, 2, 10)
	l.logLines = clamp(free-l.tableRows*5, 3, 15)
	return l
}

// Render pinta el estado completo. Se construye en un buffer y se escribe de
// una vez para evitar parpadeo.
func (d *Dashboard) Render(s ports.DashboardState, width, height int) error {
	if width < minWidth {
		width = minWidth
	}
	l := layoutFor(width, height)
	now := d.now()

	var buf bytes.Buffer
	if d.clear {
		buf.WriteString(clearScreen)
	}

	d.header(&buf, s, now)
	d.watchlist(&buf, s.Watchlist, l, width, now)
	d.scores(&buf, s.Scores, l, width)
	d.swing(&buf, s.Swing, l, width, now)
	d.scalp(&buf, s.Scalp, l, width, now)
	d.trades(&buf, s.Trades, l, width)
	d.analytics(&buf, s.Analytics, width)
	d.logs(&buf, s.Logs, l, width)

	_, err := d.out.Write(buf.Bytes())
	return err
}

func (d *Dashboard) header(w io.Writer, s ports.DashboardState, now time.Time) {
	fmt.Fprintf(w, "[%s] SNIPEBOT", now.Format("15:04:05"))
	if s.Balance != nil {
		fmt.Fprintf(w, "  balance: %.4f %s ($%.2f)  holdings: %d",
			s.Balance.Base, s.Balance.Chain, s.Balance.BaseUSD, len(s.Balance.Holdings))
	} else {
		fmt.Fprint(w, "  balance: n/a")
	}
	fmt.Fprintln(w)

	if len(s.Agents) > 0 {
		parts := make([]string, 0, len(s.Agents))
		for _, a := range s.Agents {
			state := "up"
			if !a.Running {
				state = "down"
			}
			p := fmt.Sprintf("%s:%s", a.Name, state)
			if a.Restarts > 0 {
				p += fmt.Sprintf("(r%d)", a.Restarts)
			}
			if h := a.Health; h != nil {
				var conn []string
				if h.Feed != "" {
					conn = append(conn, fmt.Sprintf("feed:%s/%d", h.Feed, h.Reconnects))
				}
				if h.Breaker != "" {
					conn = append(conn, "api:"+h.Breaker)
				}
				if len(conn) > 0 {
					p += "[" + strings.Join(conn, " ") + "]"
				}
			}
			parts = append(parts, p)
		}
		fmt.Fprintf(w, "agents: %s\n", strings.Join(parts, "  "))
	}
}

func (d *Dashboard) watchlist(w io.Writer, tokens []domain.WatchedToken, l layout, width int, now time.Time) {
	fmt.Fprintf(w, "\n WATCHLIST (%d)\n", len(tokens))
	if len(tokens) == 0 {
		fmt.Fprintln(w, "  (empty)")
		return
	}
	tbl := tablewriter.NewWriter(w)
	if l.compact {
		tbl.Header("Symbol", "Price", "MCap", "Tx", "Age")
	} else {
		tbl.Header("Symbol", "Name", "Price", "MCap", "Tx", "Curve%", "Age")
	}
	for _, t := range head(tokens, l.tableRows) {
		age := now.Sub(t.ListedAt()).Truncate(time.Second).String()
		if l.compact {
			tbl.Append(t.Symbol, fmtPrice(t.Price), fmtUSD(t.MarketCap), fmt.Sprintf("%d", t.TxCount), age)
			continue
		}
		tbl.Append(t.Symbol, truncate(t.Name, width/6), fmtPrice(t.Price), fmtUSD(t.MarketCap),
			fmt.Sprintf("%d", t.TxCount), fmt.Sprintf("%.1f", t.BondingCurve), age)
	}
	tbl.Render()
}

func (d *Dashboard) scores(w io.Writer, scores []domain.TokenScore, l layout, width int) {
	fmt.Fprintf(w, "\n SCORES (%d)\n", len(scores))
	if len(scores) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	tbl := tablewriter.NewWriter(w)
	if l.compact {
		tbl.Header("Symbol", "Score", "Grad")
	} else {
		tbl.Header("Symbol", "Score", "Curve", "Tx", "MCap", "Mom", "Sec", "Grad", "Reasoning")
	}
	for _, s := range head(scores, l.tableRows) {
		grad := ""
		if s.GraduationCandidate {
			grad = "*"
		}
		if l.compact {
			tbl.Append(s.Symbol, fmt.Sprintf("%.0f", s.Score), grad)
			continue
		}
		b := s.Breakdown
		tbl.Append(s.Symbol, fmt.Sprintf("%.0f", s.Score),
			fmt.Sprintf("%.0f", b.BondingCurve), fmt.Sprintf("%.0f", b.Activity),
			fmt.Sprintf("%.0f", b.MarketCap), fmt.Sprintf("%.0f", b.Momentum),
			fmt.Sprintf("%.0f", b.Security), grad, truncate(s.Reasoning, width/3))
	}
	tbl.Render()
}

func (d *Dashboard) swing(w io.Writer, positions []domain.Position, l layout, _ int, now time.Time) {
	open := openOnly(positions)
	fmt.Fprintf(w, "\n SWING POSITIONS (%d open)\n", len(open))
	if len(open) == 0 {
		return
	}
	tbl := tablewriter.NewWriter(w)
	tbl.Header("Symbol", "Entry", "Now", "Gain%", "Stage", "Left%", "Held")
	for _, p := range head(open, l.tableRows) {
		left := 0.0
		if p.TotalAmount > 0 {
			left = p.RemainingAmount / p.TotalAmount * 100
		}
		tbl.Append(p.TokenSymbol, fmtPrice(p.EntryPrice), fmtPrice(p.CurrentPrice),
			fmt.Sprintf("%+.1f", p.GainPct(p.CurrentPrice)), fmt.Sprintf("%d", p.Stage),
			fmt.Sprintf("%.0f", left), p.Held(now).Truncate(time.Second).String())
	}
	tbl.Render()
}

func (d *Dashboard) scalp(w io.Writer, positions []domain.Position, l layout, _ int, now time.Time) {
	open := openOnly(positions)
	fmt.Fprintf(w, "\n SCALP POSITIONS (%d open)\n", len(open))
	if len(open) == 0 {
		return
	}
	tbl := tablewriter.NewWriter(w)
	tbl.Header("Symbol", "Entry", "Now", "Peak", "Gain%", "Held")
	for _, p := range head(open, l.tableRows) {
		tbl.Append(p.TokenSymbol, fmtPrice(p.EntryPrice), fmtPrice(p.CurrentPrice), fmtPrice(p.PeakPrice),
			fmt.Sprintf("%+.1f", p.GainPct(p.CurrentPrice)), p.Held(now).Truncate(time.Second).String())
	}
	tbl.Render()
}

func (d *Dashboard) trades(w io.Writer, trades []domain.TradeLogEntry, l layout, _ int) {
	fmt.Fprintf(w, "\n RECENT EXITS (%d total)\n", len(trades))
	if len(trades) == 0 {
		return
	}
	recent := make([]domain.TradeLogEntry, len(trades))
	copy(recent, trades)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].ExitTime.After(recent[j].ExitTime) })

	tbl := tablewriter.NewWriter(w)
	tbl.Header("Time", "Strat", "Symbol", "Reason", "Frac", "PnL", "PnL%")
	for _, t := range head(recent, l.tableRows) {
		tbl.Append(t.ExitTime.Local().Format("15:04:05"), string(t.Strategy), t.TokenSymbol, string(t.Reason),
			fmt.Sprintf("%.2f", t.Fraction), fmt.Sprintf("%+.4f", t.RealizedPnL), fmt.Sprintf("%+.1f", t.RealizedPct))
	}
	tbl.Render()
}

func (d *Dashboard) analytics(w io.Writer, a *domain.AnalyticsSnapshot, width int) {
	fmt.Fprintln(w, "\n ANALYTICS")
	if a == nil {
		fmt.Fprintln(w, "  (no snapshot yet)")
		return
	}
	fmt.Fprintf(w, "  trades:%d  win:%.0f%%  net:%+.4f  exp:%+.2f%%  payoff:%.2f  last10:%.0f%%/%+.4f\n",
		a.Overall.Trades, a.Overall.WinRate, a.Overall.NetPnL, a.Expectancy, a.PayoffRatio,
		a.Last10.WinRate, a.Last10.NetPnL)
	for _, sig := range a.Signals {
		fmt.Fprintf(w, "  ! %s\n", truncate(sig, width-4))
	}
}

func (d *Dashboard) logs(w io.Writer, lines []string, l layout, width int) {
	fmt.Fprintln(w, "\n LOG")
	start := len(lines) - l.logLines
	if start < 0 {
		start = 0
	}
	for _, line := range lines[start:] {
		fmt.Fprintf(w, "  %s\n", truncate(line, width-2))
	}
}

// --- helpers ---

func openOnly(ps []domain.Position) []domain.Position {
	var out []domain.Position
	for _, p := range ps {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out
}

func head[T any](xs []T, n int) []T {
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func fmtPrice(p float64) string {
	switch {
	case p == 0:
		return "-"
	case p < 0.001:
		return fmt.Sprintf("%.3e", p)
	case p < 1:
		return fmt.Sprintf("%.6f", p)
	default:
		return fmt.Sprintf("%.4f", p)
	}
}

func fmtUSD(v float64) string {
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("$%.1fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("$%.1fK", v/1_000)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}
