package domain

import (
	"fmt"
	"strings"
	"time"
)

// Umbrales de filtrado duro y de scoring del analyst.
const (
	MaxTaxPct       = 5.0
	MaxTokenAge     = 60 * time.Minute
	MinScoredMcap   = 1_000.0
	MaxScore        = 100.0
	maxCurvePoints  = 30.0
	maxTxPoints     = 20.0
	maxMcapPoints   = 20.0
	maxMomentumPts  = 20.0
	maxSecurityPts  = 10.0
	lpLockedMinPct  = 80.0
	topHolderMaxPct = 20.0
)

// ScoreBreakdown es el detalle por factor de un TokenScore.
type ScoreBreakdown struct {
	BondingCurve float64 `json:"bondingCurve"`
	Activity     float64 `json:"activity"`
	MarketCap    float64 `json:"marketCap"`
	Momentum     float64 `json:"momentum"`
	Security     float64 `json:"security"`
}

// Total suma todos los factores.
func (b ScoreBreakdown) Total() float64 {
	return b.BondingCurve + b.Activity + b.MarketCap + b.Momentum + b.Security
}

// TokenScore es el resultado de puntuar un token. Se recalcula entero cada ciclo.
type TokenScore struct {
	Address             string         `json:"address"`
	Name                string         `json:"name"`
	Symbol              string         `json:"symbol"`
	Score               float64        `json:"score"`
	Breakdown           ScoreBreakdown `json:"breakdown"`
	Reasoning           string         `json:"reasoning"`
	Price               float64        `json:"price"`
	MarketCap           float64        `json:"marketCap"`
	TxCount             int            `json:"txCount"`
	BondingCurve        float64        `json:"bondingCurve"`
	GraduationCandidate bool           `json:"graduationCandidate"`
	ScoredAt            time.Time      `json:"scoredAt"`
}

// Reject explica por qué un token no pasó el filtro duro.
type Reject struct {
	Address string
	Reason  string
}

// HardFilter devuelve "" si el token pasa el filtro duro del analyst, o el motivo
// del rechazo.
func HardFilter(t WatchedToken, now time.Time) string {
	if s := t.Security; s != nil {
		if s.Mintable {
			return "mint authority enabled"
		}
		if s.Freezable {
			return "freeze authority enabled"
		}
		if s.BuyTaxPct > MaxTaxPct || s.SellTaxPct > MaxTaxPct {
			return fmt.Sprintf("tax too high (buy %.1f%% / sell %.1f%%)", s.BuyTaxPct, s.SellTaxPct)
		}
	}
	if age := t.Age(now); age > MaxTokenAge {
		return fmt.Sprintf("too old (%s)", age.Round(time.Minute))
	}
	if t.MarketCap < MinScoredMcap {
		return fmt.Sprintf("market cap too low ($%.0f)", t.MarketCap)
	}
	return ""
}

// ScoreToken puntúa un token que ya pasó HardFilter. Es determinista:
// el mismo snapshot produce el mismo score, breakdown y reasoning.
//
//	curva (≤30) + actividad (≤20) + market cap (≤20) + momentum 5m (≤20) + seguridad (≤10)
func ScoreToken(t WatchedToken, now time.Time) TokenScore {
	var b ScoreBreakdown
	var why []string

	pts, label := curvePoints(t.BondingCurve)
	b.BondingCurve = pts
	why = append(why, fmt.Sprintf("curve %.0f%% %s (+%.0f)", t.BondingCurve, label, pts))

	b.Activity = txPoints(t.TxCount)
	why = append(why, fmt.Sprintf("%d txs (+%.0f)", t.TxCount, b.Activity))

	pts, label = mcapPoints(t.MarketCap)
	b.MarketCap = pts
	why = append(why, fmt.Sprintf("mcap $%.0f %s (+%.0f)", t.MarketCap, label, pts))

	velocity := 0.0
	if t.PriceChange != nil {
		velocity = t.PriceChange.M5
	}
	b.Momentum = momentumPoints(velocity)
	why = append(why, fmt.Sprintf("5m %+.1f%% (+%.0f)", velocity, b.Momentum))

	pts, credits := securityPoints(t)
	b.Security = pts
	if len(credits) > 0 {
		why = append(why, fmt.Sprintf("security %s (+%.0f)", strings.Join(credits, ","), pts))
	}

	total := b.Total()
	if total > MaxScore {
		total = MaxScore
	}

	return TokenScore{
		Address:             t.Address,
		Name:                t.Name,
		Symbol:              t.Symbol,
		Score:               total,
		Breakdown:           b,
		Reasoning:           strings.Join(why, "; "),
		Price:               t.Price,
		MarketCap:           t.MarketCap,
		TxCount:             t.TxCount,
		BondingCurve:        t.BondingCurve,
		GraduationCandidate: !t.Listed && t.BondingCurve >= 85 && t.BondingCurve <= 95,
		ScoredAt:            now,
	}
}

// curvePoints: 85–95% graduación inminente, 30–70% sweet spot, bandas adyacentes 12.
func curvePoints(pct float64) (float64, string) {
	switch {
	case pct >= 85 && pct <= 95:
		return maxCurvePoints, "graduation imminent"
	case pct >= 30 && pct <= 70:
		return 25, "sweet spot"
	case pct >= 15 && pct < 30, pct > 70 && pct < 85, pct > 95 && pct <= 100:
		return 12, "adjacent"
	default:
		return 0, "out of range"
	}
}

func txPoints(n int) float64 {
	switch {
	case n >= 100:
		return maxTxPoints
	case n >= 50:
		return 15
	case n >= 20:
		return 10
	case n >= 5:
		return 5
	default:
		return 0
	}
}

// mcapPoints: 20 dentro de $5K–$80K, 8 en las bandas adyacentes ($2K–$5K, $80K–$200K).
func mcapPoints(mcap float64) (float64, string) {
	switch {
	case mcap >= 5_000 && mcap <= 80_000:
		return maxMcapPoints, "in band"
	case mcap >= 2_000 && mcap < 5_000, mcap > 80_000 && mcap <= 200_000:
		return 8, "adjacent band"
	default:
		return 0, "out of band"
	}
}

func momentumPoints(pct float64) float64 {
	switch {
	case pct >= 100:
		return maxMomentumPts
	case pct >= 30:
		return 15
	case pct >= 10:
		return 10
	case pct >= 3:
		return 5
	default:
		return 0
	}
}

// securityPoints: LP lockeado o graduado (4), holders poco concentrados (3), verificado (3).
func securityPoints(t WatchedToken) (float64, []string) {
	var pts float64
	var credits []string
	s := t.Security
	if t.Listed || (s != nil && s.LPLockedPct >= lpLockedMinPct) {
		pts += 4
		credits = append(credits, "lp")
	}
	if s != nil && s.TopHolderPct > 0 && s.TopHolderPct < topHolderMaxPct {
		pts += 3
		credits = append(credits, "holders")
	}
	if s != nil && s.Verified {
		pts += 3
		credits = append(credits, "verified")
	}
	if pts > maxSecurityPts {
		pts = maxSecurityPts
	}
	return pts, credits
}
