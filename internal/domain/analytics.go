package domain

import "time"

// Bucket agrega trades de una partición (motivo, banda de score, etc.).
type Bucket struct {
	Key       string  `json:"key"`
	Trades    int     `json:"trades"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	WinRate   float64 `json:"winRate"`
	NetPnL    float64 `json:"netPnl"`
	AvgPnLPct float64 `json:"avgPnlPct"`
}

// Add suma un trade al bucket. WinRate/AvgPnLPct se cierran con Finish.
func (b *Bucket) Add(pnl, pnlPct float64) {
	b.Trades++
	if pnl > 0 {
		b.Wins++
	} else {
		b.Losses++
	}
	b.NetPnL += pnl
	b.AvgPnLPct += pnlPct
}

// Finish convierte los acumulados en medias.
func (b *Bucket) Finish() {
	if b.Trades == 0 {
		return
	}
	b.WinRate = float64(b.Wins) / float64(b.Trades) * 100
	b.AvgPnLPct /= float64(b.Trades)
}

// Window es una ventana móvil de los últimos N trades.
type Window struct {
	Size    int     `json:"size"`
	Trades  int     `json:"trades"`
	WinRate float64 `json:"winRate"`
	NetPnL  float64 `json:"netPnl"`
}

// OvershootStats mide cuánto se pasan las salidas por stop-loss del objetivo
// configurado (negativo = salida peor que el stop).
type OvershootStats struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Worst float64 `json:"worst"`
}

// ClosedTrade es un trade completo: todas las salidas de una posición agregadas.
type ClosedTrade struct {
	PositionID string        `json:"positionId"`
	Strategy   Strategy      `json:"strategy"`
	Symbol     string        `json:"symbol"`
	EntryTime  time.Time     `json:"entryTime"`
	ExitTime   time.Time     `json:"exitTime"`
	Reason     ExitReason    `json:"reason"`
	Stage      int           `json:"stage"` // stage al cerrar (swing)
	PnL        float64       `json:"pnl"`
	PnLPct     float64       `json:"pnlPct"`
	Score      float64       `json:"score"`
	Hold       time.Duration `json:"hold"`
	Tag        string        `json:"tag"`
}

// AnalyticsSnapshot se recalcula entero en cada ciclo.
type AnalyticsSnapshot struct {
	ComputedAt   time.Time         `json:"computedAt"`
	Overall      Bucket            `json:"overall"`
	ByStrategy   map[string]Bucket `json:"byStrategy"`
	ByReason     map[string]Bucket `json:"byReason"`
	ByScoreBand  map[string]Bucket `json:"byScoreBand"`
	ByHoldBand   map[string]Bucket `json:"byHoldBand"`
	ByHour       map[string]Bucket `json:"byHour"`
	ByTag        map[string]Bucket `json:"byTag"`
	Overshoot    OvershootStats    `json:"overshoot"`
	Last10       Window            `json:"last10"`
	Last30       Window            `json:"last30"`
	AvgWinPct    float64           `json:"avgWinPct"`
	AvgLossPct   float64           `json:"avgLossPct"`
	Expectancy   float64           `json:"expectancy"`
	PayoffRatio  float64           `json:"payoffRatio"`
	OpenSwing    int               `json:"openSwing"`
	OpenScalp    int               `json:"openScalp"`
	GhostIDs     []string          `json:"ghostIds,omitempty"`
	RecentTrades []ClosedTrade     `json:"recentTrades"`
	Signals      []string          `json:"signals"`
}
