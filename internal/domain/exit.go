package domain

import "time"

// exit.go — reglas de salida puras. No hacen I/O: dada una posición, un precio
// y un instante, deciden la acción. Reproducir la misma secuencia de ticks sobre
// una posición nueva produce la misma secuencia de transiciones.

// pctEpsilon absorbe el ruido de coma flotante en comparaciones de porcentajes.
const pctEpsilon = 1e-9

// ActionKind es el tipo de acción de salida.
type ActionKind int

const (
	ActionHold ActionKind = iota
	ActionPartial
	ActionClose
)

func (k ActionKind) String() string {
	switch k {
	case ActionPartial:
		return "partial"
	case ActionClose:
		return "close"
	default:
		return "hold"
	}
}

// ExitAction es la decisión de las reglas de salida.
type ExitAction struct {
	Kind      ActionKind
	Reason    ExitReason
	Fraction  float64 // fracción del tamaño ORIGINAL a vender (solo parciales)
	NextStage int
	Trigger   string
}

// SwingRules parametriza la máquina de estados swing.
type SwingRules struct {
	Stage1GainPct float64
	Stage2GainPct float64
	FinalGainPct  float64
	StopLossPct   [3]float64 // stop efectivo por stage, sobre el retorno combinado
	PartialFrac   float64
	MaxHold       time.Duration
}

// DefaultSwingRules: +25/+50/+100, stops −5/0/+15, tercios, 20 minutos.
func DefaultSwingRules() SwingRules {
	return SwingRules{
		Stage1GainPct: 25,
		Stage2GainPct: 50,
		FinalGainPct:  100,
		StopLossPct:   [3]float64{-5, 0, 15},
		PartialFrac:   1.0 / 3.0,
		MaxHold:       20 * time.Minute,
	}
}

// StopLossForStage devuelve el stop efectivo (en %) para un stage. Función pura del stage.
func (r SwingRules) StopLossForStage(stage int) float64 {
	if stage < 0 {
		stage = 0
	}
	if stage > 2 {
		stage = 2
	}
	return r.StopLossPct[stage]
}

// EvaluateSwing decide la siguiente transición de una posición swing.
// Orden: tiempo máximo → stop por stage → take-profit del stage actual.
// Cada evaluación produce como mucho una transición.
func EvaluateSwing(p Position, price float64, now time.Time, r SwingRules) ExitAction {
	if !p.IsOpen() || price <= 0 {
		return ExitAction{Kind: ActionHold}
	}

	if r.MaxHold > 0 && now.Sub(p.EntryTime) >= r.MaxHold {
		return ExitAction{Kind: ActionClose, Reason: ExitTimeExpiry, NextStage: p.Stage, Trigger: "max hold reached"}
	}

	sl := r.StopLossForStage(p.Stage)
	if ret := p.ReturnPct(price); ret <= sl+pctEpsilon {
		return ExitAction{Kind: ActionClose, Reason: ExitStopLoss, NextStage: p.Stage, Trigger: "stop-loss breached"}
	}

	gain := p.GainPct(price)
	switch p.Stage {
	case 0:
		if gain >= r.Stage1GainPct-pctEpsilon {
			return ExitAction{Kind: ActionPartial, Reason: ExitTakeProfit, Fraction: r.PartialFrac, NextStage: 1, Trigger: "stage 1 target"}
		}
	case 1:
		if gain >= r.Stage2GainPct-pctEpsilon {
			return ExitAction{Kind: ActionPartial, Reason: ExitTakeProfit, Fraction: r.PartialFrac, NextStage: 2, Trigger: "stage 2 target"}
		}
	default:
		if gain >= r.FinalGainPct-pctEpsilon {
			return ExitAction{Kind: ActionClose, Reason: ExitTakeProfit, NextStage: p.Stage, Trigger: "final target"}
		}
	}
	return ExitAction{Kind: ActionHold}
}

// ScalpRules parametriza las salidas scalp.
type ScalpRules struct {
	TakeProfitPct float64
	StopLossPct   float64
	TrailArmPct   float64
	TrailPct      float64
	MaxHold       time.Duration
}

// DefaultScalpRules: TP +10, SL −3, trailing armado en +3 con retroceso de 2, 30 segundos.
func DefaultScalpRules() ScalpRules {
	return ScalpRules{
		TakeProfitPct: 10,
		StopLossPct:   -3,
		TrailArmPct:   3,
		TrailPct:      2,
		MaxHold:       30 * time.Second,
	}
}

// EvaluateScalp decide la salida de una posición scalp. peak es el máximo
// observado (incluido price). El trailing stop sale con motivo take-profit.
func EvaluateScalp(p Position, price float64, now time.Time, r ScalpRules) ExitAction {
	if !p.IsOpen() || price <= 0 {
		return ExitAction{Kind: ActionHold}
	}

	if r.MaxHold > 0 && now.Sub(p.EntryTime) >= r.MaxHold {
		return ExitAction{Kind: ActionClose, Reason: ExitTimeExpiry, Trigger: "max hold reached"}
	}

	gain := p.GainPct(price)
	if gain <= r.StopLossPct+pctEpsilon {
		return ExitAction{Kind: ActionClose, Reason: ExitStopLoss, Trigger: "stop-loss"}
	}
	if gain >= r.TakeProfitPct-pctEpsilon {
		return ExitAction{Kind: ActionClose, Reason: ExitTakeProfit, Trigger: "take-profit"}
	}

	peak := p.PeakPrice
	if price > peak {
		peak = price
	}
	if peak > 0 && p.GainPct(peak) >= r.TrailArmPct-pctEpsilon {
		retrace := (peak - price) / peak * 100
		if retrace >= r.TrailPct-pctEpsilon {
			return ExitAction{Kind: ActionClose, Reason: ExitTakeProfit, Trigger: "trailing stop"}
		}
	}
	return ExitAction{Kind: ActionHold}
}
