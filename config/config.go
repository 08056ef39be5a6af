package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/snipebot/internal/domain"
)

// Config es la configuración completa de todos los agentes. Todos los procesos
// leen el mismo archivo.
type Config struct {
	Chain        string             `yaml:"chain"`
	Store        StoreConfig        `yaml:"store"`
	Exchange     ExchangeConfig     `yaml:"exchange"`
	Scanner      ScannerConfig      `yaml:"scanner"`
	Analyst      AnalystConfig      `yaml:"analyst"`
	Trader       TraderConfig       `yaml:"trader"`
	Scalper      ScalperConfig      `yaml:"scalper"`
	Risk         RiskConfig         `yaml:"risk"`
	Analytics    AnalyticsConfig    `yaml:"analytics"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Log          LogConfig          `yaml:"log"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// StoreConfig controla dónde viven los documentos compartidos.
type StoreConfig struct {
	Dir        string `yaml:"dir"`
	ArchiveDSN string `yaml:"archive_dsn"` // SQLite; vacío = sin archivo histórico
}

// ExchangeConfig configura el colaborador de ejecución.
type ExchangeConfig struct {
	BaseURL          string  `yaml:"base_url"`
	WSURL            string  `yaml:"ws_url"`
	APIKey           string  `yaml:"api_key"`
	RatePerSec       float64 `yaml:"rate_per_sec"`
	TimeoutSeconds   int     `yaml:"timeout_seconds"`
	Paper            bool    `yaml:"paper"`
	PaperBalance     float64 `yaml:"paper_balance"`
	PaperSlippagePct float64 `yaml:"paper_slippage_pct"`
}

type ScannerConfig struct {
	IntervalSeconds        int `yaml:"interval_seconds"`
	BalanceIntervalSeconds int `yaml:"balance_interval_seconds"`
	PageSize               int `yaml:"page_size"`
	Pages                  int `yaml:"pages"`
	MaxWatchlist           int `yaml:"max_watchlist"`
}

type AnalystConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// TraderConfig controla las entradas swing.
type TraderConfig struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	MaxOpen         int     `yaml:"max_open"`
	MinScore        float64 `yaml:"min_score"` // estrictamente por encima
	BuyAmount       float64 `yaml:"buy_amount"`
	CooldownSeconds int     `yaml:"cooldown_seconds"`
	MaxDropPct      float64 `yaml:"max_drop_pct"` // anti-rug: caída máxima desde el scoring
	MaxExposure     float64 `yaml:"max_exposure"` // 0 = sin límite
}

// ScalperConfig controla entradas y salidas scalp.
type ScalperConfig struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	MaxOpen         int     `yaml:"max_open"`
	BuyAmount       float64 `yaml:"buy_amount"`
	MaxAgeSeconds   int     `yaml:"max_age_seconds"`
	MinTxCount      int     `yaml:"min_tx_count"`
	MinCurvePct     float64 `yaml:"min_curve_pct"`
	MinMarketCap    float64 `yaml:"min_market_cap"`
	MaxDropPct      float64 `yaml:"max_drop_pct"`
	CooldownSeconds int     `yaml:"cooldown_seconds"`
	TakeProfitPct   float64 `yaml:"take_profit_pct"`
	StopLossPct     float64 `yaml:"stop_loss_pct"` // negativo
	TrailArmPct     float64 `yaml:"trail_arm_pct"`
	TrailPct        float64 `yaml:"trail_pct"`
	MaxHoldSeconds  int     `yaml:"max_hold_seconds"`
}

// RiskConfig controla la máquina de estados swing.
type RiskConfig struct {
	IntervalSeconds       int         `yaml:"interval_seconds"`
	SessionRefreshSeconds int         `yaml:"session_refresh_seconds"`
	Stage1GainPct         float64     `yaml:"stage1_gain_pct"`
	Stage2GainPct         float64     `yaml:"stage2_gain_pct"`
	FinalGainPct          float64     `yaml:"final_gain_pct"`
	StopLossPct           *[3]float64 `yaml:"stop_loss_pct"` // por stage
	MaxHoldMinutes        int         `yaml:"max_hold_minutes"`
}

type AnalyticsConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	RecentTrades    int `yaml:"recent_trades"`
}

// OrchestratorConfig controla el lanzamiento de agentes y el dashboard.
type OrchestratorConfig struct {
	Agents                []string `yaml:"agents"`
	RenderIntervalSeconds int      `yaml:"render_interval_seconds"`
	StaggerSeconds        int      `yaml:"stagger_seconds"`
	RestartDelaySeconds   int      `yaml:"restart_delay_seconds"`
	LogBuffer             int      `yaml:"log_buffer"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// MetricsConfig: dirección de /metrics por agente. Sin entrada = no se expone.
type MetricsConfig struct {
	Addrs map[string]string `yaml:"addrs"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// path vacío = solo defaults + entorno.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SNIPEBOT_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("SNIPEBOT_STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}
	if v := os.Getenv("SNIPEBOT_PAPER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Exchange.Paper = b
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Chain == "" {
		cfg.Chain = "solana"
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "data"
	}

	ex := &cfg.Exchange
	if ex.RatePerSec <= 0 {
		ex.RatePerSec = 5
	}
	if ex.TimeoutSeconds <= 0 {
		ex.TimeoutSeconds = 15
	}
	if ex.PaperBalance <= 0 {
		ex.PaperBalance = 10
	}
	if ex.PaperSlippagePct <= 0 {
		ex.PaperSlippagePct = 1
	}

	sc := &cfg.Scanner
	defInt(&sc.IntervalSeconds, 30)
	defInt(&sc.BalanceIntervalSeconds, 60)
	defInt(&sc.PageSize, 50)
	defInt(&sc.Pages, 2)
	defInt(&sc.MaxWatchlist, 100)

	defInt(&cfg.Analyst.IntervalSeconds, 15)

	tr := &cfg.Trader
	defInt(&tr.IntervalSeconds, 10)
	defInt(&tr.MaxOpen, 5)
	defFloat(&tr.MinScore, 60)
	defFloat(&tr.BuyAmount, 0.1)
	defInt(&tr.CooldownSeconds, 300)
	defFloat(&tr.MaxDropPct, 5)

	sp := &cfg.Scalper
	defInt(&sp.IntervalSeconds, 5)
	defInt(&sp.MaxOpen, 3)
	defFloat(&sp.BuyAmount, 0.05)
	defInt(&sp.MaxAgeSeconds, 120)
	defInt(&sp.MinTxCount, 5)
	defFloat(&sp.MinCurvePct, 3)
	defFloat(&sp.MinMarketCap, 500)
	defFloat(&sp.MaxDropPct, 5)
	defInt(&sp.CooldownSeconds, 300)
	defFloat(&sp.TakeProfitPct, 10)
	if sp.StopLossPct == 0 {
		sp.StopLossPct = -3
	}
	defFloat(&sp.TrailArmPct, 3)
	defFloat(&sp.TrailPct, 2)
	defInt(&sp.MaxHoldSeconds, 30)

	rk := &cfg.Risk
	defInt(&rk.IntervalSeconds, 8)
	defInt(&rk.SessionRefreshSeconds, 600)
	defFloat(&rk.Stage1GainPct, 25)
	defFloat(&rk.Stage2GainPct, 50)
	defFloat(&rk.FinalGainPct, 100)
	if rk.StopLossPct == nil {
		rk.StopLossPct = &[3]float64{-5, 0, 15}
	}
	defInt(&rk.MaxHoldMinutes, 20)

	defInt(&cfg.Analytics.IntervalSeconds, 30)
	defInt(&cfg.Analytics.RecentTrades, 20)

	or := &cfg.Orchestrator
	if len(or.Agents) == 0 {
		or.Agents = []string{"scanner", "analyst", "trader", "scalper", "risk", "analytics"}
	}
	defInt(&or.RenderIntervalSeconds, 2)
	defInt(&or.StaggerSeconds, 3)
	defInt(&or.RestartDelaySeconds, 5)
	defInt(&or.LogBuffer, 200)

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func defInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func defFloat(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// SwingRules construye las reglas de salida swing del dominio.
func (c *Config) SwingRules() domain.SwingRules {
	r := domain.DefaultSwingRules()
	r.Stage1GainPct = c.Risk.Stage1GainPct
	r.Stage2GainPct = c.Risk.Stage2GainPct
	r.FinalGainPct = c.Risk.FinalGainPct
	r.StopLossPct = *c.Risk.StopLossPct
	r.MaxHold = time.Duration(c.Risk.MaxHoldMinutes) * time.Minute
	return r
}

// ScalpRules construye las reglas de salida scalp del dominio.
func (c *Config) ScalpRules() domain.ScalpRules {
	return domain.ScalpRules{
		TakeProfitPct: c.Scalper.TakeProfitPct,
		StopLossPct:   c.Scalper.StopLossPct,
		TrailArmPct:   c.Scalper.TrailArmPct,
		TrailPct:      c.Scalper.TrailPct,
		MaxHold:       seconds(c.Scalper.MaxHoldSeconds),
	}
}

func (c *Config) ScanInterval() time.Duration      { return seconds(c.Scanner.IntervalSeconds) }
func (c *Config) BalanceInterval() time.Duration   { return seconds(c.Scanner.BalanceIntervalSeconds) }
func (c *Config) AnalystInterval() time.Duration   { return seconds(c.Analyst.IntervalSeconds) }
func (c *Config) TraderInterval() time.Duration    { return seconds(c.Trader.IntervalSeconds) }
func (c *Config) TraderCooldown() time.Duration    { return seconds(c.Trader.CooldownSeconds) }
func (c *Config) ScalperInterval() time.Duration   { return seconds(c.Scalper.IntervalSeconds) }
func (c *Config) ScalperCooldown() time.Duration   { return seconds(c.Scalper.CooldownSeconds) }
func (c *Config) ScalperMaxAge() time.Duration     { return seconds(c.Scalper.MaxAgeSeconds) }
func (c *Config) RiskInterval() time.Duration      { return seconds(c.Risk.IntervalSeconds) }
func (c *Config) SessionRefresh() time.Duration    { return seconds(c.Risk.SessionRefreshSeconds) }
func (c *Config) AnalyticsInterval() time.Duration { return seconds(c.Analytics.IntervalSeconds) }
func (c *Config) RenderInterval() time.Duration    { return seconds(c.Orchestrator.RenderIntervalSeconds) }
func (c *Config) Stagger() time.Duration           { return seconds(c.Orchestrator.StaggerSeconds) }
func (c *Config) RestartDelay() time.Duration      { return seconds(c.Orchestrator.RestartDelaySeconds) }
func (c *Config) ExchangeTimeout() time.Duration   { return seconds(c.Exchange.TimeoutSeconds) }
