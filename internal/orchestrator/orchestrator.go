// Package orchestrator lanza cada agente como proceso independiente, junta su
// salida de diagnóstico en un buffer común y pinta el dashboard releyendo los
// stores compartidos. No escribe estado de trading.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/alejandrodnm/snipebot/internal/agent"
	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/ports"
	"github.com/alejandrodnm/snipebot/internal/telemetry"
)

const agentName = "orchestrator"

// Config del orchestrator.
type Config struct {
	Executable     string   // binario a lanzar; vacío = el propio
	Args           []string // argumentos previos al nombre del agente (p.ej. --config)
	Agents         []string
	RenderInterval time.Duration
	Stagger        time.Duration
	RestartDelay   time.Duration
	LogBuffer      int
}

// Store es la vista de solo lectura de los stores (más el log de diagnóstico).
type Store interface {
	LoadBalance() (*domain.BalanceSnapshot, error)
	LoadWatchlist() ([]domain.WatchedToken, error)
	LoadScores() ([]domain.TokenScore, error)
	LoadPositions(strategy domain.Strategy) ([]domain.Position, error)
	LoadTrades() ([]domain.TradeLogEntry, error)
	LoadAnalytics() (*domain.AnalyticsSnapshot, error)
	LoadHealth() (map[string]domain.AgentHealth, error)
	SaveDiagLog(lines []string) error
}

// Orchestrator supervisa los agentes y pinta el dashboard.
type Orchestrator struct {
	cfg      Config
	store    Store
	renderer ports.Renderer
	metrics  *telemetry.Metrics
	logs     *Ring
	size     func() (int, int)

	mu    sync.Mutex
	procs []*process
}

// New crea un Orchestrator.
func New(cfg Config, store Store, r ports.Renderer, m *telemetry.Metrics) (*Orchestrator, error) {
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("orchestrator.New: resolve executable: %w", err)
		}
		cfg.Executable = exe
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		renderer: r,
		metrics:  m,
		logs:     NewRing(cfg.LogBuffer),
		size:     terminalSize,
	}, nil
}

// LogWriter es el destino del logger del propio orchestrator: sus líneas van
// al mismo buffer que las de los agentes para no romper el dashboard.
func (o *Orchestrator) LogWriter() *LineWriter {
	return o.logs.Writer("[" + agentName + "] ")
}

// Run lanza los agentes escalonados, pinta hasta que ctx termine y espera a
// que los hijos salgan.
func (o *Orchestrator) Run(ctx context.Context) error {
	slog.Info("orchestrator starting", "agents", o.cfg.Agents, "stagger", o.cfg.Stagger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.spawnAll(ctx, &wg)
	}()

	agent.Loop(ctx, agentName, o.cfg.RenderInterval, o.metrics, o.Render)

	slog.Info("orchestrator stopping, signalling agents")
	wg.Wait()
	if err := o.store.SaveDiagLog(o.logs.Lines()); err != nil {
		slog.Warn("final diag log save failed", "err", err)
	}
	if r, ok := o.renderer.(interface{ Restore() error }); ok {
		return r.Restore()
	}
	return nil
}

// spawnAll arranca un agente cada Stagger para que no se autentiquen a la vez.
func (o *Orchestrator) spawnAll(ctx context.Context, wg *sync.WaitGroup) {
	for i, name := range o.cfg.Agents {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.Stagger):
			}
		}
		p := &process{name: name}
		o.mu.Lock()
		o.procs = append(o.procs, p)
		o.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			o.supervise(ctx, p)
		}()
	}
}

// Agents devuelve el estado de los hijos lanzados hasta ahora.
func (o *Orchestrator) Agents() []ports.AgentStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ports.AgentStatus, 0, len(o.procs))
	for _, p := range o.procs {
		out = append(out, p.status())
	}
	return out
}

// Render relee todos los stores, pinta y persiste el log de diagnóstico.
func (o *Orchestrator) Render(context.Context) error {
	state := o.State()
	w, h := o.size()
	if err := o.renderer.Render(state, w, h); err != nil {
		return fmt.Errorf("orchestrator.Render: %w", err)
	}
	if err := o.store.SaveDiagLog(state.Logs); err != nil {
		return fmt.Errorf("orchestrator.Render: save diag log: %w", err)
	}
	return nil
}

// State compone el estado del dashboard. Un documento ilegible deja su
// sección vacía: el resto se sigue pintando.
func (o *Orchestrator) State() ports.DashboardState {
	var s ports.DashboardState
	var err error

	if s.Balance, err = o.store.LoadBalance(); err != nil {
		slog.Debug("balance unreadable", "err", err)
	}
	if s.Watchlist, err = o.store.LoadWatchlist(); err != nil {
		slog.Debug("watchlist unreadable", "err", err)
	}
	if s.Scores, err = o.store.LoadScores(); err != nil {
		slog.Debug("scores unreadable", "err", err)
	}
	if s.Swing, err = o.store.LoadPositions(domain.StrategySwing); err != nil {
		slog.Debug("swing positions unreadable", "err", err)
	}
	if s.Scalp, err = o.store.LoadPositions(domain.StrategyScalp); err != nil {
		slog.Debug("scalp positions unreadable", "err", err)
	}
	if s.Trades, err = o.store.LoadTrades(); err != nil {
		slog.Debug("trade log unreadable", "err", err)
	}
	if s.Analytics, err = o.store.LoadAnalytics(); err != nil {
		slog.Debug("analytics unreadable", "err", err)
	}
	s.Logs = o.logs.Lines()
	s.Agents = o.Agents()

	health, err := o.store.LoadHealth()
	if err != nil {
		slog.Debug("agent health unreadable", "err", err)
	}
	for i := range s.Agents {
		if h, ok := health[s.Agents[i].Name]; ok {
			s.Agents[i].Health = &h
		}
	}
	return s
}

func terminalSize() (int, int) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return 120, 40
	}
	return w, h
}
