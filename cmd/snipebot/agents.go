package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/snipebot/internal/adapters/exchange"
	"github.com/alejandrodnm/snipebot/internal/adapters/notify"
	"github.com/alejandrodnm/snipebot/internal/adapters/paper"
	"github.com/alejandrodnm/snipebot/internal/adapters/storage"
	"github.com/alejandrodnm/snipebot/internal/agent"
	"github.com/alejandrodnm/snipebot/internal/analyst"
	"github.com/alejandrodnm/snipebot/internal/analytics"
	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/orchestrator"
	"github.com/alejandrodnm/snipebot/internal/ports"
	"github.com/alejandrodnm/snipebot/internal/risk"
	"github.com/alejandrodnm/snipebot/internal/scalper"
	"github.com/alejandrodnm/snipebot/internal/scanner"
	"github.com/alejandrodnm/snipebot/internal/session"
	"github.com/alejandrodnm/snipebot/internal/trader"
)

const healthInterval = 5 * time.Second

// paperMarket sirve listados reales y el saldo virtual del executor paper.
type paperMarket struct {
	*exchange.Client
	paper *paper.Executor
}

func (m paperMarket) Balance(ctx context.Context, s ports.Session, chain string) (domain.BalanceSnapshot, error) {
	return m.paper.Balance(ctx, s, chain)
}

// exchangeDeps construye el colaborador de ejecución (real o paper) y los
// listados que lee el scanner.
func (a *app) exchangeDeps() (ports.Executor, ports.MarketData) {
	ex := a.cfg.Exchange
	client := exchange.NewClient(exchange.Config{
		BaseURL:    ex.BaseURL,
		APIKey:     ex.APIKey,
		RatePerSec: ex.RatePerSec,
		Timeout:    a.cfg.ExchangeTimeout(),
	})
	a.client = client
	if !ex.Paper {
		return client, client
	}
	p := paper.NewExecutor(client, ex.PaperBalance, ex.PaperSlippagePct)
	slog.Warn("paper mode: buys and sells are simulated", "balance", ex.PaperBalance, "slippage_pct", ex.PaperSlippagePct)
	return p, paperMarket{Client: client, paper: p}
}

// feed devuelve el push feed, o nil si no hay URL (solo polling).
func (a *app) feed() ports.Feed {
	if a.cfg.Exchange.WSURL == "" {
		slog.Info("no websocket url configured, polling only")
		return nil
	}
	a.ws = exchange.NewFeed(exchange.FeedConfig{URL: a.cfg.Exchange.WSURL, APIKey: a.cfg.Exchange.APIKey})
	return a.ws
}

// health es el estado de las conexiones que ve el dashboard.
func (a *app) health() domain.AgentHealth {
	h := domain.AgentHealth{Agent: a.name, At: time.Now().UTC()}
	if a.client != nil {
		h.Breaker = a.client.BreakerState()
	}
	if a.ws != nil {
		h.Feed = "down"
		if a.ws.Connected() {
			h.Feed = "up"
		}
		h.Reconnects = a.ws.Reconnects()
	}
	return h
}

func (a *app) publishHealth(ctx context.Context) {
	go agent.PublishHealth(ctx, a.store, healthInterval, a.health)
}

// sessions autentica una vez al arrancar: sin sesión inicial el agente no
// puede operar y el proceso termina.
func (a *app) sessions(ctx context.Context, auth session.Authenticator) (*session.Provider, error) {
	p := session.NewProvider(auth, a.cfg.Chain)
	p.OnRefresh(a.metrics.SessionRefresh.Inc)
	if _, err := p.Get(ctx); err != nil {
		return nil, fmt.Errorf("initial authentication: %w", err)
	}
	return p, nil
}

func runScanner(ctx context.Context, a *app) error {
	ex, market := a.exchangeDeps()
	feed := a.feed()
	sess, err := a.sessions(ctx, ex)
	if err != nil {
		return err
	}
	a.publishHealth(ctx)
	cfg := scanner.Config{
		Chain:           a.cfg.Chain,
		Interval:        a.cfg.ScanInterval(),
		BalanceInterval: a.cfg.BalanceInterval(),
		PageSize:        a.cfg.Scanner.PageSize,
		Pages:           a.cfg.Scanner.Pages,
		MaxWatchlist:    a.cfg.Scanner.MaxWatchlist,
	}
	return scanner.New(cfg, market, feed, a.store, sess, a.metrics).Run(ctx)
}

func runAnalyst(ctx context.Context, a *app) error {
	return analyst.New(a.store, a.cfg.AnalystInterval(), a.metrics).Run(ctx)
}

func runTrader(ctx context.Context, a *app) error {
	ex, _ := a.exchangeDeps()
	sess, err := a.sessions(ctx, ex)
	if err != nil {
		return err
	}
	a.publishHealth(ctx)
	tc := a.cfg.Trader
	cfg := trader.Config{
		Chain:          a.cfg.Chain,
		Interval:       a.cfg.TraderInterval(),
		SessionRefresh: a.cfg.SessionRefresh(),
		MaxOpen:        tc.MaxOpen,
		MinScore:       tc.MinScore,
		BuyAmount:      tc.BuyAmount,
		Cooldown:       a.cfg.TraderCooldown(),
		MaxDropPct:     tc.MaxDropPct,
		MaxExposure:    tc.MaxExposure,
	}
	return trader.New(cfg, a.store, ex, sess, a.metrics).Run(ctx)
}

func runScalper(ctx context.Context, a *app) error {
	ex, _ := a.exchangeDeps()
	feed := a.feed()
	sess, err := a.sessions(ctx, ex)
	if err != nil {
		return err
	}
	a.publishHealth(ctx)
	sc := a.cfg.Scalper
	cfg := scalper.Config{
		Chain:          a.cfg.Chain,
		Interval:       a.cfg.ScalperInterval(),
		SessionRefresh: a.cfg.SessionRefresh(),
		MaxOpen:        sc.MaxOpen,
		BuyAmount:      sc.BuyAmount,
		MaxAge:         a.cfg.ScalperMaxAge(),
		MinTxCount:     sc.MinTxCount,
		MinCurvePct:    sc.MinCurvePct,
		MinMarketCap:   sc.MinMarketCap,
		MaxDropPct:     sc.MaxDropPct,
		Cooldown:       a.cfg.ScalperCooldown(),
		Rules:          a.cfg.ScalpRules(),
	}
	return scalper.New(cfg, a.store, ex, feed, sess, a.metrics).Run(ctx)
}

func runRisk(ctx context.Context, a *app) error {
	ex, _ := a.exchangeDeps()
	feed := a.feed()
	sess, err := a.sessions(ctx, ex)
	if err != nil {
		return err
	}
	a.publishHealth(ctx)
	cfg := risk.Config{
		Chain:          a.cfg.Chain,
		Interval:       a.cfg.RiskInterval(),
		SessionRefresh: a.cfg.SessionRefresh(),
		Rules:          a.cfg.SwingRules(),
	}
	return risk.New(cfg, a.store, ex, feed, sess, a.metrics).Run(ctx)
}

func runAnalytics(ctx context.Context, a *app) error {
	var archive ports.Archive
	if dsn := a.cfg.Store.ArchiveDSN; dsn != "" {
		db, err := storage.NewSQLiteArchive(dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		archive = db
	}
	targets := analytics.Targets{Swing: a.cfg.SwingRules(), Scalp: a.cfg.ScalpRules()}
	return analytics.New(a.store, archive, targets, a.cfg.AnalyticsInterval(), a.cfg.Analytics.RecentTrades, a.metrics).Run(ctx)
}

func runOrchestrator(ctx context.Context, f *flags) error {
	a, err := bootstrap(ctx, f, "orchestrator", os.Stderr)
	if err != nil {
		return err
	}

	args := []string{"--config", f.configPath}
	if f.verbose {
		args = append(args, "--verbose")
	}
	if f.format != "" {
		args = append(args, "--format", f.format)
	}
	oc := a.cfg.Orchestrator
	o, err := orchestrator.New(orchestrator.Config{
		Args:           args,
		Agents:         oc.Agents,
		RenderInterval: a.cfg.RenderInterval(),
		Stagger:        a.cfg.Stagger(),
		RestartDelay:   a.cfg.RestartDelay(),
		LogBuffer:      oc.LogBuffer,
	}, a.store, notify.NewDashboard(), a.metrics)
	if err != nil {
		return err
	}
	// El dashboard ocupa stdout: el log propio va al buffer común.
	setupLogger(a.cfg.Log, o.LogWriter(), "orchestrator")
	return o.Run(ctx)
}
