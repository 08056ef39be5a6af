package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/snipebot/config"
	"github.com/alejandrodnm/snipebot/internal/adapters/exchange"
	"github.com/alejandrodnm/snipebot/internal/adapters/filestore"
	"github.com/alejandrodnm/snipebot/internal/telemetry"
)

// flags persistentes del root.
type flags struct {
	configPath string
	verbose    bool
	format     string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		slog.Error("snipebot exited with error", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "snipebot",
		Short:         "Multi-agent trading pipeline for newly listed tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOrchestrator(cmd.Context(), f)
		},
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "config/config.yaml", "path to config file")
	root.PersistentFlags().BoolVar(&f.verbose, "verbose", false, "set log level to debug")
	root.PersistentFlags().StringVar(&f.format, "format", "", "log format: text|json (overrides config)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Spawn every agent and render the dashboard (default)",
			RunE:  func(cmd *cobra.Command, _ []string) error { return runOrchestrator(cmd.Context(), f) },
		},
		agentCmd(f, "scanner", "Discover new listings and maintain the watchlist", runScanner),
		agentCmd(f, "analyst", "Hard-filter and score the watchlist", runAnalyst),
		agentCmd(f, "trader", "Open swing positions on the best scores", runTrader),
		agentCmd(f, "scalper", "Open and manage fast scalp positions", runScalper),
		agentCmd(f, "risk", "Run the swing exit state machine", runRisk),
		agentCmd(f, "analytics", "Recompute strategy statistics and signals", runAnalytics),
	)
	return root
}

func agentCmd(f *flags, name, short string, run func(context.Context, *app) error) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), f, name, os.Stderr)
			if err != nil {
				return err
			}
			if err := run(cmd.Context(), a); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			slog.Info("agent stopped cleanly")
			return nil
		},
	}
}

// app son las dependencias comunes de todos los procesos.
type app struct {
	name    string
	flags   *flags
	cfg     *config.Config
	store   *filestore.Store
	metrics *telemetry.Metrics

	// conexiones del agente, para publicar su estado
	client *exchange.Client
	ws     *exchange.Feed
}

// bootstrap carga la configuración, configura el logger y abre el store
// compartido. Si hay dirección de métricas para el agente, la expone.
func bootstrap(ctx context.Context, f *flags, name string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.verbose {
		cfg.Log.Level = "debug"
	}
	if f.format != "" {
		cfg.Log.Format = f.format
	}
	setupLogger(cfg.Log, logOut, name)

	store, err := filestore.New(cfg.Store.Dir)
	if err != nil {
		return nil, err
	}

	m := telemetry.New()
	if addr := cfg.Metrics.Addrs[name]; addr != "" {
		go m.Serve(ctx, addr)
		slog.Info("metrics exposed", "addr", addr)
	}

	slog.Info("snipebot agent starting", "config", f.configPath, "chain", cfg.Chain, "store", cfg.Store.Dir, "paper", cfg.Exchange.Paper)
	return &app{name: name, flags: f, cfg: cfg, store: store, metrics: m}, nil
}

// setupLogger configura slog. Los agentes escriben en stderr para que el
// orchestrator los recoja; cada registro lleva agent=<name>.
func setupLogger(cfg config.LogConfig, out io.Writer, name string) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler).With("agent", name))
}
