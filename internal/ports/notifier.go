package ports

import "github.com/alejandrodnm/snipebot/internal/domain"

// DashboardState es todo lo que el orchestrator relee de los stores para pintar.
type DashboardState struct {
	Balance   *domain.BalanceSnapshot
	Watchlist []domain.WatchedToken
	Scores    []domain.TokenScore
	Swing     []domain.Position
	Scalp     []domain.Position
	Trades    []domain.TradeLogEntry
	Analytics *domain.AnalyticsSnapshot
	Logs      []string
	Agents    []AgentStatus
}

// AgentStatus es el estado de un proceso hijo.
type AgentStatus struct {
	Name     string
	PID      int
	Running  bool
	Restarts int
	Health   *domain.AgentHealth // nil si el agente no publica estado
}

// Renderer pinta el dashboard compuesto.
type Renderer interface {
	Render(state DashboardState, width, height int) error
}
