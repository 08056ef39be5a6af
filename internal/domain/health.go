package domain

import "time"

// AgentHealth es el estado de las conexiones de un agente (feed y API REST)
// tal como lo publica el propio proceso en el store.
type AgentHealth struct {
	Agent      string    `json:"agent"`
	Feed       string    `json:"feed,omitempty"` // up | down; vacío = sin feed
	Reconnects int64     `json:"reconnects,omitempty"`
	Breaker    string    `json:"breaker,omitempty"` // closed | open | half-open
	At         time.Time `json:"at"`
}
