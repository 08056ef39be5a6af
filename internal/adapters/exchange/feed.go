package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/snipebot/internal/domain"
)

// FeedConfig configura el push feed.
type FeedConfig struct {
	URL               string
	APIKey            string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

func (c *FeedConfig) setDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Feed es el push feed por websocket. Es best-effort: si la conexión cae se
// reconecta con backoff exponencial hasta que ctx termine, y los agentes
// siguen funcionando por polling mientras tanto.
type Feed struct {
	cfg        FeedConfig
	connected  atomic.Bool
	reconnects atomic.Int64
}

// NewFeed crea un Feed. No conecta hasta Subscribe.
func NewFeed(cfg FeedConfig) *Feed {
	cfg.setDefaults()
	return &Feed{cfg: cfg}
}

// Connected indica si hay una conexión viva en este momento.
func (f *Feed) Connected() bool { return f.connected.Load() }

// Reconnects devuelve cuántas veces se perdió la conexión.
func (f *Feed) Reconnects() int64 { return f.reconnects.Load() }

// Subscribe arranca el bucle de conexión en background y devuelve el canal de
// eventos. El canal se cierra cuando ctx termina.
func (f *Feed) Subscribe(ctx context.Context, chain string) (<-chan domain.FeedEvent, error) {
	if f.cfg.URL == "" {
		return nil, errors.New("exchange.Feed: no websocket url configured")
	}
	out := make(chan domain.FeedEvent, 256)
	go f.run(ctx, chain, out)
	return out, nil
}

func (f *Feed) run(ctx context.Context, chain string, out chan<- domain.FeedEvent) {
	defer close(out)

	delay := f.cfg.ReconnectDelay
	for {
		gotData, err := f.session(ctx, chain, out)
		f.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		if gotData {
			delay = f.cfg.ReconnectDelay
		}
		f.reconnects.Add(1)
		slog.Warn("feed disconnected, reconnecting", "err", err, "in", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// session mantiene una conexión hasta que falle. gotData indica si llegó al
// menos un mensaje (para resetear el backoff).
func (f *Feed) session(ctx context.Context, chain string, out chan<- domain.FeedEvent) (gotData bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	if f.cfg.APIKey != "" {
		header.Set("X-API-Key", f.cfg.APIKey)
	}

	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Desbloquea ReadMessage al cancelar.
	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout)) //nolint:errcheck
	if err := conn.WriteJSON(wsMessage{Type: "subscribe", Chain: chain}); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	f.connected.Store(true)
	slog.Info("feed connected", "chain", chain)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go f.pingLoop(conn, pingDone)

	for {
		conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout)) //nolint:errcheck
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return gotData, fmt.Errorf("read: %w", err)
		}
		gotData = true

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Debug("feed: undecodable message", "err", err)
			continue
		}
		ev, ok := mapEvent(msg, time.Now().UTC())
		if !ok {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return gotData, ctx.Err()
		}
	}
}

func (f *Feed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
