package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
)

const (
	wsDialTimeout      = 10 * time.Second
	wsReadLimit        = 1 << 20
	wsInitialReconnect = time.Second
	wsMaxReconnect     = 30 * time.Second
)

// wsSubscribe is the subscription request sent after connecting.
type wsSubscribe struct {
	Type    string   `json:"type"`
	Tickers []string `json:"tickers"`
}

// wsTick is the provider's wire format for one trade print.
type wsTick struct {
	Ticker    string  `json:"ticker"`
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

// WebsocketSource streams ticks from a websocket provider, reconnecting with
// capped backoff when the connection drops.
type WebsocketSource struct {
	url     string
	tickers []string
	logger  *log.Logger
	dialer  *websocket.Dialer
}

// NewWebsocketSource creates a websocket tick source.
func NewWebsocketSource(url string, tickers []string, logger *log.Logger) *WebsocketSource {
	if logger == nil {
		logger = log.Default()
	}
	return &WebsocketSource{
		url:     url,
		tickers: tickers,
		logger:  logger,
		dialer:  &websocket.Dialer{HandshakeTimeout: wsDialTimeout},
	}
}

// Run streams ticks until the context is done. Connection failures are
// retried forever; only context cancellation ends the stream.
func (w *WebsocketSource) Run(ctx context.Context, out chan<- models.Tick) error {
	backoff := wsInitialReconnect

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := w.streamOnce(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			w.logger.Printf("websocket stream ended, reconnecting in %v: %v", backoff, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsMaxReconnect {
			backoff = wsMaxReconnect
		}
	}
}

// streamOnce holds one connection open and forwards its ticks.
func (w *WebsocketSource) streamOnce(ctx context.Context, out chan<- models.Tick) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", w.url, err)
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	if err := conn.WriteJSON(wsSubscribe{Type: "subscribe", Tickers: w.tickers}); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	w.logger.Printf("websocket connected, subscribed to %d tickers", len(w.tickers))

	// Unblock ReadMessage when the context is canceled.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read failed: %w", err)
		}

		var msg wsTick
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.logger.Printf("skipping malformed tick message: %v", err)
			continue
		}
		if msg.Ticker == "" || msg.Price <= 0 {
			continue
		}

		tick := models.Tick{
			Ticker:    msg.Ticker,
			Timestamp: time.UnixMilli(msg.Timestamp).UTC(),
			Price:     msg.Price,
			Volume:    msg.Volume,
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
