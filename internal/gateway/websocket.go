package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketConsumer subscribes to an Evolution API deployment's
// websocket event stream and feeds events through the same
// classification path as the webhook endpoint. Used when the gateway
// cannot be reached by webhook (NAT, dev machines).
type WebsocketConsumer struct {
	server *Server
	url    string
	apiKey string

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewWebsocketConsumer builds a consumer for the deployment's event
// stream. The stream URL is derived from the HTTP base URL.
func NewWebsocketConsumer(server *Server, baseURL, apiKey string) *WebsocketConsumer {
	wsURL := strings.TrimRight(baseURL, "/")
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)

	return &WebsocketConsumer{
		server: server,
		url:    wsURL + "/ws/events",
		apiKey: apiKey,
	}
}

// Start connects and begins consuming. The initial dial may fail; the
// listen loop keeps retrying with backoff either way.
func (c *WebsocketConsumer) Start(ctx context.Context) error {
	slog.Info("gateway.websocket_starting", "url", c.url)

	ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		slog.Warn("gateway.websocket_connect_failed", "error", err)
	}

	go c.listenLoop(ctx)
	return nil
}

// Stop closes the connection and stops the listen loop.
func (c *WebsocketConsumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *WebsocketConsumer) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	headers := map[string][]string{"apikey": {c.apiKey}}
	conn, _, err := dialer.Dial(c.url, headers)
	if err != nil {
		return fmt.Errorf("dial evolution events %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("gateway.websocket_connected", "url", c.url)
	return nil
}

// listenLoop reads event frames with automatic reconnection.
func (c *WebsocketConsumer) listenLoop(ctx context.Context) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("gateway.websocket_reconnecting", "backoff", backoff)

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := c.connect(); err != nil {
				slog.Warn("gateway.websocket_reconnect_failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}

			backoff = time.Second
			continue
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("gateway.websocket_read_failed", "error", err)

			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		var ev Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			slog.Warn("gateway.websocket_invalid_frame", "error", err)
			continue
		}

		c.server.ingest(ctx, &ev)
	}
}
