package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/auctionhall/auctiond/internal/clock"
	"github.com/coder/websocket"
)

// ClientConfig tunes the reconnecting session client.
type ClientConfig struct {
	// URL is the session WebSocket endpoint.
	URL string
	// HeartbeatInterval paces the client-side pings.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is the longest silence tolerated before the
	// connection is considered dead and redialed.
	HeartbeatTimeout time.Duration
	// MaxAttempts bounds consecutive failed dials; zero means retry
	// forever. The counter resets on every successful connection.
	MaxAttempts int
	// Backoff paces the redials.
	Backoff Backoff
	// Clock drives the redial waits and the heartbeat ticker. Nil
	// means the wall clock.
	Clock clock.Clock
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 75 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// Client maintains a session subscription across connection drops. It
// redials with exponential backoff and treats heartbeat silence as a
// dead connection.
type Client struct {
	cfg     ClientConfig
	onEvent func(Envelope)

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a client delivering every received envelope to
// onEvent. Run starts it.
func NewClient(cfg ClientConfig, onEvent func(Envelope)) *Client {
	return &Client{cfg: cfg.withDefaults(), onEvent: onEvent}
}

// Run dials and consumes until ctx is cancelled or the retry budget is
// exhausted.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		connected, err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			// A drop after a successful dial is not a failed dial.
			failures = 0
		} else {
			failures++
			if c.cfg.MaxAttempts > 0 && failures >= c.cfg.MaxAttempts {
				return fmt.Errorf("giving up after %d consecutive failed dials: %w", failures, err)
			}
		}

		delay := c.cfg.Backoff.Next()
		slog.Warn("Connection lost, reconnecting", "url", c.cfg.URL, "delay", delay, "error", err)
		select {
		case <-c.cfg.Clock.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send delivers a client message over the current connection.
func (c *Client) Send(ctx context.Context, msg ClientMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// consume runs one connection: dial, heartbeat, read until failure.
// connected reports whether the dial itself succeeded, so the caller
// can reset its consecutive-failure counter.
func (c *Client) consume(ctx context.Context) (connected bool, _ error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	// A completed dial resets the backoff sequence.
	c.cfg.Backoff.Reset()
	slog.Info("Connected", "url", c.cfg.URL)

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	go c.heartbeat(connCtx, conn)

	for {
		// Silence past the heartbeat timeout means the connection is
		// dead even if the transport has not noticed.
		readCtx, readCancel := context.WithTimeout(connCtx, c.cfg.HeartbeatTimeout)
		_, data, err := conn.Read(readCtx)
		readCancel()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("Discarding malformed envelope", "error", err)
			continue
		}
		if env.Type == TypePong {
			continue
		}
		if c.onEvent != nil {
			c.onEvent(env)
		}
	}
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := c.cfg.Clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			data, _ := json.Marshal(ClientMessage{Type: TypePing})
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
