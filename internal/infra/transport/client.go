// Package transport maintains the persistent websocket connection to the
// event broker: connect with infinite fixed-delay retry, topic
// subscriptions, and heartbeat-driven failure detection. It does not replay
// subscriptions across a reconnect; the topic registry owns the desired
// topic set and re-issues them through its connected callback.
package transport

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"crmsync/internal/infra/wire"
)

// Handler receives the raw event payload pushed on a subscribed topic.
type Handler func(topic string, data []byte)

// ErrClosed is returned by operations on a client after Disconnect.
var ErrClosed = errors.New("transport: client closed")

const (
	defaultRetryDelay = 3 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	writeWait         = 10 * time.Second
)

type state int

const (
	stateIdle state = iota
	stateConnecting
	stateConnected
	stateClosed
)

// Config carries the broker endpoint settings.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// RetryDelay is the fixed pause between reconnect attempts. There is
	// no retry ceiling.
	RetryDelay time.Duration
}

// Client is the transport client. Construct with NewClient and tear down
// with Disconnect; it is safe for concurrent use.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger

	mu      sync.Mutex
	st      state
	conn    *websocket.Conn
	epoch   int
	onUp    []func()
	subs    map[string]*subscription
	pending []*subscription
	done    chan struct{}

	writeMu sync.Mutex
}

type subscription struct {
	id      string
	topic   string
	handler Handler
}

// NewClient builds a disconnected client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
		subs:   make(map[string]*subscription),
		done:   make(chan struct{}),
	}
}

// Connect establishes the broker connection. It is idempotent: when already
// connected the callback fires immediately; while a connection attempt is in
// flight the callback is queued behind it. Every callback is retained and
// re-invoked after each reconnect, so callers can use it to restore
// subscriptions.
func (c *Client) Connect(onConnected func()) {
	c.mu.Lock()
	switch c.st {
	case stateClosed:
		c.mu.Unlock()
		return
	case stateConnected:
		if onConnected != nil {
			c.onUp = append(c.onUp, onConnected)
		}
		c.mu.Unlock()
		if onConnected != nil {
			onConnected()
		}
		return
	case stateConnecting:
		if onConnected != nil {
			c.onUp = append(c.onUp, onConnected)
		}
		c.mu.Unlock()
		return
	default:
		if onConnected != nil {
			c.onUp = append(c.onUp, onConnected)
		}
		c.st = stateConnecting
		c.mu.Unlock()
		go c.run()
	}
}

// Subscribe registers a handler for one topic. It requires an active
// connection; before the connection is up the subscription is deferred and
// issued automatically once Connect succeeds, and the returned id is the
// empty string, which is not a valid handle.
func (c *Client) Subscribe(topic string, handler Handler) string {
	sub := &subscription{topic: topic, handler: handler}

	c.mu.Lock()
	if c.st == stateClosed {
		c.mu.Unlock()
		return ""
	}
	if c.st != stateConnected {
		c.pending = append(c.pending, sub)
		c.mu.Unlock()
		return ""
	}
	sub.id = uuid.NewString()
	c.subs[sub.id] = sub
	conn := c.conn
	c.mu.Unlock()

	if err := c.writeControl(conn, wire.Control{Action: wire.ActionSubscribe, ID: sub.id, Topic: topic}); err != nil {
		c.logger.Error("broker subscribe failed", "topic", topic, "error", err)
	}
	return sub.id
}

// Unsubscribe releases one subscription by id. Unknown ids (including the
// empty deferred sentinel) are ignored.
func (c *Client) Unsubscribe(id string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
	}
	conn := c.conn
	connected := c.st == stateConnected
	c.mu.Unlock()
	if !ok || !connected {
		return
	}
	if err := c.writeControl(conn, wire.Control{Action: wire.ActionUnsubscribe, ID: id, Topic: sub.topic}); err != nil {
		c.logger.Error("broker unsubscribe failed", "topic", sub.topic, "error", err)
	}
}

// UnsubscribeAll releases every live subscription.
func (c *Client) UnsubscribeAll() {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = make(map[string]*subscription)
	c.pending = nil
	conn := c.conn
	connected := c.st == stateConnected
	c.mu.Unlock()
	if !connected {
		return
	}
	for _, s := range subs {
		if err := c.writeControl(conn, wire.Control{Action: wire.ActionUnsubscribe, ID: s.id, Topic: s.topic}); err != nil {
			c.logger.Error("broker unsubscribe failed", "topic", s.topic, "error", err)
		}
	}
}

// Disconnect terminates the connection, cancels the retry loop and drops all
// subscriptions and queued callbacks. The client cannot be reused.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.st == stateClosed {
		c.mu.Unlock()
		return
	}
	c.st = stateClosed
	conn := c.conn
	c.conn = nil
	c.subs = make(map[string]*subscription)
	c.pending = nil
	c.onUp = nil
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.logger.Info("broker disconnected")
}

// Connected reports whether the broker connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st == stateConnected
}

// run owns the connect/reconnect loop. One instance runs from the first
// Connect call until Disconnect.
func (c *Client) run() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		conn, _, err := c.dialer.Dial(c.cfg.URL, nil)
		if err != nil {
			c.logger.Warn("broker connect failed, retrying", "url", c.cfg.URL, "delay", c.cfg.RetryDelay, "error", err)
			select {
			case <-c.done:
				return
			case <-time.After(c.cfg.RetryDelay):
			}
			continue
		}

		c.mu.Lock()
		if c.st == stateClosed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.st = stateConnected
		c.conn = conn
		c.epoch++
		epoch := c.epoch
		pending := c.pending
		c.pending = nil
		callbacks := append([]func(){}, c.onUp...)
		c.mu.Unlock()

		c.logger.Info("broker connected", "url", c.cfg.URL)

		// Deferred subscriptions first, then the connected callbacks, so a
		// registry resubscribing in its callback observes a clean slate.
		for _, sub := range pending {
			sub.id = uuid.NewString()
			c.mu.Lock()
			c.subs[sub.id] = sub
			c.mu.Unlock()
			if err := c.writeControl(conn, wire.Control{Action: wire.ActionSubscribe, ID: sub.id, Topic: sub.topic}); err != nil {
				c.logger.Error("broker subscribe failed", "topic", sub.topic, "error", err)
			}
		}
		for _, cb := range callbacks {
			cb()
		}

		stopPing := make(chan struct{})
		go c.pingLoop(conn, stopPing)
		c.readLoop(conn, epoch)
		close(stopPing)

		c.mu.Lock()
		if c.st == stateClosed {
			c.mu.Unlock()
			return
		}
		// Server-side subscriptions died with the connection; the topic
		// registry restores them via its connected callback.
		c.st = stateConnecting
		c.conn = nil
		c.subs = make(map[string]*subscription)
		c.mu.Unlock()

		c.logger.Warn("broker connection lost, reconnecting", "delay", c.cfg.RetryDelay)
		select {
		case <-c.done:
			return
		case <-time.After(c.cfg.RetryDelay):
		}
	}
}

// readLoop delivers pushed events until the connection fails. The read
// deadline doubles as the heartbeat: a peer that stops answering pings stops
// extending it, and the failed read funnels into the reconnect path.
func (c *Client) readLoop(conn *websocket.Conn, epoch int) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var push wire.Push
		if err := conn.ReadJSON(&push); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error("broker read failed", "error", err)
			}
			_ = conn.Close()
			return
		}
		c.dispatch(push, epoch)
	}
}

// dispatch fans a push out to every handler subscribed to its topic.
// Handlers run on their own goroutines: they re-fetch state over the
// network and must not stall the read loop. Events for different topics may
// therefore be handled in any relative order.
func (c *Client) dispatch(push wire.Push, epoch int) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	var handlers []Handler
	for _, sub := range c.subs {
		if sub.topic == push.Topic && sub.handler != nil {
			handlers = append(handlers, sub.handler)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		go h(push.Topic, push.Data)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) writeControl(conn *websocket.Conn, frame wire.Control) error {
	if conn == nil {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}
