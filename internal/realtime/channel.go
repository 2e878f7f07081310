// Package realtime maintains the push channel to the backend over a
// WebSocket. The channel is an optimization: everything it delivers can
// also be obtained by polling, so connection failures degrade service
// rather than break it. Reconnection uses exponential backoff bounded by
// a maximum attempt count, after which the channel goes terminal and the
// caller falls back to polling for the rest of the session.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lockbox/client-go/internal/api"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second

	DefaultReconnectWait        = 3 * time.Second
	DefaultMaxReconnectAttempts = 8
)

// State describes the channel lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateFailed is terminal: the reconnect budget is exhausted and the
	// channel will not try again until the next Connect call.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Notification is a non-message push event, e.g. an incoming chat request.
type Notification struct {
	Kind     string
	FromUser string
}

// Handlers receives push events. Nil fields are skipped. Callbacks run on
// the channel's read goroutine and must not block.
type Handlers struct {
	OnMessage     func(api.MessageRecord)
	OnChatRequest func(Notification)
	OnStateChange func(State)
}

// Config configures a Channel.
type Config struct {
	// BaseURL is the backend's HTTP base URL; the channel derives the
	// WebSocket endpoint from it.
	BaseURL string
	Logger  *slog.Logger
	Dialer  *websocket.Dialer

	// ReconnectWait is the initial backoff delay; it doubles per attempt.
	ReconnectWait time.Duration
	// MaxReconnectAttempts bounds consecutive failed connection attempts.
	MaxReconnectAttempts int
}

// Channel is a reconnecting WebSocket push channel.
type Channel struct {
	baseURL       string
	dialer        *websocket.Dialer
	logger        *slog.Logger
	reconnectWait time.Duration
	maxAttempts   int

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	conn     *websocket.Conn
	writeMu  sync.Mutex
	handlers Handlers
}

// New builds a channel. Connect must be called before any events flow.
func New(cfg Config) *Channel {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = DefaultReconnectWait
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReconnectAttempts
	}
	return &Channel{
		baseURL:       cfg.BaseURL,
		dialer:        dialer,
		logger:        logger,
		reconnectWait: wait,
		maxAttempts:   maxAttempts,
	}
}

// State reports the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop for the given session. It returns
// immediately; connection progress is reported via Handlers.OnStateChange.
// Calling Connect on a live channel restarts it with the new session.
func (c *Channel) Connect(ctx context.Context, userID, token string, handlers Handlers) error {
	endpoint, err := c.endpointURL(userID, token)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.handlers = handlers
	c.mu.Unlock()

	go c.connectLoop(ctx, endpoint)
	return nil
}

// Disconnect closes the connection with a normal close frame and cancels
// any pending reconnect attempts. It is safe to call repeatedly.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.setState(StateDisconnected)
}

func (c *Channel) endpointURL(userID, token string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", c.baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(userID)
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

func (c *Channel) connectLoop(ctx context.Context, endpoint string) {
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.setState(StateConnecting)
		err := c.runConnection(ctx, endpoint)
		if err == nil || ctx.Err() != nil {
			// Deliberate disconnect.
			return
		}

		attempts++
		if attempts >= c.maxAttempts {
			c.logger.Warn("push channel gave up reconnecting",
				"attempts", attempts)
			c.setState(StateFailed)
			return
		}

		wait := c.reconnectWait * time.Duration(1<<(attempts-1))
		c.logger.Debug("push channel reconnecting",
			"attempt", attempts, "wait", wait, "error", err)
		c.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// runConnection dials and services one connection. A nil return means the
// connection ended deliberately; any error triggers the reconnect path.
func (c *Channel) runConnection(ctx context.Context, endpoint string) error {
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.pingLoop(pingCtx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(data)
	}
}

// pingLoop keeps the connection alive. The application-level ping mirrors
// the backend's expectation; it answers with a pong frame we ignore.
func (c *Channel) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ping, _ := json.Marshal(frame{Type: "ping"})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.TextMessage, ping)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// frame is the backend's push envelope: the payload rides in "data",
// whose shape depends on the frame type.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// notificationData is the "data" payload of a notification frame.
type notificationData struct {
	Type       string `json:"type"`
	FromUserID string `json:"from_user_id"`
}

func (c *Channel) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Debug("push channel dropped malformed frame", "error", err)
		return
	}

	c.mu.Lock()
	handlers := c.handlers
	c.mu.Unlock()

	switch f.Type {
	case "new_message":
		var rec api.MessageRecord
		if len(f.Data) == 0 || json.Unmarshal(f.Data, &rec) != nil {
			c.logger.Debug("push channel dropped new_message without payload")
			return
		}
		if handlers.OnMessage != nil {
			handlers.OnMessage(rec)
		}
	case "notification":
		var n notificationData
		if len(f.Data) == 0 || json.Unmarshal(f.Data, &n) != nil {
			c.logger.Debug("push channel dropped malformed notification")
			return
		}
		if n.Type == "chat_request" && handlers.OnChatRequest != nil {
			handlers.OnChatRequest(Notification{
				Kind:     n.Type,
				FromUser: n.FromUserID,
			})
		}
	case "pong":
		// Keepalive reply, nothing to do.
	default:
		c.logger.Debug("push channel ignored frame", "type", f.Type)
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	handler := c.handlers.OnStateChange
	c.mu.Unlock()

	if handler != nil {
		handler(s)
	}
}
