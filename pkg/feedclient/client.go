package feedclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"ta-enginev1/internal/model"
)

const (
	heartbeatInterval = 10 * time.Second
	writeDeadline     = 5 * time.Second
	authTimeout       = 10 * time.Second
)

// Config configures a feed client.
type Config struct {
	// URL of the feed WebSocket, e.g. "ws://localhost:9001/ws".
	URL string

	// Credentials for authenticated feeds; zero value skips the auth
	// handshake.
	Credentials Credentials

	// ReconnectDelay is the initial backoff before a reconnect attempt.
	// Doubles per failure up to MaxReconnectDelay. Defaults 2s / 30s.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Client is a reconnecting tick-feed WebSocket client. Subscriptions
// are remembered and replayed after every reconnect.
type Client struct {
	cfg   Config
	login *rate.Limiter

	mu     sync.Mutex
	conn   *websocket.Conn
	tokens map[string]struct{} // subscribed "EXCHANGE:TOKEN"

	// OnReconnect, when set, is called once per reconnect attempt.
	OnReconnect func()
}

// New validates the config and returns a Client. No connection is made
// until Run.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("feedclient: bad url %q: %w", cfg.URL, err)
	}
	return &Client{
		cfg:    cfg,
		login:  loginLimiter(),
		tokens: make(map[string]struct{}),
	}, nil
}

// Subscribe registers instruments ("EXCHANGE:TOKEN") and, when
// connected, sends the subscribe frame. Safe before Run: the tokens are
// sent on first connect.
func (c *Client) Subscribe(tokens ...string) error {
	c.mu.Lock()
	for _, t := range tokens {
		c.tokens[t] = struct{}{}
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.writeControl(conn, ControlMsg{Type: MsgSubscribe, Tokens: tokens})
}

// Unsubscribe removes instruments and notifies the feed when connected.
func (c *Client) Unsubscribe(tokens ...string) error {
	c.mu.Lock()
	for _, t := range tokens {
		delete(c.tokens, t)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.writeControl(conn, ControlMsg{Type: MsgUnsubscribe, Tokens: tokens})
}

// Run connects and streams ticks into tickCh until ctx is cancelled,
// reconnecting with exponential backoff on any failure.
func (c *Client) Run(ctx context.Context, tickCh chan<- model.Tick) error {
	delay := c.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := c.runOnce(ctx, tickCh)
		if err == nil {
			return nil // clean shutdown
		}

		log.Printf("[feedclient] disconnected (%v), reconnecting in %s", err, delay)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// runOnce performs one connect/auth/subscribe/read cycle. A nil return
// means ctx was cancelled.
func (c *Client) runOnce(ctx context.Context, tickCh chan<- model.Tick) error {
	if !c.cfg.Credentials.empty() {
		if err := waitLogin(ctx, c.login); err != nil {
			return nil // ctx cancelled while throttled
		}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := c.handshake(conn); err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	subs := make([]string, 0, len(c.tokens))
	for t := range c.tokens {
		subs = append(subs, t)
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	if len(subs) > 0 {
		if err := c.writeControl(conn, ControlMsg{Type: MsgSubscribe, Tokens: subs}); err != nil {
			return fmt.Errorf("resubscribe: %w", err)
		}
	}

	log.Printf("[feedclient] connected to %s (%d subscriptions)", c.cfg.URL, len(subs))

	// heartbeat and context watcher; closing the conn unblocks the
	// read loop
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go c.heartbeat(hbCtx, conn)
	go func() {
		<-hbCtx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	return c.readLoop(ctx, conn, tickCh)
}

// handshake performs the auth exchange when credentials are set.
func (c *Client) handshake(conn *websocket.Conn) error {
	if c.cfg.Credentials.empty() {
		return nil
	}

	frame, err := c.cfg.Credentials.authFrame()
	if err != nil {
		return err
	}
	if err := c.writeControl(conn, frame); err != nil {
		return fmt.Errorf("auth write: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(authTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var resp ControlMsg
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("auth read: %w", err)
	}
	if resp.Type != MsgAuthOK {
		return fmt.Errorf("auth rejected: %s", resp.Msg)
	}
	return nil
}

// readLoop decodes frames until error or cancellation. Ticks go to
// tickCh without blocking; control frames are logged.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, tickCh chan<- model.Tick) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		// control frames carry a "type"; ticks do not
		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(raw, &probe) == nil && probe.Type != "" {
			var ctrl ControlMsg
			if json.Unmarshal(raw, &ctrl) == nil && ctrl.Type == MsgError {
				log.Printf("[feedclient] server error: %s", ctrl.Msg)
			}
			continue
		}

		var tick model.Tick
		if err := json.Unmarshal(raw, &tick); err != nil {
			log.Printf("[feedclient] parse error: %v (raw: %s)", err, raw)
			continue
		}
		if tick.Token == "" {
			continue
		}

		select {
		case tickCh <- tick:
		default:
			log.Println("[feedclient] tickCh full, dropping tick")
		}
	}
}

// heartbeat sends pings until ctx is done; a failed write lets the read
// loop observe the broken socket.
func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				log.Printf("[feedclient] ping write error: %v", err)
				return
			}
		}
	}
}

func (c *Client) writeControl(conn *websocket.Conn, msg ControlMsg) error {
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteJSON(msg)
}
