// cmd/tickserver is a simulated tick feed speaking the feedclient
// protocol: optional TOTP auth, subscribe/unsubscribe control frames,
// plain model.Tick JSON for data. Prices random-walk in paise.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  : listen address (default ":9001")
//	TICK_TOKENS       : comma-separated EXCHANGE:TOKEN pairs (default "NSE:99926000")
//	TICK_INTERVAL_MS  : broadcast interval milliseconds (default 100)
//	FEED_TOTP_SECRET  : when set, clients must authenticate with a valid code
//	FEED_CLIENT_CODE  : when set alongside the secret, the client code must match
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"ta-enginev1/internal/model"
	"ta-enginev1/pkg/feedclient"
)

// tickMsg mirrors model.Tick for JSON serialisation.
type tickMsg struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	Price    int64     `json:"price"` // paise
	Qty      int64     `json:"qty"`
	TickTS   time.Time `json:"tick_ts"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	model.Instrument
	Price int64 // current simulated price, paise
}

// client is one connected feed consumer. An empty subscription set
// receives every instrument.
type client struct {
	send chan []byte

	mu   sync.Mutex
	subs map[string]struct{}
}

func (c *client) wants(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) == 0 {
		return true
	}
	_, ok := c.subs[key]
	return ok
}

func (c *client) updateSubs(tokens []string, add bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tokens {
		if add {
			c.subs[t] = struct{}{}
		} else {
			delete(c.subs, t)
		}
	}
}

type hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// broadcast fans a tick out to every subscribed client, dropping it for
// clients whose send buffer is full.
func (h *hub) broadcast(key string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(key) {
			continue
		}
		select {
		case c.send <- msg:
		default: // slow client
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// authCheck validates the login frame against the configured secret.
type authCheck struct {
	totpSecret string
	clientCode string
}

func (a authCheck) enabled() bool { return a.totpSecret != "" }

func (a authCheck) verify(msg feedclient.ControlMsg) error {
	if a.clientCode != "" && msg.ClientCode != a.clientCode {
		return fmt.Errorf("unknown client code")
	}
	if !totp.Validate(msg.TOTP, a.totpSecret) {
		return fmt.Errorf("invalid TOTP code")
	}
	return nil
}

func wsHandler(h *hub, auth authCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		if auth.enabled() {
			if err := doAuth(conn, auth); err != nil {
				log.Printf("[tickserver] auth failed for %s: %v", r.RemoteAddr, err)
				conn.Close()
				return
			}
		}

		c := &client{
			send: make(chan []byte, 256),
			subs: make(map[string]struct{}),
		}
		h.register(c)

		// read pump: control frames update the subscription set
		go func() {
			defer func() {
				h.unregister(c)
				conn.Close()
				log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
			}()
			for {
				var msg feedclient.ControlMsg
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				switch msg.Type {
				case feedclient.MsgSubscribe:
					c.updateSubs(msg.Tokens, true)
				case feedclient.MsgUnsubscribe:
					c.updateSubs(msg.Tokens, false)
				}
			}
		}()

		// write pump
		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// doAuth reads the login frame and answers auth_ok or an error frame.
func doAuth(conn *websocket.Conn, auth authCheck) error {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	var msg feedclient.ControlMsg
	if err := conn.ReadJSON(&msg); err != nil {
		return err
	}
	if msg.Type != feedclient.MsgAuth {
		return fmt.Errorf("expected auth frame, got %q", msg.Type)
	}
	if err := auth.verify(msg); err != nil {
		conn.WriteJSON(feedclient.ControlMsg{Type: feedclient.MsgError, Msg: err.Error()})
		return err
	}
	return conn.WriteJSON(feedclient.ControlMsg{Type: feedclient.MsgAuthOK})
}

// walkPrice applies a ±0.1% random walk step, snapped to the
// instrument's tick size.
func walkPrice(rng *rand.Rand, price, tickSize int64) int64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := price + int64(float64(price)*pct)
	if tickSize > 1 {
		next = (next / tickSize) * tickSize
	}
	if next < 100 { // floor at 1 paisa
		next = 100
	}
	return next
}

func runGenerator(h *hub, instruments []instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for range ticker.C {
		for i := range instruments {
			ins := &instruments[i]
			ins.Price = walkPrice(rng, ins.Price, ins.TickSize)
			b, err := json.Marshal(tickMsg{
				Token:    ins.Token,
				Exchange: ins.Exchange,
				Price:    ins.Price,
				Qty:      int64(rng.Intn(100)+1) * int64(ins.LotSize),
				TickTS:   time.Now().UTC(),
			})
			if err != nil {
				continue
			}
			h.broadcast(ins.Key(), b)
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting simulated tick feed...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	tokensEnv := envOrDefault("TICK_TOKENS", "NSE:99926000")
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 100)
	auth := authCheck{
		totpSecret: os.Getenv("FEED_TOTP_SECRET"),
		clientCode: os.Getenv("FEED_CLIENT_CODE"),
	}

	instruments := parseInstruments(tokensEnv)
	if len(instruments) == 0 {
		log.Fatal("[tickserver] no instruments configured via TICK_TOKENS")
	}
	log.Printf("[tickserver] instruments: %+v, interval: %dms, auth: %v",
		instruments, intervalMs, auth.enabled())

	h := newHub()
	go runGenerator(h, instruments, intervalMs)

	http.HandleFunc("/ws", wsHandler(h, auth))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] listening on %s (ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// catalog carries metadata and a plausible starting price for the known
// simulation tokens.
var catalog = map[string]struct {
	meta  model.Instrument
	price int64
}{
	"2885": {
		meta:  model.Instrument{TradingSymbol: "RELIANCE-EQ", Name: "Reliance Industries", InstrumentType: "EQ", LotSize: 1, TickSize: 5},
		price: 185050_00,
	},
	"1594": {
		meta:  model.Instrument{TradingSymbol: "INFY-EQ", Name: "Infosys", InstrumentType: "EQ", LotSize: 1, TickSize: 5},
		price: 250000_00,
	},
	"99926000": {
		meta:  model.Instrument{TradingSymbol: "NIFTY 50", Name: "NIFTY 50 Index", InstrumentType: "EQ", LotSize: 1, TickSize: 5},
		price: 25660_00,
	},
}

// parseInstruments expands EXCHANGE:TOKEN pairs using the catalog, with
// generic defaults for unknown tokens.
func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		seg := strings.SplitN(part, ":", 2)
		if len(seg) != 2 {
			log.Printf("[tickserver] skipping invalid token spec: %q", part)
			continue
		}
		exchange, token := strings.TrimSpace(seg[0]), strings.TrimSpace(seg[1])

		entry, known := catalog[token]
		if !known {
			entry.meta = model.Instrument{TradingSymbol: token, InstrumentType: "EQ", LotSize: 1, TickSize: 5}
			entry.price = 100000_00 // ₹1000.00
		}
		meta := entry.meta
		meta.Token = token
		meta.Exchange = exchange
		result = append(result, instrument{Instrument: meta, Price: entry.price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
