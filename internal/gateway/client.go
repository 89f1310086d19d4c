package gateway

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	filters ClientFilters

	// Per-client subscriptions, keyed "symbol:tf".
	subMu sync.RWMutex
	subs  map[string]*ClientSubscription
}

// ClientFilters is the legacy receive-everything filter set. Clients that
// never send SUBSCRIBE fall back to these.
type ClientFilters struct {
	TFs        []int    `json:"tfs"`
	Tokens     []string `json:"tokens"`
	Indicators []string `json:"indicators"`
}

// sendInitialState replays the latest payload per channel so a reconnecting
// client catches up. lastTS (RFC3339Nano) skips entries the client already saw.
func (c *Client) sendInitialState(lastTS string) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}

		envelope, _ := json.Marshal(map[string]interface{}{
			"channel": channel,
			"data":    json.RawMessage(entry.Data),
			"ts":      entry.TS.Format(time.RFC3339Nano),
			"initial": true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued messages into one frame, newline-separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SUBSCRIBE":
			var subMsg SubscribeMsg
			if err := json.Unmarshal(msg, &subMsg); err != nil {
				SendError(c, "", "invalid SUBSCRIBE: "+err.Error())
				continue
			}
			go c.handleSubscribe(subMsg)

		case "UNSUBSCRIBE":
			var unsubMsg UnsubscribeMsg
			if err := json.Unmarshal(msg, &unsubMsg); err != nil {
				continue
			}
			c.handleUnsubscribe(unsubMsg)

		default:
			// App-level ping/pong for RTT measurement.
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
				continue
			}
			// Legacy: bare filter update.
			var filters ClientFilters
			if json.Unmarshal(msg, &filters) == nil {
				c.filters = filters
			}
		}
	}
}

// handleSubscribe processes a SUBSCRIBE message: registers the subscription,
// pushes any new indicator specs to the compute engine, waits for their
// streams to fill, then sends a SNAPSHOT.
func (c *Client) handleSubscribe(msg SubscribeMsg) {
	if msg.Symbol == "" || msg.TF <= 0 {
		SendError(c, msg.ReqID, "symbol and tf are required")
		return
	}

	indEntries := ResolveIndEntries(msg.Indicators, msg.TF)

	sub := &ClientSubscription{
		Symbol:     msg.Symbol,
		TF:         msg.TF,
		Indicators: msg.Indicators,
		IndEntries: indEntries,
	}

	c.subMu.Lock()
	if c.subs == nil {
		c.subs = make(map[string]*ClientSubscription)
	}
	c.subs[sub.SubKey()] = sub
	c.subMu.Unlock()

	indNames := make([]string, len(indEntries))
	for i, e := range indEntries {
		indNames[i] = e.Key()
	}
	log.Printf("[gateway] client subscribed: symbol=%s tf=%d indicators=%v",
		msg.Symbol, msg.TF, indNames)

	ctx := context.Background()
	hasNew := publishNewIndicators(ctx, c.hub.Rdb, c.hub, msg.Indicators)

	// New indicators need the engine to backfill their streams before the
	// snapshot is worth sending; known ones just need a readiness check.
	if len(sub.IndEntries) > 0 {
		timeout := 3 * time.Second
		if hasNew {
			timeout = 8 * time.Second
			log.Printf("[gateway] waiting for engine to compute new indicators...")
		}
		waitForIndicators(ctx, c.hub.Rdb, sub, timeout)
	}

	candleLimit := msg.History.Candles
	if candleLimit <= 0 {
		candleLimit = 500
	}

	snap, err := BuildSnapshotFromRedis(ctx, c.hub.Rdb, sub, candleLimit)
	if err != nil {
		SendError(c, msg.ReqID, "snapshot build failed: "+err.Error())
		return
	}
	snap.ReqID = msg.ReqID

	SendJSON(c, snap)
	log.Printf("[gateway] sent snapshot: symbol=%s tf=%d candles=%d indicators=%d",
		msg.Symbol, msg.TF, len(snap.Candles), len(snap.Indicators))
}

func (c *Client) handleUnsubscribe(msg UnsubscribeMsg) {
	sub := &ClientSubscription{Symbol: msg.Symbol, TF: msg.TF}
	c.subMu.Lock()
	delete(c.subs, sub.SubKey())
	c.subMu.Unlock()

	log.Printf("[gateway] client unsubscribed: symbol=%s tf=%d", msg.Symbol, msg.TF)
}

// matchesChannel reports whether this client should receive a message
// published on the given PubSub channel.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		// No subscriptions, legacy mode: receive everything.
		return true
	}

	parsed := parseChannel(channel)
	if parsed == nil {
		return true // non-data channel (metrics, config): always deliver
	}

	symbol := parsed.exchange + ":" + parsed.token
	for _, sub := range c.subs {
		if sub.Symbol != symbol {
			continue
		}
		// Candle channel must match the subscription's main TF.
		if parsed.chType == "candle" {
			if sub.TF == parsed.tf {
				return true
			}
			continue
		}
		// Indicator channel matches on both label and TF.
		if parsed.chType == "indicator" {
			for _, entry := range sub.IndEntries {
				if entry.Name == parsed.indName && entry.TF == parsed.tf {
					return true
				}
			}
		}
	}
	return false
}

// parsedChannel holds the components of a Redis PubSub channel name.
type parsedChannel struct {
	chType   string // "candle", "indicator", "tick"
	indName  string // for indicator channels: a label like "SMA(9)"
	tf       int    // timeframe in seconds
	exchange string // "NSE"
	token    string // "99926000"
}

// parseChannel parses channels of the forms
// "pub:candle:60s:NSE:99926000", "pub:ind:SMA(9):60s:NSE:99926000"
// and "pub:tick:NSE:99926000". Indicator labels never contain a colon,
// so a plain split is safe.
func parseChannel(channel string) *parsedChannel {
	parts := strings.Split(channel, ":")
	if len(parts) < 4 || parts[0] != "pub" {
		return nil
	}

	switch parts[1] {
	case "candle":
		if len(parts) < 5 {
			return nil
		}
		return &parsedChannel{
			chType:   "candle",
			tf:       parseTFStr(parts[2]),
			exchange: parts[3],
			token:    parts[4],
		}
	case "ind":
		if len(parts) < 6 {
			return nil
		}
		return &parsedChannel{
			chType:   "indicator",
			indName:  parts[2],
			tf:       parseTFStr(parts[3]),
			exchange: parts[4],
			token:    parts[5],
		}
	case "tick":
		return &parsedChannel{
			chType:   "tick",
			exchange: parts[2],
			token:    parts[3],
		}
	}

	return nil
}

// parseTFStr parses "60s" into 60.
func parseTFStr(s string) int {
	s = strings.TrimSuffix(s, "s")
	n := 0
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			n = n*10 + int(ch-'0')
		}
	}
	return n
}
