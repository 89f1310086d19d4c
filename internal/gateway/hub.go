package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"ta-enginev1/internal/markethours"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

// ActiveConfig holds the indicator set the frontend is currently charting.
type ActiveConfig struct {
	Entries []IndicatorEntry `json:"entries"`
}

// IndicatorEntry is a single charted indicator: a display label like
// "SMA(20)" plus the timeframe it is computed on.
type IndicatorEntry struct {
	Name  string `json:"name"`
	TF    int    `json:"tf"`
	Color string `json:"color,omitempty"`
}

// Hub manages WebSocket clients and Redis PubSub fan-out.
// It delegates to focused sub-components:
//   - PubSubRouter: Redis subscription + message routing
//   - Broadcaster: envelope construction + client-filtered fan-out
//   - ConfigStore: active indicator config CRUD + broadcast
type Hub struct {
	Rdb        *goredis.Client
	TFs        []int
	Tokens     []string
	Indicators []string // display labels, e.g. "SMA(9)", "LWMA(9)"

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection.
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill.
	replayBufs map[string]*ReplayBuffer

	activeConfig ActiveConfig

	Latency *LatencyTracker

	Router      *PubSubRouter
	Broadcaster *Broadcaster
	ConfigStore *ConfigStore
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates a Hub for the given timeframes, instrument tokens and
// indicator labels, and restores any persisted active config from Redis.
func NewHub(rdb *goredis.Client, tfs []int, tokens, indicators []string) *Hub {
	h := &Hub{
		Rdb:          rdb,
		TFs:          tfs,
		Tokens:       tokens,
		Indicators:   indicators,
		clients:      make(map[*Client]bool),
		latest:       make(map[string]latestEntry),
		channelSeqs:  make(map[string]int64),
		replayBufs:   make(map[string]*ReplayBuffer),
		Latency:      NewLatencyTracker(10000),
		activeConfig: ActiveConfig{Entries: []IndicatorEntry{}},
	}
	h.Router = NewPubSubRouter(h)
	h.Broadcaster = NewBroadcaster(h)
	h.ConfigStore = NewConfigStore(h, rdb)

	h.ConfigStore.Load(context.Background())

	return h
}

// GetActiveConfig delegates to ConfigStore.
func (h *Hub) GetActiveConfig() ActiveConfig {
	return h.ConfigStore.Get()
}

// SetActiveConfig delegates to ConfigStore.
func (h *Hub) SetActiveConfig(cfg ActiveConfig) {
	h.ConfigStore.Set(cfg)
}

// Run starts the PubSub subscription loops. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	if len(h.buildChannels()) == 0 {
		log.Println("[gateway] WARNING: no explicit channels configured, pattern subscription only")
		h.Router.RunPattern(ctx)
		return
	}

	go h.Router.RunPattern(ctx)
	h.Router.RunExplicit(ctx)
}

// buildChannels enumerates the explicit Pub/Sub channels for the configured
// indicator x timeframe x token grid, plus candle channels per TF and the
// 1s preview channel.
func (h *Hub) buildChannels() []string {
	var channels []string
	for _, ind := range h.Indicators {
		for _, tf := range h.TFs {
			for _, tok := range h.Tokens {
				channels = append(channels, fmt.Sprintf("pub:ind:%s:%ds:%s", ind, tf, tok))
			}
		}
	}
	for _, tf := range h.TFs {
		for _, tok := range h.Tokens {
			channels = append(channels, fmt.Sprintf("pub:candle:%ds:%s", tf, tok))
		}
	}
	for _, tok := range h.Tokens {
		channels = append(channels, fmt.Sprintf("pub:candle:1s:%s", tok))
	}
	return channels
}

func (h *Hub) broadcast(channel string, data []byte) {
	h.Broadcaster.Broadcast(channel, data)
}

// HandleWSRequest registers an upgraded WebSocket connection and starts
// its pumps.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastTS string) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]*ClientSubscription),
		filters: ClientFilters{
			TFs:    h.TFs,
			Tokens: h.Tokens,
		},
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
}

// RemoveClient unregisters a client and closes its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

// GetLatestAll returns a snapshot of the latest payload per channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns buffered envelopes for a channel with channel_seq
// in [fromSeq, toSeq]. Serves the /api/missed gap-backfill endpoint.
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartMetricsBroadcast pushes a system metrics envelope to every connected
// client on a 2s cadence. Blocks until ctx is cancelled.
func (h *Hub) StartMetricsBroadcast(ctx context.Context, start time.Time) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m := CollectMetrics(start)
			if v, ok := ReadComputeLatency(ctx, h.Rdb); ok {
				m.IndicatorMs = v
			}
			if h.Latency != nil {
				m.LatencyP50, m.LatencyP95, m.LatencyP99 = h.Latency.Percentiles()
			}
			envelope, _ := json.Marshal(map[string]interface{}{
				"type":         "metrics",
				"metrics":      m,
				"marketOpen":   markethours.IsMarketOpen(now),
				"marketStatus": markethours.StatusString(now),
			})
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- envelope:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
