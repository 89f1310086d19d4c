package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// ── WS protocol message types ──

// SubscribeMsg is the client → server SUBSCRIBE request.
type SubscribeMsg struct {
	Type       string          `json:"type"`       // "SUBSCRIBE"
	ReqID      string          `json:"reqId"`      // client-generated request ID
	Symbol     string          `json:"symbol"`     // e.g. "NSE:99926000"
	TF         int             `json:"tf"`         // timeframe in seconds
	History    HistoryRequest  `json:"history"`    // how many historical bars
	Indicators []IndicatorSpec `json:"indicators"` // indicator profile
}

// HistoryRequest specifies how many historical candles to fetch.
type HistoryRequest struct {
	Candles int `json:"candles"`
}

// IndicatorSpec describes a single indicator in the client's profile.
type IndicatorSpec struct {
	ID     string         `json:"id"`           // e.g. "sma", "ema", "rma", "lwma", "rsi"
	Source string         `json:"source"`       // e.g. "close", "high", "low"
	Params map[string]int `json:"params"`       // e.g. {"length": 21}
	TF     int            `json:"tf,omitempty"` // per-indicator TF override (seconds)
}

// UnsubscribeMsg is the client → server UNSUBSCRIBE request.
type UnsubscribeMsg struct {
	Type   string `json:"type"` // "UNSUBSCRIBE"
	ReqID  string `json:"reqId"`
	Symbol string `json:"symbol"`
	TF     int    `json:"tf"`
}

// SnapshotResponse is the server → client SNAPSHOT with historical data.
type SnapshotResponse struct {
	Type       string                        `json:"type"` // "SNAPSHOT"
	ReqID      string                        `json:"reqId"`
	Symbol     string                        `json:"symbol"`
	TF         int                           `json:"tf"`
	Candles    []SnapshotCandle              `json:"candles"`
	Indicators map[string][]SnapshotIndPoint `json:"indicators"`
}

// SnapshotCandle is a single candle in the snapshot.
type SnapshotCandle struct {
	TS     string  `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Count  float64 `json:"count"`
}

// SnapshotIndPoint is a single indicator point in the snapshot.
type SnapshotIndPoint struct {
	TS    string  `json:"ts"`
	Value float64 `json:"value"`
	Ready bool    `json:"ready"`
}

// LiveUpdate is the server → client LIVE message for a closed candle.
type LiveUpdate struct {
	Type       string                   `json:"type"` // "LIVE"
	Symbol     string                   `json:"symbol"`
	TF         int                      `json:"tf"`
	Candle     *SnapshotCandle          `json:"candle,omitempty"`
	Indicators map[string]*LiveIndValue `json:"indicators,omitempty"`
}

// LiveIndValue is a live indicator value.
type LiveIndValue struct {
	Value float64 `json:"value"`
	Ready bool    `json:"ready"`
	Live  bool    `json:"live,omitempty"`
}

// ErrorResponse is the server → client ERROR message.
type ErrorResponse struct {
	Type  string `json:"type"` // "ERROR"
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

// ── Subscription state ──

// IndEntry is a resolved indicator identity: display label plus timeframe.
type IndEntry struct {
	Name string
	TF   int
}

// Key returns the composite identity "LABEL:TF".
func (e IndEntry) Key() string {
	return e.Name + ":" + strconv.Itoa(e.TF)
}

// ClientSubscription holds per-(symbol, tf) state for a client.
type ClientSubscription struct {
	Symbol     string
	TF         int
	Indicators []IndicatorSpec
	IndEntries []IndEntry
}

// SubKey returns the map key for this subscription.
func (s *ClientSubscription) SubKey() string {
	return s.Symbol + ":" + strconv.Itoa(s.TF)
}

// ── Spec / label helpers ──

// specLength extracts the period from a spec's params, defaulting to 14.
func specLength(spec IndicatorSpec) int {
	if length, ok := spec.Params["length"]; ok && length > 0 {
		return length
	}
	return 14
}

// IndicatorSpecToLabel converts a spec like {id:"lwma", params:{length:21}}
// to the engine's display label "LWMA(21)", which is also the stream key
// segment the engine publishes under.
func IndicatorSpecToLabel(spec IndicatorSpec) string {
	return strings.ToUpper(spec.ID) + "(" + strconv.Itoa(specLength(spec)) + ")"
}

// IndicatorSpecToConfig converts a spec to the engine config form "TYPE:PERIOD".
func IndicatorSpecToConfig(spec IndicatorSpec) string {
	return strings.ToUpper(spec.ID) + ":" + strconv.Itoa(specLength(spec))
}

// LabelToConfig converts a display label "SMA(9)" to the config form "SMA:9".
// Returns false for strings that are not well-formed labels.
func LabelToConfig(label string) (string, bool) {
	open := strings.IndexByte(label, '(')
	if open <= 0 || !strings.HasSuffix(label, ")") {
		return "", false
	}
	period := label[open+1 : len(label)-1]
	if _, err := strconv.Atoi(period); err != nil {
		return "", false
	}
	return label[:open] + ":" + period, true
}

// ResolveIndEntries builds (label, tf) entries with composite identity so
// SMA(20)@60 and SMA(20)@300 don't collide. A spec without its own TF
// inherits the subscription's.
func ResolveIndEntries(specs []IndicatorSpec, defaultTF int) []IndEntry {
	entries := make([]IndEntry, len(specs))
	for i, spec := range specs {
		tf := defaultTF
		if spec.TF > 0 {
			tf = spec.TF
		}
		entries[i] = IndEntry{Name: IndicatorSpecToLabel(spec), TF: tf}
	}
	return entries
}

// ── Redis history fetching ──

// BuildSnapshotFromRedis reads historical candles and indicator points from
// the Redis streams backing a subscription.
func BuildSnapshotFromRedis(ctx context.Context, rdb *goredis.Client, sub *ClientSubscription, candleLimit int) (*SnapshotResponse, error) {
	if candleLimit <= 0 {
		candleLimit = 500
	}
	if candleLimit > 1000 {
		candleLimit = 1000
	}

	snap := &SnapshotResponse{
		Type:       "SNAPSHOT",
		Symbol:     sub.Symbol,
		TF:         sub.TF,
		Candles:    make([]SnapshotCandle, 0, candleLimit),
		Indicators: make(map[string][]SnapshotIndPoint, len(sub.IndEntries)),
	}

	candleStreamKey := fmt.Sprintf("candle:%ds:%s", sub.TF, sub.Symbol)
	candleMsgs, err := rdb.XRevRangeN(ctx, candleStreamKey, "+", "-", int64(candleLimit)).Result()
	if err != nil {
		log.Printf("[gateway] candle stream read error for %s: %v", candleStreamKey, err)
		// Tolerated: the snapshot ships with empty candles.
	} else {
		reverseMsgs(candleMsgs)
		for _, msg := range candleMsgs {
			dataStr, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}
			var c SnapshotCandle
			if err := json.Unmarshal([]byte(dataStr), &c); err != nil {
				continue
			}
			if c.TS != "" {
				snap.Candles = append(snap.Candles, c)
			}
		}
	}

	// Price band and time range of the visible candles, used below to drop
	// warmup-phase indicator values that would distort chart autoscaling.
	var bandLo, bandHi float64
	var candleTimeMin, candleTimeMax time.Time
	if len(snap.Candles) > 0 {
		bandLo = snap.Candles[0].Low
		bandHi = snap.Candles[0].High
		for _, c := range snap.Candles[1:] {
			if c.Low < bandLo {
				bandLo = c.Low
			}
			if c.High > bandHi {
				bandHi = c.High
			}
		}
		margin := (bandHi - bandLo) * 0.10
		bandLo -= margin
		bandHi += margin

		if t, err := time.Parse(time.RFC3339, snap.Candles[0].TS); err == nil {
			candleTimeMin = t.Add(-time.Duration(sub.TF) * time.Second)
		}
		if t, err := time.Parse(time.RFC3339, snap.Candles[len(snap.Candles)-1].TS); err == nil {
			candleTimeMax = t.Add(time.Duration(sub.TF) * time.Second)
		}
	}

	for _, entry := range sub.IndEntries {
		// Keyed "LABEL:TF" so the frontend knows each indicator's computation TF.
		snapKey := entry.Key()
		indStreamKey := fmt.Sprintf("ind:%s:%ds:%s", entry.Name, entry.TF, sub.Symbol)
		indMsgs, err := rdb.XRevRangeN(ctx, indStreamKey, "+", "-", int64(candleLimit)).Result()
		if err != nil {
			log.Printf("[gateway] indicator stream read error for %s: %v", indStreamKey, err)
			snap.Indicators[snapKey] = []SnapshotIndPoint{}
			continue
		}
		reverseMsgs(indMsgs)

		overlay := !strings.HasPrefix(entry.Name, "RSI") // RSI is 0-100, not price-scaled

		points := make([]SnapshotIndPoint, 0, len(indMsgs))
		for _, msg := range indMsgs {
			dataStr, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}
			var p SnapshotIndPoint
			if err := json.Unmarshal([]byte(dataStr), &p); err != nil {
				continue
			}
			if !p.Ready || p.TS == "" {
				continue
			}
			if overlay && bandHi > 0 && (p.Value < bandLo || p.Value > bandHi) {
				continue
			}
			if !candleTimeMin.IsZero() && !candleTimeMax.IsZero() {
				if pt, err := time.Parse(time.RFC3339, p.TS); err == nil {
					if pt.Before(candleTimeMin) || pt.After(candleTimeMax) {
						continue
					}
				}
			}
			points = append(points, p)
		}

		// Backfill recomputation can leave multiple entries per candle in the
		// stream, and batch inserts may be out of order: dedup by TS keeping
		// the last value, then sort chronologically.
		seen := make(map[string]int, len(points))
		deduped := make([]SnapshotIndPoint, 0, len(points))
		for _, pt := range points {
			if idx, ok := seen[pt.TS]; ok {
				deduped[idx] = pt
			} else {
				seen[pt.TS] = len(deduped)
				deduped = append(deduped, pt)
			}
		}
		sort.Slice(deduped, func(i, j int) bool {
			return deduped[i].TS < deduped[j].TS
		})

		snap.Indicators[snapKey] = deduped
	}

	return snap, nil
}

// reverseMsgs flips an XRevRange result into chronological order.
func reverseMsgs(msgs []goredis.XMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// SendJSON marshals and sends a message to the client's send channel.
func SendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] json marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Println("[gateway] client send buffer full, dropping message")
	}
}

// SendError sends an error response to the client.
func SendError(c *Client, reqID, errMsg string) {
	SendJSON(c, ErrorResponse{
		Type:  "ERROR",
		ReqID: reqID,
		Error: errMsg,
	})
}

// publishNewIndicators checks which of the requested indicators the compute
// engine doesn't run yet and publishes the full config set to the
// config:indicators channel. Returns true if anything new was added.
func publishNewIndicators(ctx context.Context, rdb *goredis.Client, hub *Hub, newSpecs []IndicatorSpec) bool {
	known := make(map[string]bool)
	var allConfigs []string

	hub.mu.RLock()
	indicators := make([]string, len(hub.Indicators))
	copy(indicators, hub.Indicators)
	hub.mu.RUnlock()

	for _, label := range indicators {
		if config, ok := LabelToConfig(label); ok {
			known[config] = true
			allConfigs = append(allConfigs, config)
		}
	}

	hasNew := false
	for _, spec := range newSpecs {
		config := IndicatorSpecToConfig(spec)
		if !known[config] {
			known[config] = true
			allConfigs = append(allConfigs, config)
			hub.mu.Lock()
			hub.Indicators = append(hub.Indicators, IndicatorSpecToLabel(spec))
			hub.mu.Unlock()
			hasNew = true
		}
	}

	if !hasNew {
		return false
	}

	payload := strings.Join(allConfigs, ",")
	log.Printf("[gateway] publishing new indicator config to engine: %s", payload)

	tctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Publish(tctx, "config:indicators", payload).Err(); err != nil {
		log.Printf("[gateway] WARNING: failed to publish config:indicators: %v", err)
	}
	return true
}

// waitForIndicators polls Redis until every subscribed indicator stream has
// data, or until the timeout expires. Gives the compute engine time to
// backfill after a dynamic config reload.
func waitForIndicators(ctx context.Context, rdb *goredis.Client, sub *ClientSubscription, timeout time.Duration) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			log.Printf("[gateway] timed out waiting for indicator streams")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			allReady := true
			for _, entry := range sub.IndEntries {
				key := fmt.Sprintf("ind:%s:%ds:%s", entry.Name, entry.TF, sub.Symbol)
				n, err := rdb.XLen(ctx, key).Result()
				if err != nil || n == 0 {
					allReady = false
					break
				}
			}
			if allReady {
				log.Printf("[gateway] all %d indicator streams ready", len(sub.IndEntries))
				return
			}
		}
	}
}
