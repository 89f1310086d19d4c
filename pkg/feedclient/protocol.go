// Package feedclient implements the WebSocket client side of the tick
// feed protocol spoken by cmd/tickserver and compatible feeds.
//
// The wire carries two message shapes. Control frames are JSON objects
// with a "type" field ("auth", "auth_ok", "subscribe", "error"); tick
// frames are plain model.Tick JSON:
//
//	{"token":"2885","exchange":"NSE","price":185005000,"qty":10,"tick_ts":"..."}
//
// Prices are paise, same convention as the rest of the pipeline.
package feedclient

// control frame types
const (
	MsgAuth        = "auth"
	MsgAuthOK      = "auth_ok"
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgError       = "error"
)

// ControlMsg is a non-tick frame in either direction.
type ControlMsg struct {
	Type       string   `json:"type"`
	ClientCode string   `json:"client_code,omitempty"`
	TOTP       string   `json:"totp,omitempty"`
	Tokens     []string `json:"tokens,omitempty"` // "EXCHANGE:TOKEN"
	Msg        string   `json:"msg,omitempty"`
}
