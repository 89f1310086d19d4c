package gateway

import "testing"

func TestIndicatorSpecToLabel(t *testing.T) {
	tests := []struct {
		spec IndicatorSpec
		want string
	}{
		{IndicatorSpec{ID: "sma", Params: map[string]int{"length": 9}}, "SMA(9)"},
		{IndicatorSpec{ID: "ema", Params: map[string]int{"length": 21}}, "EMA(21)"},
		{IndicatorSpec{ID: "rma", Params: map[string]int{"length": 14}}, "RMA(14)"},
		{IndicatorSpec{ID: "lwma", Params: map[string]int{"length": 9}}, "LWMA(9)"},
		{IndicatorSpec{ID: "RSI", Params: map[string]int{"length": 14}}, "RSI(14)"},
		{IndicatorSpec{ID: "ma", Params: map[string]int{"length": 9}}, "MA(9)"},
		{IndicatorSpec{ID: "sma"}, "SMA(14)"}, // missing length defaults to 14
	}
	for _, tt := range tests {
		if got := IndicatorSpecToLabel(tt.spec); got != tt.want {
			t.Errorf("IndicatorSpecToLabel(%q): got %q, want %q", tt.spec.ID, got, tt.want)
		}
	}
}

func TestIndicatorSpecToConfig(t *testing.T) {
	spec := IndicatorSpec{ID: "lwma", Params: map[string]int{"length": 21}}
	if got := IndicatorSpecToConfig(spec); got != "LWMA:21" {
		t.Errorf("got %q, want LWMA:21", got)
	}
}

func TestLabelToConfig(t *testing.T) {
	tests := []struct {
		label  string
		want   string
		wantOK bool
	}{
		{"SMA(9)", "SMA:9", true},
		{"LWMA(21)", "LWMA:21", true},
		{"RSI(14)", "RSI:14", true},
		{"SMA", "", false},
		{"SMA()", "", false},
		{"SMA(x)", "", false},
		{"(9)", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := LabelToConfig(tt.label)
		if ok != tt.wantOK {
			t.Errorf("LabelToConfig(%q): ok=%v, want %v", tt.label, ok, tt.wantOK)
			continue
		}
		if got != tt.want {
			t.Errorf("LabelToConfig(%q): got %q, want %q", tt.label, got, tt.want)
		}
	}
}

// Spec label conversion and label parsing must round-trip so the gateway's
// config publications agree with the labels the engine publishes under.
func TestLabelConfigRoundTrip(t *testing.T) {
	specs := []IndicatorSpec{
		{ID: "sma", Params: map[string]int{"length": 20}},
		{ID: "rma", Params: map[string]int{"length": 7}},
		{ID: "lwma", Params: map[string]int{"length": 50}},
	}
	for _, spec := range specs {
		label := IndicatorSpecToLabel(spec)
		config, ok := LabelToConfig(label)
		if !ok {
			t.Fatalf("label %q did not parse back", label)
		}
		if config != IndicatorSpecToConfig(spec) {
			t.Errorf("round trip mismatch: %q vs %q", config, IndicatorSpecToConfig(spec))
		}
	}
}

func TestResolveIndEntries(t *testing.T) {
	specs := []IndicatorSpec{
		{ID: "sma", Params: map[string]int{"length": 20}},
		{ID: "sma", Params: map[string]int{"length": 20}, TF: 300},
		{ID: "rsi", Params: map[string]int{"length": 14}},
	}

	entries := ResolveIndEntries(specs, 60)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	if entries[0].Key() != "SMA(20):60" {
		t.Errorf("entry 0 key: got %q, want SMA(20):60", entries[0].Key())
	}
	// Per-spec TF override must not collide with the default-TF entry.
	if entries[1].Key() != "SMA(20):300" {
		t.Errorf("entry 1 key: got %q, want SMA(20):300", entries[1].Key())
	}
	if entries[2].Key() != "RSI(14):60" {
		t.Errorf("entry 2 key: got %q, want RSI(14):60", entries[2].Key())
	}
}

func TestMatchesChannel(t *testing.T) {
	sub := &ClientSubscription{
		Symbol: "NSE:99926000",
		TF:     60,
		IndEntries: []IndEntry{
			{Name: "SMA(20)", TF: 60},
			{Name: "RSI(14)", TF: 300},
		},
	}
	c := &Client{subs: map[string]*ClientSubscription{sub.SubKey(): sub}}

	tests := []struct {
		channel string
		want    bool
	}{
		{"pub:candle:60s:NSE:99926000", true},
		{"pub:candle:300s:NSE:99926000", false}, // wrong TF
		{"pub:candle:60s:NSE:11111111", false},  // wrong token
		{"pub:ind:SMA(20):60s:NSE:99926000", true},
		{"pub:ind:SMA(20):300s:NSE:99926000", false}, // subscribed at 60, not 300
		{"pub:ind:RSI(14):300s:NSE:99926000", true},  // per-indicator TF override
		{"pub:ind:EMA(9):60s:NSE:99926000", false},   // not subscribed
		{"not-a-data-channel", true},                 // non-data channels always delivered
	}
	for _, tt := range tests {
		if got := c.matchesChannel(tt.channel); got != tt.want {
			t.Errorf("matchesChannel(%q): got %v, want %v", tt.channel, got, tt.want)
		}
	}
}

// A client with no subscriptions is in legacy mode and receives everything.
func TestMatchesChannel_LegacyMode(t *testing.T) {
	c := &Client{subs: map[string]*ClientSubscription{}}
	if !c.matchesChannel("pub:candle:60s:NSE:99926000") {
		t.Error("legacy client should receive candle channels")
	}
	if !c.matchesChannel("pub:ind:SMA(9):60s:NSE:99926000") {
		t.Error("legacy client should receive indicator channels")
	}
}
