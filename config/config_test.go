package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "ws://localhost:9001/ws", cfg.FeedURL)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, ":8080", cfg.GatewayAddr)
	assert.Equal(t, int64(5), cfg.SlippageBps)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FEED_URL", "wss://feed.example.com/stream")
	t.Setenv("SLIPPAGE_BPS", "12")

	cfg := Load()

	assert.Equal(t, "wss://feed.example.com/stream", cfg.FeedURL)
	assert.Equal(t, int64(12), cfg.SlippageBps)
}

func TestParseTFs(t *testing.T) {
	cfg := &Config{EnabledTFs: "300, 60,bogus,120,-5"}
	assert.Equal(t, []int{60, 120, 300}, cfg.ParseTFs())
}

func TestParseTokens(t *testing.T) {
	cfg := &Config{SubscribeTokens: "NSE:99926000, NSE:2885,badtoken,"}
	assert.Equal(t, []string{"NSE:99926000", "NSE:2885"}, cfg.ParseTokens())
}

func TestRequireFeedAuth(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.RequireFeedAuth())

	cfg.FeedClientCode = "C123"
	require.Error(t, cfg.RequireFeedAuth())

	cfg.FeedTOTPSecret = "JBSWY3DPEHPK3PXP"
	require.NoError(t, cfg.RequireFeedAuth())
}
