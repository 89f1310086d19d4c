package config

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Config holds service configuration loaded from environment variables.
// All services share one shape; each reads the fields it needs.
type Config struct {
	// Tick feed
	FeedURL        string
	FeedClientCode string
	FeedTOTPSecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	GatewayAddr   string

	// Indicator set in "TYPE:PERIOD" form, comma-separated. Empty keeps
	// the engine defaults.
	IndicatorConfigs string

	// Subscription, "EXCHANGE:TOKEN" entries comma-separated.
	SubscribeTokens string

	// Timeframes in seconds, comma-separated (e.g. "60,300,900").
	EnabledTFs string

	// Strategy runner; empty StrategyConfig disables it.
	StrategyConfig string
	TradeJournalDB string
	SlippageBps    int64

	// Notification backends; empty disables the backend.
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
	WebhookAuthToken string
}

// Load reads configuration from the environment with defaults suitable
// for local development against cmd/tickserver.
func Load() *Config {
	return &Config{
		FeedURL:        getEnv("FEED_URL", "ws://localhost:9001/ws"),
		FeedClientCode: getEnv("FEED_CLIENT_CODE", ""),
		FeedTOTPSecret: getEnv("FEED_TOTP_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),

		IndicatorConfigs: getEnv("INDICATOR_CONFIGS", ""),

		// Default: NIFTY 50 index on NSE
		SubscribeTokens: getEnv("SUBSCRIBE_TOKENS", "NSE:99926000"),

		EnabledTFs: getEnv("ENABLED_TFS", "60,120,180,300"),

		StrategyConfig: getEnv("STRATEGY_CONFIG", ""),
		TradeJournalDB: getEnv("TRADE_JOURNAL_DB", ""),
		SlippageBps:    getEnvInt64("SLIPPAGE_BPS", 5),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		WebhookAuthToken: getEnv("WEBHOOK_AUTH_TOKEN", ""),
	}
}

// RequireFeedAuth errors unless both feed credentials are set. Live
// feeds need them; the local tickserver does not.
func (c *Config) RequireFeedAuth() error {
	if c.FeedClientCode == "" || c.FeedTOTPSecret == "" {
		return fmt.Errorf("config: FEED_CLIENT_CODE and FEED_TOTP_SECRET must be set for an authenticated feed")
	}
	return nil
}

// ParseTFs parses EnabledTFs into sorted timeframe seconds. Invalid
// entries are skipped with a log line.
func (c *Config) ParseTFs() []int {
	parts := strings.Split(c.EnabledTFs, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid TF value: %q", p)
			continue
		}
		tfs = append(tfs, n)
	}
	sort.Ints(tfs)
	return tfs
}

// ParseTokens parses SubscribeTokens into "EXCHANGE:TOKEN" entries,
// skipping malformed ones.
func (c *Config) ParseTokens() []string {
	var tokens []string
	for _, p := range strings.Split(c.SubscribeTokens, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, ":") {
			log.Printf("[config] skipping malformed token spec %q, want EXCHANGE:TOKEN", p)
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
