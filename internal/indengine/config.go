package indengine

import (
	"log"
	"os"
	"strconv"
	"strings"

	"ta-enginev1/internal/indicator"
)

// Config holds the env-parsed configuration for the indicator engine
// service.
type Config struct {
	RedisAddr          string
	RedisPassword      string
	SQLitePath         string
	ConsumerGroup      string
	ConsumerName       string
	EnabledTFs         []int
	SnapshotIntervalS  int
	SubscribeTokenKeys []string // "EXCHANGE:TOKEN" keys
	SnapshotKey        string
	HTTPAddr           string
	PELIntervalS       int
	PELMinIdleMs       int64
	TFSpecs            []indicator.TFSpec
}

// LoadConfig reads the environment and returns a Config.
func LoadConfig() Config {
	snapshotInterval := envInt("SNAPSHOT_INTERVAL_SEC", 30)
	pelInterval := envInt("PEL_RECLAIM_INTERVAL_SEC", 30)
	pelMinIdle := int64(envInt("PEL_MIN_IDLE_MS", 60000))

	enabledTFs := parseTFs(getEnv("ENABLED_TFS", "60,120,180,300"))

	return Config{
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		SQLitePath:         getEnv("SQLITE_PATH", "data/candles.db"),
		ConsumerGroup:      getEnv("CONSUMER_GROUP", "indengine"),
		ConsumerName:       getEnv("CONSUMER_NAME", "worker-1"),
		EnabledTFs:         enabledTFs,
		SnapshotIntervalS:  snapshotInterval,
		SubscribeTokenKeys: parseTokenKeys(getEnv("SUBSCRIBE_TOKENS", "")),
		SnapshotKey:        getEnv("SNAPSHOT_KEY", "ind:snapshot:engine"),
		HTTPAddr:           getEnv("INDENGINE_HTTP_ADDR", ":9095"),
		PELIntervalS:       pelInterval,
		PELMinIdleMs:       pelMinIdle,
		TFSpecs:            BuildTFSpecs(enabledTFs),
	}
}

// BuildTFSpecs expands the MA_SPECS env var ("TYPE:PERIOD,TYPE:PERIOD,...")
// into one TFSpec per enabled TF. Empty input falls back to defaults.
func BuildTFSpecs(tfs []int) []indicator.TFSpec {
	specs := ParseMASpecs(getEnv("MA_SPECS", ""))
	out := make([]indicator.TFSpec, len(tfs))
	for i, tf := range tfs {
		out[i] = indicator.TFSpec{TF: tf, Specs: specs}
	}
	return out
}

// ParseMASpecs parses "TYPE:PERIOD,..." into MA specs. Invalid entries are
// skipped with a log line; an empty or fully-invalid input yields defaults
// covering each algorithm of the MA family plus RSI.
func ParseMASpecs(s string) []indicator.MASpec {
	if s == "" {
		return []indicator.MASpec{
			{Type: "SMA", Period: 9},
			{Type: "SMA", Period: 20},
			{Type: "EMA", Period: 9},
			{Type: "EMA", Period: 21},
			{Type: "RMA", Period: 14},
			{Type: "LWMA", Period: 9},
			{Type: "RSI", Period: 14},
		}
	}

	var specs []indicator.MASpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			continue
		}
		typ := strings.ToUpper(strings.TrimSpace(fields[0]))
		period, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || period < 1 {
			log.Printf("[indengine] skipping invalid MA spec: %q", part)
			continue
		}
		specs = append(specs, indicator.MASpec{Type: typ, Period: period})
	}
	if len(specs) == 0 {
		log.Println("[indengine] no valid MA specs parsed, using defaults")
		return ParseMASpecs("")
	}
	log.Printf("[indengine] loaded %d MA specs from MA_SPECS", len(specs))
	return specs
}

func parseTFs(s string) []int {
	parts := strings.Split(s, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

// parseTokenKeys normalizes "exchange:token,..." into upper-cased
// "EXCHANGE:TOKEN" keys.
func parseTokenKeys(s string) []string {
	if s == "" {
		return nil
	}
	var keys []string
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		keys = append(keys, strings.ToUpper(parts[0])+":"+parts[1])
	}
	return keys
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || n <= 0 {
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
