package indengine

import (
	"log"
	"os"
	"strconv"
	"strings"

	"ta-systemv1/internal/indicator"
)

// Peek source selection: where live preview candles come from.
const (
	PeekSourceForming = "forming" // subscribe to forming-candle PubSub from the resampler
	PeekSource1s      = "1s"      // aggregate 1s candles locally into forming TF candles
	PeekSourceOff     = "off"
)

// Config holds all env-parsed configuration for the indicator engine service.
type Config struct {
	RedisAddr          string
	RedisPassword      string
	SQLitePath         string
	ConsumerGroup      string
	ConsumerName       string
	EnabledTFs         []int
	SnapshotIntervalS  int
	SubscribeTokenKeys []string // "exchange:token" keys
	SnapshotKey        string
	HTTPAddr           string
	PELIntervalS       int
	PELMinIdleMs       int64
	PeekSource         string
	ReloadTOTPSecret   string // base32 secret guarding POST /reload; empty disables the check
	MaxBufferedWrites  int    // results held locally while the Redis circuit is open
	IndicatorConfigs   []indicator.TFIndicatorConfig
}

// LoadConfig reads every knob from the environment. Unset or unparseable
// values fall back to the documented defaults rather than failing startup.
func LoadConfig() Config {
	enabledTFs := parseTFs(getEnv("ENABLED_TFS", "60,120,180,300"))

	return Config{
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		SQLitePath:         getEnv("SQLITE_PATH", "data/candles.db"),
		ConsumerGroup:      getEnv("CONSUMER_GROUP", "indengine"),
		ConsumerName:       getEnv("CONSUMER_NAME", "worker-1"),
		EnabledTFs:         enabledTFs,
		SnapshotIntervalS:  envPosInt("SNAPSHOT_INTERVAL_SEC", 30),
		SubscribeTokenKeys: parseTokenKeys(getEnv("SUBSCRIBE_TOKENS", "")),
		SnapshotKey:        getEnv("SNAPSHOT_KEY", "ind:snapshot:engine"),
		HTTPAddr:           getEnv("INDENGINE_HTTP_ADDR", ":9095"),
		PELIntervalS:       envPosInt("PEL_RECLAIM_INTERVAL_SEC", 30),
		PELMinIdleMs:       int64(envPosInt("PEL_MIN_IDLE_MS", 60000)),
		PeekSource:         loadPeekSource(),
		ReloadTOTPSecret:   getEnv("RELOAD_TOTP_SECRET", ""),
		MaxBufferedWrites:  envPosInt("MAX_BUFFERED_WRITES", 10000),
		IndicatorConfigs:   BuildIndicatorConfigs(enabledTFs),
	}
}

func loadPeekSource() string {
	src := strings.ToLower(getEnv("PEEK_SOURCE", PeekSourceForming))
	switch src {
	case PeekSourceForming, PeekSource1s, PeekSourceOff:
		return src
	}
	log.Printf("[indengine] unknown PEEK_SOURCE %q, using %q", src, PeekSourceForming)
	return PeekSourceForming
}

// BuildIndicatorConfigs attaches the INDICATOR_CONFIGS spec list to each
// enabled TF. Format: "TYPE:PARAM,TYPE:PARAM,..." where PARAM is a float
// threshold for CROSS_ABOVE/CROSS_BELOW and an integer period otherwise.
// Example: "SMA:9,HHV:20,LLV:20,FORECAST:14,CROSS_ABOVE:19500"
func BuildIndicatorConfigs(tfs []int) []indicator.TFIndicatorConfig {
	specs := ParseIndicatorSpecs(getEnv("INDICATOR_CONFIGS", ""))
	out := make([]indicator.TFIndicatorConfig, len(tfs))
	for i, tf := range tfs {
		out[i] = indicator.TFIndicatorConfig{TF: tf, Indicators: specs}
	}
	return out
}

func defaultIndicatorSpecs() []indicator.IndicatorConfig {
	return []indicator.IndicatorConfig{
		{Type: "SMA", Period: 9},
		{Type: "SMA", Period: 20},
		{Type: "HHV", Period: 20},
		{Type: "LLV", Period: 20},
		{Type: "FORECAST", Period: 14},
	}
}

// ParseIndicatorSpecs parses "TYPE:PARAM,..." into []IndicatorConfig.
// An empty string, or a string with no valid entries, yields the defaults.
func ParseIndicatorSpecs(s string) []indicator.IndicatorConfig {
	if s == "" {
		return defaultIndicatorSpecs()
	}

	var configs []indicator.IndicatorConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		cfg, ok := parseIndicatorSpec(part)
		if !ok {
			log.Printf("[indengine] skipping invalid indicator spec: %q", part)
			continue
		}
		configs = append(configs, cfg)
	}
	if len(configs) == 0 {
		log.Println("[indengine] WARNING: no valid indicators parsed, using defaults")
		return defaultIndicatorSpecs()
	}
	log.Printf("[indengine] loaded %d indicator specs from INDICATOR_CONFIGS", len(configs))
	return configs
}

func parseIndicatorSpec(part string) (indicator.IndicatorConfig, bool) {
	tokens := strings.SplitN(part, ":", 2)
	if len(tokens) != 2 {
		return indicator.IndicatorConfig{}, false
	}
	typ := strings.ToUpper(strings.TrimSpace(tokens[0]))
	param := strings.TrimSpace(tokens[1])

	if typ == "CROSS_ABOVE" || typ == "CROSS_BELOW" {
		threshold, err := strconv.ParseFloat(param, 64)
		if err != nil {
			return indicator.IndicatorConfig{}, false
		}
		return indicator.IndicatorConfig{Type: typ, Threshold: threshold}, true
	}
	period, err := strconv.Atoi(param)
	if err != nil || period <= 0 {
		return indicator.IndicatorConfig{}, false
	}
	return indicator.IndicatorConfig{Type: typ, Period: period}, true
}

func parseTFs(s string) []int {
	var tfs []int
	for _, p := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err == nil && n > 0 {
			tfs = append(tfs, n)
		}
	}
	return tfs
}

// exchangeNames maps the upstream feed's numeric exchange type.
var exchangeNames = map[string]string{"1": "NSE", "2": "NFO", "3": "BSE"}

// parseTokenKeys turns "exchangeType:token,..." into "exchange:token"
// keys. Unknown exchange types default to NSE.
func parseTokenKeys(s string) []string {
	if s == "" {
		return nil
	}
	var keys []string
	for _, pair := range strings.Split(s, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			continue
		}
		ex, ok := exchangeNames[parts[0]]
		if !ok {
			ex = "NSE"
		}
		keys = append(keys, ex+":"+parts[1])
	}
	return keys
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envPosInt reads an integer env var, falling back when the value is
// missing, unparseable, or not positive.
func envPosInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
