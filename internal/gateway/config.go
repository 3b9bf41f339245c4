package gateway

import (
	"os"
	"strconv"
	"strings"
)

// Config is the gateway's runtime configuration, loaded from env vars.
type Config struct {
	RedisAddr     string
	RedisPassword string
	ListenAddr    string
	EnabledTFs    []int
	TokenKeys     []string // "EXCHANGE:token" pairs
}

// LoadConfig reads the environment with dev-friendly defaults.
func LoadConfig() Config {
	return Config{
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envOr("REDIS_PASSWORD", ""),
		ListenAddr:    envOr("GATEWAY_ADDR", ":9090"),
		EnabledTFs:    parseTFList(envOr("ENABLED_TFS", "60,120,180,300")),
		TokenKeys:     parseTokenList(envOr("SUBSCRIBE_TOKENS", "1:99926000")),
	}
}

// parseTFList parses a comma-separated list of TF seconds, dropping
// anything non-numeric or non-positive.
func parseTFList(s string) []int {
	var tfs []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

// parseTokenList turns "1:99926000,3:500112" into exchange-prefixed keys
// ("NSE:99926000", "BSE:500112"). Unknown exchange codes default to NSE.
func parseTokenList(s string) []string {
	var keys []string
	for _, pair := range strings.Split(s, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			continue
		}
		keys = append(keys, exchangeName(parts[0])+":"+parts[1])
	}
	return keys
}

func exchangeName(code string) string {
	switch code {
	case "2":
		return "NFO"
	case "3":
		return "BSE"
	}
	return "NSE"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
