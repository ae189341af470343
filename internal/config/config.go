package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port               string
	CoinGeckoBaseURL   string
	RiskFreeRate       float64
	RebalanceThreshold float64
	ChartCacheTTL      time.Duration
	FetchTimeout       time.Duration
	TelegramToken      string
	TelegramChatID     int64
	OpenAIKey          string
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Load reads configuration from the environment. Nothing is required: the
// Telegram and OpenAI integrations stay disabled when their keys are unset.
func Load() Config {
	chatID, _ := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64)
	return Config{
		Port:               envOr("PORT", "8080"),
		CoinGeckoBaseURL:   envOr("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
		RiskFreeRate:       envFloat("RISK_FREE_RATE", 0.03),
		RebalanceThreshold: envFloat("REBALANCE_THRESHOLD", 0.05),
		ChartCacheTTL:      envDuration("CHART_CACHE_TTL", 60*time.Second),
		FetchTimeout:       envDuration("FETCH_TIMEOUT", 15*time.Second),
		TelegramToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:     chatID,
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
	}
}
