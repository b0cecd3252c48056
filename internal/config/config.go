// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the global process configuration, loaded once at startup.
type Config struct {
	// HTTP surface
	APIServerPort int
	JWTSecret     string

	// Database
	DBType     string // sqlite or postgres
	DBPath     string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// LLM
	LLMProvider string
	LLMAPIKey   string
	LLMModel    string
	LLMBaseURL  string

	// Market data providers
	AlpacaAPIKey    string
	AlpacaSecretKey string
	TwelveDataKey   string
	FinnhubAPIKey   string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string

	// Collector timeouts (seconds)
	CollectorTimeoutSec int
	MacroCacheTTLHours  int

	// Backtest safety wall-clock budgets (seconds)
	BacktestWallClockSec  int
	IndicatorWallClockSec int
}

var global *Config

// Load reads a .env file (if present) then populates Config from the
// environment, applying the documented defaults.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		APIServerPort:         8080,
		DBType:                "sqlite",
		DBPath:                "data/core.db",
		DBHost:                "localhost",
		DBPort:                5432,
		DBUser:                "postgres",
		DBName:                "quantcore",
		DBSSLMode:             "disable",
		LLMProvider:           "deepseek",
		CollectorTimeoutSec:   30,
		MacroCacheTTLHours:    6,
		BacktestWallClockSec:  60,
		IndicatorWallClockSec: 15,
	}

	if v := getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	} else {
		cfg.JWTSecret = "dev-secret-change-in-production"
	}

	strField(&cfg.DBType, "DB_TYPE")
	strField(&cfg.DBPath, "DB_PATH")
	strField(&cfg.DBHost, "DB_HOST")
	strField(&cfg.DBUser, "DB_USER")
	strField(&cfg.DBPassword, "DB_PASSWORD")
	strField(&cfg.DBName, "DB_NAME")
	strField(&cfg.DBSSLMode, "DB_SSLMODE")
	strField(&cfg.LLMProvider, "LLM_PROVIDER")
	strField(&cfg.LLMAPIKey, "LLM_API_KEY")
	strField(&cfg.LLMModel, "LLM_MODEL")
	strField(&cfg.LLMBaseURL, "LLM_BASE_URL")
	strField(&cfg.AlpacaAPIKey, "ALPACA_API_KEY")
	strField(&cfg.AlpacaSecretKey, "ALPACA_SECRET_KEY")
	strField(&cfg.TwelveDataKey, "TWELVEDATA_API_KEY")
	strField(&cfg.FinnhubAPIKey, "FINNHUB_API_KEY")
	strField(&cfg.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	strField(&cfg.TelegramChatID, "TELEGRAM_CHAT_ID")

	intField(&cfg.APIServerPort, "API_SERVER_PORT")
	intField(&cfg.DBPort, "DB_PORT")
	intField(&cfg.CollectorTimeoutSec, "COLLECTOR_TIMEOUT_SEC")
	intField(&cfg.MacroCacheTTLHours, "MACRO_CACHE_TTL_HOURS")
	intField(&cfg.BacktestWallClockSec, "BACKTEST_WALLCLOCK_SEC")
	intField(&cfg.IndicatorWallClockSec, "INDICATOR_WALLCLOCK_SEC")

	global = cfg
	return cfg
}

// Get returns the previously loaded global config, loading it if needed.
func Get() *Config {
	if global == nil {
		return Load()
	}
	return global
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func strField(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func intField(dst *int, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
