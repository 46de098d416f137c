package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Exchange ExchangeConfig
	Scanner  ScannerConfig
	SSM      SSMConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	HTTPPort    int
	Environment string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type ExchangeConfig struct {
	BinanceAPIKey    string
	BinanceSecretKey string
	BybitMinDelay    time.Duration
}

type ScannerConfig struct {
	ProfilePath      string
	ScanInterval     time.Duration
	QuoteAsset       string
	ExchangeMarket   string
	TimeFrames       []string
	MaxScannedAssets int
	Blacklist        []string
	Whitelist        []string
}

type SSMConfig struct {
	TimeFrames []string
	Whitelist  []string
	Blacklist  []string
	HistoryLen int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:    getEnvInt("HTTP_PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Exchange: ExchangeConfig{
			BinanceAPIKey:    getEnv("BINANCE_API_KEY", ""),
			BinanceSecretKey: getEnv("BINANCE_SECRET_KEY", ""),
			BybitMinDelay:    parseDuration(getEnv("BYBIT_MIN_REQUEST_DELAY", "250ms"), 250*time.Millisecond),
		},
		Scanner: ScannerConfig{
			ProfilePath:      getEnv("SCAN_PROFILE_PATH", ""),
			ScanInterval:     parseDuration(getEnv("SCAN_INTERVAL", "1h"), time.Hour),
			QuoteAsset:       getEnv("SCAN_QUOTE_ASSET", "USDT"),
			ExchangeMarket:   getEnv("SCAN_EXCHANGE_MARKET", "binance_spot"),
			TimeFrames:       getEnvList("SCAN_TIME_FRAMES", []string{"1m", "5m", "1h"}),
			MaxScannedAssets: getEnvInt("SCAN_MAX_ASSETS", 50),
			Blacklist:        getEnvList("SCAN_BLACKLIST", nil),
			Whitelist:        getEnvList("SCAN_WHITELIST", nil),
		},
		SSM: SSMConfig{
			TimeFrames: getEnvList("SSM_TIME_FRAMES", []string{"1m", "5m", "1h"}),
			Whitelist:  getEnvList("SSM_WHITELIST", nil),
			Blacklist:  getEnvList("SSM_BLACKLIST", nil),
			HistoryLen: getEnvInt("SSM_HISTORY_LEN", 500),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scanner.QuoteAsset == "" {
		return fmt.Errorf("SCAN_QUOTE_ASSET is required")
	}
	if len(c.SSM.TimeFrames) == 0 {
		return fmt.Errorf("SSM_TIME_FRAMES is required")
	}
	if c.SSM.HistoryLen < 1 {
		return fmt.Errorf("SSM_HISTORY_LEN must be positive")
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required when REDIS_ENABLED is set")
	}
	return nil
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}
