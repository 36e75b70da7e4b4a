package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	SearchAPI SearchAPIConfig
	Scheduler SchedulerConfig
	Retention RetentionConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Path string // sqlite file path, ":memory:" for tests
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

// SearchAPIConfig holds credentials and tunables for the shopping search
// endpoint. ClientID/ClientSecret are the two opaque tokens issued with the
// API registration; their absence is a startup-time fatal error.
type SearchAPIConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	MaxRetries   int
	DelayMin     time.Duration // jittered pre-request delay bounds
	DelayMax     time.Duration
}

type SchedulerConfig struct {
	TickInterval     time.Duration
	Workers          int
	MaxRetries       int
	RetryDelay       time.Duration
	FailureThreshold int
	ScanDepth        int
	PageSize         int
}

type RetentionConfig struct {
	Horizon time.Duration // observations older than this are purged
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_PATH", "ranktrack.db")
	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("SEARCH_API_BASE_URL", "https://openapi.naver.com/v1/search/shop.json")
	viper.SetDefault("SEARCH_API_TIMEOUT", "30s")
	viper.SetDefault("SEARCH_API_MAX_RETRIES", 3)
	viper.SetDefault("SEARCH_API_DELAY_MIN", "300ms")
	viper.SetDefault("SEARCH_API_DELAY_MAX", "900ms")
	viper.SetDefault("SCHEDULER_TICK", "10m")
	viper.SetDefault("SCHEDULER_WORKERS", 3)
	viper.SetDefault("SCHEDULER_MAX_RETRIES", 2)
	viper.SetDefault("SCHEDULER_RETRY_DELAY", "30s")
	viper.SetDefault("SCHEDULER_FAILURE_THRESHOLD", 5)
	viper.SetDefault("SCAN_DEPTH", 1000)
	viper.SetDefault("SCAN_PAGE_SIZE", 100)
	viper.SetDefault("RETENTION_DAYS", 90)

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{
			Path: viper.GetString("DB_PATH"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		SearchAPI: SearchAPIConfig{
			BaseURL:      viper.GetString("SEARCH_API_BASE_URL"),
			ClientID:     viper.GetString("SEARCH_API_CLIENT_ID"),
			ClientSecret: viper.GetString("SEARCH_API_CLIENT_SECRET"),
			Timeout:      durationOr("SEARCH_API_TIMEOUT", 30*time.Second),
			MaxRetries:   viper.GetInt("SEARCH_API_MAX_RETRIES"),
			DelayMin:     durationOr("SEARCH_API_DELAY_MIN", 300*time.Millisecond),
			DelayMax:     durationOr("SEARCH_API_DELAY_MAX", 900*time.Millisecond),
		},
		Scheduler: SchedulerConfig{
			TickInterval:     durationOr("SCHEDULER_TICK", 10*time.Minute),
			Workers:          viper.GetInt("SCHEDULER_WORKERS"),
			MaxRetries:       viper.GetInt("SCHEDULER_MAX_RETRIES"),
			RetryDelay:       durationOr("SCHEDULER_RETRY_DELAY", 30*time.Second),
			FailureThreshold: viper.GetInt("SCHEDULER_FAILURE_THRESHOLD"),
			ScanDepth:        viper.GetInt("SCAN_DEPTH"),
			PageSize:         viper.GetInt("SCAN_PAGE_SIZE"),
		},
		Retention: RetentionConfig{
			Horizon: time.Duration(viper.GetInt("RETENTION_DAYS")) * 24 * time.Hour,
		},
	}

	if cfg.SearchAPI.ClientID == "" || cfg.SearchAPI.ClientSecret == "" {
		return nil, fmt.Errorf("SEARCH_API_CLIENT_ID and SEARCH_API_CLIENT_SECRET must be set")
	}
	if cfg.SearchAPI.DelayMax < cfg.SearchAPI.DelayMin {
		return nil, fmt.Errorf("SEARCH_API_DELAY_MAX must be >= SEARCH_API_DELAY_MIN")
	}

	return cfg, nil
}

func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		return fallback
	}
	return d
}
