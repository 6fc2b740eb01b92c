package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultWorkflowID is the ChatKit workflow the health agent was published as.
const DefaultWorkflowID = "wf_690b57c50db08190b1b4a7d44e8f884a0d58893a1aea4892"

// ErrMissingCredential is returned by ValidateRelay when no provider API key is set.
var ErrMissingCredential = errors.New("OPENAI_API_KEY is not set")

// Config contains all runtime settings for the health relay service.
type Config struct {
	BindAddr            string
	ShutdownTimeout     time.Duration
	MetricsNamespace    string
	LogLevel            string
	MaxConcurrentRelays int
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	ChatKitWSBaseURL    string
	ChatKitWorkflowID   string
	RelayConnectTimeout time.Duration
	RelayWriteTimeout   time.Duration
	RelayStaleAfter     time.Duration
	DatabaseURL         string
	RecordsDefaultLimit int
	RecordsMaxLimit     int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "healthrelay"),
		LogLevel:            envOrDefault("APP_LOG_LEVEL", "info"),
		OpenAIAPIKey:        stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:       envOrDefault("OPENAI_BASE_URL", "https://api.openai.com"),
		ChatKitWSBaseURL:    envOrDefault("CHATKIT_WS_BASE_URL", "wss://api.openai.com"),
		ChatKitWorkflowID:   envOrDefault("CHATKIT_WORKFLOW_ID", DefaultWorkflowID),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		MaxConcurrentRelays: 64,
		RecordsDefaultLimit: 10,
		RecordsMaxLimit:     100,
		ShutdownTimeout:     15 * time.Second,
		RelayConnectTimeout: 10 * time.Second,
		RelayWriteTimeout:   5 * time.Second,
		RelayStaleAfter:     10 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RelayConnectTimeout, err = durationFromEnv("RELAY_CONNECT_TIMEOUT", cfg.RelayConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RelayWriteTimeout, err = durationFromEnv("RELAY_WRITE_TIMEOUT", cfg.RelayWriteTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RelayStaleAfter, err = durationFromEnv("RELAY_STALE_AFTER", cfg.RelayStaleAfter)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrentRelays, err = intFromEnv("APP_MAX_CONCURRENT_RELAYS", cfg.MaxConcurrentRelays)
	if err != nil {
		return Config{}, err
	}
	cfg.RecordsDefaultLimit, err = intFromEnv("RECORDS_DEFAULT_LIMIT", cfg.RecordsDefaultLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.RecordsMaxLimit, err = intFromEnv("RECORDS_MAX_LIMIT", cfg.RecordsMaxLimit)
	if err != nil {
		return Config{}, err
	}

	if cfg.RelayConnectTimeout < 100*time.Millisecond {
		return Config{}, fmt.Errorf("RELAY_CONNECT_TIMEOUT must be at least 100ms")
	}
	if cfg.RelayWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_WRITE_TIMEOUT must be positive")
	}
	if cfg.RelayStaleAfter < cfg.RelayConnectTimeout {
		return Config{}, fmt.Errorf("RELAY_STALE_AFTER must be >= RELAY_CONNECT_TIMEOUT")
	}
	if cfg.MaxConcurrentRelays <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_CONCURRENT_RELAYS must be positive")
	}
	if cfg.RecordsDefaultLimit <= 0 {
		return Config{}, fmt.Errorf("RECORDS_DEFAULT_LIMIT must be positive")
	}
	if cfg.RecordsMaxLimit < cfg.RecordsDefaultLimit {
		return Config{}, fmt.Errorf("RECORDS_MAX_LIMIT must be >= RECORDS_DEFAULT_LIMIT")
	}
	if strings.TrimSpace(cfg.ChatKitWorkflowID) == "" {
		return Config{}, fmt.Errorf("CHATKIT_WORKFLOW_ID must not be empty")
	}

	return cfg, nil
}

// ValidateRelay reports whether the relay can be served with this config.
// Callers check it once at startup; the rest of the service runs without it.
func (c Config) ValidateRelay() error {
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return ErrMissingCredential
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
