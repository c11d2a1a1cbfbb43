package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the query approval service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	// Memory store: postgres when set, in-memory otherwise.
	DatabaseURL string

	// Target database queries are generated for and executed against.
	TargetDBPath string

	GeneratorMode     string
	GeneratorURL      string
	GeneratorAPIKey   string
	GeneratorModel    string
	GenerationTimeout time.Duration
	ExecutionTimeout  time.Duration

	// TokenSecret signs decision tokens. When empty the process falls back
	// to an ephemeral secret and pending decisions do not survive restarts.
	TokenSecret string
	TokenTTL    time.Duration

	HistoryWindow         int
	MaxRegenerateAttempts int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "sqlsteward"),
		DatabaseURL:      trimSpaceEnv("DATABASE_URL"),
		TargetDBPath:     envOrDefault("TARGET_DB_PATH", "database.db"),
		GeneratorMode:    envOrDefault("GENERATOR_MODE", "auto"),
		GeneratorURL:     trimSpaceEnv("GENERATOR_URL"),
		GeneratorAPIKey:  trimSpaceEnv("GENERATOR_API_KEY"),
		GeneratorModel:   envOrDefault("GENERATOR_MODEL", "llama-3.1-8b-instant"),
		TokenSecret:      trimSpaceEnv("TOKEN_SECRET"),

		ShutdownTimeout:       15 * time.Second,
		GenerationTimeout:     60 * time.Second,
		ExecutionTimeout:      30 * time.Second,
		TokenTTL:              15 * time.Minute,
		HistoryWindow:         10,
		MaxRegenerateAttempts: 5,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GenerationTimeout, err = durationFromEnv("APP_GENERATION_TIMEOUT", cfg.GenerationTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ExecutionTimeout, err = durationFromEnv("APP_EXECUTION_TIMEOUT", cfg.ExecutionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenTTL, err = durationFromEnv("TOKEN_TTL", cfg.TokenTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryWindow, err = intFromEnv("MEMORY_HISTORY_WINDOW", cfg.HistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxRegenerateAttempts, err = intFromEnv("MAX_REGENERATE_ATTEMPTS", cfg.MaxRegenerateAttempts)
	if err != nil {
		return Config{}, err
	}

	if cfg.GenerationTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_GENERATION_TIMEOUT must be positive")
	}
	if cfg.ExecutionTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_EXECUTION_TIMEOUT must be positive")
	}
	if cfg.TokenTTL < time.Minute {
		return Config{}, fmt.Errorf("TOKEN_TTL must be at least 1m")
	}
	if cfg.HistoryWindow <= 0 {
		return Config{}, fmt.Errorf("MEMORY_HISTORY_WINDOW must be positive")
	}
	if cfg.MaxRegenerateAttempts < 0 {
		return Config{}, fmt.Errorf("MAX_REGENERATE_ATTEMPTS must be >= 0")
	}
	if cfg.TokenSecret != "" && len(cfg.TokenSecret) < 16 {
		return Config{}, fmt.Errorf("TOKEN_SECRET must be at least 16 bytes")
	}
	if strings.TrimSpace(cfg.TargetDBPath) == "" {
		return Config{}, fmt.Errorf("TARGET_DB_PATH must not be empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimSpaceEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimSpaceEnv(key)
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
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
