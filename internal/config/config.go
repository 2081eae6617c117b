package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Config contains all runtime settings for the companion service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	TeardownTimeout          time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool
	LogLevel                 string
	LogDev                   bool

	DatabaseURL string
	DataDir     string
	// MemoryIndex selects the vector index backend: auto, postgres or chromem.
	MemoryIndex        string
	MemoryEmbeddingDim int
	// MemoryRetention bounds the age of stored memory records. Zero keeps everything.
	MemoryRetention     time.Duration
	MemoryTopK          int
	MemoryTopN          int
	MemoryDecayWindow   time.Duration
	EmbeddingCacheItems int

	GatewayProvider    string
	CompletionProvider string

	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIChatModel       string
	OpenAIEmbeddingModel  string
	OpenAITranscribeModel string
	TranscribeLanguage    string

	AnthropicAPIKey string
	AnthropicModel  string

	PromptsPath string

	ReportPolicy           string
	ReportWindow           time.Duration
	ReportHour             int
	ReportTimezone         string
	ReportBatchConcurrency int

	RedactPII bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:              envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:      envOrDefault("APP_METRICS_NAMESPACE", "companion"),
		LogLevel:              envOrDefault("APP_LOG_LEVEL", "info"),
		DatabaseURL:           stringsTrimSpace("DATABASE_URL"),
		DataDir:               stringsTrimSpace("DATA_DIR"),
		MemoryIndex:           strings.ToLower(envOrDefault("MEMORY_INDEX", "auto")),
		GatewayProvider:       strings.ToLower(envOrDefault("GATEWAY_PROVIDER", "auto")),
		CompletionProvider:    strings.ToLower(envOrDefault("COMPLETION_PROVIDER", "auto")),
		OpenAIAPIKey:          stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:         stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIChatModel:       envOrDefault("OPENAI_CHAT_MODEL", "gpt-4o"),
		OpenAIEmbeddingModel:  envOrDefault("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		OpenAITranscribeModel: envOrDefault("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		TranscribeLanguage:    envOrDefault("TRANSCRIBE_LANGUAGE", "ko"),
		AnthropicAPIKey:       stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicModel:        envOrDefault("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		PromptsPath:           envOrDefault("PROMPTS_PATH", "prompts.yaml"),
		ReportPolicy:          strings.ToLower(envOrDefault("REPORT_POLICY", "rolling")),
		ReportTimezone:        envOrDefault("REPORT_TIMEZONE", "Asia/Seoul"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		TeardownTimeout:          45 * time.Second,
		MemoryEmbeddingDim:       1536,
		MemoryTopK:               5,
		MemoryTopN:               3,
		MemoryDecayWindow:        30 * 24 * time.Hour,
		EmbeddingCacheItems:      4096,
		ReportWindow:             time.Hour,
		ReportHour:               17,
		ReportBatchConcurrency:   4,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"TEARDOWN_TIMEOUT", &cfg.TeardownTimeout},
		{"MEMORY_RETENTION", &cfg.MemoryRetention},
		{"MEMORY_DECAY_WINDOW", &cfg.MemoryDecayWindow},
		{"REPORT_WINDOW", &cfg.ReportWindow},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"MEMORY_EMBEDDING_DIM", &cfg.MemoryEmbeddingDim},
		{"MEMORY_RETRIEVE_TOP_K", &cfg.MemoryTopK},
		{"MEMORY_RETRIEVE_TOP_N", &cfg.MemoryTopN},
		{"EMBED_CACHE_SIZE", &cfg.EmbeddingCacheItems},
		{"REPORT_HOUR", &cfg.ReportHour},
		{"REPORT_BATCH_CONCURRENCY", &cfg.ReportBatchConcurrency},
	}
	for _, i := range ints {
		if *i.dst, err = intFromEnv(i.key, *i.dst); err != nil {
			return Config{}, err
		}
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false); err != nil {
		return Config{}, err
	}
	if cfg.LogDev, err = boolFromEnv("APP_LOG_DEV", false); err != nil {
		return Config{}, err
	}
	if cfg.RedactPII, err = boolFromEnv("REDACT_PII", false); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.TeardownTimeout <= 0 {
		return fmt.Errorf("TEARDOWN_TIMEOUT must be positive")
	}
	if cfg.MemoryEmbeddingDim <= 0 {
		return fmt.Errorf("MEMORY_EMBEDDING_DIM must be positive")
	}
	if cfg.MemoryRetention < 0 {
		return fmt.Errorf("MEMORY_RETENTION must be >= 0")
	}
	if cfg.MemoryTopK <= 0 || cfg.MemoryTopN <= 0 {
		return fmt.Errorf("MEMORY_RETRIEVE_TOP_K and MEMORY_RETRIEVE_TOP_N must be positive")
	}
	if cfg.MemoryTopN > cfg.MemoryTopK {
		return fmt.Errorf("MEMORY_RETRIEVE_TOP_N must not exceed MEMORY_RETRIEVE_TOP_K")
	}
	if cfg.MemoryDecayWindow <= 0 {
		return fmt.Errorf("MEMORY_DECAY_WINDOW must be positive")
	}
	if cfg.EmbeddingCacheItems < 0 {
		return fmt.Errorf("EMBED_CACHE_SIZE must be >= 0")
	}
	switch cfg.MemoryIndex {
	case "auto", "postgres", "chromem":
	default:
		return fmt.Errorf("MEMORY_INDEX must be one of auto, postgres, chromem")
	}
	if cfg.MemoryIndex == "postgres" && cfg.DatabaseURL == "" {
		return fmt.Errorf("MEMORY_INDEX=postgres requires DATABASE_URL")
	}
	switch cfg.GatewayProvider {
	case "auto", "openai", "mock":
	default:
		return fmt.Errorf("GATEWAY_PROVIDER must be one of auto, openai, mock")
	}
	switch cfg.CompletionProvider {
	case "auto", "openai", "anthropic", "mock":
	default:
		return fmt.Errorf("COMPLETION_PROVIDER must be one of auto, openai, anthropic, mock")
	}
	if cfg.GatewayProvider == "openai" && cfg.OpenAIAPIKey == "" {
		return fmt.Errorf("GATEWAY_PROVIDER=openai requires OPENAI_API_KEY")
	}
	if cfg.CompletionProvider == "anthropic" && cfg.AnthropicAPIKey == "" {
		return fmt.Errorf("COMPLETION_PROVIDER=anthropic requires ANTHROPIC_API_KEY")
	}
	switch cfg.ReportPolicy {
	case "rolling":
		if cfg.ReportWindow < time.Minute {
			return fmt.Errorf("REPORT_WINDOW must be at least 1m")
		}
	case "daily_hour":
		if cfg.ReportHour < 0 || cfg.ReportHour > 23 {
			return fmt.Errorf("REPORT_HOUR must be within 0..23")
		}
	default:
		return fmt.Errorf("REPORT_POLICY must be one of rolling, daily_hour")
	}
	if _, err := time.LoadLocation(cfg.ReportTimezone); err != nil {
		return fmt.Errorf("REPORT_TIMEZONE %q: %w", cfg.ReportTimezone, err)
	}
	if cfg.ReportBatchConcurrency <= 0 {
		return fmt.Errorf("REPORT_BATCH_CONCURRENCY must be positive")
	}
	return nil
}

// ReportLocation returns the reporting timezone. Load has already validated it.
func (cfg Config) ReportLocation() *time.Location {
	loc, err := time.LoadLocation(cfg.ReportTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
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

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
