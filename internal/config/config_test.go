package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MemoryTopK != 5 || cfg.MemoryTopN != 3 {
		t.Fatalf("TopK/TopN = %d/%d, want 5/3", cfg.MemoryTopK, cfg.MemoryTopN)
	}
	if cfg.MemoryDecayWindow != 30*24*time.Hour {
		t.Fatalf("MemoryDecayWindow = %v, want 720h", cfg.MemoryDecayWindow)
	}
	if cfg.ReportPolicy != "rolling" || cfg.ReportWindow != time.Hour {
		t.Fatalf("report policy = %q/%v, want rolling/1h", cfg.ReportPolicy, cfg.ReportWindow)
	}
	if cfg.MemoryRetention != 0 {
		t.Fatalf("MemoryRetention = %v, want unbounded", cfg.MemoryRetention)
	}
	if cfg.ReportLocation().String() != "Asia/Seoul" {
		t.Fatalf("ReportLocation() = %v, want Asia/Seoul", cfg.ReportLocation())
	}
}

func TestLoadDailyHourPolicy(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REPORT_POLICY", "daily_hour")
	t.Setenv("REPORT_HOUR", "9")
	t.Setenv("REPORT_TIMEZONE", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ReportHour != 9 {
		t.Fatalf("ReportHour = %d, want 9", cfg.ReportHour)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{"REPORT_POLICY", "hourly", "REPORT_POLICY"},
		{"MEMORY_INDEX", "milvus", "MEMORY_INDEX"},
		{"MEMORY_INDEX", "postgres", "requires DATABASE_URL"},
		{"GATEWAY_PROVIDER", "openai", "requires OPENAI_API_KEY"},
		{"COMPLETION_PROVIDER", "anthropic", "requires ANTHROPIC_API_KEY"},
		{"MEMORY_RETRIEVE_TOP_N", "9", "must not exceed"},
		{"REPORT_TIMEZONE", "Mars/Olympus", "REPORT_TIMEZONE"},
		{"MEMORY_RETENTION", "soon", "parse error"},
		{"REDACT_PII", "maybe", "expected bool"},
	}
	for _, tc := range cases {
		setCoreEnvEmpty(t)
		t.Setenv(tc.key, tc.value)
		_, err := Load()
		if err == nil {
			t.Fatalf("Load() with %s=%q error = nil, want error", tc.key, tc.value)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("Load() with %s=%q error = %v, want %q", tc.key, tc.value, err, tc.want)
		}
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_LOG_DEV",
		"TEARDOWN_TIMEOUT",
		"DATABASE_URL",
		"DATA_DIR",
		"MEMORY_INDEX",
		"MEMORY_EMBEDDING_DIM",
		"MEMORY_RETENTION",
		"MEMORY_RETRIEVE_TOP_K",
		"MEMORY_RETRIEVE_TOP_N",
		"MEMORY_DECAY_WINDOW",
		"EMBED_CACHE_SIZE",
		"GATEWAY_PROVIDER",
		"COMPLETION_PROVIDER",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_CHAT_MODEL",
		"OPENAI_EMBEDDING_MODEL",
		"OPENAI_TRANSCRIBE_MODEL",
		"TRANSCRIBE_LANGUAGE",
		"ANTHROPIC_API_KEY",
		"ANTHROPIC_MODEL",
		"PROMPTS_PATH",
		"REPORT_POLICY",
		"REPORT_WINDOW",
		"REPORT_HOUR",
		"REPORT_TIMEZONE",
		"REPORT_BATCH_CONCURRENCY",
		"REDACT_PII",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
