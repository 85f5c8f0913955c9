package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ADDR", "DB_PATH", "LOG_LEVEL", "QUEUE_SIZE",
		"NOTIFICATION_COOLDOWN", "NOTIFICATION_TTL", "VOICE_SOURCE_TIMEOUT",
		"EXTRACTOR_URL", "EXTRACTOR_TIMEOUT", "NARRATOR_MODEL", "NARRATOR_TIMEOUT",
		"ARCHIVE_DIR", "GDRIVE_FOLDER_ID", "GOOGLE_CREDENTIALS_FILE",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "EXTRACTOR_API_KEY", "CONFIG",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "data/salon-coach.db" {
		t.Fatalf("expected default db_path, got %q", cfg.DBPath)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.QueueSize != 64 {
		t.Fatalf("expected default queue_size 64, got %d", cfg.QueueSize)
	}
	if cfg.ParsedNotificationCooldown() != 15*time.Second || cfg.ParsedNotificationTTL() != 15*time.Second {
		t.Fatalf("expected 15s cooldown and ttl, got %s and %s", cfg.ParsedNotificationCooldown(), cfg.ParsedNotificationTTL())
	}
	if cfg.NarratorModel != "openai/gpt-4o-mini" {
		t.Fatalf("expected default narrator_model, got %q", cfg.NarratorModel)
	}
	if cfg.ArchiveDir != "data/reports" {
		t.Fatalf("expected default archive_dir, got %q", cfg.ArchiveDir)
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
addr: 127.0.0.1:9000
db_path: /custom/db.sqlite
log_level: debug
queue_size: 16
notification_cooldown: 30s
voice_source_timeout: 3s
extractor_url: http://diarize:8000
narrator_model: anthropic/claude-sonnet-4-5
gdrive_folder_id: folder-123
`)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Addr != "127.0.0.1:9000" || cfg.DBPath != "/custom/db.sqlite" {
		t.Fatalf("unexpected addr/db_path: %q %q", cfg.Addr, cfg.DBPath)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", cfg.SlogLevel())
	}
	if cfg.QueueSize != 16 {
		t.Fatalf("expected queue_size 16, got %d", cfg.QueueSize)
	}
	if cfg.ParsedNotificationCooldown() != 30*time.Second {
		t.Fatalf("expected 30s cooldown, got %s", cfg.ParsedNotificationCooldown())
	}
	if cfg.ParsedVoiceSourceTimeout() != 3*time.Second {
		t.Fatalf("expected 3s voice source timeout, got %s", cfg.ParsedVoiceSourceTimeout())
	}
	if cfg.ExtractorURL != "http://diarize:8000" {
		t.Fatalf("expected extractor url, got %q", cfg.ExtractorURL)
	}
	if cfg.NarratorModel != "anthropic/claude-sonnet-4-5" {
		t.Fatalf("expected narrator model, got %q", cfg.NarratorModel)
	}
	if cfg.GDriveFolderID != "folder-123" {
		t.Fatalf("expected gdrive folder, got %q", cfg.GDriveFolderID)
	}
	if cfg.NotificationTTL != "15s" {
		t.Fatalf("expected unset ttl to keep default, got %q", cfg.NotificationTTL)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, "db_path: /yaml/db.sqlite\nqueue_size: 8\n")
	t.Setenv(EnvPrefix+"DB_PATH", "/env/db.sqlite")
	t.Setenv(EnvPrefix+"QUEUE_SIZE", "128")
	t.Setenv(EnvPrefix+"NOTIFICATION_TTL", "5s")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/env/db.sqlite" {
		t.Fatalf("expected env db_path, got %q", cfg.DBPath)
	}
	if cfg.QueueSize != 128 {
		t.Fatalf("expected env queue_size, got %d", cfg.QueueSize)
	}
	if cfg.ParsedNotificationTTL() != 5*time.Second {
		t.Fatalf("expected 5s ttl, got %s", cfg.ParsedNotificationTTL())
	}
}

func TestInvalidQueueSizeEnvIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"QUEUE_SIZE", "lots")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.QueueSize != 64 {
		t.Fatalf("expected default queue size, got %d", cfg.QueueSize)
	}
}

func TestSecretsFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "oai-secret")
	t.Setenv(EnvPrefix+"ANTHROPIC_API_KEY", "ant-secret")
	t.Setenv(EnvPrefix+"EXTRACTOR_API_KEY", "ext-secret")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.OpenAIAPIKey != "oai-secret" || cfg.AnthropicAPIKey != "ant-secret" || cfg.ExtractorAPIKey != "ext-secret" {
		t.Fatalf("expected secrets from env, got %+v", cfg)
	}
	if cfg.LLMKeys()["anthropic"] != "ant-secret" {
		t.Fatalf("expected anthropic key in LLM keys")
	}
}

func TestSecretsIgnoredInYAML(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
openai_api_key: should-be-ignored
extractor_api_key: also-ignored
`)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.OpenAIAPIKey != "" {
		t.Fatalf("expected empty openai key (yaml should be ignored), got %q", cfg.OpenAIAPIKey)
	}
	if cfg.ExtractorAPIKey != "" {
		t.Fatalf("expected empty extractor key (yaml should be ignored), got %q", cfg.ExtractorAPIKey)
	}
}

func TestValidationWarnings(t *testing.T) {
	clearEnv(t)

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d: %v", len(warnings), warnings)
	}
	if !strings.Contains(warnings[0], EnvPrefix+"OPENAI_API_KEY") {
		t.Fatalf("expected narrator key warning, got %q", warnings[0])
	}
	if !strings.Contains(warnings[1], "EXTRACTOR_URL") {
		t.Fatalf("expected extractor warning, got %q", warnings[1])
	}
}

func TestValidationNoWarningsWhenConfigured(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"GEMINI_API_KEY", "g-secret")
	t.Setenv(EnvPrefix+"NARRATOR_MODEL", "gemini/gemini-2.5-flash")
	t.Setenv(EnvPrefix+"EXTRACTOR_URL", "http://localhost:8000")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}

func TestInvalidDurationsWarnAndFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "oai-secret")
	t.Setenv(EnvPrefix+"EXTRACTOR_URL", "http://localhost:8000")
	t.Setenv(EnvPrefix+"NOTIFICATION_COOLDOWN", "soon")
	t.Setenv(EnvPrefix+"NARRATOR_TIMEOUT", "-1s")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", warnings)
	}
	if !strings.Contains(warnings[0], "notification_cooldown") || !strings.Contains(warnings[1], "narrator_timeout") {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if cfg.ParsedNotificationCooldown() != 15*time.Second {
		t.Fatalf("expected fallback cooldown, got %s", cfg.ParsedNotificationCooldown())
	}
	if cfg.ParsedNarratorTimeout() != 60*time.Second {
		t.Fatalf("expected fallback narrator timeout, got %s", cfg.ParsedNarratorTimeout())
	}
}

func TestInvalidNarratorModelWarning(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"NARRATOR_MODEL", "gpt-4o")
	t.Setenv(EnvPrefix+"EXTRACTOR_URL", "http://localhost:8000")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "narrator_model") {
		t.Fatalf("expected narrator model warning, got %v", warnings)
	}
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
	if cfg.DBPath != "data/salon-coach.db" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
}

func TestInvalidConfigFileReturnsError(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, "queue_size: [not, a, number\n")
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
