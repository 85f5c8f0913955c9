package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sjawhar/salon-coach/internal/llm"
)

// EnvPrefix is the namespace prefix for all salon-coach environment variables.
const EnvPrefix = "SALON_COACH_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	Addr     string `yaml:"addr"`
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	QueueSize            int    `yaml:"queue_size"`
	NotificationCooldown string `yaml:"notification_cooldown"`
	NotificationTTL      string `yaml:"notification_ttl"`
	VoiceSourceTimeout   string `yaml:"voice_source_timeout"`

	ExtractorURL     string `yaml:"extractor_url"`
	ExtractorTimeout string `yaml:"extractor_timeout"`

	NarratorModel   string `yaml:"narrator_model"`
	NarratorTimeout string `yaml:"narrator_timeout"`

	ArchiveDir            string `yaml:"archive_dir"`
	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets: env vars only, never serialized to YAML.
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
	ExtractorAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		Addr:                  ":8080",
		DBPath:                "data/salon-coach.db",
		LogLevel:              "info",
		QueueSize:             64,
		NotificationCooldown:  "15s",
		NotificationTTL:       "15s",
		VoiceSourceTimeout:    "10s",
		ExtractorTimeout:      "30s",
		NarratorModel:         "openai/gpt-4o-mini",
		NarratorTimeout:       "60s",
		ArchiveDir:            "data/reports",
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

func (c *Config) ParsedNotificationCooldown() time.Duration {
	return parseDuration(c.NotificationCooldown, 15*time.Second)
}

func (c *Config) ParsedNotificationTTL() time.Duration {
	return parseDuration(c.NotificationTTL, 15*time.Second)
}

func (c *Config) ParsedVoiceSourceTimeout() time.Duration {
	return parseDuration(c.VoiceSourceTimeout, 10*time.Second)
}

func (c *Config) ParsedExtractorTimeout() time.Duration {
	return parseDuration(c.ExtractorTimeout, 30*time.Second)
}

func (c *Config) ParsedNarratorTimeout() time.Duration {
	return parseDuration(c.NarratorTimeout, 60*time.Second)
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LLMKeys returns the configured provider keys for the narrator.
func (c *Config) LLMKeys() llm.Keys {
	return llm.Keys{
		"openai":    c.OpenAIAPIKey,
		"anthropic": c.AnthropicAPIKey,
		"gemini":    c.GeminiAPIKey,
	}
}

func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"ADDR":                    &cfg.Addr,
		"DB_PATH":                 &cfg.DBPath,
		"LOG_LEVEL":               &cfg.LogLevel,
		"NOTIFICATION_COOLDOWN":   &cfg.NotificationCooldown,
		"NOTIFICATION_TTL":        &cfg.NotificationTTL,
		"VOICE_SOURCE_TIMEOUT":    &cfg.VoiceSourceTimeout,
		"EXTRACTOR_URL":           &cfg.ExtractorURL,
		"EXTRACTOR_TIMEOUT":       &cfg.ExtractorTimeout,
		"NARRATOR_MODEL":          &cfg.NarratorModel,
		"NARRATOR_TIMEOUT":        &cfg.NarratorTimeout,
		"ARCHIVE_DIR":             &cfg.ArchiveDir,
		"GDRIVE_FOLDER_ID":        &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE": &cfg.GoogleCredentialsFile,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv(EnvPrefix + "QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.QueueSize = n
		}
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.ExtractorAPIKey = os.Getenv(EnvPrefix + "EXTRACTOR_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.NarratorModel != "" {
		provider, _, err := llm.ParseModel(cfg.NarratorModel)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("Invalid narrator_model %q: report summaries are disabled.", cfg.NarratorModel))
		case strings.TrimSpace(cfg.LLMKeys()[provider]) == "":
			warnings = append(warnings, fmt.Sprintf("No %s API key configured: report summaries are disabled. Set %s%s_API_KEY.",
				provider, EnvPrefix, strings.ToUpper(provider)))
		}
	}
	if cfg.ExtractorURL == "" {
		warnings = append(warnings, "Embedding extractor not configured: voice registration accepts embeddings only. Set "+EnvPrefix+"EXTRACTOR_URL.")
	}
	if cfg.QueueSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid queue_size %d: using default 64.", cfg.QueueSize))
		cfg.QueueSize = 64
	}

	durations := []struct {
		name     string
		value    string
		fallback string
	}{
		{"notification_cooldown", cfg.NotificationCooldown, "15s"},
		{"notification_ttl", cfg.NotificationTTL, "15s"},
		{"voice_source_timeout", cfg.VoiceSourceTimeout, "10s"},
		{"extractor_timeout", cfg.ExtractorTimeout, "30s"},
		{"narrator_timeout", cfg.NarratorTimeout, "60s"},
	}
	for _, d := range durations {
		if v, err := time.ParseDuration(d.value); err != nil || v <= 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q: using default %s.", d.name, d.value, d.fallback))
		}
	}

	return warnings
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
