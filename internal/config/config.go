package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the mock-interview service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	PipelineProvider string

	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAITranscribeModel string
	OpenAIChatModel       string
	OpenAISpeechModel     string
	OpenAISpeechVoice     string
	OpenAITimeout         time.Duration
	OpenAIMaxRetries      int

	DatabaseURL string

	DefaultDurationMinutes int
	MaxQuestionCeiling     int
	SessionIdleTimeout     time.Duration

	AuthTokens string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "mockboard"),
		AllowAnyOrigin:   false,
		PipelineProvider: envOrDefault("PIPELINE_PROVIDER", "auto"),

		OpenAIAPIKey:          stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:         envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAITranscribeModel: envOrDefault("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		OpenAIChatModel:       envOrDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAISpeechModel:     envOrDefault("OPENAI_SPEECH_MODEL", "tts-1"),
		// Default to a neutral panel voice; interviews can override per panelist.
		OpenAISpeechVoice: envOrDefault("OPENAI_SPEECH_VOICE", "alloy"),
		OpenAITimeout:     30 * time.Second,
		OpenAIMaxRetries:  2,

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),

		DefaultDurationMinutes: 30,
		MaxQuestionCeiling:     15,
		SessionIdleTimeout:     10 * time.Minute,
		ShutdownTimeout:        15 * time.Second,

		AuthTokens: stringsTrimSpace("APP_AUTH_TOKENS"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.OpenAITimeout, err = durationFromEnv("OPENAI_TIMEOUT", cfg.OpenAITimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.OpenAIMaxRetries, err = intFromEnv("OPENAI_MAX_RETRIES", cfg.OpenAIMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultDurationMinutes, err = intFromEnv("APP_DEFAULT_DURATION_MINUTES", cfg.DefaultDurationMinutes)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxQuestionCeiling, err = intFromEnv("APP_MAX_QUESTION_CEILING", cfg.MaxQuestionCeiling)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < 30*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 30s")
	}
	if cfg.DefaultDurationMinutes <= 0 {
		return Config{}, fmt.Errorf("APP_DEFAULT_DURATION_MINUTES must be positive")
	}
	if cfg.MaxQuestionCeiling <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_QUESTION_CEILING must be positive")
	}
	if cfg.OpenAIMaxRetries < 0 {
		return Config{}, fmt.Errorf("OPENAI_MAX_RETRIES must be >= 0")
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
