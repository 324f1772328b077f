package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"

	// FallbackModel is used when neither DEFAULT_MODEL nor the model catalog names one.
	FallbackModel = "qwen3"
)

type Config struct {
	Port           string
	AllowedOrigins []string
	StaticDir      string
	ModelsFile     string
	DefaultModel   string
	// Inference backend
	OllamaHost     string
	BackendAPI     string
	BackendAPIKey  string
	BackendTimeout time.Duration
	// Generation ledger: empty keeps records in memory
	DatabaseURL      string
	LedgerMaxRecords int
	// Logging
	LogLevel string
	LogFile  string
	// OpenTelemetry stdout exporters
	TelemetryEnabled bool
	TelemetryDir     string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Port:             getEnvDefault("PORT", "8000"),
		AllowedOrigins:   getEnvListDefault("ALLOWED_ORIGINS", []string{"*"}),
		StaticDir:        getEnvDefault("STATIC_DIR", "static"),
		ModelsFile:       getEnvDefault("MODELS_FILE", "models.json"),
		DefaultModel:     os.Getenv("DEFAULT_MODEL"),
		OllamaHost:       NormalizeHost(getEnvDefault("OLLAMA_HOST", "http://127.0.0.1:11434")),
		BackendAPI:       strings.ToLower(getEnvDefault("BACKEND_API", BackendOllama)),
		BackendAPIKey:    os.Getenv("BACKEND_API_KEY"),
		BackendTimeout:   getEnvDurationDefault("BACKEND_TIMEOUT", 300*time.Second),
		DatabaseURL:      os.Getenv("DB_URL"),
		LedgerMaxRecords: getEnvIntDefault("LEDGER_MAX_RECORDS", 500),
		LogLevel:         getEnvDefault("LOG_LEVEL", "info"),
		LogFile:          os.Getenv("LOG_FILE"),
		TelemetryEnabled: getEnvBoolDefault("TELEMETRY_ENABLED", false),
		TelemetryDir:     getEnvDefault("TELEMETRY_DIR", "logs"),
	}
	if cfg.BackendAPI != BackendOllama && cfg.BackendAPI != BackendOpenAI {
		slog.Warn("unknown BACKEND_API, falling back to ollama", "value", cfg.BackendAPI)
		cfg.BackendAPI = BackendOllama
	}
	return cfg
}

// NormalizeHost accepts OLLAMA_HOST in the forms Ollama itself accepts
// ("127.0.0.1:11434", "http://host:port/") and returns a base URL without a
// trailing slash.
func NormalizeHost(host string) string {
	h := strings.TrimSpace(host)
	if h == "" {
		return ""
	}
	if !strings.Contains(h, "://") {
		h = "http://" + h
	}
	return strings.TrimRight(h, "/")
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvListDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s := strings.TrimSpace(p)
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

// getEnvDurationDefault accepts Go durations ("90s", "5m") or a bare number of seconds.
func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("invalid duration, using default", "key", key, "value", v, "default", def)
	return def
}

func getEnvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}
