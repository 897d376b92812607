package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	DatabaseURL     string
	AutoMigrate     bool
	APIToken        string

	LLMProvider   string
	LLMModels     []string
	LLMRetries    int
	LLMRetryDelay time.Duration
	LLMTimeout    time.Duration
	OpenAIAPIKey  string
	OpenAIBaseURL string

	QueueURL  string
	AWSRegion string
	RedisAddr string

	ArchiveStoreType string
	ArchiveDir       string
	ArchiveBucket    string
	ArchivePrefix    string
	ArchiveKMSKeyID  string

	SweepInterval time.Duration
	StaleAfter    time.Duration
	MaxRequeues   int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		Env:             env,
		DatabaseURL:     dbURL,
		AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", env != "production"),
		APIToken:        getEnv("RA_API_TOKEN", ""),

		LLMProvider:   strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "openai"))),
		LLMModels:     splitAndTrim(getEnv("LLM_MODELS", "gpt-4o-mini,gpt-4.1-mini,gpt-3.5-turbo")),
		LLMRetries:    getEnvInt("LLM_RETRIES", 2),
		LLMRetryDelay: time.Duration(getEnvInt("LLM_RETRY_DELAY_MS", 2000)) * time.Millisecond,
		LLMTimeout:    time.Duration(getEnvInt("OPENAI_TIMEOUT_SECONDS", 60)) * time.Second,
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		QueueURL:  strings.TrimSpace(os.Getenv("RA_SQS_QUEUE_URL")),
		AWSRegion: getEnv("AWS_REGION", "us-east-1"),
		RedisAddr: strings.TrimSpace(os.Getenv("REDIS_ADDR")),

		ArchiveStoreType: normalizeStoreType(getEnv("ARCHIVE_STORE", "none")),
		ArchiveDir:       getEnv("ARCHIVE_DIR", "./data/archive"),
		ArchiveBucket:    getEnv("ARCHIVE_BUCKET", ""),
		ArchivePrefix:    getEnv("ARCHIVE_PREFIX", "analyses/"),
		ArchiveKMSKeyID:  strings.TrimSpace(os.Getenv("ARCHIVE_SSE_KMS_KEY_ID")),

		SweepInterval: time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		StaleAfter:    time.Duration(getEnvInt("STALE_AFTER_SECONDS", 0)) * time.Second,
		MaxRequeues:   getEnvInt("MAX_REQUEUES", 3),
	}
}

// DefaultStaleAfter is the longest a healthy cascade can run plus a minute of slack.
func (c Config) DefaultStaleAfter() time.Duration {
	if c.StaleAfter > 0 {
		return c.StaleAfter
	}
	perModel := time.Duration(c.LLMRetries+1) * (c.LLMTimeout + c.LLMRetryDelay)
	return time.Duration(max(1, len(c.LLMModels)))*perModel + time.Minute
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		log.Printf("config: %s invalid int %q, using %d", key, raw, def)
		return def
	}
	return val
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("config: %s invalid bool %q, using %t", key, raw, def)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "local":
		return "local"
	default:
		return "none"
	}
}
