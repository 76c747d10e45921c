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
	Env             string
	CORSAllowOrigin []string

	KVStoreType string // badger | postgres | memory
	BadgerDir   string
	DatabaseURL string

	ObjectStoreType string // local | s3
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	LLMProvider    string
	LLMModel       string
	OpenAIAPIKey   string
	LLMTimeout     time.Duration
	LLMMaxRetries  int
	LLMBaseBackoff time.Duration

	AnalysisSoftTimeout time.Duration

	CacheMaxEntries int
	CacheTTL        time.Duration

	MaxDocumentsPerProject int
	MaxUploadMB            int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	kvStore := normalizeKVStoreType(getEnv("KV_STORE", "badger"))
	if kvStore == "postgres" && dbURL == "" {
		log.Printf("KV_STORE=postgres requires DATABASE_URL; falling back to badger")
		kvStore = "badger"
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),

		KVStoreType: kvStore,
		BadgerDir:   getEnv("BADGER_DIR", "./data/kv"),
		DatabaseURL: dbURL,

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data/blobs"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),

		LLMProvider:    getEnv("LLM_PROVIDER", "openai"),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMTimeout:     secondsEnv("LLM_TIMEOUT_SECONDS", 30),
		LLMMaxRetries:  intEnv("LLM_MAX_RETRIES", 3),
		LLMBaseBackoff: millisEnv("LLM_BASE_BACKOFF_MS", 1000),

		AnalysisSoftTimeout: secondsEnv("ANALYSIS_SOFT_TIMEOUT_SECONDS", 45),

		CacheMaxEntries: intEnv("CACHE_MAX_ENTRIES", 256),
		CacheTTL:        secondsEnv("CACHE_TTL_SECONDS", 300),

		MaxDocumentsPerProject: intEnv("MAX_DOCUMENTS_PER_PROJECT", 50),
		MaxUploadMB:            int64(intEnv("MAX_UPLOAD_MB", 25)),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func intEnv(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || val <= 0 {
		log.Printf("invalid %s=%q; using %d", key, raw, def)
		return def
	}
	return val
}

func secondsEnv(key string, def int) time.Duration {
	return time.Duration(intEnv(key, def)) * time.Second
}

func millisEnv(key string, def int) time.Duration {
	return time.Duration(intEnv(key, def)) * time.Millisecond
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
	default:
		return "local"
	}
}

func normalizeKVStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg":
		return "postgres"
	case "memory", "mem":
		return "memory"
	default:
		return "badger"
	}
}
