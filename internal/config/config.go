package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port    string
	Env     string
	LogMode string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Gemini AI
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int

	// Image generation
	OpenAIAPIKey  string
	OpenAIBaseURL string
	ImageModel    string
	ImageSize     string

	// Object storage for rendered visuals. Empty bucket keeps images inline as data URIs.
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string

	// Uploaded reference documents
	StoragePath string

	// Pipeline
	WorkerCount      int
	RetryMaxAttempts int
	ImageConcurrency int
	ResearchCacheTTL time.Duration

	// Stale run reaper
	StaleRunSchedule string
	StaleRunAfter    time.Duration

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		LogMode:              getEnvOrDefault("LOG_MODE", "development"),
		DatabaseURL:          mustGetEnv("DATABASE_URL"),
		RedisURL:             mustGetEnv("REDIS_URL"),
		JWTSecret:            mustGetEnv("JWT_SECRET"),
		GeminiAPIKey:         mustGetEnv("GEMINI_API_KEY"),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		OpenAIAPIKey:         getEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getEnvOrDefault("OPENAI_BASE_URL", ""),
		ImageModel:           getEnvOrDefault("IMAGE_MODEL", "dall-e-3"),
		ImageSize:            getEnvOrDefault("IMAGE_SIZE", "1792x1024"),
		S3Endpoint:           getEnvOrDefault("S3_ENDPOINT", ""),
		S3Region:             getEnvOrDefault("S3_REGION", "us-east-1"),
		S3Bucket:             getEnvOrDefault("S3_BUCKET", ""),
		S3AccessKey:          getEnvOrDefault("S3_ACCESS_KEY", ""),
		S3SecretKey:          getEnvOrDefault("S3_SECRET_KEY", ""),
		S3PublicURL:          getEnvOrDefault("S3_PUBLIC_URL", ""),
		StoragePath:          getEnvOrDefault("STORAGE_PATH", "./uploads"),
		WorkerCount:          getEnvAsIntOrDefault("WORKER_COUNT", 4),
		RetryMaxAttempts:     getEnvAsIntOrDefault("RETRY_MAX_ATTEMPTS", 3),
		ImageConcurrency:     getEnvAsIntOrDefault("IMAGE_CONCURRENCY", 4),
		ResearchCacheTTL:     getEnvAsDurationOrDefault("RESEARCH_CACHE_TTL", 7*24*time.Hour),
		StaleRunSchedule:     getEnvOrDefault("STALE_RUN_SCHEDULE", "@every 5m"),
		StaleRunAfter:        getEnvAsDurationOrDefault("STALE_RUN_AFTER", 30*time.Minute),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

// ImageStorageEnabled reports whether rendered visuals should be uploaded to S3.
func (c *Config) ImageStorageEnabled() bool {
	return c.S3Bucket != ""
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
