package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	// Server
	ListenAddr string

	// Remote DeepStack backend
	DeepstackBaseURL string
	ModelName        string
	TimeoutSeconds   int

	// Upload limits
	MaxUploadMB int

	// Local ONNX fallback
	FallbackEnabled      bool
	LocalModelPath       string
	LocalModelConfigPath string

	// Confidence buckets
	HighThreshold   float64
	MediumThreshold float64

	// Response cache. Disabled when RedisAddr is empty.
	RedisAddr       string
	CacheTTLSeconds int

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ListenAddr:           ":" + getEnv("PORT", "8080"),
		DeepstackBaseURL:     strings.TrimRight(getEnv("DEEPSTACK_BASE_URL", "http://localhost:5050"), "/"),
		ModelName:            getEnv("DEEPSTACK_MODEL_NAME", "FruitsRecognition"),
		TimeoutSeconds:       getEnvInt("DEEPSTACK_TIMEOUT_SECONDS", 45),
		MaxUploadMB:          getEnvInt("MAX_UPLOAD_MB", 10),
		FallbackEnabled:      getEnvBool("ENABLE_LOCAL_FALLBACK", true),
		LocalModelPath:       getEnv("LOCAL_MODEL_PATH", "models/Fruits.onnx"),
		LocalModelConfigPath: getEnv("LOCAL_MODEL_CONFIG_PATH", "models/config.json"),
		HighThreshold:        getEnvFloat("CONFIDENCE_HIGH_THRESHOLD", 85),
		MediumThreshold:      getEnvFloat("CONFIDENCE_MEDIUM_THRESHOLD", 60),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		CacheTTLSeconds:      getEnvInt("CACHE_TTL_SECONDS", 300),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}
}

// MaxUploadBytes converts the upload limit to bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Timeout returns the remote call timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL returns the response cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
