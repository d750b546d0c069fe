package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all process configuration, loaded from the environment.
type Config struct {
	Host string
	Port string

	DatabasePath      string
	ModelsDir         string
	ModelCacheBytes   int64
	MaxConcurrentDLs  int
	TranslateEndpoint string
}

// Load loads configuration from a .env file (if present) followed by
// the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	return &Config{
		Host:              getEnv("SCRIBE_HOST", "127.0.0.1"),
		Port:              getEnv("SCRIBE_PORT", "50051"),
		DatabasePath:      getEnv("SCRIBE_DB_PATH", "data/scribe.db"),
		ModelsDir:         getEnv("SCRIBE_MODELS_DIR", "data/models"),
		ModelCacheBytes:   getEnvAsInt64("SCRIBE_MODEL_CACHE_BYTES", 2*1024*1024*1024),
		MaxConcurrentDLs:  getEnvAsInt("SCRIBE_MAX_CONCURRENT_DOWNLOADS", 2),
		TranslateEndpoint: getEnv("SCRIBE_TRANSLATE_ENDPOINT", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
