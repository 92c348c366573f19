package config

import (
	"os"
	"strconv"
)

// LoadFromEnv overlays STREAMCACHE_* environment variables onto cfg.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("STREAMCACHE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	cfg.Server.LogLevel = GetEnvOrDefault("STREAMCACHE_LOG_LEVEL", cfg.Server.LogLevel)
	cfg.Source.URL = GetEnvOrDefault("STREAMCACHE_SOURCE_URL", cfg.Source.URL)
	cfg.Source.AccessKey = GetEnvOrDefault("STREAMCACHE_S3_ACCESS_KEY", cfg.Source.AccessKey)
	cfg.Source.SecretKey = GetEnvOrDefault("STREAMCACHE_S3_SECRET_KEY", cfg.Source.SecretKey)
	cfg.Cache.Watermarks = GetEnvOrDefault("STREAMCACHE_WATERMARKS", cfg.Cache.Watermarks)
}

// GetEnvOrDefault returns the environment variable or a fallback.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
