// Package config holds the daemon configuration, loaded from a YAML file
// with environment overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Source SourceConfig `yaml:"source"`
	Cache  CacheConfig  `yaml:"cache"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type SourceConfig struct {
	// URL selects the source: file:///path, http(s)://host/path, or
	// s3://bucket/key.
	URL string `yaml:"url"`

	// S3 settings, used for s3:// URLs.
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`

	// ThrottleBytesPerSec caps upstream fetch bandwidth; 0 disables.
	ThrottleBytesPerSec float64 `yaml:"throttle_bytes_per_sec"`
}

type CacheConfig struct {
	PageSizeBytes    int   `yaml:"page_size_bytes"`
	HighWaterBytes   int64 `yaml:"high_water_bytes"`
	LowWaterBytes    int64 `yaml:"low_water_bytes"`
	KeepAliveSeconds int   `yaml:"keep_alive_seconds"`
	MaxRetries       int   `yaml:"max_retries"`

	// Watermarks is the legacy "<lowKB>/<highKB>/<keepAliveSecs>"
	// tuning string; each field -1 means default. Applied on top of the
	// explicit fields above.
	Watermarks string `yaml:"watermarks"`
}

// Default returns the baseline configuration; cache tuning zeroes fall
// back to the cache package defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			LogLevel: "info",
		},
	}
}

// Load reads the YAML file at path on top of defaults. An empty path
// returns the defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
