package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the YAML service configuration. Environment variables override
// the hot spots (port, storage driver, NATS URL) for container deployments.
type Config struct {
	Server struct {
		Port          string `yaml:"port"`
		StaticBaseURL string `yaml:"static_base_url"`
	} `yaml:"server"`

	Storage struct {
		Driver     string `yaml:"driver"` // memory | postgres
		InitSchema bool   `yaml:"init_schema"`
	} `yaml:"storage"`

	Relay struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"relay"`

	Auth struct {
		// Tokens maps bearer tokens to granted capability names.
		Tokens map[string][]string `yaml:"tokens"`
	} `yaml:"auth"`
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Server.StaticBaseURL = "/static/fms"
	cfg.Storage.Driver = "memory"
	return &cfg
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.Relay.Enabled = true
		cfg.Relay.URL = url
	}
	return cfg, nil
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
