package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// envOverrides are secrets taken from the environment when present,
// overriding whatever the YAML file holds.
type envOverrides struct {
	AccessToken string `env:"EXPIRYTRACK_ACCESS_TOKEN"`
	DBPassword  string `env:"EXPIRYTRACK_DB_PASSWORD"`
	DBHost      string `env:"EXPIRYTRACK_DB_HOST"`
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*CollectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg CollectorConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}
	if ov.AccessToken != "" {
		cfg.API.AccessToken = ov.AccessToken
	}
	if ov.DBPassword != "" {
		cfg.Database.Password = ov.DBPassword
	}
	if ov.DBHost != "" {
		cfg.Database.Host = ov.DBHost
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*CollectorConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*CollectorConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
