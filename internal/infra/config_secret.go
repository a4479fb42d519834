package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SecretConfig is a separate YAML file for credentials, kept out of the main config.
type SecretConfig struct {
	Storage struct {
		RedisPassword string `yaml:"redis_password"`
	} `yaml:"storage"`
}

// LoadSecretConfig loads credentials from path. A configured but missing file is an error.
func LoadSecretConfig(path string) (*SecretConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret config: %w", err)
	}

	var cfg SecretConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse secret config: %w", err)
	}
	return &cfg, nil
}

func (s *SecretConfig) apply(cfg *Config) {
	if s.Storage.RedisPassword != "" {
		cfg.Storage.RedisPassword = s.Storage.RedisPassword
	}
}
