package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads a YAML configuration file and unmarshals it into the specified type.
// T must be a struct type that can be unmarshaled from YAML.
func LoadConfig[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg T
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// LoadServerConfig loads, defaults and validates a server configuration.
// An empty path yields the built-in defaults.
func LoadServerConfig(path string) (*Server, error) {
	logger := log.With().Str("com", "config-loader").Logger()

	cfg := &Server{}
	if path != "" {
		var err error
		if cfg, err = LoadConfig[Server](path); err != nil {
			return nil, err
		}
	} else {
		logger.Debug().Msg("no config file given, using defaults")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server configuration validation failed: %w", err)
	}

	logger.Info().
		Str("listen", cfg.Listen.Addr()).
		Str("upload_dir", cfg.Upload.Dir).
		Dur("idle_timeout", cfg.IdleTimeout).
		Msg("loaded server configuration")

	return cfg, nil
}

// LoadClientConfig loads, defaults and validates a client configuration.
// An empty path yields the built-in defaults.
func LoadClientConfig(path string) (*Client, error) {
	cfg := &Client{}
	if path != "" {
		var err error
		if cfg, err = LoadConfig[Client](path); err != nil {
			return nil, err
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client configuration validation failed: %w", err)
	}
	return cfg, nil
}
