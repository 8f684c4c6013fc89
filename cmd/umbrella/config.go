package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	. "umbrella/pkg/types"
)

const (
	envVarPrefix = "UMBRELLA"
	appName      = "umbrella"
)

type Config struct {
	BlockSize Byte   `envconfig:"UMBRELLA_BLOCK_SIZE" default:"512"        yaml:"blockSize"`
	Prompt    string `envconfig:"UMBRELLA_PROMPT"     default:"umbrella> " yaml:"prompt"`
}

// LoadConfig layers UMBRELLA_* environment variables over an optional YAML
// config file (UMBRELLA_CONFIG_FILE, defaulting to ~/.config/umbrella.yaml).
func LoadConfig() (*Config, error) {
	configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE")
	if configFile == "" {
		configFile = filepath.Join(
			os.Getenv("HOME"),
			".config",
			appName+".yaml",
		)
	}

	var c Config
	data, err := os.ReadFile(configFile)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.BlockSize < 128 {
		return fmt.Errorf(
			"the default block size must be at least 128; found %d",
			c.BlockSize,
		)
	}
	return nil
}
