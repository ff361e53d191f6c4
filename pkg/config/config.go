// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package config contains the definition of the gateway config structure
// and the logic required to load and validate it.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Environment variable names. MASTER_KEY and STORE_URL are required;
// the process refuses to start without them.
const (
	// MasterKeyEnvVar holds the base64-encoded operator master secret.
	MasterKeyEnvVar = "MASTER_KEY"

	// StoreURLEnvVar holds the tenant store DSN.
	StoreURLEnvVar = "STORE_URL"

	// StoreServiceKeyEnvVar holds the credential for managed stores.
	StoreServiceKeyEnvVar = "STORE_SERVICE_KEY"
)

// Config represents the configuration of the gateway.
type Config struct {
	Logging  Logging  `mapstructure:"logging"`
	API      API      `mapstructure:"api"`
	Callback Callback `mapstructure:"callback"`
}

// Logging contains the settings for the process logger.
type Logging struct {
	Level         string `mapstructure:"level"`
	RetentionDays int    `mapstructure:"retention_days"`
	LogDirectory  string `mapstructure:"log_directory"`
}

// API contains the settings for the HTTP surface.
type API struct {
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
	Version     string `mapstructure:"version"`

	// DevelopmentMode relaxes origin checks for callback attestation.
	// It never relaxes signature checks.
	DevelopmentMode bool `mapstructure:"development_mode"`
}

// Callback contains the retry policy for callback attestation.
type Callback struct {
	RetryAttempts     int `mapstructure:"retry_attempts"`
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds"`
}

// Secrets holds material read from the environment rather than the
// config file. MasterKey is the decoded operator master secret.
type Secrets struct {
	MasterKey       []byte
	StoreURL        string
	StoreServiceKey string
}

// Load reads the config file at path and applies defaults. A missing
// file is an error; the gateway does not run on implicit configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.retention_days", 30)
	v.SetDefault("logging.log_directory", "")
	v.SetDefault("api.title", "EagleChat Gateway")
	v.SetDefault("api.description", "Multi-tenant chatbot gateway for WordPress")
	v.SetDefault("api.version", "1.0.0")
	v.SetDefault("api.development_mode", false)
	v.SetDefault("callback.retry_attempts", 3)
	v.SetDefault("callback.retry_delay_seconds", 3)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("logging.level must be one of DEBUG, INFO, WARN, ERROR: %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 1 || c.Logging.RetentionDays > 365 {
		return fmt.Errorf("logging.retention_days must be in [1, 365]: %d", c.Logging.RetentionDays)
	}
	if c.Callback.RetryAttempts < 1 {
		return fmt.Errorf("callback.retry_attempts must be at least 1: %d", c.Callback.RetryAttempts)
	}
	if c.Callback.RetryDelaySeconds < 0 {
		return fmt.Errorf("callback.retry_delay_seconds must not be negative: %d", c.Callback.RetryDelaySeconds)
	}
	return nil
}

// LoadSecrets reads the required material from the environment. The
// master key must be base64; STORE_SERVICE_KEY is required unless the
// store URL points at a local file database.
func LoadSecrets() (*Secrets, error) {
	rawKey := os.Getenv(MasterKeyEnvVar)
	if rawKey == "" {
		return nil, fmt.Errorf("%s environment variable is required", MasterKeyEnvVar)
	}
	masterKey, err := base64.StdEncoding.DecodeString(rawKey)
	if err != nil {
		return nil, fmt.Errorf("%s must be base64: %w", MasterKeyEnvVar, err)
	}

	storeURL := os.Getenv(StoreURLEnvVar)
	if storeURL == "" {
		return nil, fmt.Errorf("%s environment variable is required", StoreURLEnvVar)
	}

	serviceKey := os.Getenv(StoreServiceKeyEnvVar)
	if serviceKey == "" && !isLocalStore(storeURL) {
		return nil, fmt.Errorf("%s environment variable is required for remote stores", StoreServiceKeyEnvVar)
	}

	return &Secrets{
		MasterKey:       masterKey,
		StoreURL:        storeURL,
		StoreServiceKey: serviceKey,
	}, nil
}

func isLocalStore(url string) bool {
	return strings.HasPrefix(url, "file:") || !strings.Contains(url, "://")
}
