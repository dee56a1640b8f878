// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global  Config
	once    sync.Once
	loadErr error

	validate = validator.New()
)

// Load reads path into Global once. An empty path uses DefaultPath.
func Load(path string) error {
	once.Do(func() {
		Global, loadErr = Read(path)
	})
	return loadErr
}

// DefaultPath returns ~/.chaingraph/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".chaingraph", "config.yaml"), nil
}

// Read loads the config at path, creating it with defaults when missing,
// then applies environment overrides and validates the result.
func Read(path string) (Config, error) {
	return read(path, os.LookupEnv)
}

func read(path string, lookup func(string) (string, bool)) (Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return Config{}, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv overrides file values with the deployment environment.
//
// POLLING_INTERVAL and RATE_LIMIT_BACKOFF accept a Go duration or a plain
// number of seconds.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("BLOCKFROST_API_KEY"); ok {
		cfg.Blockfrost.APIKey = v
	}
	if v, ok := lookup("CARDANO_NETWORK"); ok && v != "" {
		cfg.Blockfrost.Network = v
	}
	if v, ok := lookup("POLLING_INTERVAL"); ok && v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("POLLING_INTERVAL: %w", err)
		}
		cfg.Blockfrost.PollingInterval = d
	}
	if v, ok := lookup("RATE_LIMIT_BACKOFF"); ok && v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_BACKOFF: %w", err)
		}
		cfg.Blockfrost.RateLimitBackoff = d
	}
	if v, ok := lookup("MAX_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_RETRIES: %w", err)
		}
		cfg.Blockfrost.MaxRetries = n
	}
	if v, ok := lookup("CHAINGRAPH_PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHAINGRAPH_PORT: %w", err)
		}
		cfg.Server.Port = n
	}
	return nil
}

func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks field constraints, including the Influx sink settings
// when that sink is enabled.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Sinks.Influx.Enabled {
		if err := validate.Struct(cfg.Sinks.Influx.InfluxConfig); err != nil {
			return fmt.Errorf("invalid config: sinks.influx: %w", err)
		}
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
