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
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/sink"
	"github.com/AleutianAI/chaingraph/services/chaingraph/telemetry"
)

// Config is the on-disk configuration for the chaingraph CLI.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
	Blockfrost BlockfrostConfig `yaml:"blockfrost"`
	Graph      GraphConfig      `yaml:"graph"`
	Storage    StorageConfig    `yaml:"storage"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Watch      WatchConfig      `yaml:"watch"`
	Sinks      SinksConfig      `yaml:"sinks"`
	Stream     StreamConfig     `yaml:"stream"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto text json"`

	// Dir enables a daily JSON log file in addition to stderr.
	Dir string `yaml:"dir"`
}

// BlockfrostConfig configures live polling. Polling is off when Enabled
// is false or no APIKey is set.
type BlockfrostConfig struct {
	Enabled           bool          `yaml:"enabled"`
	APIKey            string        `yaml:"api_key"`
	Network           string        `yaml:"network" validate:"omitempty,oneof=mainnet preprod preview testnet"`
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	PollingInterval   time.Duration `yaml:"polling_interval" validate:"gt=0"`
	RateLimitBackoff  time.Duration `yaml:"rate_limit_backoff" validate:"gt=0"`
	MaxRetries        int           `yaml:"max_retries" validate:"min=1,max=10"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int           `yaml:"burst" validate:"min=1"`
}

type GraphConfig struct {
	MaxNodes int `yaml:"max_nodes" validate:"min=1"`
	MaxEdges int `yaml:"max_edges" validate:"min=1"`
}

// StorageConfig configures the persistent block store. An empty Path
// disables persistence.
type StorageConfig struct {
	Path       string        `yaml:"path"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

type KafkaConfig struct {
	Enabled bool   `yaml:"enabled"`
	Brokers string `yaml:"brokers" validate:"required_if=Enabled true"`
	GroupID string `yaml:"group_id" validate:"required_if=Enabled true"`
	Topic   string `yaml:"topic" validate:"required_if=Enabled true"`
}

// WatchConfig enables the bundle directory watcher when Dir is set.
type WatchConfig struct {
	Dir      string        `yaml:"dir"`
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

type SinksConfig struct {
	QueueSize      int                `yaml:"queue_size" validate:"min=1"`
	PublishTimeout time.Duration      `yaml:"publish_timeout" validate:"gt=0"`
	Postgres       PostgresSinkConfig `yaml:"postgres"`
	Kafka          KafkaSinkConfig    `yaml:"kafka"`
	Influx         InfluxSinkConfig   `yaml:"influx"`
}

type PostgresSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn" validate:"required_if=Enabled true"`
}

type KafkaSinkConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers,omitempty" validate:"required_if=Enabled true,dive,hostname_port"`
	Topic   string   `yaml:"topic" validate:"required_if=Enabled true"`
}

// InfluxSinkConfig is validated only when Enabled.
type InfluxSinkConfig struct {
	Enabled           bool `yaml:"enabled"`
	sink.InfluxConfig `yaml:",inline" validate:"-"`
}

type StreamConfig struct {
	BufferSize int           `yaml:"buffer_size" validate:"min=1"`
	KeepAlive  time.Duration `yaml:"keep_alive" validate:"gt=0"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            12220,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Telemetry: telemetry.DefaultConfig(),
		Blockfrost: BlockfrostConfig{
			Enabled:           true,
			Network:           "testnet",
			PollingInterval:   10 * time.Second,
			RateLimitBackoff:  30 * time.Second,
			MaxRetries:        3,
			RequestsPerSecond: 10,
			Burst:             50,
		},
		Graph: GraphConfig{
			MaxNodes: 1_000_000,
			MaxEdges: 10_000_000,
		},
		Storage: StorageConfig{
			Path:       "~/.chaingraph/data",
			GCInterval: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			GroupID: "chaingraph",
			Topic:   "chaingraph.blocks",
		},
		Watch: WatchConfig{
			Debounce: 250 * time.Millisecond,
		},
		Sinks: SinksConfig{
			QueueSize:      64,
			PublishTimeout: 10 * time.Second,
			Kafka: KafkaSinkConfig{
				Topic: "chaingraph.reports",
			},
		},
		Stream: StreamConfig{
			BufferSize: 256,
			KeepAlive:  15 * time.Second,
		},
	}
}
