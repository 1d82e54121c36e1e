package config

import (
	"errors"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	// MaxRequestsPerMinute caps inbound WebSocket requests per connection; 0 disables it.
	MaxRequestsPerMinute int `mapstructure:"max_requests_per_minute" yaml:"max_requests_per_minute"`

	StoreDSN     string        `mapstructure:"store_dsn" yaml:"store_dsn"`
	StoreTimeout time.Duration `mapstructure:"store_timeout" yaml:"store_timeout"`

	// RedisAddr enables cross-instance fan-out when set.
	RedisAddr    string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisChannel string `mapstructure:"redis_channel" yaml:"redis_channel"`

	JWTSecret string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`

	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	MaxMissedHeartbeats int           `mapstructure:"max_missed_heartbeats" yaml:"max_missed_heartbeats"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	StaleThreshold      time.Duration `mapstructure:"stale_threshold" yaml:"stale_threshold"`

	HistoryDefaultLimit int `mapstructure:"history_default_limit" yaml:"history_default_limit"`
	HistoryMaxLimit     int `mapstructure:"history_max_limit" yaml:"history_max_limit"`
	SessionBuffer       int `mapstructure:"session_buffer" yaml:"session_buffer"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",

		// Base64 file payloads of up to 5 MiB plus the envelope.
		MaxMessageBytes:      8 << 20,
		MaxRequestsPerMinute: 120,

		StoreDSN:     "wirechat.db",
		StoreTimeout: 10 * time.Second,

		RedisChannel: "wirechat-events",

		JWTIssuer: "wirechat-relay",
		TokenTTL:  24 * time.Hour,

		HeartbeatInterval:   30 * time.Second,
		MaxMissedHeartbeats: 3,
		SweepInterval:       5 * time.Minute,
		StaleThreshold:      60 * time.Second,

		HistoryDefaultLimit: 50,
		HistoryMaxLimit:     100,
		SessionBuffer:       256,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.StoreDSN != "" {
		c.StoreDSN = other.StoreDSN
	}
	if other.RedisAddr != "" {
		c.RedisAddr = other.RedisAddr
	}
}

// Validate reports settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.StoreDSN == "" {
		errs = append(errs, errors.New("store_dsn is required"))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("max_message_bytes must be positive"))
	}
	if c.HeartbeatInterval > 0 && c.StaleThreshold <= c.HeartbeatInterval {
		errs = append(errs, errors.New("stale_threshold must exceed heartbeat_interval"))
	}
	if c.HistoryMaxLimit > 0 && c.HistoryDefaultLimit > c.HistoryMaxLimit {
		errs = append(errs, errors.New("history_default_limit exceeds history_max_limit"))
	}
	return errors.Join(errs...)
}
