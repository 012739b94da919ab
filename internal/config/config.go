// Package config loads Pulse's runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// LogLevel is the minimum severity a logger emits.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat selects the logger's output encoding.
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"
	LogFormatPretty LogFormat = "pretty"
)

// Config holds all Pulse server configuration.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if the variable is unset
type Config struct {
	// Transport
	Addr string `env:"PULSE_ADDR" envDefault:":7990"`

	// Resource limits (spec §5)
	MaxConnections               int `env:"PULSE_MAX_CONNECTIONS" envDefault:"100000"`
	MaxChannels                  int `env:"PULSE_MAX_CHANNELS" envDefault:"10000"`
	MaxSubscriptionsPerConn      int `env:"PULSE_MAX_SUBSCRIPTIONS_PER_CONNECTION" envDefault:"100"`
	MaxMessageSize                int `env:"PULSE_MAX_MESSAGE_SIZE" envDefault:"65536"`
	BroadcastQueueDepth           int `env:"PULSE_BROADCAST_QUEUE_DEPTH" envDefault:"1024"`
	OutboundQueueDepth            int `env:"PULSE_OUTBOUND_QUEUE_DEPTH" envDefault:"1024"`

	// Heartbeat
	HeartbeatIntervalMs int `env:"PULSE_HEARTBEAT_INTERVAL_MS" envDefault:"30000"`
	HeartbeatTimeoutMs  int `env:"PULSE_HEARTBEAT_TIMEOUT_MS" envDefault:"60000"`

	// Protocol version accepted from clients.
	ProtocolVersion uint8 `env:"PULSE_PROTOCOL_VERSION" envDefault:"1"`

	// Resource admission control (container-aware safety brakes)
	CPULimit           float64 `env:"PULSE_CPU_LIMIT" envDefault:"1.0"`
	MemoryLimit        int64   `env:"PULSE_MEMORY_LIMIT" envDefault:"536870912"` // 512MB
	MaxGoroutines      int     `env:"PULSE_MAX_GOROUTINES" envDefault:"100000"`
	CPURejectThreshold float64 `env:"PULSE_CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"PULSE_CPU_PAUSE_THRESHOLD" envDefault:"80.0"`

	// Connection-accept rate limiting
	ConnRateLimitEnabled    bool    `env:"PULSE_CONN_RATE_LIMIT_ENABLED" envDefault:"true"`
	ConnRateLimitIPRate     float64 `env:"PULSE_CONN_RATE_LIMIT_IP_RATE" envDefault:"5"`
	ConnRateLimitIPBurst    int     `env:"PULSE_CONN_RATE_LIMIT_IP_BURST" envDefault:"10"`
	ConnRateLimitGlobalRate float64 `env:"PULSE_CONN_RATE_LIMIT_GLOBAL_RATE" envDefault:"1000"`
	ConnRateLimitGlobalBurst int    `env:"PULSE_CONN_RATE_LIMIT_GLOBAL_BURST" envDefault:"2000"`

	// Monitoring
	MetricsInterval time.Duration `env:"PULSE_METRICS_INTERVAL" envDefault:"15s"`
	MetricsAddr     string        `env:"PULSE_METRICS_ADDR" envDefault:":9090"`

	// HTTP
	HTTPReadTimeout  time.Duration `env:"PULSE_HTTP_READ_TIMEOUT" envDefault:"10s"`
	HTTPWriteTimeout time.Duration `env:"PULSE_HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	HTTPIdleTimeout  time.Duration `env:"PULSE_HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	// Shutdown
	ShutdownGracePeriod time.Duration `env:"PULSE_SHUTDOWN_GRACE_PERIOD" envDefault:"30s"`

	// Logging
	LogLevel  string `env:"PULSE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PULSE_LOG_FORMAT" envDefault:"json"`

	Environment string `env:"PULSE_ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and the environment.
// Priority: environment variables > .env file > struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		} else {
			fmt.Println("info: no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for internally-inconsistent or out-of-range values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("PULSE_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("PULSE_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.MaxChannels < 1 {
		return fmt.Errorf("PULSE_MAX_CHANNELS must be > 0, got %d", c.MaxChannels)
	}
	if c.MaxSubscriptionsPerConn < 1 {
		return fmt.Errorf("PULSE_MAX_SUBSCRIPTIONS_PER_CONNECTION must be > 0, got %d", c.MaxSubscriptionsPerConn)
	}
	if c.MaxMessageSize < 1 || c.MaxMessageSize > 16*1024*1024 {
		return fmt.Errorf("PULSE_MAX_MESSAGE_SIZE must be in (0, 16MiB], got %d", c.MaxMessageSize)
	}
	if c.HeartbeatTimeoutMs <= c.HeartbeatIntervalMs {
		return fmt.Errorf("PULSE_HEARTBEAT_TIMEOUT_MS (%d) must be > PULSE_HEARTBEAT_INTERVAL_MS (%d)",
			c.HeartbeatTimeoutMs, c.HeartbeatIntervalMs)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("PULSE_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("PULSE_CPU_PAUSE_THRESHOLD (%.1f) must be >= PULSE_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("PULSE_LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("PULSE_LOG_FORMAT must be one of json, pretty (got %q)", c.LogFormat)
	}

	return nil
}

// Print writes a human-readable configuration dump to stdout.
func (c *Config) Print() {
	fmt.Println("=== Pulse Configuration ===")
	fmt.Printf("Environment:     %s\n", c.Environment)
	fmt.Printf("Address:         %s\n", c.Addr)
	fmt.Println("\n=== Resource Limits ===")
	fmt.Printf("Max Connections: %d\n", c.MaxConnections)
	fmt.Printf("Max Channels:    %d\n", c.MaxChannels)
	fmt.Printf("Max Subs/Conn:   %d\n", c.MaxSubscriptionsPerConn)
	fmt.Printf("Max Msg Size:    %d bytes\n", c.MaxMessageSize)
	fmt.Printf("Broadcast Queue: %d\n", c.BroadcastQueueDepth)
	fmt.Println("\n=== Heartbeat ===")
	fmt.Printf("Interval:        %d ms\n", c.HeartbeatIntervalMs)
	fmt.Printf("Timeout:         %d ms\n", c.HeartbeatTimeoutMs)
	fmt.Println("\n=== Safety Thresholds ===")
	fmt.Printf("CPU Reject:      %.1f%%\n", c.CPURejectThreshold)
	fmt.Printf("CPU Pause:       %.1f%%\n", c.CPUPauseThreshold)
	fmt.Println("\n=== Logging ===")
	fmt.Printf("Level:           %s\n", c.LogLevel)
	fmt.Printf("Format:          %s\n", c.LogFormat)
	fmt.Println("===========================")
}

// Log writes configuration as a single structured log event.
func (c *Config) Log(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Int("max_connections", c.MaxConnections).
		Int("max_channels", c.MaxChannels).
		Int("max_subscriptions_per_connection", c.MaxSubscriptionsPerConn).
		Int("max_message_size", c.MaxMessageSize).
		Int("broadcast_queue_depth", c.BroadcastQueueDepth).
		Int("heartbeat_interval_ms", c.HeartbeatIntervalMs).
		Int("heartbeat_timeout_ms", c.HeartbeatTimeoutMs).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
