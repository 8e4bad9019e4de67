// Package config loads client configuration from the environment, with
// an optional YAML override file for development setups.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full client configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Channel ChannelConfig `yaml:"channel"`
	Log     LogConfig     `yaml:"log"`
	Local   LocalConfig   `yaml:"local"`
}

// ServerConfig configures the REST client.
type ServerConfig struct {
	BaseURL        string        `env:"HEARTHHUB_SERVER_URL,default=http://localhost:8080" yaml:"base_url"`
	Timeout        time.Duration `env:"HEARTHHUB_SERVER_TIMEOUT,default=15s" yaml:"timeout"`
	CacheTTL       time.Duration `env:"HEARTHHUB_CACHE_TTL,default=5m" yaml:"cache_ttl"`
	CacheSize      int           `env:"HEARTHHUB_CACHE_SIZE,default=256" yaml:"cache_size"`
	MaxRetries     int           `env:"HEARTHHUB_MAX_RETRIES,default=3" yaml:"max_retries"`
	RequestsPerSec float64       `env:"HEARTHHUB_RATE_LIMIT,default=0" yaml:"requests_per_sec"`
}

// ChannelConfig configures the push channel.
type ChannelConfig struct {
	APIKey               string        `env:"HEARTHHUB_CHANNEL_KEY" yaml:"api_key"`
	ReconnectDelay       time.Duration `env:"HEARTHHUB_RECONNECT_DELAY,default=500ms" yaml:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `env:"HEARTHHUB_MAX_RECONNECT_DELAY,default=30s" yaml:"max_reconnect_delay"`
	MaxReconnectAttempts int           `env:"HEARTHHUB_MAX_RECONNECT_ATTEMPTS,default=8" yaml:"max_reconnect_attempts"`
	HeartbeatInterval    time.Duration `env:"HEARTHHUB_HEARTBEAT_INTERVAL,default=15s" yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `env:"HEARTHHUB_HEARTBEAT_TIMEOUT,default=30s" yaml:"heartbeat_timeout"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `env:"HEARTHHUB_LOG_LEVEL,default=info" yaml:"level"`
	Pretty bool   `env:"HEARTHHUB_LOG_PRETTY,default=false" yaml:"pretty"`
}

// LocalConfig configures local persistence.
type LocalConfig struct {
	StorePath string `env:"HEARTHHUB_LOCAL_STORE" yaml:"store_path"`
}

// Load decodes configuration from the environment. When path is
// non-empty the YAML file is applied on top, overriding environment
// values for any key it sets.
func Load(path string) (*Config, error) {
	var cfg Config

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server base URL is required")
	}
	if c.Channel.HeartbeatTimeout < c.Channel.HeartbeatInterval {
		return fmt.Errorf("heartbeat timeout must be >= heartbeat interval")
	}
	return nil
}
