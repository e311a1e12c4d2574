package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Baked in at build time with -ldflags "-X .../internal/config.RootURL=...".
var (
	RootURL   = ""
	AuthToken = ""
)

const (
	DefaultNamespace         = "/ws/seeder"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHandshakeTimeout  = 20 * time.Second
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Agent  AgentConfig  `yaml:"agent"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	URL              string        `yaml:"url" env:"SEEDER_SERVER_URL"`
	Token            string        `yaml:"token" env:"SEEDER_AUTH_TOKEN"`
	Namespace        string        `yaml:"namespace" env:"SEEDER_NAMESPACE"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"SEEDER_HANDSHAKE_TIMEOUT"`
	Reconnect        bool          `yaml:"reconnect" env:"SEEDER_RECONNECT"`
}

type AgentConfig struct {
	PlayerName        string        `yaml:"player_name" env:"SEEDER_PLAYER_NAME"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"SEEDER_HEARTBEAT_INTERVAL"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"SEEDER_LOG_LEVEL"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:              RootURL,
			Token:            AuthToken,
			Namespace:        DefaultNamespace,
			HandshakeTimeout: DefaultHandshakeTimeout,
			Reconnect:        true,
		},
		Agent: AgentConfig{
			HeartbeatInterval: DefaultHeartbeatInterval,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but treats a missing file as empty.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = defaultConfig()
		if err := cfg.applyEnv(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return cfg, err
}

func (c *Config) applyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports the first setting that would stop the agent from
// connecting.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return errors.New("server url is required (--server or SEEDER_SERVER_URL)")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("server url %q: scheme must be ws, wss, http or https", c.Server.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("server url %q has no host", c.Server.URL)
	}
	if c.Server.Token == "" {
		return errors.New("auth token is required (--authtoken or SEEDER_AUTH_TOKEN)")
	}
	if !strings.HasPrefix(c.Server.Namespace, "/") {
		return fmt.Errorf("namespace %q must start with /", c.Server.Namespace)
	}
	if c.Agent.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive, got %v", c.Agent.HeartbeatInterval)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses Log.Level ("debug", "info", "warn", "error").
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", c.Log.Level, err)
	}
	return level, nil
}
