package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPort = 31337

type Config struct {
	Port             int           `yaml:"port"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	SnapshotPath     string        `yaml:"snapshot_path"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	OutboundBuffer   int           `yaml:"outbound_buffer"`
	CommandRate      float64       `yaml:"command_rate"` // commands per second per connection, 0 = unlimited
	CommandBurst     int           `yaml:"command_burst"`
	LogLevel         string        `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		Port:           DefaultPort,
		SnapshotPath:   "chat.db",
		OutboundBuffer: 256,
		CommandBurst:   10,
		LogLevel:       "info",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then CHAT_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CHAT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHAT_PORT: %w", err)
		}
		c.Port = port
	}

	if v := os.Getenv("CHAT_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}

	if v := os.Getenv("CHAT_SNAPSHOT_PATH"); v != "" {
		c.SnapshotPath = v
	}

	if v := os.Getenv("CHAT_SNAPSHOT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CHAT_SNAPSHOT_INTERVAL: %w", err)
		}
		c.SnapshotInterval = d
	}

	if v := os.Getenv("CHAT_OUTBOUND_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHAT_OUTBOUND_BUFFER: %w", err)
		}
		c.OutboundBuffer = n
	}

	if v := os.Getenv("CHAT_COMMAND_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CHAT_COMMAND_RATE: %w", err)
		}
		c.CommandRate = r
	}

	if v := os.Getenv("CHAT_COMMAND_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHAT_COMMAND_BURST: %w", err)
		}
		c.CommandBurst = n
	}

	if v := os.Getenv("CHAT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// SetPort overrides the port from a command line argument.
func (c *Config) SetPort(arg string) error {
	port, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("invalid port %q", arg)
	}
	c.Port = port
	return c.Validate()
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.SnapshotInterval < 0 {
		errs = append(errs, errors.New("snapshot_interval must not be negative"))
	}
	if c.OutboundBuffer <= 0 {
		errs = append(errs, errors.New("outbound_buffer must be positive"))
	}
	if c.CommandRate < 0 {
		errs = append(errs, errors.New("command_rate must not be negative"))
	}
	if c.CommandRate > 0 && c.CommandBurst <= 0 {
		errs = append(errs, errors.New("command_burst must be positive when command_rate is set"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func (c *Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", c.LogLevel)
}
