package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Rooms   RoomsConfig   `yaml:"rooms"`
	Archive ArchiveConfig `yaml:"archive"`
	Limits  LimitsConfig  `yaml:"limits"`
	HTTP    HTTPConfig    `yaml:"http"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RoomsConfig struct {
	MaxRooms      int           `yaml:"max_rooms"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	HistoryLimit  int           `yaml:"history_limit"`
	// PageWindow caps the page array sent on join. Pages past it are still
	// stored and reachable by index.
	PageWindow    int           `yaml:"page_window"`
}

// ArchiveConfig selects where evicted rooms are written. Driver is one of
// "sqlite", "s3" or "none".
type ArchiveConfig struct {
	Driver  string        `yaml:"driver"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
	S3      S3Config      `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// LimitsConfig bounds each websocket connection.
type LimitsConfig struct {
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
	MaxMessageSize    int64   `yaml:"max_message_size"`
	SendBuffer        int     `yaml:"send_buffer"`
}

// HTTPConfig is the per-address rate limit of the REST API.
type HTTPConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	DriverSQLite = "sqlite"
	DriverS3     = "s3"
	DriverNone   = "none"
)

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Rooms: RoomsConfig{
			MaxRooms:      1000,
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
			HistoryLimit:  100,
			PageWindow:    1024,
		},
		Archive: ArchiveConfig{
			Driver:  DriverSQLite,
			Path:    ":memory:",
			Timeout: 5 * time.Second,
			S3: S3Config{
				Prefix: "rooms/",
				Region: "us-east-1",
			},
		},
		Limits: LimitsConfig{
			MessagesPerSecond: 100,
			Burst:             200,
			MaxMessageSize:    16 << 20,
			SendBuffer:        512,
		},
		HTTP: HTTPConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Metrics: MetricsConfig{
			Namespace: "easel",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path skips the file.
// PORT and EASEL_DB_PATH override the file.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("EASEL_DB_PATH"); v != "" {
		c.Archive.Path = v
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Rooms.MaxRooms < 0 {
		return fmt.Errorf("rooms.max_rooms must not be negative")
	}
	if c.Rooms.PageWindow < 0 {
		return fmt.Errorf("rooms.page_window must not be negative")
	}
	switch c.Archive.Driver {
	case DriverSQLite, DriverNone:
	case DriverS3:
		if c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown archive.driver %q", c.Archive.Driver)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// NewLogger builds the process logger from the log section.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Log.Level)}
	var handler slog.Handler
	if strings.EqualFold(c.Log.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
