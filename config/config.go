// Package config loads server configuration from flags, the environment and
// JSON, TOML or YAML files.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/searchktools/coroserve/core"
	"github.com/searchktools/coroserve/core/http"
	"github.com/searchktools/coroserve/core/stream"
)

// EnvPrefix prefixes environment overrides: APP_SERVER__PORT=9000.
const EnvPrefix = "APP"

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all application configuration. Tags name the keys used in
// files and environment overrides.
type Config struct {
	Port           int           `config:"server.port"`
	Host           string        `config:"server.host"`
	ReadTimeout    time.Duration `config:"server.read_timeout"`
	WriteTimeout   time.Duration `config:"server.write_timeout"`
	IdleTimeout    time.Duration `config:"server.idle_timeout"`
	MaxConnections int           `config:"server.max_connections"`
	BufferSize     int           `config:"server.buffer_size"`
	MaxHeaderSize  int           `config:"limits.max_header_size"`
	MaxBodySize    int64         `config:"limits.max_body_size"`
	Env            string        `config:"env"`
	LogLevel       string        `config:"log.level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           8080,
		ReadTimeout:    core.DefaultReadTimeout,
		WriteTimeout:   core.DefaultWriteTimeout,
		IdleTimeout:    core.DefaultIdleTimeout,
		MaxConnections: core.DefaultMaxConnections,
		BufferSize:     stream.DefaultBufferSize,
		MaxHeaderSize:  http.DefaultMaxHeaderSize,
		MaxBodySize:    http.DefaultMaxBodySize,
		Env:            EnvDevelopment,
		LogLevel:       "info",
	}
}

// New loads configuration from the command line, exiting on bad flags.
func New() *Config {
	cfg, err := Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	return cfg
}

// Parse builds a Config from defaults, then the file named by -config, then
// the environment, then flags given explicitly in args.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := Default()
	var path string

	fs.StringVar(&path, "config", "", "Configuration file (.json, .toml, .yaml)")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Interface to listen on")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Timeout for the first request on a connection")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Timeout for writing a response")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Keep-alive idle timeout")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "Concurrent connection cap (0 = unlimited)")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "Per-connection read buffer size")
	fs.IntVar(&cfg.MaxHeaderSize, "max-header-size", cfg.MaxHeaderSize, "Largest accepted request head in bytes")
	fs.Int64Var(&cfg.MaxBodySize, "max-body-size", cfg.MaxBodySize, "Largest accepted request body in bytes")
	fs.StringVar(&cfg.Env, "env", cfg.Env, "Environment (development/production)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug/info/warn/error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	explicit := make(map[string]string)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })

	if err := cfg.overlay(path); err != nil {
		return nil, err
	}
	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path (if non-empty) over the defaults and applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.overlay(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlay(path string) error {
	m := NewManager()
	if path != "" {
		if err := m.LoadFile(path); err != nil {
			return err
		}
	}
	m.LoadFromEnv(EnvPrefix)
	if port := os.Getenv("PORT"); port != "" {
		m.Set("server.port", port)
	}
	return m.Unmarshal("", c)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("unknown env %q", c.Env))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, errors.New("max connections must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Level parses LogLevel, defaulting to info.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// IsProduction reports whether Env is production.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// ServerOptions maps the configuration onto core.Options.
func (c *Config) ServerOptions(logger *slog.Logger) core.Options {
	return core.Options{
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		IdleTimeout:    c.IdleTimeout,
		MaxConnections: c.MaxConnections,
		BufferSize:     c.BufferSize,
		Limits: http.Limits{
			MaxHeaderSize: c.MaxHeaderSize,
			MaxBodySize:   c.MaxBodySize,
		},
		Logger: logger,
	}
}
