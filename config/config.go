// Package config resolves server settings from flags, CARESTORE_*
// environment variables and an optional YAML file, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"carestore/persist"
)

type Config struct {
	Port            int           `yaml:"port"`
	DataDir         string        `yaml:"data_dir"`
	Gateway         string        `yaml:"gateway"`
	PostgresDSN     string        `yaml:"postgres_dsn"`
	Fsync           bool          `yaml:"fsync"`
	LogLevel        string        `yaml:"log_level"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	SessionBuckets  int           `yaml:"session_buckets"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// GatewayTimeout bounds each persisted mutation while the store's
	// write lock is held. Zero means no bound.
	GatewayTimeout  time.Duration `yaml:"gateway_timeout"`

	// ShowVersion is set by --version; it has no file or env form.
	ShowVersion bool `yaml:"-"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		Port:            4001,
		DataDir:         "./data",
		Gateway:         persist.BackendJournal,
		Fsync:           true,
		LogLevel:        "info",
		SessionBuckets:  1024,
		ShutdownTimeout: 5 * time.Second,
		GatewayTimeout:  5 * time.Second,
	}
}

// Load parses args (without the program name). The YAML file named by
// --config or CARESTORE_CONFIG is applied over the defaults, then the
// environment, then any flag given explicitly. pflag.ErrHelp is returned
// unchanged when -h or --help is present.
func Load(args []string) (*Config, error) {
	def := Default()
	var fl Config
	var path string

	fs := pflag.NewFlagSet("carestore", pflag.ContinueOnError)
	fs.StringVarP(&path, "config", "c", "", "YAML config file (env CARESTORE_CONFIG)")
	fs.IntVar(&fl.Port, "port", def.Port, "listen port")
	fs.StringVar(&fl.DataDir, "datadir", def.DataDir, "data directory for file-based gateways")
	fs.StringVar(&fl.Gateway, "gateway", def.Gateway, "persistence gateway: "+strings.Join(persist.Backends, ", "))
	fs.StringVar(&fl.PostgresDSN, "postgres-dsn", def.PostgresDSN, "connection string for the postgres gateway")
	fs.BoolVar(&fl.Fsync, "fsync", def.Fsync, "sync every persisted mutation to disk (disable for speed at risk of data loss on crash)")
	fs.StringVar(&fl.LogLevel, "log-level", def.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&fl.MetricsAddr, "metrics-addr", def.MetricsAddr, "address for the Prometheus /metrics endpoint (empty disables)")
	fs.IntVar(&fl.SessionBuckets, "session-buckets", def.SessionBuckets, "bucket count of the session hash index")
	fs.DurationVar(&fl.ShutdownTimeout, "shutdown-timeout", def.ShutdownTimeout, "how long to wait for connections on shutdown")
	fs.DurationVar(&fl.GatewayTimeout, "gateway-timeout", def.GatewayTimeout, "limit on each write to the persistence gateway (0 disables)")
	fs.BoolVar(&fl.ShowVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := def
	if !fs.Changed("config") {
		path = os.Getenv("CARESTORE_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = fl.Port
		case "datadir":
			cfg.DataDir = fl.DataDir
		case "gateway":
			cfg.Gateway = fl.Gateway
		case "postgres-dsn":
			cfg.PostgresDSN = fl.PostgresDSN
		case "fsync":
			cfg.Fsync = fl.Fsync
		case "log-level":
			cfg.LogLevel = fl.LogLevel
		case "metrics-addr":
			cfg.MetricsAddr = fl.MetricsAddr
		case "session-buckets":
			cfg.SessionBuckets = fl.SessionBuckets
		case "shutdown-timeout":
			cfg.ShutdownTimeout = fl.ShutdownTimeout
		case "gateway-timeout":
			cfg.GatewayTimeout = fl.GatewayTimeout
		case "version":
			cfg.ShowVersion = fl.ShowVersion
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.Port = envInt("CARESTORE_PORT", c.Port)
	c.DataDir = envStr("CARESTORE_DATADIR", c.DataDir)
	c.Gateway = envStr("CARESTORE_GATEWAY", c.Gateway)
	c.PostgresDSN = envStr("CARESTORE_POSTGRES_DSN", c.PostgresDSN)
	c.Fsync = envBool("CARESTORE_FSYNC", c.Fsync)
	c.LogLevel = envStr("CARESTORE_LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = envStr("CARESTORE_METRICS_ADDR", c.MetricsAddr)
	c.SessionBuckets = envInt("CARESTORE_SESSION_BUCKETS", c.SessionBuckets)
	c.ShutdownTimeout = envDuration("CARESTORE_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.GatewayTimeout = envDuration("CARESTORE_GATEWAY_TIMEOUT", c.GatewayTimeout)
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if !slices.Contains(persist.Backends, c.Gateway) {
		return &persist.UnknownBackendError{Name: c.Gateway}
	}
	if c.Gateway == persist.BackendPostgres && c.PostgresDSN == "" {
		return errors.New("gateway postgres requires --postgres-dsn")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown timeout %v is negative", c.ShutdownTimeout)
	}
	if c.GatewayTimeout < 0 {
		return fmt.Errorf("gateway timeout %v is negative", c.GatewayTimeout)
	}
	return nil
}

// SlogLevel converts LogLevel to a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Addr is the TCP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
