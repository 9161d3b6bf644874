// Package config loads dsq settings from dsq.yaml and DSQ_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Backends dsq can open.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDocStore = "docstore"
)

// Config is the resolved configuration.
type Config struct {
	Backend  string         `mapstructure:"backend"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	DocStore DocStoreConfig `mapstructure:"docstore"`
	Log      LogConfig      `mapstructure:"log"`
	IDGen    IDGenConfig    `mapstructure:"idgen"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type DocStoreConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `mapstructure:"format"` // "text" | "json"
}

type IDGenConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// Defaults used when neither the file nor the environment sets a key.
var defaults = map[string]any{
	"backend":            BackendSQLite,
	"sqlite.path":        "dsq.db",
	"postgres.dsn":       "",
	"postgres.max_conns": 5,
	"docstore.path":      "dsq-docs",
	"log.level":          "info",
	"log.format":         "text",
	"idgen.max_attempts": 5,
}

// Load reads dsq.yaml from dir when present. DSQ_<SECTION>_<KEY>
// environment variables (DSQ_SQLITE_PATH) override the file.
func Load(dir string) (Config, error) {
	v := newViper()
	v.SetConfigName("dsq")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return decode(v)
}

// LoadFile reads the config file at path, which must exist.
func LoadFile(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("DSQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated settings.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendPostgres, BackendDocStore:
	default:
		return fmt.Errorf("invalid backend %q: must be one of sqlite, postgres, docstore", c.Backend)
	}
	if c.Backend == BackendPostgres && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres backend needs postgres.dsn")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format %q: must be text or json", c.Log.Format)
	}
	if c.IDGen.MaxAttempts < 1 {
		return fmt.Errorf("idgen.max_attempts must be at least 1, got %d", c.IDGen.MaxAttempts)
	}
	return nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return level, nil
}
