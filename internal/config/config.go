// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads identity settings from defaults, a YAML file,
// the environment and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/identity/internal/identity"
	"github.com/holomush/identity/internal/logging"
	"github.com/holomush/identity/internal/xdg"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// Password hashing schemes.
const (
	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"
)

// Environment variables consulted when the file and flags leave a value unset.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvRedisURL    = "REDIS_URL"
)

// Config is the complete identity configuration.
type Config struct {
	Store    string         `koanf:"store" yaml:"store" jsonschema:"enum=postgres,enum=redis,enum=memory,description=Record store backend"`
	Database DatabaseConfig `koanf:"database" yaml:"database"`
	Redis    RedisConfig    `koanf:"redis" yaml:"redis"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
	Password PasswordConfig `koanf:"password" yaml:"password"`
	Tokens   TokenConfig    `koanf:"tokens" yaml:"tokens"`
	Email    EmailConfig    `koanf:"email" yaml:"email"`
	Serve    ServeConfig    `koanf:"serve" yaml:"serve"`
}

// DatabaseConfig configures the PostgreSQL backend.
type DatabaseConfig struct {
	URL             string `koanf:"url" yaml:"url" jsonschema:"description=PostgreSQL connection URL"`
	ConnectAttempts uint64 `koanf:"connect_attempts" yaml:"connect_attempts" jsonschema:"minimum=0,maximum=100"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	URL    string `koanf:"url" yaml:"url" jsonschema:"description=Redis connection URL"`
	Prefix string `koanf:"prefix" yaml:"prefix" jsonschema:"description=Key prefix for every record and index"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format  string `koanf:"format" yaml:"format" jsonschema:"enum=json,enum=text,enum=tint"`
	Level   string `koanf:"level" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	NoColor bool   `koanf:"no_color" yaml:"no_color"`
}

// PasswordConfig selects and tunes the password hasher.
type PasswordConfig struct {
	Hasher     string       `koanf:"hasher" yaml:"hasher" jsonschema:"enum=bcrypt,enum=argon2id"`
	BcryptCost int          `koanf:"bcrypt_cost" yaml:"bcrypt_cost" jsonschema:"minimum=4,maximum=31"`
	Argon2     Argon2Config `koanf:"argon2" yaml:"argon2"`
}

// Argon2Config holds argon2id cost parameters.
type Argon2Config struct {
	Time      uint32 `koanf:"time" yaml:"time" jsonschema:"minimum=1"`
	MemoryKiB uint32 `koanf:"memory_kib" yaml:"memory_kib" jsonschema:"minimum=8"`
	Threads   uint8  `koanf:"threads" yaml:"threads" jsonschema:"minimum=1,maximum=255"`
}

// TokenConfig configures single-purpose tokens.
type TokenConfig struct {
	TTL       time.Duration `koanf:"ttl" yaml:"ttl"`
	SingleUse bool          `koanf:"single_use" yaml:"single_use"`
}

// EmailConfig restricts which email domains may register.
type EmailConfig struct {
	AllowDomains []string `koanf:"allow_domains" yaml:"allow_domains,omitempty" jsonschema:"description=Glob patterns; when set only matching domains are accepted"`
	DenyDomains  []string `koanf:"deny_domains" yaml:"deny_domains,omitempty" jsonschema:"description=Glob patterns that are always rejected"`
}

// ServeConfig configures the long-running serve command.
type ServeConfig struct {
	MetricsAddr   string        `koanf:"metrics_addr" yaml:"metrics_addr" jsonschema:"description=Listen address for metrics and health probes; empty disables"`
	PurgeInterval time.Duration `koanf:"purge_interval" yaml:"purge_interval"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Store: StorePostgres,
		Database: DatabaseConfig{
			ConnectAttempts: 5,
		},
		Redis: RedisConfig{
			Prefix: "identity:",
		},
		Log: LogConfig{
			Format: logging.FormatJSON,
			Level:  "info",
		},
		Password: PasswordConfig{
			Hasher:     HasherBcrypt,
			BcryptCost: identity.DefaultBcryptCost,
			Argon2: Argon2Config{
				Time:      identity.DefaultArgon2Params.Time,
				MemoryKiB: identity.DefaultArgon2Params.Memory,
				Threads:   identity.DefaultArgon2Params.Threads,
			},
		},
		Tokens: TokenConfig{
			TTL: identity.DefaultTokenTTL,
		},
		Serve: ServeConfig{
			MetricsAddr:   "127.0.0.1:9100",
			PurgeInterval: 10 * time.Minute,
		},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"store":         "store",
	"database-url":  "database.url",
	"redis-url":     "redis.url",
	"log-format":    "log.format",
	"log-level":     "log.level",
	"no-color":      "log.no_color",
	"metrics-addr":  "serve.metrics_addr",
	"purge-every":   "serve.purge_interval",
	"token-ttl":     "tokens.ttl",
	"single-use":    "tokens.single_use",
	"hasher":        "password.hasher",
	"bcrypt-cost":   "password.bcrypt_cost",
	"allow-domains": "email.allow_domains",
	"deny-domains":  "email.deny_domains",
}

// RegisterFlags declares the global override flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("store", d.Store, "record store backend (postgres, redis, memory)")
	fs.String("database-url", "", "PostgreSQL connection URL (env "+EnvDatabaseURL+")")
	fs.String("redis-url", "", "Redis connection URL (env "+EnvRedisURL+")")
	fs.String("log-format", d.Log.Format, "log format (json, text, tint)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.Bool("no-color", false, "disable colour in tint output")
	fs.String("hasher", d.Password.Hasher, "password hasher (bcrypt, argon2id)")
	fs.Int("bcrypt-cost", d.Password.BcryptCost, "bcrypt work factor")
	fs.Duration("token-ttl", d.Tokens.TTL, "token validity window")
	fs.Bool("single-use", false, "clear tokens after their first successful lookup")
	fs.StringSlice("allow-domains", nil, "email domain globs to accept")
	fs.StringSlice("deny-domains", nil, "email domain globs to reject")
}

// RegisterServeFlags declares the serve command's override flags on fs.
func RegisterServeFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("metrics-addr", d.Serve.MetricsAddr, "metrics and health listen address (empty disables)")
	fs.Duration("purge-every", d.Serve.PurgeInterval, "expired token purge interval (0 disables)")
}

// Load builds the effective configuration.
//
// When path is empty the XDG config file is used if it exists. An explicit
// path must exist. Only flags the user changed override file values.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = xdg.ConfigFile()
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	switch {
	case err == nil:
		if err := ValidateSchema(data); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// no config file; defaults apply
	default:
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}

	for key, env := range map[string]string{"database.url": EnvDatabaseURL, "redis.url": EnvRedisURL} {
		if v := os.Getenv(env); v != "" && k.String(key) == "" {
			if err := k.Set(key, v); err != nil {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("env", env).Wrap(err)
			}
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	invalid := func(key string) oops.OopsErrorBuilder {
		return oops.Code("CONFIG_INVALID").With("key", key)
	}

	switch c.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			return invalid("database.url").Errorf("%s is required for the postgres store", EnvDatabaseURL)
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			return invalid("redis.url").Errorf("%s is required for the redis store", EnvRedisURL)
		}
	case StoreMemory:
	default:
		return invalid("store").Errorf("unknown store %q", c.Store)
	}

	if !logging.ValidFormat(c.Log.Format) {
		return invalid("log.format").Errorf("unknown log format %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level").Wrap(err)
	}

	switch c.Password.Hasher {
	case HasherBcrypt:
		if _, err := identity.NewBcryptHasher(c.Password.BcryptCost); err != nil {
			return invalid("password.bcrypt_cost").Wrap(err)
		}
	case HasherArgon2id:
		a := c.Password.Argon2
		if a.Time == 0 || a.MemoryKiB < 8*uint32(a.Threads) || a.Threads == 0 {
			return invalid("password.argon2").Errorf("argon2 needs time >= 1, threads >= 1 and memory_kib >= 8*threads")
		}
	default:
		return invalid("password.hasher").Errorf("unknown hasher %q", c.Password.Hasher)
	}

	if c.Tokens.TTL <= 0 {
		return invalid("tokens.ttl").Errorf("token ttl must be positive")
	}
	if c.Serve.PurgeInterval < 0 {
		return invalid("serve.purge_interval").Errorf("purge interval must not be negative")
	}
	if _, err := identity.NewEmailPolicy(c.Email.AllowDomains, c.Email.DenyDomains); err != nil {
		return invalid("email").Wrap(err)
	}
	return nil
}

// Argon2Params converts the configured argon2 costs to hasher parameters.
func (c *Config) Argon2Params() identity.Argon2Params {
	p := identity.DefaultArgon2Params
	p.Time = c.Password.Argon2.Time
	p.Memory = c.Password.Argon2.MemoryKiB
	p.Threads = c.Password.Argon2.Threads
	return p
}

// LoggingOptions returns the logging setup for this configuration.
func (c *Config) LoggingOptions(service, version string) logging.Options {
	return logging.Options{
		Service: service,
		Version: version,
		Format:  c.Log.Format,
		Level:   c.Log.Level,
		NoColor: c.Log.NoColor,
	}
}

// Redacted returns a copy with connection URL passwords masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Database.URL = redactURL(c.Database.URL)
	out.Redis.URL = redactURL(c.Redis.URL)
	out.Email.AllowDomains = slices.Clone(c.Email.AllowDomains)
	out.Email.DenyDomains = slices.Clone(c.Email.DenyDomains)
	return &out
}

func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return logging.Redacted
	}
	return u.Redacted()
}
