package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix namespaces environment overrides, e.g. TALLYBOOK_DB_PATH.
const EnvPrefix = "TALLYBOOK"

const DefaultDBPath = "./data/tallybook.db"

// Config is the static startup configuration.
type Config struct {
	DB   DBConfig
	Log  LogConfig
	Auth AuthConfig
	Seed SeedConfig
}

// DBConfig locates and tunes the SQLite store.
type DBConfig struct {
	Path         string
	MaxOpenConns int
	BusyTimeout  time.Duration
	Retry        RetryConfig
}

// RetryConfig bounds retries of busy or locked statements.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

type LogConfig struct {
	Level string
	// File is the rotating log file; empty places it next to the database.
	File string
}

type AuthConfig struct {
	BcryptCost int
}

// SeedConfig applies only when the store is created.
type SeedConfig struct {
	AdminPassword string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.path", DefaultDBPath)
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("db.busy_timeout", 5*time.Second)
	v.SetDefault("db.retry.attempts", 5)
	v.SetDefault("db.retry.base_delay", 50*time.Millisecond)
	v.SetDefault("db.retry.max_delay", 2*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("seed.admin_password", "password")
}

// Load reads configuration from an optional file and TALLYBOOK_* environment variables.
// Environment variables win over the file. When file is empty, tallybook.yaml is looked up
// in the working directory and ./config; its absence is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("tallybook")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{
		DB: DBConfig{
			Path:         v.GetString("db.path"),
			MaxOpenConns: v.GetInt("db.max_open_conns"),
			BusyTimeout:  v.GetDuration("db.busy_timeout"),
			Retry: RetryConfig{
				Attempts:  v.GetInt("db.retry.attempts"),
				BaseDelay: v.GetDuration("db.retry.base_delay"),
				MaxDelay:  v.GetDuration("db.retry.max_delay"),
			},
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			File:  v.GetString("log.file"),
		},
		Auth: AuthConfig{
			BcryptCost: v.GetInt("auth.bcrypt_cost"),
		},
		Seed: SeedConfig{
			AdminPassword: v.GetString("seed.admin_password"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DB.Path == "" {
		return errors.New("db.path must not be empty")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Seed.AdminPassword == "" {
		return errors.New("seed.admin_password must not be empty")
	}
	return nil
}
