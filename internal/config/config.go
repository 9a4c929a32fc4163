// Package config loads the daemon configuration from TOML with viper.
// Every key has a default, so serving without a config file works.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/botvisor/internal/env"
	"github.com/loykin/botvisor/internal/logger"
)

// EnvPrefix is prepended to environment overrides, e.g. BOTVISOR_SERVER_LISTEN.
const EnvPrefix = "BOTVISOR"

type Config struct {
	Store      string           `toml:"store" mapstructure:"store"`
	StopOnExit bool             `toml:"stop_on_exit" mapstructure:"stop_on_exit"`
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Log        LogConfig        `toml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`

	path string
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	PIDFile  string `toml:"pidfile" mapstructure:"pidfile"`
	LogFile  string `toml:"logfile" mapstructure:"logfile"`
}

type SupervisorConfig struct {
	GracePeriod time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	UseOSEnv    bool          `toml:"use_os_env" mapstructure:"use_os_env"`
	Env         []string      `toml:"env" mapstructure:"env"`
	EnvFiles    []string      `toml:"env_files" mapstructure:"env_files"`
}

type LogConfig struct {
	RingSize   int    `toml:"ring_size" mapstructure:"ring_size"`
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled        bool          `toml:"enabled" mapstructure:"enabled"`
	Listen         string        `toml:"listen" mapstructure:"listen"`
	SampleInterval time.Duration `toml:"sample_interval" mapstructure:"sample_interval"`
}

type HistoryConfig struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store", "bots_config.json")
	v.SetDefault("stop_on_exit", false)

	v.SetDefault("server.listen", ":5000")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.pidfile", "")
	v.SetDefault("server.logfile", "")

	v.SetDefault("supervisor.grace_period", "5s")
	v.SetDefault("supervisor.use_os_env", true)
	v.SetDefault("supervisor.env", []string{})
	v.SetDefault("supervisor.env_files", []string{})

	v.SetDefault("log.ring_size", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.sample_interval", "15s")

	v.SetDefault("history.sinks", []string{})
}

// Load reads path (TOML) on top of the defaults and applies BOTVISOR_*
// environment overrides. An empty path yields defaults plus overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.path = path
	if path != "" {
		c.resolvePaths(filepath.Dir(path))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// resolvePaths makes env file paths relative to the config file directory.
func (c *Config) resolvePaths(dir string) {
	for i, p := range c.Supervisor.EnvFiles {
		if p != "" && !filepath.IsAbs(p) {
			c.Supervisor.EnvFiles[i] = filepath.Join(dir, p)
		}
	}
}

// Path returns the file the config was loaded from, or "".
func (c *Config) Path() string { return c.path }

// Validate checks value ranges that the defaults cannot guarantee.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Store) == "" {
		errs = append(errs, errors.New("store must not be empty"))
	}
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if c.Supervisor.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("supervisor.grace_period must be positive, got %s", c.Supervisor.GracePeriod))
	}
	if c.Log.RingSize <= 0 {
		errs = append(errs, fmt.Errorf("log.ring_size must be positive, got %d", c.Log.RingSize))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Logger converts the log section into a logger.Config.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		Color:      c.Log.Color,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// BotEnv builds the environment composer for spawned bots.
// Precedence: OS env (when enabled), then env_files in order, then env.
func (c *Config) BotEnv() (*env.Env, error) {
	e := env.New(c.Supervisor.UseOSEnv)
	if err := e.LoadFiles(c.Supervisor.EnvFiles...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}
	e.AddPairs(c.Supervisor.Env)
	return e, nil
}
