// Package config loads chronodiff settings from <home>/config.toml and
// CHRONODIFF_* environment variables.
//
// Precedence, highest first: command-line flags (applied by the caller),
// environment, config file, defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CHRONODIFF_WINDOW_MS.
const EnvPrefix = "CHRONODIFF"

// FileName is the config file name inside the home directory.
const FileName = "config.toml"

// Color modes for Output.Color.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config holds all settings.
type Config struct {
	// Home is the storage root shared by all projects.
	Home       string `mapstructure:"home" toml:"home" json:"home" yaml:"home"`
	WindowMS   int    `mapstructure:"window_ms" toml:"window_ms" json:"window_ms" yaml:"window_ms"`
	BufferSize int    `mapstructure:"buffer_size" toml:"buffer_size" json:"buffer_size" yaml:"buffer_size"`
	Workers    int    `mapstructure:"workers" toml:"workers" json:"workers" yaml:"workers"`

	Log       LogConfig       `mapstructure:"log" toml:"log" json:"log" yaml:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard" toml:"dashboard" json:"dashboard" yaml:"dashboard"`
	Output    OutputConfig    `mapstructure:"output" toml:"output" json:"output" yaml:"output"`
}

// LogConfig controls logging and daemon log rotation.
type LogConfig struct {
	Level      string `mapstructure:"level" toml:"level" json:"level" yaml:"level"`
	Format     string `mapstructure:"format" toml:"format" json:"format" yaml:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" toml:"compress" json:"compress" yaml:"compress"`
}

// DashboardConfig controls the live record feed.
type DashboardConfig struct {
	// Port for the websocket feed; 0 disables it.
	Port int `mapstructure:"port" toml:"port" json:"port" yaml:"port"`
}

// OutputConfig controls terminal rendering.
type OutputConfig struct {
	Color string `mapstructure:"color" toml:"color" json:"color" yaml:"color"`
}

// Default returns the built-in configuration. Home is left empty and
// resolved by Load.
func Default() *Config {
	return &Config{
		WindowMS:   50,
		BufferSize: 1024,
		Workers:    4,
		Log: LogConfig{
			Level:      "warn",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Output: OutputConfig{Color: ColorAuto},
	}
}

// DefaultHome returns $CHRONODIFF_HOME, or ~/.chronodiff.
func DefaultHome() (string, error) {
	if home := os.Getenv(EnvPrefix + "_HOME"); home != "" {
		return home, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(userHome, ".chronodiff"), nil
}

// Path returns the config file location inside home.
func Path(home string) string {
	return filepath.Join(home, FileName)
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("home", d.Home)
	v.SetDefault("window_ms", d.WindowMS)
	v.SetDefault("buffer_size", d.BufferSize)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
	v.SetDefault("output.color", d.Output.Color)
}

// Load reads the config file at path (default: <home>/config.toml) and
// applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	home, err := DefaultHome()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = Path(home)
	}

	defaults := Default()
	defaults.Home = home

	v := viper.New()
	setDefaults(v, defaults)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("home is required")
	}
	if c.WindowMS <= 0 {
		return fmt.Errorf("window_ms must be positive, got %d", c.WindowMS)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	switch c.Output.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("output.color must be auto, always or never, got %q", c.Output.Color)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Window returns the debounce window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.WindowMS) * time.Millisecond
}

// Write encodes cfg as TOML at path. An existing file is replaced only
// when overwrite is set.
func Write(path string, cfg *Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return f.Close()
}
