package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// KeyringConfig selects and configures the OS secret store.
type KeyringConfig struct {
	// Service is the namespace all stored credentials share.
	Service string `mapstructure:"service" yaml:"service"`

	// Backends lists the allowed keyring backends in preference order
	// (e.g., "keychain", "secret-service", "wincred", "pass", "file").
	Backends []string `mapstructure:"backends" yaml:"backends"`

	// FileDir is where the encrypted file backend keeps its items.
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`
}

// StoreConfig holds the account index database settings.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`

	// FlushIntervalSec is how often last-used times are written back.
	FlushIntervalSec int `mapstructure:"flush_interval_sec" yaml:"flush_interval_sec"`
}

// FlushInterval returns the configured interval as a duration.
func (s StoreConfig) FlushInterval() time.Duration {
	return time.Duration(s.FlushIntervalSec) * time.Second
}

// ListenConfig configures the local command API.
type ListenConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// MailConfig holds mail engine settings.
type MailConfig struct {
	// DialTimeoutSec bounds connecting and greeting, per server.
	DialTimeoutSec int `mapstructure:"dial_timeout_sec" yaml:"dial_timeout_sec"`

	// Hostname is announced in SMTP EHLO.
	Hostname string `mapstructure:"hostname" yaml:"hostname"`

	// SanitizeHTML strips unsafe markup from HTML message bodies.
	SanitizeHTML bool `mapstructure:"sanitize_html" yaml:"sanitize_html"`
}

// DialTimeout returns the configured timeout as a duration.
func (m MailConfig) DialTimeout() time.Duration {
	return time.Duration(m.DialTimeoutSec) * time.Second
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Keyring KeyringConfig `mapstructure:"keyring" yaml:"keyring"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Server  ListenConfig  `mapstructure:"server" yaml:"server"`
	Mail    MailConfig    `mapstructure:"mail" yaml:"mail"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// configDir returns ~/.config/maildesk, or the working directory when the
// home directory cannot be resolved.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "maildesk")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/maildesk/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	dir := configDir()
	return &AppConfig{
		Keyring: KeyringConfig{
			Service:  "maildesk",
			Backends: []string{"keychain", "secret-service", "wincred", "pass", "file"},
			FileDir:  filepath.Join(dir, "credentials"),
		},
		Store: StoreConfig{
			Path:             filepath.Join(dir, "accounts.db"),
			FlushIntervalSec: 5,
		},
		Server: ListenConfig{
			Listen: "127.0.0.1:4567",
		},
		Mail: MailConfig{
			DialTimeoutSec: 30,
			Hostname:       "localhost",
			SanitizeHTML:   true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	defaults := defaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("keyring.service", defaults.Keyring.Service)
	v.SetDefault("keyring.backends", defaults.Keyring.Backends)
	v.SetDefault("keyring.file_dir", defaults.Keyring.FileDir)
	v.SetDefault("store.path", defaults.Store.Path)
	v.SetDefault("store.flush_interval_sec", defaults.Store.FlushIntervalSec)
	v.SetDefault("server.listen", defaults.Server.Listen)
	v.SetDefault("mail.dial_timeout_sec", defaults.Mail.DialTimeoutSec)
	v.SetDefault("mail.hostname", defaults.Mail.Hostname)
	v.SetDefault("mail.sanitize_html", defaults.Mail.SanitizeHTML)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)

	v.SetEnvPrefix("maildesk")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaults, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaults, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Mail.DialTimeoutSec <= 0 {
		cfg.Mail.DialTimeoutSec = defaults.Mail.DialTimeoutSec
	}
	if cfg.Store.FlushIntervalSec <= 0 {
		cfg.Store.FlushIntervalSec = defaults.Store.FlushIntervalSec
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("keyring", cfg.Keyring)
	v.Set("store", cfg.Store)
	v.Set("server", cfg.Server)
	v.Set("mail", cfg.Mail)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
