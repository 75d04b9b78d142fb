package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// SINGLEINSTANCE_TRANSPORT or SINGLEINSTANCE_MAILBOX_STALE_AFTER.
const EnvPrefix = "SINGLEINSTANCE"

// Transport names accepted in Config.Transport.
const (
	TransportSocket  = "socket"
	TransportMailbox = "mailbox"
)

// Config represents the complete single-instance configuration
type Config struct {
	// Transport selects the notification channel: "socket" or "mailbox"
	Transport string `mapstructure:"transport" yaml:"transport"`
	// RuntimeDir holds lock files, sockets and mailbox spools.
	// Empty means a per-user default (see lock.DefaultDir).
	RuntimeDir string `mapstructure:"runtime_dir" yaml:"runtime_dir"`
	// PublishTimeout bounds how long a secondary instance waits to deliver
	// its arguments before giving up
	PublishTimeout time.Duration `mapstructure:"publish_timeout" yaml:"publish_timeout"`
	// ConnectWait is how long a socket publisher keeps dialing while the
	// first instance has the lock but is not listening yet
	ConnectWait time.Duration `mapstructure:"connect_wait" yaml:"connect_wait"`

	Mailbox MailboxConfig `mapstructure:"mailbox" yaml:"mailbox"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// MailboxConfig controls the mailbox transport
type MailboxConfig struct {
	// StaleAfter is the age past which spooled messages are discarded when
	// the first instance starts listening
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
}

// LoggingConfig controls debug logging
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn" or "error"
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is where the log file is written. Empty logs to stderr.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Transport:      TransportSocket,
		RuntimeDir:     "",
		PublishTimeout: 5 * time.Second,
		ConnectWait:    2 * time.Second,
		Mailbox: MailboxConfig{
			StaleAfter: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values on v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("transport", defaults.Transport)
	v.SetDefault("runtime_dir", defaults.RuntimeDir)
	v.SetDefault("publish_timeout", defaults.PublishTimeout)
	v.SetDefault("connect_wait", defaults.ConnectWait)

	v.SetDefault("mailbox.stale_after", defaults.Mailbox.StaleAfter)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v and validates it
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "singleinstance")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".singleinstance"
	}
	return filepath.Join(home, ".config", "singleinstance")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidTransports returns the list of valid transport names
func ValidTransports() []string {
	return []string{TransportSocket, TransportMailbox}
}
