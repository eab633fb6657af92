package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "PULSELOG"
	defaultHTTPAddress  = "127.0.0.1:8099"
	defaultDatabasePath = "pulselog.db"
	defaultLogLevel     = "info"
	defaultChannelName  = "pulselog"
	defaultTimezone     = "Europe/Amsterdam"
	defaultRetrySeconds = 30
)

// AppConfig captures runtime configuration for the pulselog service.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	ChannelName     string
	DefaultTimezone string
	QueueRetry      time.Duration
	// BeaconPath enables cross-process sync notifications when set.
	BeaconPath string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("channel.name", defaultChannelName)
	configViper.SetDefault("channel.beacon_path", "")
	configViper.SetDefault("timezone.default", defaultTimezone)
	configViper.SetDefault("queue.retry_seconds", defaultRetrySeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		ChannelName:     configViper.GetString("channel.name"),
		DefaultTimezone: configViper.GetString("timezone.default"),
		QueueRetry:      time.Duration(configViper.GetInt("queue.retry_seconds")) * time.Second,
		BeaconPath:      configViper.GetString("channel.beacon_path"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ChannelName) == "" {
		return fmt.Errorf("channel.name is required")
	}
	if strings.TrimSpace(c.DefaultTimezone) == "" {
		return fmt.Errorf("timezone.default is required")
	}
	if c.QueueRetry < 0 {
		return fmt.Errorf("queue.retry_seconds must not be negative")
	}
	return nil
}
