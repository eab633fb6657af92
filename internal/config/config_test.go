package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:8099" {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "pulselog.db" {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.ChannelName != "pulselog" {
		t.Fatalf("unexpected channel name %q", cfg.ChannelName)
	}
	if cfg.DefaultTimezone != "Europe/Amsterdam" {
		t.Fatalf("unexpected default timezone %q", cfg.DefaultTimezone)
	}
	if cfg.QueueRetry != 30*time.Second {
		t.Fatalf("unexpected queue retry %v", cfg.QueueRetry)
	}
	if cfg.BeaconPath != "" {
		t.Fatalf("beacon path must default to disabled, got %q", cfg.BeaconPath)
	}
}

func TestLoadRejectsBlankDatabasePath(t *testing.T) {
	configViper := NewViper()
	configViper.Set("database.path", "   ")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected validation error for blank database path")
	}
}

func TestLoadRejectsNegativeRetry(t *testing.T) {
	configViper := NewViper()
	configViper.Set("queue.retry_seconds", -5)
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected validation error for negative retry interval")
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	configViper := NewViper()
	configViper.Set("http.address", "0.0.0.0:9000")
	configViper.Set("channel.beacon_path", "/tmp/pulselog-beacon")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:9000" {
		t.Fatalf("override not applied, got %q", cfg.HTTPAddress)
	}
	if cfg.BeaconPath != "/tmp/pulselog-beacon" {
		t.Fatalf("beacon override not applied, got %q", cfg.BeaconPath)
	}
}
