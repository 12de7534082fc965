package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.RemoteBaseURL != defaultRemoteBaseURL {
		t.Fatalf("unexpected remote base url %q", cfg.RemoteBaseURL)
	}
	if cfg.RemoteTimeout != defaultRemoteTimeout*time.Second {
		t.Fatalf("unexpected remote timeout %v", cfg.RemoteTimeout)
	}
	if cfg.DebounceTicks != defaultDebounceTicks {
		t.Fatalf("unexpected debounce ticks %d", cfg.DebounceTicks)
	}
	if cfg.CacheMaxPlayers != defaultCacheMaxPlayers {
		t.Fatalf("unexpected cache max players %d", cfg.CacheMaxPlayers)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	configViper := NewViper()

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error without a signing secret")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{name: "blank-database-path", key: "database.path", value: "  "},
		{name: "blank-remote-url", key: "remote.base_url", value: ""},
		{name: "zero-timeout", key: "remote.timeout_seconds", value: 0},
		{name: "negative-debounce", key: "sync.debounce_ticks", value: -1},
		{name: "zero-max-players", key: "cache.max_players", value: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set("auth.signing_secret", "test-secret")
			configViper.Set(tt.key, tt.value)

			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")
	configViper.Set("http.address", "0.0.0.0:9000")
	configViper.Set("sync.debounce_ticks", 5)

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.DebounceTicks != 5 {
		t.Fatalf("unexpected debounce ticks %d", cfg.DebounceTicks)
	}
}
