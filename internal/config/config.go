package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "COLLOG"
	defaultHTTPAddress     = "127.0.0.1:8777"
	defaultDatabasePath    = "collog.db"
	defaultLogLevel        = "info"
	defaultRemoteBaseURL   = "https://templeosrs.com/api"
	defaultRemoteTimeout   = 10
	defaultDebounceTicks   = 30
	defaultCacheMaxPlayers = 50
)

// AppConfig captures runtime configuration for the sync daemon.
type AppConfig struct {
	HTTPAddress     string
	SigningSecret   string
	DatabasePath    string
	LogLevel        string
	RemoteBaseURL   string
	RemoteTimeout   time.Duration
	DebounceTicks   int
	CacheMaxPlayers int
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
	configViper.SetDefault("remote.base_url", defaultRemoteBaseURL)
	configViper.SetDefault("remote.timeout_seconds", defaultRemoteTimeout)
	configViper.SetDefault("sync.debounce_ticks", defaultDebounceTicks)
	configViper.SetDefault("cache.max_players", defaultCacheMaxPlayers)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		RemoteBaseURL:   configViper.GetString("remote.base_url"),
		RemoteTimeout:   time.Duration(configViper.GetInt("remote.timeout_seconds")) * time.Second,
		DebounceTicks:   configViper.GetInt("sync.debounce_ticks"),
		CacheMaxPlayers: configViper.GetInt("cache.max_players"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.RemoteBaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("remote.timeout_seconds must be positive")
	}
	if c.DebounceTicks <= 0 {
		return fmt.Errorf("sync.debounce_ticks must be positive")
	}
	if c.CacheMaxPlayers <= 0 {
		return fmt.Errorf("cache.max_players must be positive")
	}
	return nil
}
