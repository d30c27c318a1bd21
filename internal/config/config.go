package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "THREADKEEP"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "threadkeep.db"
	defaultLogLevel     = "info"
	defaultPageSize     = 10
	defaultUserRate     = "100/minute"
	defaultSlowRate     = "1/15seconds"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	SigningSecret      string
	RegistrationSecret string
	PageSize           int
	ThrottleRates      map[string]string
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
	configViper.SetDefault("listing.page_size", defaultPageSize)
	configViper.SetDefault("throttle.default", defaultUserRate)
	configViper.SetDefault("throttle.slow", defaultSlowRate)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		RegistrationSecret: configViper.GetString("auth.registration_secret"),
		PageSize:           configViper.GetInt("listing.page_size"),
		ThrottleRates: map[string]string{
			"default": configViper.GetString("throttle.default"),
			"slow":    configViper.GetString("throttle.slow"),
		},
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
	if c.PageSize < 1 {
		return fmt.Errorf("listing.page_size must be positive")
	}
	return nil
}
