package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "AUTHBRIDGE"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultBasePath       = "/authjs"
	defaultDatabaseDriver = "sqlite"
	defaultDatabasePath   = "authbridge.db"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultCookieName     = "authjs.session-token"
	defaultServiceIssuer  = "authjs"
)

// AppConfig captures runtime configuration for the adapter service.
type AppConfig struct {
	HTTPAddress          string
	BasePath             string
	AllowedOrigins       []string
	DatabaseDriver       string
	DatabasePath         string
	DatabaseDSN          string
	LogLevel             string
	LogFormat            string
	SessionCookieName    string
	ServiceSigningSecret string
	ServiceIssuer        string
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
	configViper.SetDefault("http.base_path", defaultBasePath)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("service.issuer", defaultServiceIssuer)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		BasePath:             strings.TrimRight(strings.TrimSpace(configViper.GetString("http.base_path")), "/"),
		AllowedOrigins:       configViper.GetStringSlice("http.allowed_origins"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:         configViper.GetString("database.path"),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            configViper.GetString("log.format"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		ServiceSigningSecret: configViper.GetString("service.signing_secret"),
		ServiceIssuer:        configViper.GetString("service.issuer"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// ServiceTokensEnabled reports whether adapter endpoints require a service token.
func (c AppConfig) ServiceTokensEnabled() bool {
	return strings.TrimSpace(c.ServiceSigningSecret) != ""
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.BasePath != "" && !strings.HasPrefix(c.BasePath, "/") {
		return fmt.Errorf("http.base_path must start with /")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.ServiceTokensEnabled() && strings.TrimSpace(c.ServiceIssuer) == "" {
		return fmt.Errorf("service.issuer is required when service.signing_secret is set")
	}
	return nil
}
