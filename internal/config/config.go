// Package config loads the client configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config interface {
	ClientConfig
	ConnectionConfig
	SessionConfig
	StorageConfig
}

// values holds every setting as read by Viper. Keys are the environment variable names.
type values struct {
	AppName  string `mapstructure:"STOREMAP_APP_NAME"`
	Env      string `mapstructure:"STOREMAP_ENV"`
	Locale   string `mapstructure:"STOREMAP_LOCALE"`
	LogLevel string `mapstructure:"STOREMAP_LOG_LEVEL"`

	APIURLs             []string `mapstructure:"STOREMAP_API_URLS"`
	ProbeTimeout        string   `mapstructure:"STOREMAP_PROBE_TIMEOUT"`
	RequestTimeout      string   `mapstructure:"STOREMAP_REQUEST_TIMEOUT"`
	RetryDelay          string   `mapstructure:"STOREMAP_RETRY_DELAY"`
	MaxAttempts         int      `mapstructure:"STOREMAP_MAX_ATTEMPTS"`
	HealthCheckInterval string   `mapstructure:"STOREMAP_HEALTH_CHECK_INTERVAL"`

	ExpiryBuffer   string `mapstructure:"STOREMAP_EXPIRY_BUFFER"`
	RefreshLead    string `mapstructure:"STOREMAP_REFRESH_LEAD"`
	RefreshTimeout string `mapstructure:"STOREMAP_REFRESH_TIMEOUT"`
	GoogleClientID string `mapstructure:"STOREMAP_GOOGLE_CLIENT_ID"`

	DataFolder string `mapstructure:"STOREMAP_DATA_FOLDER"`
	StorageKey string `mapstructure:"STOREMAP_STORAGE_KEY"`
}

type mainConfig struct {
	EnvVars
	Connection
	Session
	Storage
}

var _ Config = mainConfig{}

// New reads envFile (if present), then the environment. Env vars override the file.
// An empty envFile means ".env"; a missing file is ignored.
func New(envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}

	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore missing file

	v.AutomaticEnv()
	setDefaults(v)

	var vals values
	if err := v.Unmarshal(&vals); err != nil {
		return nil, errors.Wrap(err, "[config.New] unmarshal")
	}
	if len(vals.APIURLs) == 0 {
		return nil, errors.New("[config.New] STOREMAP_API_URLS must list at least one base URL")
	}
	if vals.MaxAttempts < 1 {
		return nil, errors.New("[config.New] STOREMAP_MAX_ATTEMPTS must be at least 1")
	}

	return mainConfig{
		EnvVars:    EnvVars{vals: vals},
		Connection: Connection{vals: vals},
		Session:    Session{vals: vals},
		Storage:    Storage{vals: vals},
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("STOREMAP_APP_NAME", "Storemap")
	v.SetDefault("STOREMAP_ENV", "DEV")
	v.SetDefault("STOREMAP_LOCALE", "pt-BR")
	v.SetDefault("STOREMAP_LOG_LEVEL", "info")

	v.SetDefault("STOREMAP_API_URLS", DefaultAPIURLs)
	v.SetDefault("STOREMAP_PROBE_TIMEOUT", "5s")
	v.SetDefault("STOREMAP_REQUEST_TIMEOUT", "15s")
	v.SetDefault("STOREMAP_RETRY_DELAY", "1s")
	v.SetDefault("STOREMAP_MAX_ATTEMPTS", 3)
	v.SetDefault("STOREMAP_HEALTH_CHECK_INTERVAL", "60s")

	v.SetDefault("STOREMAP_EXPIRY_BUFFER", "2m")
	v.SetDefault("STOREMAP_REFRESH_LEAD", "5m")
	v.SetDefault("STOREMAP_REFRESH_TIMEOUT", "30s")
	v.SetDefault("STOREMAP_GOOGLE_CLIENT_ID", "")

	v.SetDefault("STOREMAP_DATA_FOLDER", "./data")
	v.SetDefault("STOREMAP_STORAGE_KEY", "")
}
