package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "KC"

// defaults lists every key Load knows about. Registering each key is what
// lets AutomaticEnv values reach Unmarshal.
var defaults = map[string]any{
	"server.log_level":  "info",
	"server.admin_addr": "localhost:8080",

	"database.driver":            "postgres",
	"database.url":               "",
	"database.max_open_conns":    5,
	"database.max_idle_conns":    2,
	"database.conn_max_lifetime": "30m",

	"storage.backend":          "gcs",
	"storage.bucket":           "",
	"storage.region":           "",
	"storage.endpoint":         "",
	"storage.credentials_file": "",
	"storage.root_dir":         "",

	"batch.base_url":        "",
	"batch.token":           "",
	"batch.request_timeout": "30s",

	"orchestrator.poll_interval":    "2m",
	"orchestrator.max_wait":         "6h",
	"orchestrator.retry_attempts":   3,
	"orchestrator.retry_base_delay": "1s",
	"orchestrator.max_poll_errors":  5,

	"notify.backend":        "log",
	"notify.nats_url":       "",
	"notify.subject_prefix": "kcjob.task",
	"notify.site_url":       "",

	"auth.jwt_secret": "",
}

// Load configuration from defaults, an optional config file and environment
// variables. Environment variables take precedence over values from config
// files. The config file is config.yaml in the working directory unless
// KC_CONFIG_FILE names another one.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags on cfg.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
