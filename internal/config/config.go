package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"       validate:"required"`
	Database     DatabaseConfig     `mapstructure:"database"     validate:"required"`
	Storage      StorageConfig      `mapstructure:"storage"      validate:"required"`
	Batch        BatchConfig        `mapstructure:"batch"        validate:"required"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" validate:"required"`
	Notify       NotifyConfig       `mapstructure:"notify"       validate:"required"`
	Auth         AuthConfig         `mapstructure:"auth"`
}

// ServerConfig contains process-level settings.
type ServerConfig struct {
	LogLevel  string `mapstructure:"log_level"  validate:"required,oneof=debug info warn error"`
	AdminAddr string `mapstructure:"admin_addr" validate:"required,hostname_port"`
}

// DatabaseConfig selects and tunes the task store backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"            validate:"required,oneof=postgres sqlite"`
	URL             string        `mapstructure:"url"               validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// StorageConfig selects the object store holding input, normalized and result blobs.
type StorageConfig struct {
	Backend         string `mapstructure:"backend"          validate:"required,oneof=gcs s3 filesystem memory"`
	Bucket          string `mapstructure:"bucket"           validate:"required_if=Backend gcs,required_if=Backend s3"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"         validate:"omitempty,url"`
	CredentialsFile string `mapstructure:"credentials_file"`
	RootDir         string `mapstructure:"root_dir"         validate:"required_if=Backend filesystem"`
}

// BatchConfig points at the external clustering batch service.
type BatchConfig struct {
	BaseURL        string            `mapstructure:"base_url"        validate:"required,url"`
	Token          string            `mapstructure:"token"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout" validate:"gt=0"`
	Params         map[string]string `mapstructure:"params"`
}

// OrchestratorConfig bounds retries and the completion poll loop.
type OrchestratorConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"    validate:"gt=0"`
	MaxWait        time.Duration `mapstructure:"max_wait"         validate:"gtfield=PollInterval"`
	RetryAttempts  uint64        `mapstructure:"retry_attempts"   validate:"gte=1,lte=10"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" validate:"gt=0"`
	MaxPollErrors  int           `mapstructure:"max_poll_errors"  validate:"gte=1"`
}

// NotifyConfig selects where completion and failure notices go.
type NotifyConfig struct {
	Backend       string `mapstructure:"backend"        validate:"required,oneof=nats log"`
	NATSURL       string `mapstructure:"nats_url"       validate:"required_if=Backend nats"`
	SubjectPrefix string `mapstructure:"subject_prefix" validate:"required"`
	SiteURL       string `mapstructure:"site_url"       validate:"omitempty,url"`
}

// AuthConfig contains the admin API credentials. Only the admin server
// requires the secret.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
}
