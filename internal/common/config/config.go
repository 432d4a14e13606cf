// Package config provides configuration management for the orchestration core.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Artifacts    ArtifactsConfig    `mapstructure:"artifacts"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Sessions     SessionsConfig     `mapstructure:"sessions"`
	Tasks        TasksConfig        `mapstructure:"tasks"`
}

// ServerConfig holds the gateway HTTP/WebSocket server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds persistence port configuration. An empty driver
// means artifact metadata and operation logs stay in-process.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // "", "sqlite", "postgres"
	Path     string `mapstructure:"path"`   // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
}

// RedisConfig holds the broadcast bus configuration. An empty address
// means the in-memory bus is used (single-process mode).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig holds the alternative cluster bus configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ArtifactsConfig holds the on-disk artifact store configuration.
type ArtifactsConfig struct {
	// Dir is the directory name created inside each project folder for
	// persisted file artifacts.
	Dir string `mapstructure:"dir"`
}

// OrchestratorConfig holds convergence loop budgets.
type OrchestratorConfig struct {
	MaxIterations int `mapstructure:"maxIterations"`
	TimeoutSec    int `mapstructure:"timeoutSec"`
	PollMillis    int `mapstructure:"pollMillis"`
}

// SessionsConfig holds session manager limits.
type SessionsConfig struct {
	TTLMinutes int `mapstructure:"ttlMinutes"`
	MessageCap int `mapstructure:"messageCap"`
	PruneEvery int `mapstructure:"pruneEvery"` // minutes
}

// TasksConfig holds background task manager limits.
type TasksConfig struct {
	TimeoutMinutes int `mapstructure:"timeoutMinutes"`
	ResultMaxChars int `mapstructure:"resultMaxChars"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Timeout returns the convergence loop deadline as a time.Duration.
func (o *OrchestratorConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSec) * time.Second
}

// PollInterval returns the evaluator poll interval as a time.Duration.
func (o *OrchestratorConfig) PollInterval() time.Duration {
	return time.Duration(o.PollMillis) * time.Millisecond
}

// TTL returns the session time-to-live as a time.Duration.
func (s *SessionsConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

// Timeout returns the per-task wall clock budget as a time.Duration.
func (t *TasksConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutMinutes) * time.Minute
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CODI_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - empty driver means in-process persistence only
	v.SetDefault("database.driver", "")
	v.SetDefault("database.path", "./codi.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "codi")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "codi")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 10)

	// Redis defaults - empty addr means in-memory bus
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// NATS defaults - empty URL disables the NATS bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "codi-core")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("artifacts.dir", ".codi/artifacts")

	v.SetDefault("orchestrator.maxIterations", 50)
	v.SetDefault("orchestrator.timeoutSec", 600)
	v.SetDefault("orchestrator.pollMillis", 500)

	v.SetDefault("sessions.ttlMinutes", 120)
	v.SetDefault("sessions.messageCap", 200)
	v.SetDefault("sessions.pruneEvery", 15)

	v.SetDefault("tasks.timeoutMinutes", 30)
	v.SetDefault("tasks.resultMaxChars", 1000)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CODI_ with snake_case naming.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CODI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/codi/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that configuration values are usable.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres (or empty)")
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		errs = append(errs, "database.path is required when database.driver is sqlite")
	}
	if cfg.Database.Driver == "postgres" {
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required when database.driver is postgres")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required when database.driver is postgres")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if cfg.Orchestrator.MaxIterations <= 0 {
		errs = append(errs, "orchestrator.maxIterations must be positive")
	}
	if cfg.Orchestrator.PollMillis <= 0 {
		errs = append(errs, "orchestrator.pollMillis must be positive")
	}
	if cfg.Sessions.MessageCap <= 0 {
		errs = append(errs, "sessions.messageCap must be positive")
	}
	if cfg.Tasks.ResultMaxChars <= 0 {
		errs = append(errs, "tasks.resultMaxChars must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
