// Package config loads server configuration from a YAML file, a .env file
// and TRACKER_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/store"
	"github.com/psantana5/tracker/pkg/tracing"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "TRACKER"

// Config is the complete server configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  store.Config    `mapstructure:"database" yaml:"database"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Tracing   tracing.Config  `mapstructure:"tracing" yaml:"tracing"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Settings  models.Settings `mapstructure:"settings" yaml:"settings"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	TLS             bool          `mapstructure:"tls" yaml:"tls"`
	CertFile        string        `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile         string        `mapstructure:"key_file" yaml:"key_file"`
	GenerateCert    bool          `mapstructure:"generate_cert" yaml:"generate_cert"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	SeedFile        string        `mapstructure:"seed_file" yaml:"seed_file"`
}

// AuthConfig controls session tokens
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
}

// LoggingConfig selects level and encoding
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// RateLimitConfig is applied per client key
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	SnapshotPath string `mapstructure:"snapshot_path" yaml:"snapshot_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.tls", false)
	v.SetDefault("server.cert_file", "certs/server.crt")
	v.SetDefault("server.key_file", "certs/server.key")
	v.SetDefault("server.generate_cert", false)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.seed_file", "")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "tracker.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.session_ttl", 24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", true)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20.0)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("rate_limit.cleanup_interval", 10*time.Minute)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "tracker")
	v.SetDefault("tracing.service_version", "dev")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.snapshot_path", "")

	s := models.DefaultSettings()
	v.SetDefault("settings.work_package_done_ratio", s.WorkPackageDoneRatio)
	v.SetDefault("settings.feeds_enabled", s.FeedsEnabled)
	v.SetDefault("settings.rest_api_enabled", s.RestAPIEnabled)
	v.SetDefault("settings.disable_password_login", s.DisablePasswordLogin)
	v.SetDefault("settings.password_min_length", s.PasswordMinLength)
	v.SetDefault("settings.per_page_options", s.PerPageOptions)
	v.SetDefault("settings.api_max_page_size", s.APIMaxPageSize)
}

// Load reads envFile (when present), then path (when set), then the environment.
// Later sources win.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	var problems []string
	switch c.Database.Type {
	case "memory", "sqlite", "postgres", "postgresql":
	default:
		problems = append(problems, fmt.Sprintf("database.type %q is not one of memory, sqlite, postgres", c.Database.Type))
	}
	if c.Database.Type == "postgres" && c.Database.DSN == "" {
		problems = append(problems, "database.dsn is required for postgres")
	}
	switch c.Settings.WorkPackageDoneRatio {
	case models.DoneRatioField, models.DoneRatioStatus, models.DoneRatioDisabled:
	default:
		problems = append(problems, fmt.Sprintf("settings.work_package_done_ratio %q is not one of field, status, disabled", c.Settings.WorkPackageDoneRatio))
	}
	if c.Settings.PasswordMinLength < 1 {
		problems = append(problems, "settings.password_min_length must be positive")
	}
	for _, n := range c.Settings.PerPageOptions {
		if n <= 0 {
			problems = append(problems, "settings.per_page_options must be positive")
			break
		}
	}
	if c.Auth.SessionTTL <= 0 {
		problems = append(problems, "auth.session_ttl must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		problems = append(problems, "rate_limit requires positive requests_per_second and burst")
	}
	if c.Server.TLS && !c.Server.GenerateCert && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		problems = append(problems, "server.cert_file and server.key_file are required with tls")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Redacted returns a copy safe to print
func (c Config) Redacted() Config {
	if c.Auth.JWTSecret != "" {
		c.Auth.JWTSecret = "********"
	}
	if strings.Contains(c.Database.DSN, "password=") || strings.Contains(c.Database.DSN, "@") {
		c.Database.DSN = "********"
	}
	return c
}

// Dump writes the redacted configuration as YAML
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return err
	}
	return enc.Close()
}
