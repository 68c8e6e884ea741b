package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the YAML file.
const (
	EnvConfigPath            = "CONFIG_PATH"
	EnvPort                  = "PORT"
	EnvDatabaseDSN           = "DATABASE_DSN"
	EnvRedisURL              = "REDIS_URL"
	EnvLogLevel              = "LOG_LEVEL"
	EnvSecurityMode          = "TELEMETRY_SECURITY_MODE"
	EnvDefaultAuthMode       = "TELEMETRY_DEFAULT_AUTH_MODE"
	EnvMaxSkewSeconds        = "TELEMETRY_MAX_SKEW_SECONDS"
	EnvAllowUnknownAutoReg   = "TELEMETRY_ALLOW_UNKNOWN_AUTOREGISTER"
	EnvForwardURL            = "TELEMETRY_FORWARD_URL"
	EnvLegacyForwardURL      = "AWS_TELEMETRY_URL"
	EnvVAPIDPublicKey        = "VAPID_PUBLIC_KEY"
	EnvVAPIDPrivateKey       = "VAPID_PRIVATE_KEY"
	DefaultConfigPath        = "./config/config.yaml"
	defaultMaxSkewSeconds    = 900
	defaultForwardTimeoutSec = 10
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Replay     ReplayConfig     `yaml:"replay"`
	Forward    ForwardConfig    `yaml:"forward"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Alerts     AlertsConfig     `yaml:"alerts"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port                 int     `yaml:"port"`
	Version              string  `yaml:"version"`
	Environment          string  `yaml:"environment"`
	RateLimitPerSec      float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst       int     `yaml:"rate_limit_burst"`
	TelemetryRatePerMin  int     `yaml:"telemetry_rate_per_min"`
	CacheTTLSeconds      int     `yaml:"cache_ttl_seconds"`
	ShutdownTimeoutSec   int     `yaml:"shutdown_timeout_seconds"`
	ReadHeaderTimeoutSec int     `yaml:"read_header_timeout_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	SlowQueryMillis        int    `yaml:"slow_query_ms"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig is the device trust posture. It is read once at start-up.
type TelemetryConfig struct {
	SecurityMode             string        `yaml:"security_mode"`
	DefaultAuthMode          string        `yaml:"default_auth_mode"`
	MaxSkewSeconds           int           `yaml:"max_skew_seconds"`
	MaxSkew                  time.Duration `yaml:"-"`
	AllowUnknownAutoRegister *bool         `yaml:"allow_unknown_autoregister"`
}

// AutoRegister reports whether unknown devices may register on first contact.
func (t TelemetryConfig) AutoRegister() bool {
	return t.AllowUnknownAutoRegister == nil || *t.AllowUnknownAutoRegister
}

// ReplayConfig selects where seen request fingerprints are kept.
type ReplayConfig struct {
	Backend   string `yaml:"backend"` // memory | redis
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ForwardConfig describes the downstream telemetry sink.
type ForwardConfig struct {
	URL            string        `yaml:"url"`
	HTTPProxy      string        `yaml:"http_proxy"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
	QueueSize      int           `yaml:"queue_size"`
	Workers        int           `yaml:"workers"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are present.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// AlertsConfig holds low tank level alerting thresholds.
type AlertsConfig struct {
	LowLevelThreshold float64 `yaml:"low_level_threshold"`
}

// Load reads the configuration from the given path. A missing file is not an
// error: the defaults plus environment overrides are used instead.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	var cfg Config
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = intEnvOrDefault(EnvPort, cfg.Server.Port)
	cfg.Database.DSN = envOrDefault(EnvDatabaseDSN, cfg.Database.DSN)
	cfg.Log.Level = envOrDefault(EnvLogLevel, cfg.Log.Level)

	cfg.Telemetry.SecurityMode = envOrDefault(EnvSecurityMode, cfg.Telemetry.SecurityMode)
	cfg.Telemetry.DefaultAuthMode = envOrDefault(EnvDefaultAuthMode, cfg.Telemetry.DefaultAuthMode)
	cfg.Telemetry.MaxSkewSeconds = intEnvOrDefault(EnvMaxSkewSeconds, cfg.Telemetry.MaxSkewSeconds)
	if v, ok := boolEnv(EnvAllowUnknownAutoReg); ok {
		cfg.Telemetry.AllowUnknownAutoRegister = &v
	}

	if url := envOrDefault(EnvRedisURL, ""); url != "" {
		cfg.Replay.RedisURL = url
		if cfg.Replay.Backend == "" {
			cfg.Replay.Backend = "redis"
		}
	}

	cfg.Forward.URL = envOrDefault(EnvForwardURL, envOrDefault(EnvLegacyForwardURL, cfg.Forward.URL))
	cfg.Push.PublicKey = envOrDefault(EnvVAPIDPublicKey, cfg.Push.PublicKey)
	cfg.Push.PrivateKey = envOrDefault(EnvVAPIDPrivateKey, cfg.Push.PrivateKey)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "1.1.0"
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = "development"
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.TelemetryRatePerMin <= 0 {
		cfg.Server.TelemetryRatePerMin = 60
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	if cfg.Server.ShutdownTimeoutSec <= 0 {
		cfg.Server.ShutdownTimeoutSec = 5
	}
	if cfg.Server.ReadHeaderTimeoutSec <= 0 {
		cfg.Server.ReadHeaderTimeoutSec = 10
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:margaz.db?_foreign_keys=on"
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes <= 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}
	if cfg.Database.SlowQueryMillis <= 0 {
		cfg.Database.SlowQueryMillis = 200
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	cfg.Telemetry.SecurityMode = strings.ToLower(strings.TrimSpace(cfg.Telemetry.SecurityMode))
	if cfg.Telemetry.SecurityMode == "" {
		cfg.Telemetry.SecurityMode = "off"
	}
	cfg.Telemetry.DefaultAuthMode = strings.ToLower(strings.TrimSpace(cfg.Telemetry.DefaultAuthMode))
	if cfg.Telemetry.DefaultAuthMode == "" {
		cfg.Telemetry.DefaultAuthMode = "signed"
	}
	if cfg.Telemetry.MaxSkewSeconds <= 0 {
		cfg.Telemetry.MaxSkewSeconds = defaultMaxSkewSeconds
	}
	cfg.Telemetry.MaxSkew = time.Duration(cfg.Telemetry.MaxSkewSeconds) * time.Second

	cfg.Replay.Backend = strings.ToLower(strings.TrimSpace(cfg.Replay.Backend))
	if cfg.Replay.Backend == "" {
		cfg.Replay.Backend = "memory"
	}
	if cfg.Replay.KeyPrefix == "" {
		cfg.Replay.KeyPrefix = "telemetry:replay:"
	}

	if cfg.Forward.TimeoutSeconds <= 0 {
		cfg.Forward.TimeoutSeconds = defaultForwardTimeoutSec
	}
	cfg.Forward.Timeout = time.Duration(cfg.Forward.TimeoutSeconds) * time.Second
	if cfg.Forward.QueueSize <= 0 {
		cfg.Forward.QueueSize = 256
	}
	if cfg.Forward.Workers <= 0 {
		cfg.Forward.Workers = 2
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
	if cfg.Alerts.LowLevelThreshold <= 0 {
		cfg.Alerts.LowLevelThreshold = 20
	}
}

// Validate checks that the configuration is coherent. An unrecognised
// security mode is an error rather than a silent fallback to "off".
func (c *Config) Validate() error {
	switch c.Telemetry.SecurityMode {
	case "off", "monitor", "enforce":
	default:
		return fmt.Errorf("invalid %s: %q (want off, monitor or enforce)", EnvSecurityMode, c.Telemetry.SecurityMode)
	}
	switch c.Telemetry.DefaultAuthMode {
	case "legacy", "signed":
	default:
		return fmt.Errorf("invalid %s: %q (want legacy or signed)", EnvDefaultAuthMode, c.Telemetry.DefaultAuthMode)
	}
	switch c.Replay.Backend {
	case "memory":
	case "redis":
		if c.Replay.RedisURL == "" {
			return fmt.Errorf("invalid replay config: backend redis requires %s", EnvRedisURL)
		}
	default:
		return fmt.Errorf("invalid replay backend %q (want memory or redis)", c.Replay.Backend)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid %s: must be in range 1..65535", EnvPort)
	}
	if c.Alerts.LowLevelThreshold > 100 {
		return fmt.Errorf("invalid alerts.low_level_threshold: %v exceeds 100", c.Alerts.LowLevelThreshold)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intEnvOrDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func boolEnv(key string) (bool, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
