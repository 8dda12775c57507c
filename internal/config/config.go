// Package config loads the typed service configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

// Config holds everything the session core and its adapters need.
type Config struct {
	ServerAddress string `mapstructure:"SERVER_ADDRESS"`
	ServerPort    string `mapstructure:"SERVER_PORT"`

	HTTPBaseURL    string `mapstructure:"HTTP_BASE_URL"`
	HTTPCORSOrigin string `mapstructure:"HTTP_CORS_ORIGIN"`
	HTTPBodyLimit  string `mapstructure:"HTTP_BODY_LIMIT_SIZE"`
	HTTPGZipLevel  int    `mapstructure:"HTTP_GZIP_LEVEL"`

	// DatabaseURI is the Postgres DSN for sessions, contacts and messages.
	DatabaseURI string `mapstructure:"DATABASE_URI"`

	// DatastoreType selects the whatsmeow credential store driver:
	// postgres (default) or sqlite3.
	DatastoreType string `mapstructure:"WHATSAPP_DATASTORE_TYPE"`
	// DatastoreURI defaults to DatabaseURI when empty.
	DatastoreURI string `mapstructure:"WHATSAPP_DATASTORE_URI"`
	ProxyURL     string `mapstructure:"WHATSAPP_CLIENT_PROXY_URL"`

	ConnectTimeout time.Duration `mapstructure:"WHATSAPP_CONNECT_TIMEOUT"`
	SendTimeout    time.Duration `mapstructure:"WHATSAPP_SEND_TIMEOUT"`
	LogoutTimeout  time.Duration `mapstructure:"WHATSAPP_LOGOUT_TIMEOUT"`
	EventQueueSize int           `mapstructure:"WHATSAPP_EVENT_QUEUE_SIZE"`

	ReconnectBase        time.Duration `mapstructure:"WHATSAPP_RECONNECT_BACKOFF_BASE"`
	ReconnectMax         time.Duration `mapstructure:"WHATSAPP_RECONNECT_BACKOFF_MAX"`
	ReconnectMaxAttempts int           `mapstructure:"WHATSAPP_RECONNECT_MAX_ATTEMPTS"`

	ProbeInterval time.Duration `mapstructure:"WHATSAPP_LIVENESS_PROBE_INTERVAL"`
	PairingTTL    time.Duration `mapstructure:"WHATSAPP_PAIRING_TTL"`
	QRTerminal    bool          `mapstructure:"WHATSAPP_QR_TERMINAL"`

	SendRatePerSecond float64 `mapstructure:"WHATSAPP_SEND_RATE_PER_SECOND"`
	SendRateBurst     int     `mapstructure:"WHATSAPP_SEND_RATE_BURST"`

	RestoreWindow      time.Duration `mapstructure:"WHATSAPP_STARTUP_RECENCY_WINDOW"`
	RestoreJitterMax   time.Duration `mapstructure:"WHATSAPP_STARTUP_RECONNECT_JITTER_MAX"`
	RestoreConcurrency int           `mapstructure:"WHATSAPP_STARTUP_RECONNECT_CONCURRENCY"`
	RestoreRate        float64       `mapstructure:"WHATSAPP_STARTUP_RECONNECT_RATE"`

	IdleThreshold        time.Duration `mapstructure:"WHATSAPP_IDLE_THRESHOLD"`
	IdleSweepCronSpec    string        `mapstructure:"WHATSAPP_IDLE_SWEEP_CRON_SPEC"`
	PairingPurgeCronSpec string        `mapstructure:"WHATSAPP_PAIRING_PURGE_CRON_SPEC"`

	VersionRefreshEnabled     bool          `mapstructure:"WHATSAPP_ENABLE_WAVERSION_REFRESH_CRON"`
	VersionRefreshCronSpec    string        `mapstructure:"WHATSAPP_WAVERSION_REFRESH_CRON_SPEC"`
	VersionRefreshMinInterval time.Duration `mapstructure:"WHATSAPP_WAVERSION_REFRESH_MIN_INTERVAL"`

	WebhookURL           string `mapstructure:"WEBHOOK_URL"`
	WebhookSecret        string `mapstructure:"WEBHOOK_SECRET"`
	WebhookWorkers       int    `mapstructure:"WEBHOOK_WORKERS"`
	WebhookRetryLimit    int    `mapstructure:"WEBHOOK_RETRY_LIMIT"`
	WebhookQueueSize     int    `mapstructure:"WEBHOOK_QUEUE_SIZE"`
	WebhookAllowInsecure bool   `mapstructure:"WEBHOOK_ALLOW_INSECURE"`

	JWTSecretKey   string `mapstructure:"JWT_SECRET_KEY"`
	AdminSecretKey string `mapstructure:"ADMIN_SECRET_KEY"`
}

var defaults = map[string]any{
	"SERVER_ADDRESS":                          "0.0.0.0",
	"SERVER_PORT":                             "7001",
	"HTTP_BASE_URL":                           "",
	"HTTP_CORS_ORIGIN":                        "*",
	"HTTP_BODY_LIMIT_SIZE":                    "8M",
	"HTTP_GZIP_LEVEL":                         1,
	"DATABASE_URI":                            "",
	"WHATSAPP_DATASTORE_TYPE":                 "postgres",
	"WHATSAPP_DATASTORE_URI":                  "",
	"WHATSAPP_CLIENT_PROXY_URL":               "",
	"WHATSAPP_CONNECT_TIMEOUT":                30 * time.Second,
	"WHATSAPP_SEND_TIMEOUT":                   20 * time.Second,
	"WHATSAPP_LOGOUT_TIMEOUT":                 30 * time.Second,
	"WHATSAPP_EVENT_QUEUE_SIZE":               256,
	"WHATSAPP_RECONNECT_BACKOFF_BASE":         2 * time.Second,
	"WHATSAPP_RECONNECT_BACKOFF_MAX":          60 * time.Second,
	"WHATSAPP_RECONNECT_MAX_ATTEMPTS":         5,
	"WHATSAPP_LIVENESS_PROBE_INTERVAL":        2 * time.Second,
	"WHATSAPP_PAIRING_TTL":                    2 * time.Minute,
	"WHATSAPP_QR_TERMINAL":                    false,
	"WHATSAPP_SEND_RATE_PER_SECOND":           1.0,
	"WHATSAPP_SEND_RATE_BURST":                5,
	"WHATSAPP_STARTUP_RECENCY_WINDOW":         168 * time.Hour,
	"WHATSAPP_STARTUP_RECONNECT_JITTER_MAX":   5 * time.Second,
	"WHATSAPP_STARTUP_RECONNECT_CONCURRENCY":  10,
	"WHATSAPP_STARTUP_RECONNECT_RATE":         5.0,
	"WHATSAPP_IDLE_THRESHOLD":                 30 * time.Minute,
	"WHATSAPP_IDLE_SWEEP_CRON_SPEC":           "0 */5 * * * *",
	"WHATSAPP_PAIRING_PURGE_CRON_SPEC":        "*/30 * * * * *",
	"WHATSAPP_ENABLE_WAVERSION_REFRESH_CRON":  false,
	"WHATSAPP_WAVERSION_REFRESH_CRON_SPEC":    "0 0 */6 * * *",
	"WHATSAPP_WAVERSION_REFRESH_MIN_INTERVAL": time.Hour,
	"WEBHOOK_URL":                             "",
	"WEBHOOK_SECRET":                          "",
	"WEBHOOK_WORKERS":                         4,
	"WEBHOOK_RETRY_LIMIT":                     3,
	"WEBHOOK_QUEUE_SIZE":                      1000,
	"WEBHOOK_ALLOW_INSECURE":                  false,
	"JWT_SECRET_KEY":                          "",
	"ADMIN_SECRET_KEY":                        "",
}

// Load reads .env (if present), then builds and validates Config from
// the environment. Environment variables override .env values.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.DatastoreType = normalizeDatastoreType(cfg.DatastoreType)
	if cfg.DatastoreURI == "" {
		cfg.DatastoreURI = cfg.DatabaseURI
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.HTTPGZipLevel, validation.In(-1, 0, 1, 2)),
		validation.Field(&c.DatabaseURI, validation.Required),
		validation.Field(&c.DatastoreType, validation.In("postgres", "sqlite3")),
		validation.Field(&c.DatastoreURI, validation.Required),
		validation.Field(&c.ConnectTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.SendTimeout, validation.Required),
		validation.Field(&c.LogoutTimeout, validation.Required),
		validation.Field(&c.EventQueueSize, validation.Required, validation.Min(1)),
		validation.Field(&c.ReconnectBase, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.ReconnectMax, validation.Required, validation.Min(c.ReconnectBase)),
		validation.Field(&c.ReconnectMaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.ProbeInterval, validation.Required),
		validation.Field(&c.PairingTTL, validation.Required),
		validation.Field(&c.SendRatePerSecond, validation.Required),
		validation.Field(&c.SendRateBurst, validation.Required, validation.Min(1)),
		validation.Field(&c.RestoreConcurrency, validation.Required, validation.Min(1)),
		validation.Field(&c.RestoreRate, validation.Required),
		validation.Field(&c.IdleThreshold, validation.Required),
		validation.Field(&c.WebhookWorkers, validation.Min(1)),
		validation.Field(&c.WebhookRetryLimit, validation.Min(1)),
		validation.Field(&c.WebhookQueueSize, validation.Min(1)),
	)
}

// ListenAddress is the host:port the HTTP surface binds to.
func (c *Config) ListenAddress() string {
	return c.ServerAddress + ":" + c.ServerPort
}

func normalizeDatastoreType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "postgresql", "postgres", "pgx":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite3"
	default:
		return strings.ToLower(strings.TrimSpace(t))
	}
}
