// Package config loads the bot configuration from the environment and an
// optional .env file.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Biotecza state data
	DefaultStateDir = "/var/lib/biotecza"
	// DefaultAppDBFileName is the default SQLite database filename
	DefaultAppDBFileName = "biotecza.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// Transport names accepted in TRANSPORT.
const (
	TransportCloudAPI  = "cloudapi"
	TransportTwilio    = "twilio"
	TransportWhatsmeow = "whatsmeow"
)

// CloudAPIConfig configures the Meta WhatsApp Cloud API transport.
type CloudAPIConfig struct {
	Token         string `envconfig:"WHATSAPP_TOKEN"`
	PhoneNumberID string `envconfig:"PHONE_NUMBER_ID"`
	VerifyToken   string `envconfig:"VERIFY_TOKEN"`
	APIVersion    string `envconfig:"GRAPH_API_VERSION" default:"v21.0"`
	BaseURL       string `envconfig:"GRAPH_API_BASE_URL" default:"https://graph.facebook.com"`
}

// TwilioConfig configures the Twilio transport.
type TwilioConfig struct {
	AccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	FromNumber string `envconfig:"TWILIO_FROM_NUMBER"`
	// WebhookURL is the public URL Twilio posts to. Signature checks need it.
	WebhookURL string `envconfig:"TWILIO_WEBHOOK_URL"`
}

// WhatsAppConfig configures the whatsmeow transport.
type WhatsAppConfig struct {
	DBDSN       string `envconfig:"WHATSAPP_DB_DSN"`
	QROutput    string `envconfig:"WHATSAPP_QR_OUTPUT"`
	NumericCode bool   `envconfig:"WHATSAPP_NUMERIC_CODE" default:"false"`
}

// RedisConfig configures the optional Redis connection used for
// cross-instance conversation locks. Timeouts are in seconds.
type RedisConfig struct {
	URL          string `split_words:"true"`
	ReadTimeout  int    `split_words:"true" default:"3"`
	WriteTimeout int    `split_words:"true" default:"3"`
	DialTimeout  int    `split_words:"true" default:"5"`
}

// Enabled reports whether REDIS_URL is set.
func (r *RedisConfig) Enabled() bool {
	return r.URL != ""
}

// New connects to Redis and pings it.
func (r *RedisConfig) New(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(r.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	opts.ReadTimeout = time.Duration(r.ReadTimeout) * time.Second
	opts.WriteTimeout = time.Duration(r.WriteTimeout) * time.Second
	opts.DialTimeout = time.Duration(r.DialTimeout) * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Config holds the whole bot configuration.
type Config struct {
	StateDir    string        `envconfig:"BIOTECZA_STATE_DIR" default:"/var/lib/biotecza"`
	DatabaseURL string        `envconfig:"DATABASE_URL"`
	APIAddr     string        `envconfig:"API_ADDR" default:":8080"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"info"`
	Transport   string        `envconfig:"TRANSPORT" default:"cloudapi"`
	Simulate    bool          `envconfig:"SIMULATE_ENABLED" default:"false"`
	CatalogSeed string        `envconfig:"CATALOG_SEED"`
	LockTTL     time.Duration `envconfig:"LOCK_TTL" default:"30s"`

	// DedupPruneSchedule is the cron expression of the scheduler's dedup
	// pruning job; empty disables pruning.
	DedupPruneSchedule string        `envconfig:"DEDUP_PRUNE_SCHEDULE" default:"30 4 * * *"`
	DedupRetention     time.Duration `envconfig:"DEDUP_RETENTION" default:"720h"`

	CloudAPI CloudAPIConfig
	Twilio   TwilioConfig
	WhatsApp WhatsAppConfig
	Redis    RedisConfig
}

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("config.Load: no .env file loaded", "error", err)
	} else {
		slog.Debug("config.Load: loaded .env file")
	}
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment config: %w", err)
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))

	slog.Debug("config.FromEnv: environment loaded",
		"state_dir", cfg.StateDir,
		"database_url_set", cfg.DatabaseURL != "",
		"api_addr", cfg.APIAddr,
		"transport", cfg.Transport,
		"simulate", cfg.Simulate,
		"redis_set", cfg.Redis.Enabled(),
		"lock_ttl", cfg.LockTTL)
	return cfg, nil
}

// AppDBDSN returns DATABASE_URL, or a SQLite file in the state directory.
func (c Config) AppDBDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultAppDBFileName)
}

// WhatsAppDBDSN returns WHATSAPP_DB_DSN, or a SQLite file with foreign keys
// enabled in the state directory.
func (c Config) WhatsAppDBDSN() string {
	if c.WhatsApp.DBDSN != "" {
		return c.WhatsApp.DBDSN
	}
	return "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// Level parses LOG_LEVEL (debug, info, warn, error).
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Validate checks that the selected transport has its credentials.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("LOCK_TTL must be positive, got %s", c.LockTTL))
	}
	if c.DedupPruneSchedule != "" && c.DedupRetention <= 0 {
		errs = append(errs, fmt.Errorf("DEDUP_RETENTION must be positive, got %s", c.DedupRetention))
	}

	switch c.Transport {
	case TransportCloudAPI:
		errs = append(errs, required(
			"WHATSAPP_TOKEN", c.CloudAPI.Token,
			"PHONE_NUMBER_ID", c.CloudAPI.PhoneNumberID,
			"VERIFY_TOKEN", c.CloudAPI.VerifyToken,
		)...)
	case TransportTwilio:
		errs = append(errs, required(
			"TWILIO_ACCOUNT_SID", c.Twilio.AccountSID,
			"TWILIO_AUTH_TOKEN", c.Twilio.AuthToken,
			"TWILIO_FROM_NUMBER", c.Twilio.FromNumber,
		)...)
	case TransportWhatsmeow:
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSPORT %q (want %s, %s or %s)",
			c.Transport, TransportCloudAPI, TransportTwilio, TransportWhatsmeow))
	}
	return errors.Join(errs...)
}

// required takes name, value pairs and reports the blank ones.
func required(pairs ...string) []error {
	var errs []error
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", pairs[i]))
		}
	}
	return errs
}
