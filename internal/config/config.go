// Package config loads budgetbell settings from an optional config file and
// BUDGETBELL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Push      PushConfig      `mapstructure:"push"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Email     EmailConfig     `mapstructure:"email"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Drain     DrainConfig     `mapstructure:"drain"`
	Cron      CronConfig      `mapstructure:"cron"`
	Recurring RecurringConfig `mapstructure:"recurring"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	BaseURL        string   `mapstructure:"base_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PushConfig struct {
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	Subscriber      string `mapstructure:"subscriber"`
	TTL             int    `mapstructure:"ttl"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// CronSecretHash is a bcrypt hash of the X-Cron-Secret value.
	CronSecretHash string `mapstructure:"cron_secret_hash"`
}

type EmailConfig struct {
	PostmarkToken string `mapstructure:"postmark_token"`
	From          string `mapstructure:"from"`
}

type ArchiveConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	Bucket     string `mapstructure:"bucket"`
	Region     string `mapstructure:"region"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	Prefix     string `mapstructure:"prefix"`
	Passphrase string `mapstructure:"passphrase"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type QueueConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Lease       time.Duration `mapstructure:"lease"`
}

type DrainConfig struct {
	Threshold int           `mapstructure:"threshold"`
	MaxRounds int           `mapstructure:"max_rounds"`
	Budget    time.Duration `mapstructure:"budget"`
}

type CronConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Drain     string `mapstructure:"drain"`
	Recurring string `mapstructure:"recurring"`
	Digest    string `mapstructure:"digest"`
}

type RecurringConfig struct {
	MonthlyMode string `mapstructure:"monthly_mode"`
}

var defaults = map[string]any{
	"server.port":            "8080",
	"server.base_url":        "http://localhost:8080",
	"server.allowed_origins": []string{},
	"database.path":          "budgetbell.db",
	"log.level":              "info",
	"log.format":             "text",
	"push.vapid_public_key":  "",
	"push.vapid_private_key": "",
	"push.subscriber":        "mailto:noreply@budgetbell.app",
	"push.ttl":               86400,
	"auth.jwt_secret":        "",
	"auth.cron_secret_hash":  "",
	"email.postmark_token":   "",
	"email.from":             "",
	"archive.endpoint":       "",
	"archive.bucket":         "",
	"archive.region":         "us-east-1",
	"archive.access_key":     "",
	"archive.secret_key":     "",
	"archive.prefix":         "budgetbell/",
	"archive.passphrase":     "",
	"redis.url":              "",
	"queue.batch_size":       50,
	"queue.max_attempts":     5,
	"queue.lease":            "5m",
	"drain.threshold":        0,
	"drain.max_rounds":       20,
	"drain.budget":           "50s",
	"cron.enabled":           false,
	"cron.drain":             "@every 1m",
	"cron.recurring":         "0 6 * * *",
	"cron.digest":            "0 8 * * 1",
	"recurring.monthly_mode": "fixed",
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment apply. Environment variables use the BUDGETBELL_
// prefix with dots replaced by underscores, e.g. BUDGETBELL_PUSH_VAPID_PUBLIC_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("BUDGETBELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
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

// Validate rejects settings that would misbehave at runtime. Missing
// credentials are not errors; the affected feature reports itself as not
// configured instead.
func (c *Config) Validate() error {
	var errs []error
	if c.Queue.BatchSize <= 0 {
		errs = append(errs, errors.New("queue.batch_size must be positive"))
	}
	if c.Queue.MaxAttempts <= 0 {
		errs = append(errs, errors.New("queue.max_attempts must be positive"))
	}
	if c.Queue.Lease <= 0 {
		errs = append(errs, errors.New("queue.lease must be positive"))
	}
	if c.Drain.Budget <= 0 {
		errs = append(errs, errors.New("drain.budget must be positive"))
	}
	switch c.Recurring.MonthlyMode {
	case "fixed", "calendar":
	default:
		errs = append(errs, fmt.Errorf("recurring.monthly_mode must be fixed or calendar, got %q", c.Recurring.MonthlyMode))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("push.vapid_public_key and push.vapid_private_key must be set together"))
	}
	return errors.Join(errs...)
}

// PushConfigured reports whether VAPID keys are present.
func (c *Config) PushConfigured() bool {
	return c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != ""
}
