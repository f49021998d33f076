// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env         string `mapstructure:"app_env"`
	ServiceName string `mapstructure:"service_name" validate:"required"`
	LogLevel    string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	HTTPAddr    string `mapstructure:"http_addr" validate:"required"`
	RunWorker   bool   `mapstructure:"run_worker"`

	DatabaseURL string `mapstructure:"database_url"`
	DBUser      string `mapstructure:"db_user"`
	DBPassword  string `mapstructure:"db_password"`
	DBHost      string `mapstructure:"db_host"`
	DBPort      string `mapstructure:"db_port"`
	DBName      string `mapstructure:"db_name"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`

	AMQPURL    string `mapstructure:"amqp_url"`
	QueueTopic string `mapstructure:"queue_topic" validate:"required"`

	BatchSize     int           `mapstructure:"batch_size" validate:"min=1,max=1000"`
	BatchInterval time.Duration `mapstructure:"batch_interval" validate:"gte=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	StaleAfter    time.Duration `mapstructure:"stale_after" validate:"gt=0"`
	LockTTL       time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`

	MailerKind          string  `mapstructure:"mailer_kind" validate:"oneof=mock webhook"`
	MailerWebhookURL    string  `mapstructure:"mailer_webhook_url" validate:"omitempty,url"`
	MailerRatePerSecond float64 `mapstructure:"mailer_rate_per_second" validate:"gte=0"`
	MailerBurst         int     `mapstructure:"mailer_burst" validate:"gte=0"`
	MockSuccessRate     float64 `mapstructure:"mock_success_rate" validate:"gte=0,lte=1"`

	RecipientTable       string `mapstructure:"recipient_table" validate:"required"`
	RecipientIDColumn    string `mapstructure:"recipient_id_column" validate:"required"`
	RecipientEmailColumn string `mapstructure:"recipient_email_column" validate:"required"`
	RecipientNameColumn  string `mapstructure:"recipient_name_column" validate:"required"`

	AdminToken  string `mapstructure:"admin_token"`
	ViewerToken string `mapstructure:"viewer_token"`

	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

var defaults = map[string]any{
	"app_env":                "dev",
	"service_name":           "campaign-batch-sender",
	"log_level":              "info",
	"http_addr":              ":8080",
	"run_worker":             false,
	"database_url":           "",
	"db_user":                "postgres",
	"db_password":            "",
	"db_host":                "localhost",
	"db_port":                "5432",
	"db_name":                "campaigns",
	"redis_addr":             "",
	"redis_password":         "",
	"redis_db":               0,
	"amqp_url":               "",
	"queue_topic":            "campaign_batches",
	"batch_size":             50,
	"batch_interval":         time.Second,
	"sweep_interval":         time.Minute,
	"stale_after":            5 * time.Minute,
	"lock_ttl":               10 * time.Minute,
	"mailer_kind":            "mock",
	"mailer_webhook_url":     "",
	"mailer_rate_per_second": 0.0,
	"mailer_burst":           1,
	"mock_success_rate":      0.9,
	"recipient_table":        "recipients",
	"recipient_id_column":    "id",
	"recipient_email_column": "email",
	"recipient_name_column":  "display_name",
	"admin_token":            "",
	"viewer_token":           "",
	"otlp_endpoint":          "",
}

// Load reads configuration from the environment, after merging an optional .env file.
func Load() (*Config, error) {
	// a missing .env is fine; the process environment wins anyway
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.MailerKind == "webhook" && c.MailerWebhookURL == "" {
		return errors.New("invalid config: MAILER_WEBHOOK_URL is required when MAILER_KIND=webhook")
	}
	return nil
}

// DSN returns DATABASE_URL, or a postgres URL assembled from the DB_* parts.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "dev" || c.Env == "development"
}
