package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	TransportSMTP   = "smtp"
	TransportResend = "resend"
)

var ErrInvalid = errors.New("config: invalid configuration")

type Config struct {
	// ----------------------------
	// Database
	// ----------------------------
	Store             string `envconfig:"STORE" default:"postgres"`
	DatabaseURL       string `envconfig:"DATABASE_URL"`
	DBConnectAttempts int    `envconfig:"DB_CONNECT_ATTEMPTS" default:"5"`
	MigrateOnStart    bool   `envconfig:"MIGRATE_ON_START" default:"true"`

	// ----------------------------
	// Transport
	// ----------------------------
	MailTransport string `envconfig:"MAIL_TRANSPORT" default:"smtp"`

	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`

	ResendAPIKey string `envconfig:"RESEND_API_KEY" default:""`

	// ----------------------------
	// Sender
	// ----------------------------
	FromAddress string `envconfig:"MAIL_FROM_ADDRESS" default:"noreply@pulsemail.local"`
	FromName    string `envconfig:"MAIL_FROM_NAME" default:"PulseMail"`

	// ----------------------------
	// Queue
	// ----------------------------
	BatchSize   int           `envconfig:"QUEUE_BATCH_SIZE" default:"50"`
	MaxRetries  int           `envconfig:"QUEUE_MAX_RETRIES" default:"3"`
	SendDelay   time.Duration `envconfig:"QUEUE_SEND_DELAY" default:"100ms"`
	SendTimeout time.Duration `envconfig:"QUEUE_SEND_TIMEOUT" default:"30s"`
	// StaleAfter must exceed SendTimeout. Zero turns stale recovery off, and
	// an entry whose outcome write failed then stays in sending for good.
	StaleAfter  time.Duration `envconfig:"QUEUE_STALE_AFTER" default:"10m"`
	Schedule    string        `envconfig:"QUEUE_SCHEDULE" default:"@every 1m"`
	MaxBulkRows int           `envconfig:"QUEUE_MAX_BULK_ROWS" default:"1000"`

	// ----------------------------
	// Templates
	// ----------------------------
	TemplatesFile string `envconfig:"TEMPLATES_FILE" default:""`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Logging
	// ----------------------------
	LogDevelopment bool `envconfig:"LOG_DEVELOPMENT" default:"false"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required when STORE=%s", ErrInvalid, StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("%w: unknown STORE %q", ErrInvalid, c.Store)
	}

	switch c.MailTransport {
	case TransportSMTP:
	case TransportResend:
		if c.ResendAPIKey == "" {
			return fmt.Errorf("%w: RESEND_API_KEY is required when MAIL_TRANSPORT=%s", ErrInvalid, TransportResend)
		}
	default:
		return fmt.Errorf("%w: unknown MAIL_TRANSPORT %q", ErrInvalid, c.MailTransport)
	}

	if c.FromAddress == "" {
		return fmt.Errorf("%w: MAIL_FROM_ADDRESS is required", ErrInvalid)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("%w: QUEUE_MAX_RETRIES must be at least 1", ErrInvalid)
	}
	if c.StaleAfter < 0 || (c.StaleAfter > 0 && c.StaleAfter <= c.SendTimeout) {
		return fmt.Errorf("%w: QUEUE_STALE_AFTER must be 0 or longer than QUEUE_SEND_TIMEOUT (%s)", ErrInvalid, c.SendTimeout)
	}
	return nil
}
