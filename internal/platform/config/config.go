package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-driven settings for the signal engine.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required,notEmpty"`

	// Database pool
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS" envDefault:"10"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS" envDefault:"2"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBHealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`

	// Detection windows
	ClusterLookbackDays  int `env:"CLUSTER_LOOKBACK_DAYS" envDefault:"90"`
	ClusterWindowDays    int `env:"CLUSTER_WINDOW_DAYS" envDefault:"3"`
	FirstBuyLookbackDays int `env:"FIRST_BUY_LOOKBACK_DAYS" envDefault:"365"`
	FirstBuyRecentDays   int `env:"FIRST_BUY_RECENT_DAYS" envDefault:"30"`
	ImportantRecentDays  int `env:"IMPORTANT_RECENT_DAYS" envDefault:"90"`
	RetentionDays        int `env:"RETENTION_DAYS" envDefault:"30"`

	// An updated cluster re-triggers notification only at or above this strength.
	RenotifyMinStrength int `env:"RENOTIFY_MIN_STRENGTH" envDefault:"70"`

	// Scheduler cadences (cron expressions)
	DetectSchedule   string `env:"DETECT_SCHEDULE" envDefault:"*/30 * * * *"`
	DispatchSchedule string `env:"DISPATCH_SCHEDULE" envDefault:"*/5 * * * *"`

	// Dispatch
	DispatchBatchSize  int           `env:"DISPATCH_BATCH_SIZE" envDefault:"100"`
	DispatchMaxRetries int           `env:"DISPATCH_MAX_RETRIES" envDefault:"3"`
	DigestWindow       time.Duration `env:"DIGEST_WINDOW" envDefault:"5m"`
	MailRatePerSecond  float64       `env:"MAIL_RATE_PER_SECOND" envDefault:"5"`

	// SMTP transport
	SMTPHost string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser string `env:"SMTP_USER"`
	SMTPPass string `env:"SMTP_PASS"`
	MailFrom string `env:"MAIL_FROM" envDefault:"alerts@form4watch.io"`

	HealthPort int `env:"HEALTH_PORT" envDefault:"8080"`
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	return cfg, nil
}
