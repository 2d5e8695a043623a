package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config is the immutable runtime configuration, decoded once at startup
type Config struct {
	Env  string `env:"ENV,default=production"`
	Port string `env:"PORT,default=8080"`

	Postgres PostgresConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	Whish    WhishConfig
	Storage  StorageConfig
	Firebase FirebaseConfig
	SMTP     SMTPConfig
	Schedule ScheduleConfig

	JWTSecret     string `env:"JWT_SECRET"`
	WebhookSecret string `env:"WHISH_WEBHOOK_SECRET"`
	CORSOrigins   string `env:"CORS_ALLOWED_ORIGINS"`
}

// PostgresConfig configures the commission ledger database
type PostgresConfig struct {
	URL           string `env:"DATABASE_URL,required"`
	MaxConns      int    `env:"DATABASE_MAX_CONNS,default=20"`
	RunMigrations bool   `env:"DATABASE_RUN_MIGRATIONS,default=true"`
}

// MongoConfig configures the provider directory and notification inbox
type MongoConfig struct {
	URI      string `env:"MONGO_URI"`
	Database string `env:"DB_NAME,default=barrim"`
}

// RedisConfig configures the scheduler run lock
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

// WhishConfig configures the payment processor client
type WhishConfig struct {
	BaseURL     string        `env:"WHISH_BASE_URL,default=https://api.sandbox.whish.money/itel-service/api/"`
	Channel     string        `env:"WHISH_CHANNEL"`
	Secret      string        `env:"WHISH_SECRET"`
	WebsiteURL  string        `env:"WHISH_WEBSITE_URL"`
	Debug       bool          `env:"WHISH_DEBUG,default=false"`
	Timeout     time.Duration `env:"WHISH_TIMEOUT,default=30s"`
	MaxRetries  int           `env:"WHISH_MAX_RETRIES,default=3"`
	MinInterval time.Duration `env:"WHISH_RETRY_MIN_INTERVAL,default=250ms"`
	MaxInterval time.Duration `env:"WHISH_RETRY_MAX_INTERVAL,default=5s"`
	Jitter      float64       `env:"WHISH_RETRY_JITTER,default=0.2"`
}

// StorageConfig configures the receipt bucket
type StorageConfig struct {
	ReceiptBucket string        `env:"RECEIPT_BUCKET,default=barrim-receipts"`
	SignedURLTTL  time.Duration `env:"RECEIPT_URL_TTL,default=15m"`
}

// FirebaseConfig configures push notifications
type FirebaseConfig struct {
	ProjectID         string `env:"FIREBASE_PROJECT_ID,default=barrim-93482"`
	CredentialsBase64 string `env:"FIREBASE_CREDENTIALS_BASE64"`
	CredentialsFile   string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
}

// SMTPConfig configures finance alert emails
type SMTPConfig struct {
	Host          string `env:"SMTP_HOST"`
	Port          int    `env:"SMTP_PORT,default=2525"`
	User          string `env:"SMTP_USER"`
	Pass          string `env:"SMTP_PASS"`
	FinanceEmails string `env:"FINANCE_ALERT_EMAILS"`
	AdminPanelURL string `env:"ADMIN_PANEL_URL,default=https://admin.barrim.com"`
}

// ScheduleConfig configures the periodic batches
type ScheduleConfig struct {
	CollectionCron string        `env:"COLLECTION_CRON,default=0 3 * * *"`
	OverdueCron    string        `env:"OVERDUE_CRON,default=15 0 * * *"`
	// LockTTL bounds how long a crashed instance blocks the next run; a live run renews it
	LockTTL        time.Duration `env:"COLLECTION_LOCK_TTL,default=30m"`
	Disabled       bool          `env:"SCHEDULER_DISABLED,default=false"`
}

// FinanceRecipients returns the configured finance alert addresses
func (s SMTPConfig) FinanceRecipients() []string {
	var out []string
	for _, addr := range strings.Split(s.FinanceEmails, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// AllowedOrigins returns the extra CORS origins from the environment
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

// IsDevelopment reports whether the service runs in a development environment
func (c Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev"
}

// Load reads .env (if present) and decodes the environment into a Config
func Load() (Config, error) {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Mongo.URI == "" && cfg.IsDevelopment() {
		cfg.Mongo.URI = "mongodb://localhost:27017"
	}
	if cfg.Mongo.URI == "" {
		return Config{}, errors.New("MONGO_URI environment variable is required for production")
	}
	return cfg, nil
}
