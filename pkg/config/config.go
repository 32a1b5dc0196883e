package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	HTTP          HTTPConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	Payments      PaymentsConfig
	CaptureWorker CaptureWorkerConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Stripe        StripeConfig
	Outbox        OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RIDEPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"RIDEPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"RIDEPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RIDEPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RIDEPAY_SERVICE_KIND" default:"api"`
}

// HTTPConfig covers the API server surface.
type HTTPConfig struct {
	AllowedOrigins      []string      `envconfig:"RIDEPAY_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	ReadTimeout         time.Duration `envconfig:"RIDEPAY_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout        time.Duration `envconfig:"RIDEPAY_HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout     time.Duration `envconfig:"RIDEPAY_HTTP_SHUTDOWN_TIMEOUT" default:"20s"`
	AuthorizeRateLimit  int           `envconfig:"RIDEPAY_AUTHORIZE_RATE_LIMIT" default:"10"`
	AuthorizeRateWindow time.Duration `envconfig:"RIDEPAY_AUTHORIZE_RATE_WINDOW" default:"1m"`
	AdminRateLimit      int           `envconfig:"RIDEPAY_ADMIN_RATE_LIMIT" default:"60"`
	WebhookEventTTL     time.Duration `envconfig:"RIDEPAY_WEBHOOK_EVENT_TTL" default:"72h"`
}

type DBConfig struct {
	DSN    string `envconfig:"RIDEPAY_DB_DSN"`
	Driver string `envconfig:"RIDEPAY_DB_DRIVER" default:"postgres"`

	SQLitePath string `envconfig:"RIDEPAY_SQLITE_PATH" default:"ridepay.db"`

	LegacyHost     string `envconfig:"RIDEPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"RIDEPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RIDEPAY_DB_USER"`
	LegacyPassword string `envconfig:"RIDEPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"RIDEPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"RIDEPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RIDEPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RIDEPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RIDEPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RIDEPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RIDEPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RIDEPAY_REDIS_ADDR"`
	Password     string        `envconfig:"RIDEPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"RIDEPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RIDEPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RIDEPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RIDEPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RIDEPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RIDEPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"RIDEPAY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"RIDEPAY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"RIDEPAY_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"RIDEPAY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"RIDEPAY_AUTO_MIGRATE" default:"false"`
}

// PaymentsConfig holds the business constants of the payment lifecycle.
type PaymentsConfig struct {
	PlatformFeePercent     int64         `envconfig:"RIDEPAY_PLATFORM_FEE_PERCENT" default:"15"`
	Currency               string        `envconfig:"RIDEPAY_CURRENCY" default:"usd"`
	ReferralReleaseExtend  time.Duration `envconfig:"RIDEPAY_REFERRAL_RELEASE_EXTENSION" default:"72h"`
	StaleProcessingAfter   time.Duration `envconfig:"RIDEPAY_STALE_PROCESSING_AFTER" default:"5m"`
	OrphanAuthorizationTTL time.Duration `envconfig:"RIDEPAY_ORPHAN_AUTHORIZATION_TTL" default:"2h"`
}

func (p PaymentsConfig) validate() error {
	if p.PlatformFeePercent < 0 || p.PlatformFeePercent > 100 {
		return fmt.Errorf("%s must be between 0 and 100", EnvPlatformFeePercent)
	}
	if len(strings.TrimSpace(p.Currency)) != 3 {
		return fmt.Errorf("%s must be a 3-letter currency code", EnvCurrency)
	}
	return nil
}

// CaptureWorkerConfig drives the scheduled reconciliation worker.
type CaptureWorkerConfig struct {
	BatchSize     int           `envconfig:"RIDEPAY_CAPTURE_BATCH_SIZE" default:"10"`
	MaxAttempts   int           `envconfig:"RIDEPAY_CAPTURE_MAX_ATTEMPTS" default:"5"`
	PerEntryDelay time.Duration `envconfig:"RIDEPAY_CAPTURE_PER_ENTRY_DELAY" default:"500ms"`
	Interval      time.Duration `envconfig:"RIDEPAY_CAPTURE_INTERVAL" default:"1m"`
	LockTTL       time.Duration `envconfig:"RIDEPAY_CAPTURE_LOCK_TTL" default:"5m"`
}

// RunBudget bounds a single batch run: one processor round trip plus pacing per entry.
func (c CaptureWorkerConfig) RunBudget(requestTimeout time.Duration) time.Duration {
	perEntry := c.PerEntryDelay + 3*requestTimeout
	return time.Duration(c.BatchSize)*perEntry + requestTimeout
}

type GCPConfig struct {
	ProjectID              string `envconfig:"RIDEPAY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"RIDEPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"RIDEPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	PaymentEventsTopic string `envconfig:"RIDEPAY_PUBSUB_PAYMENT_EVENTS_TOPIC" default:"ridepay-payment-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"RIDEPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"RIDEPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"RIDEPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey         string        `envconfig:"RIDEPAY_STRIPE_API_KEY"`
	Secret         string        `envconfig:"RIDEPAY_STRIPE_SECRET"`
	Env            string        `envconfig:"RIDEPAY_STRIPE_ENV" default:"test"`
	RequestTimeout time.Duration `envconfig:"RIDEPAY_STRIPE_REQUEST_TIMEOUT" default:"10s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
