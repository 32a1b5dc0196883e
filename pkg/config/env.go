package config

const EnvPrefix = "RIDEPAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "RIDEPAY_APP_ENV"
	EnvPort     = "RIDEPAY_APP_PORT"
	EnvLogLevel = "RIDEPAY_LOG_LEVEL"

	EnvDBDSN  = "RIDEPAY_DB_DSN"
	EnvDBHost = "RIDEPAY_DB_HOST"
	EnvDBUser = "RIDEPAY_DB_USER"
	EnvDBName = "RIDEPAY_DB_NAME"

	EnvUseSQLite = "RIDEPAY_USE_SQLITE"

	EnvRedisURL = "RIDEPAY_REDIS_URL"

	EnvJWTSecret = "RIDEPAY_JWT_SECRET"
	EnvJWTIssuer = "RIDEPAY_JWT_ISSUER"

	EnvPlatformFeePercent = "RIDEPAY_PLATFORM_FEE_PERCENT"
	EnvCurrency           = "RIDEPAY_CURRENCY"

	EnvCaptureBatchSize   = "RIDEPAY_CAPTURE_BATCH_SIZE"
	EnvCaptureMaxAttempts = "RIDEPAY_CAPTURE_MAX_ATTEMPTS"

	EnvStripeAPIKey = "RIDEPAY_STRIPE_API_KEY"
	EnvStripeSecret = "RIDEPAY_STRIPE_SECRET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
