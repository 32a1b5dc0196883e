package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/ridepay-backend/pkg/config"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	defaultRequestTimeout = 10 * time.Second
	maxNetworkRetries     = 2
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client wraps Stripe's API client plus env-specific metadata.
type Client struct {
	api            *stripe.Client
	environment    string
	signingSecret  string
	requestTimeout time.Duration
}

// NewClient builds a Stripe client whose HTTP calls are bounded by the
// configured request timeout. Network retries reuse the idempotency key of the
// original request.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	signingSecret := strings.TrimSpace(cfg.Secret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}

	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(maxNetworkRetries),
	})
	api := stripe.NewClient(apiKey, stripe.WithBackends(backends))

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"stripe_env":      env,
			"request_timeout": timeout.String(),
		}), "stripe client initialized")
	}

	return &Client{
		api:            api,
		environment:    env,
		signingSecret:  signingSecret,
		requestTimeout: timeout,
	}, nil
}

// API returns the underlying Stripe API client.
func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// RequestTimeout is the per-call bound applied to every processor request.
func (c *Client) RequestTimeout() time.Duration {
	if c == nil || c.requestTimeout <= 0 {
		return defaultRequestTimeout
	}
	return c.requestTimeout
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// ConstructEvent verifies a webhook payload against its Stripe-Signature header.
func (c *Client) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return ConstructEvent(payload, signature, c.SigningSecret())
}

// ConstructEvent verifies payload with secret. Events signed for another API
// version are accepted; handlers only read ids and types from them.
func ConstructEvent(payload []byte, signature, secret string) (stripe.Event, error) {
	if secret == "" {
		return stripe.Event{}, errSecretRequired
	}
	return webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
