package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/ridepay-backend/api/controllers"
	paymentcontrollers "github.com/angelmondragon/ridepay-backend/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/ridepay-backend/api/controllers/webhooks"
	"github.com/angelmondragon/ridepay-backend/api/middleware"
	"github.com/angelmondragon/ridepay-backend/internal/lifecycle"
	"github.com/angelmondragon/ridepay-backend/internal/reconcile"
	"github.com/angelmondragon/ridepay-backend/internal/referrals"
	"github.com/angelmondragon/ridepay-backend/pkg/config"
	"github.com/angelmondragon/ridepay-backend/pkg/db"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

type redisStore interface {
	Ping(context.Context) error
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type captureWorker interface {
	CaptureOne(ctx context.Context, paymentID uuid.UUID) (*lifecycle.CaptureResult, error)
	RunCaptureBatch(ctx context.Context, batchSize, maxAttempts int) (reconcile.Summary, error)
	FailedEntries(ctx context.Context, limit int) ([]models.CaptureQueueEntry, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisStore,
	engine lifecycle.Engine,
	worker captureWorker,
	referralService referrals.Service,
	stripeVerifier webhookcontrollers.StripeEventVerifier,
	stripeWebhookService webhookcontrollers.StripeWebhookService,
	stripeWebhookGuard webhookcontrollers.StripeWebhookGuard,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.AllowedOrigins),
	)

	authorizePolicy := middleware.NewRateLimitPolicy("authorize", cfg.HTTP.AuthorizeRateWindow, cfg.HTTP.AuthorizeRateLimit)
	adminPolicy := middleware.NewRateLimitPolicy("admin", time.Minute, cfg.HTTP.AdminRateLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Get("/api/public/ping", controllers.PublicPing())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeVerifier, stripeWebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))
		r.Get("/ping", controllers.PrivatePing())

		r.Route("/payments", func(r chi.Router) {
			r.With(
				middleware.RequireRole(logg, enums.ActorRoleRider),
				middleware.RateLimit(authorizePolicy, redisClient, logg),
			).Post("/authorize", paymentcontrollers.Authorize(engine, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleRider)).
				Get("/history", paymentcontrollers.History(engine, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleRider, enums.ActorRoleDriver, enums.ActorRoleAdmin)).
				Get("/{paymentId}", paymentcontrollers.Get(engine, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleRider)).
				Post("/{paymentId}/booking", paymentcontrollers.LinkBooking(engine, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleRider, enums.ActorRoleAdmin)).
				Post("/{paymentId}/cancel", paymentcontrollers.Cancel(engine, logg))
		})

		r.With(middleware.RequireRole(logg, enums.ActorRoleDriver, enums.ActorRoleAdmin)).
			Post("/rides/{rideId}/complete", paymentcontrollers.CompleteRide(engine, logg))
		r.With(middleware.RequireRole(logg, enums.ActorRoleDriver)).
			Get("/drivers/me/earnings", paymentcontrollers.PendingEarnings(engine, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
		r.Use(middleware.RateLimit(adminPolicy, redisClient, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/payments/{paymentId}", func(r chi.Router) {
			r.Post("/capture", paymentcontrollers.AdminCapture(worker, logg))
			r.Post("/refund", paymentcontrollers.AdminRefund(engine, logg))
			r.Post("/sync", paymentcontrollers.AdminSync(engine, logg))
		})
		r.Post("/capture-batches", paymentcontrollers.AdminRunCaptureBatch(worker, paymentcontrollers.BatchDefaults{
			BatchSize:   cfg.CaptureWorker.BatchSize,
			MaxAttempts: cfg.CaptureWorker.MaxAttempts,
		}, logg))
		r.Get("/capture-entries/failed", paymentcontrollers.AdminListFailedCaptures(worker, logg))
		r.Post("/referral-codes", paymentcontrollers.AdminIssueReferral(referralService, logg))
	})

	return r
}
