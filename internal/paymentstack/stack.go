// Package paymentstack assembles the payment lifecycle from its stores and
// the processor so the API and the capture worker run identical wiring.
package paymentstack

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ridepay-backend/internal/capturequeue"
	"github.com/angelmondragon/ridepay-backend/internal/lifecycle"
	"github.com/angelmondragon/ridepay-backend/internal/payments"
	"github.com/angelmondragon/ridepay-backend/internal/processor"
	"github.com/angelmondragon/ridepay-backend/internal/reconcile"
	"github.com/angelmondragon/ridepay-backend/internal/referrals"
	"github.com/angelmondragon/ridepay-backend/pkg/config"
	"github.com/angelmondragon/ridepay-backend/pkg/db"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
	"github.com/angelmondragon/ridepay-backend/pkg/metrics"
	"github.com/angelmondragon/ridepay-backend/pkg/outbox"
	pkgstripe "github.com/angelmondragon/ridepay-backend/pkg/stripe"
)

// Stack holds the wired payment components.
type Stack struct {
	Stripe    *pkgstripe.Client
	Queue     capturequeue.Repository
	Referrals referrals.Service
	Engine    lifecycle.Engine
	Worker    *reconcile.Worker
	Outbox    *outbox.Repository
	Metrics   *metrics.PaymentMetrics
}

// New builds the stack on top of an open database. The Stripe client is
// created here so every process shares the same timeout and retry settings.
func New(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, reg prometheus.Registerer) (*Stack, error) {
	if cfg == nil || logg == nil || dbClient == nil {
		return nil, fmt.Errorf("config, logger and database are required")
	}

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap stripe: %w", err)
	}
	proc, err := processor.NewStripeProcessor(processor.StripeProcessorParams{
		Client:         stripeClient,
		RequestTimeout: stripeClient.RequestTimeout(),
		Logger:         logg,
	})
	if err != nil {
		return nil, fmt.Errorf("create processor: %w", err)
	}

	return Assemble(cfg, logg, dbClient, proc, stripeClient, reg)
}

// Assemble wires the stack around an already-built processor.
func Assemble(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, proc processor.Processor, stripeClient *pkgstripe.Client, reg prometheus.Registerer) (*Stack, error) {
	conn := dbClient.DB()
	paymentMetrics := metrics.NewPaymentMetrics(reg)
	queue := capturequeue.NewRepository(conn)
	outboxRepo := outbox.NewRepository(conn)

	referralService, err := referrals.NewService(referrals.ServiceParams{
		Repo:            referrals.NewRepository(conn),
		Logger:          logg,
		ReleaseExtendBy: cfg.Payments.ReferralReleaseExtend,
	})
	if err != nil {
		return nil, fmt.Errorf("create referral service: %w", err)
	}

	engine, err := lifecycle.NewEngine(lifecycle.EngineParams{
		Payments:             payments.NewRepository(conn),
		Referrals:            referralService,
		Queue:                queue,
		Processor:            proc,
		Outbox:               outbox.NewService(outboxRepo, logg),
		Tx:                   dbClient,
		Logger:               logg,
		Metrics:              paymentMetrics,
		FeePercent:           cfg.Payments.PlatformFeePercent,
		Currency:             cfg.Payments.Currency,
		StaleProcessingAfter: cfg.Payments.StaleProcessingAfter,
	})
	if err != nil {
		return nil, fmt.Errorf("create lifecycle engine: %w", err)
	}

	worker, err := reconcile.NewWorker(reconcile.WorkerParams{
		Engine:        engine,
		Queue:         queue,
		Logger:        logg,
		Metrics:       paymentMetrics,
		PerEntryDelay: cfg.CaptureWorker.PerEntryDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("create reconciliation worker: %w", err)
	}

	return &Stack{
		Stripe:    stripeClient,
		Queue:     queue,
		Referrals: referralService,
		Engine:    engine,
		Worker:    worker,
		Outbox:    outboxRepo,
		Metrics:   paymentMetrics,
	}, nil
}
