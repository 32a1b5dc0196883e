// Package lifecycle owns the payment state machine: authorize, capture,
// cancel and refund against the processor, with local state synced from the
// processor before every mutation.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ridepay-backend/internal/payments"
	"github.com/angelmondragon/ridepay-backend/internal/processor"
	"github.com/angelmondragon/ridepay-backend/internal/referrals"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
	"github.com/angelmondragon/ridepay-backend/pkg/metrics"
	"github.com/angelmondragon/ridepay-backend/pkg/outbox"
)

const (
	defaultStaleAfter = 5 * time.Minute
	defaultCurrency   = "usd"
	defaultSweepLimit = 50
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type referralService interface {
	Redeem(ctx context.Context, code string, riderID, paymentIntentID uuid.UUID, subtotal int64) (*referrals.Redemption, error)
	Release(ctx context.Context, code string, paymentIntentID uuid.UUID) error
}

type captureEnqueuer interface {
	Enqueue(ctx context.Context, paymentIntentID uuid.UUID) (*models.CaptureQueueEntry, bool, error)
}

// Engine is the only writer of payment intent status.
type Engine interface {
	Authorize(ctx context.Context, input AuthorizeInput) (*AuthorizeResult, error)
	Capture(ctx context.Context, id uuid.UUID) (*CaptureResult, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.PaymentIntent, error)
	Refund(ctx context.Context, id uuid.UUID, reason string) (*RefundResult, error)

	Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	Sync(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	SyncByProcessorID(ctx context.Context, processorIntentID string) (*models.PaymentIntent, error)
	LinkBooking(ctx context.Context, id, bookingID uuid.UUID) (*models.PaymentIntent, error)
	RequestCapture(ctx context.Context, id uuid.UUID) (*models.CaptureQueueEntry, error)
	RequestCaptureForRide(ctx context.Context, rideID uuid.UUID) (*models.CaptureQueueEntry, error)
	CancelOrphans(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	RecoverStaleProcessing(ctx context.Context, limit int) (int, error)

	History(ctx context.Context, riderID uuid.UUID, limit int) ([]models.PaymentHistoryEntry, error)
	PendingEarnings(ctx context.Context, driverID uuid.UUID) ([]models.DriverEarnings, error)
}

// EngineParams wires the lifecycle engine.
type EngineParams struct {
	Payments    payments.Repository
	Referrals   referralService
	Queue       captureEnqueuer
	Processor   processor.Processor
	Outbox      outboxEmitter
	Tx          txRunner
	Logger      *logger.Logger
	Metrics     *metrics.PaymentMetrics
	Compensator *Compensator

	FeePercent           int64
	Currency             string
	StaleProcessingAfter time.Duration
	Now                  func() time.Time
}

type engine struct {
	repo        payments.Repository
	referrals   referralService
	queue       captureEnqueuer
	processor   processor.Processor
	outbox      outboxEmitter
	tx          txRunner
	logg        *logger.Logger
	metrics     *metrics.PaymentMetrics
	compensator *Compensator

	feePercent int64
	currency   string
	staleAfter time.Duration
	now        func() time.Time
}

// NewEngine validates dependencies and builds the lifecycle engine.
func NewEngine(params EngineParams) (Engine, error) {
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Referrals == nil {
		return nil, fmt.Errorf("referral service required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("capture queue required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("processor required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.FeePercent < 0 || params.FeePercent > 100 {
		return nil, fmt.Errorf("fee percent must be between 0 and 100")
	}

	e := &engine{
		repo:        params.Payments,
		referrals:   params.Referrals,
		queue:       params.Queue,
		processor:   params.Processor,
		outbox:      params.Outbox,
		tx:          params.Tx,
		logg:        params.Logger,
		metrics:     params.Metrics,
		compensator: params.Compensator,
		feePercent:  params.FeePercent,
		currency:    params.Currency,
		staleAfter:  params.StaleProcessingAfter,
		now:         params.Now,
	}
	if e.currency == "" {
		e.currency = defaultCurrency
	}
	if e.staleAfter <= 0 {
		e.staleAfter = defaultStaleAfter
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.compensator == nil {
		comp, err := NewCompensator(params.Processor, params.Referrals, params.Logger)
		if err != nil {
			return nil, err
		}
		e.compensator = comp
	}
	return e, nil
}

func (e *engine) Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	return e.repo.FindIntent(ctx, id)
}

func (e *engine) Sync(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	intent, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	intent, _, err = e.sync(ctx, intent)
	e.metrics.ObserveOperation("sync", err)
	return intent, err
}

func (e *engine) SyncByProcessorID(ctx context.Context, processorIntentID string) (*models.PaymentIntent, error) {
	if processorIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "processor intent id is required")
	}
	intent, err := e.repo.FindIntentByProcessorID(ctx, processorIntentID)
	if err != nil {
		return nil, err
	}
	intent, _, err = e.sync(ctx, intent)
	e.metrics.ObserveOperation("sync", err)
	return intent, err
}

// LinkBooking attaches the booking created after authorization. The link is
// set once; relinking to the same booking is a no-op.
func (e *engine) LinkBooking(ctx context.Context, id, bookingID uuid.UUID) (*models.PaymentIntent, error) {
	if bookingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "booking id is required")
	}
	intent, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.BookingID != nil {
		if *intent.BookingID == bookingID {
			return intent, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment is already linked to another booking")
	}
	if intent.Status.IsTerminal() {
		return nil, stateConflict("cannot link a booking to a closed payment", StateDetails{StoredStatus: intent.Status})
	}
	linked, err := e.repo.LinkBooking(ctx, id, bookingID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link booking")
	}
	intent, err = e.repo.FindIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !linked && (intent.BookingID == nil || *intent.BookingID != bookingID) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment is already linked to another booking")
	}
	return intent, nil
}

func (e *engine) logContext(ctx context.Context, intent *models.PaymentIntent) context.Context {
	ctx = e.logg.WithPaymentIntentID(ctx, intent.ID.String())
	return e.logg.WithField(ctx, "processor_intent_id", intent.ProcessorIntentID)
}

func (e *engine) isStale(intent *models.PaymentIntent) bool {
	started := intent.UpdatedAt
	if intent.ProcessingStartedAt != nil {
		started = *intent.ProcessingStartedAt
	}
	return e.now().UTC().Sub(started) >= e.staleAfter
}

// reload returns the current row; callers use it after losing a status swap.
func (e *engine) reload(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	return e.repo.FindIntent(context.WithoutCancel(ctx), id)
}

func (e *engine) updateHistory(ctx context.Context, id uuid.UUID, status enums.HistoryStatus) {
	if err := e.repo.UpdateHistoryStatus(ctx, id, enums.HistoryEntryTypeCharge, status); err != nil {
		e.logg.Error(ctx, "payment history update failed", err)
	}
}
