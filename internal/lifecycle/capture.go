package lifecycle

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ridepay-backend/internal/processor"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
	"github.com/angelmondragon/ridepay-backend/pkg/outbox"
	"github.com/angelmondragon/ridepay-backend/pkg/outbox/payloads"
)

// CaptureResult reports the captured amount and the driver's earnings.
// Replayed is set when the payment had already been captured.
type CaptureResult struct {
	PaymentIntent  *models.PaymentIntent
	CapturedAmount int64
	Earnings       *models.DriverEarnings
	Replayed       bool
}

var errCaptureRaced = errors.New("capture finalized concurrently")

// Capture converts the authorization hold into a charge exactly once. It
// never retries internally: transient failures revert the payment to
// authorized and are returned to the caller as retryable.
func (e *engine) Capture(ctx context.Context, id uuid.UUID) (*CaptureResult, error) {
	result, err := e.capture(ctx, id)
	e.metrics.ObserveOperation("capture", err)
	return result, err
}

func (e *engine) capture(ctx context.Context, id uuid.UUID) (*CaptureResult, error) {
	intent, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	intent, remote, err := e.sync(ctx, intent)
	if err != nil {
		return nil, err
	}
	ctx = e.logContext(ctx, intent)

	switch intent.Status {
	case enums.PaymentStatusSucceeded:
		return e.capturedResult(ctx, intent)
	case enums.PaymentStatusProcessing:
		return nil, inProgress(intent)
	case enums.PaymentStatusAuthorized:
		if MapProcessorStatus(remote) != enums.PaymentStatusAuthorized {
			return nil, stateConflict("processor does not report the payment as capturable", StateDetails{
				StoredStatus:    intent.Status,
				ProcessorStatus: remote.Status,
				Requested:       enums.PaymentStatusSucceeded,
			})
		}
	default:
		return nil, stateConflict("payment is not capturable", StateDetails{
			StoredStatus:    intent.Status,
			ProcessorStatus: remote.Status,
			Requested:       enums.PaymentStatusSucceeded,
		})
	}

	if err := ValidateTransition(intent.Status, enums.PaymentStatusProcessing); err != nil {
		return nil, err
	}
	won, err := e.repo.TransitionStatus(ctx, intent.ID,
		[]enums.PaymentStatus{enums.PaymentStatusAuthorized},
		enums.PaymentStatusProcessing,
		map[string]any{"processing_started_at": e.now().UTC()},
	)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment processing")
	}
	if !won {
		current, err := e.reload(ctx, intent.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == enums.PaymentStatusSucceeded {
			return e.capturedResult(ctx, current)
		}
		return nil, inProgress(current)
	}
	intent.Status = enums.PaymentStatusProcessing

	captured, err := processor.RequireIntent(e.processor.Capture(ctx, intent.ProcessorIntentID, intent.ID.String()))
	if err != nil {
		return nil, e.handleCaptureFailure(ctx, intent, err)
	}

	switch MapProcessorStatus(captured) {
	case enums.PaymentStatusSucceeded, enums.PaymentStatusRefunded:
		return e.finalizeCapture(ctx, intent, captured)
	case enums.PaymentStatusProcessing:
		e.logg.Info(ctx, "processor is still settling the capture")
		return nil, inProgress(intent)
	default:
		e.revertProcessing(ctx, intent)
		return nil, stateConflict("processor did not capture the payment", StateDetails{
			StoredStatus:    enums.PaymentStatusAuthorized,
			ProcessorStatus: captured.Status,
			Requested:       enums.PaymentStatusSucceeded,
		})
	}
}

// handleCaptureFailure decides where a payment goes after the processor
// refused or failed a capture. Declines and validation failures are terminal;
// everything else returns the payment to authorized for a later attempt.
func (e *engine) handleCaptureFailure(ctx context.Context, intent *models.PaymentIntent, cause error) error {
	e.logg.Error(ctx, "processor capture failed", cause)

	switch {
	case pkgerrors.IsCode(cause, pkgerrors.CodePaymentDeclined),
		pkgerrors.IsCode(cause, pkgerrors.CodeValidation):
		if err := e.markFailed(ctx, intent, enums.PaymentStatusProcessing, cause.Error()); err != nil {
			e.logg.Error(ctx, "mark payment failed", err)
		}
		return cause
	case pkgerrors.IsCode(cause, pkgerrors.CodeStateConflict):
		e.revertProcessing(ctx, intent)
		detached := context.WithoutCancel(ctx)
		current, err := e.reload(detached, intent.ID)
		if err == nil {
			_, _, err = e.sync(detached, current)
		}
		if err != nil {
			e.logg.Error(ctx, "resync after capture conflict failed", err)
		}
		return cause
	default:
		e.revertProcessing(ctx, intent)
		return cause
	}
}

// revertProcessing hands the payment back to authorized. It runs detached
// from the caller's context so a timed-out capture never leaves the row stuck.
func (e *engine) revertProcessing(ctx context.Context, intent *models.PaymentIntent) {
	ctx = context.WithoutCancel(ctx)
	won, err := e.repo.TransitionStatus(ctx, intent.ID,
		[]enums.PaymentStatus{enums.PaymentStatusProcessing},
		enums.PaymentStatusAuthorized,
		map[string]any{"processing_started_at": nil},
	)
	if err != nil {
		e.logg.Error(ctx, "revert processing payment failed", err)
		return
	}
	if !won {
		e.logg.Warn(ctx, "payment left processing before revert")
		return
	}
	intent.Status = enums.PaymentStatusAuthorized
	intent.ProcessingStartedAt = nil
}

// finalizeCapture records a capture the processor has confirmed. The status
// swap guards every derived write so concurrent finalizers produce exactly one
// capture log and one earnings row.
func (e *engine) finalizeCapture(ctx context.Context, intent *models.PaymentIntent, remote *processor.Intent) (*CaptureResult, error) {
	ctx = context.WithoutCancel(ctx)
	now := e.now().UTC()
	amount := intent.AmountTotal
	fee, net := SplitEarnings(amount, e.feePercent)

	fields := map[string]any{
		"captured_at":           now,
		"processing_started_at": nil,
	}
	var chargeRef *string
	if remote != nil && remote.ChargeRef != "" {
		ref := remote.ChargeRef
		chargeRef = &ref
		fields["processor_charge_ref"] = ref
	}

	earnings := &models.DriverEarnings{
		PaymentIntentID: intent.ID,
		DriverID:        intent.DriverID,
		RideID:          intent.RideID,
		GrossAmount:     amount,
		PlatformFee:     fee,
		NetAmount:       net,
		FeePercent:      e.feePercent,
		Status:          enums.EarningsStatusPending,
	}

	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		won, err := repo.TransitionStatus(ctx, intent.ID,
			[]enums.PaymentStatus{enums.PaymentStatusAuthorized, enums.PaymentStatusProcessing},
			enums.PaymentStatusSucceeded,
			fields,
		)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment succeeded")
		}
		if !won {
			return errCaptureRaced
		}
		if err := repo.CreateCaptureLog(ctx, &models.CaptureLog{
			PaymentIntentID:    intent.ID,
			ProcessorIntentID:  intent.ProcessorIntentID,
			ProcessorChargeRef: chargeRef,
			AmountCaptured:     amount,
			Currency:           intent.Currency,
			CapturedAt:         now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write capture log")
		}
		if err := repo.CreateEarnings(ctx, earnings); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write driver earnings")
		}
		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentCaptured,
			AggregateType: enums.AggregatePaymentIntent,
			AggregateID:   intent.ID,
			Data: payloads.PaymentCapturedEvent{
				PaymentIntentID: intent.ID,
				RiderID:         intent.RiderID,
				DriverID:        intent.DriverID,
				RideID:          intent.RideID,
				AmountCaptured:  amount,
				PlatformFee:     fee,
				DriverNet:       net,
				Currency:        intent.Currency,
				CapturedAt:      now,
			},
		})
	})
	if errors.Is(err, errCaptureRaced) {
		current, err := e.reload(ctx, intent.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == enums.PaymentStatusSucceeded {
			return e.capturedResult(ctx, current)
		}
		return nil, stateConflict("payment changed while recording capture", StateDetails{
			StoredStatus: current.Status,
			Requested:    enums.PaymentStatusSucceeded,
		})
	}
	if err != nil {
		e.logg.Error(ctx, "capture succeeded at processor but local write failed; next sync will reconcile", err)
		return nil, err
	}

	e.updateHistory(ctx, intent.ID, enums.HistoryStatusSucceeded)
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"amount_captured": amount,
		"platform_fee":    fee,
		"driver_net":      net,
	}), "payment captured")

	captured := *intent
	captured.Status = enums.PaymentStatusSucceeded
	captured.CapturedAt = &now
	captured.ProcessorChargeRef = chargeRef
	captured.ProcessingStartedAt = nil
	return &CaptureResult{
		PaymentIntent:  &captured,
		CapturedAmount: amount,
		Earnings:       earnings,
	}, nil
}

func (e *engine) capturedResult(ctx context.Context, intent *models.PaymentIntent) (*CaptureResult, error) {
	earnings, err := e.repo.FindEarnings(ctx, intent.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load driver earnings")
	}
	captureLog, err := e.repo.FindCaptureLog(ctx, intent.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load capture log")
	}
	amount := intent.AmountTotal
	if captureLog != nil {
		amount = captureLog.AmountCaptured
	}
	return &CaptureResult{
		PaymentIntent:  intent,
		CapturedAmount: amount,
		Earnings:       earnings,
		Replayed:       true,
	}, nil
}

// markFailed moves a payment to the terminal failed status.
func (e *engine) markFailed(ctx context.Context, intent *models.PaymentIntent, from enums.PaymentStatus, reason string) error {
	ctx = context.WithoutCancel(ctx)
	if err := ValidateTransition(from, enums.PaymentStatusFailed); err != nil {
		return err
	}
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := e.repo.WithTx(tx).TransitionStatus(ctx, intent.ID,
			[]enums.PaymentStatus{from},
			enums.PaymentStatusFailed,
			map[string]any{"failure_reason": reason, "processing_started_at": nil},
		)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment failed")
		}
		if !won {
			return nil
		}
		return e.outbox.Emit(ctx, tx, statusEvent(enums.EventPaymentFailed, intent, enums.PaymentStatusFailed, intent.AmountTotal, reason, ""))
	})
	if err != nil {
		return err
	}
	e.updateHistory(ctx, intent.ID, enums.HistoryStatusFailed)
	e.logg.Warn(ctx, "payment marked failed")
	return nil
}

func inProgress(intent *models.PaymentIntent) error {
	return pkgerrors.New(pkgerrors.CodeInProgress, "capture already in progress").WithDetails(StateDetails{
		StoredStatus: intent.Status,
	})
}
