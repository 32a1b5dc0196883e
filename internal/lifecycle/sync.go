package lifecycle

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/ridepay-backend/internal/processor"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
	"github.com/angelmondragon/ridepay-backend/pkg/outbox"
	"github.com/angelmondragon/ridepay-backend/pkg/outbox/payloads"
)

// sync re-fetches the processor's view and persists any legal correction
// before the caller mutates anything. A processing row younger than the stale
// threshold is left alone so an in-flight capture is not undone.
func (e *engine) sync(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, *processor.Intent, error) {
	remote, err := processor.RequireIntent(e.processor.FetchStatus(ctx, intent.ProcessorIntentID))
	if err != nil {
		return intent, nil, err
	}
	target := MapProcessorStatus(remote)
	if target == "" || target == intent.Status {
		return intent, remote, nil
	}

	logCtx := e.logg.WithFields(e.logContext(ctx, intent), map[string]any{
		"stored_status":    intent.Status,
		"processor_status": remote.Status,
	})

	switch {
	case intent.Status == enums.PaymentStatusProcessing && target == enums.PaymentStatusAuthorized:
		if !e.isStale(intent) {
			return intent, remote, nil
		}
		if _, err := e.repo.TransitionStatus(ctx, intent.ID,
			[]enums.PaymentStatus{enums.PaymentStatusProcessing},
			enums.PaymentStatusAuthorized,
			map[string]any{"processing_started_at": nil},
		); err != nil {
			return intent, remote, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset stale capture")
		}
		e.logg.Warn(logCtx, "stale processing payment reset to authorized")

	case target == enums.PaymentStatusSucceeded && CanReconcile(intent.Status, target):
		if _, err := e.finalizeCapture(ctx, intent, remote); err != nil {
			return intent, remote, err
		}
		e.logg.Warn(logCtx, "capture completed at processor before local write; reconciled")

	case target == enums.PaymentStatusRefunded:
		if intent.Status == enums.PaymentStatusAuthorized || intent.Status == enums.PaymentStatusProcessing {
			if _, err := e.finalizeCapture(ctx, intent, remote); err != nil {
				return intent, remote, err
			}
			intent.Status = enums.PaymentStatusSucceeded
		}
		if intent.Status != enums.PaymentStatusSucceeded {
			e.logg.Warn(logCtx, "processor refund does not match local status; left unreconciled")
			return intent, remote, nil
		}
		if err := e.applyRefund(ctx, intent, "", "refunded at processor"); err != nil {
			return intent, remote, err
		}
		e.logg.Warn(logCtx, "refund issued at processor; reconciled")

	case target == enums.PaymentStatusCanceled && CanReconcile(intent.Status, target):
		if err := e.markCanceled(ctx, intent, "canceled at processor"); err != nil {
			return intent, remote, err
		}
		e.logg.Warn(logCtx, "processor canceled the authorization; reconciled")

	case CanReconcile(intent.Status, target):
		if err := e.followProcessor(ctx, intent, target); err != nil {
			return intent, remote, err
		}
		e.logg.Info(logCtx, "payment status synced from processor")

	default:
		e.logg.Warn(logCtx, "processor status drift left unreconciled")
		return intent, remote, nil
	}

	refreshed, err := e.reload(ctx, intent.ID)
	if err != nil {
		return intent, remote, err
	}
	return refreshed, remote, nil
}

// followProcessor applies a plain status move reported by the processor.
func (e *engine) followProcessor(ctx context.Context, intent *models.PaymentIntent, target enums.PaymentStatus) error {
	fields := map[string]any{}
	if target == enums.PaymentStatusProcessing {
		fields["processing_started_at"] = e.now().UTC()
	}
	return e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := e.repo.WithTx(tx).TransitionStatus(ctx, intent.ID, []enums.PaymentStatus{intent.Status}, target, fields)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sync payment status")
		}
		if !won || target != enums.PaymentStatusAuthorized {
			return nil
		}
		if err := e.repo.WithTx(tx).UpdateHistoryStatus(ctx, intent.ID, enums.HistoryEntryTypeCharge, enums.HistoryStatusAuthorized); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment history")
		}
		return e.outbox.Emit(ctx, tx, authorizedEvent(intent))
	})
}

func authorizedEvent(intent *models.PaymentIntent) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventPaymentAuthorized,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   intent.ID,
		Data: payloads.PaymentAuthorizedEvent{
			PaymentIntentID:   intent.ID,
			ProcessorIntentID: intent.ProcessorIntentID,
			RiderID:           intent.RiderID,
			DriverID:          intent.DriverID,
			RideID:            intent.RideID,
			AmountTotal:       intent.AmountTotal,
			DiscountAmount:    intent.DiscountAmount,
			Currency:          intent.Currency,
		},
	}
}

func statusEvent(eventType enums.OutboxEventType, intent *models.PaymentIntent, status enums.PaymentStatus, amount int64, reason, refundID string) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   intent.ID,
		Data: payloads.PaymentStatusEvent{
			PaymentIntentID: intent.ID,
			RiderID:         intent.RiderID,
			DriverID:        intent.DriverID,
			RideID:          intent.RideID,
			Status:          status,
			Amount:          amount,
			Currency:        intent.Currency,
			Reason:          reason,
			RefundID:        refundID,
		},
	}
}
