package lifecycle

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ridepay-backend/internal/processor"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

var errCancelRaced = errors.New("cancel raced with another status change")

// Cancel releases the authorization hold. Canceling an already canceled
// payment is a no-op.
func (e *engine) Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.PaymentIntent, error) {
	intent, err := e.cancel(ctx, id, reason, processor.CancelReasonRequestedByCustomer)
	e.metrics.ObserveOperation("cancel", err)
	return intent, err
}

func (e *engine) cancel(ctx context.Context, id uuid.UUID, reason string, processorReason processor.CancelReason) (*models.PaymentIntent, error) {
	intent, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	intent, _, err = e.sync(ctx, intent)
	if err != nil {
		return nil, err
	}
	ctx = e.logContext(ctx, intent)

	if intent.Status == enums.PaymentStatusCanceled {
		return intent, nil
	}
	if err := ValidateTransition(intent.Status, enums.PaymentStatusCanceled); err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = string(processorReason)
	}
	if _, err := e.processor.Cancel(ctx, intent.ProcessorIntentID, processorReason); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			if _, _, serr := e.sync(context.WithoutCancel(ctx), intent); serr != nil {
				e.logg.Error(ctx, "resync after cancel conflict failed", serr)
			}
		}
		return nil, err
	}

	if err := e.markCanceled(ctx, intent, reason); err != nil {
		return nil, err
	}
	return e.reload(ctx, intent.ID)
}

// markCanceled records a cancellation the processor has already applied,
// updates the display history and returns any referral discount to the rider.
func (e *engine) markCanceled(ctx context.Context, intent *models.PaymentIntent, reason string) error {
	ctx = context.WithoutCancel(ctx)
	now := e.now().UTC()
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := e.repo.WithTx(tx).TransitionStatus(ctx, intent.ID,
			[]enums.PaymentStatus{intent.Status},
			enums.PaymentStatusCanceled,
			map[string]any{
				"canceled_at":           now,
				"cancellation_reason":   reason,
				"processing_started_at": nil,
			},
		)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment canceled")
		}
		if !won {
			return errCancelRaced
		}
		return e.outbox.Emit(ctx, tx, statusEvent(enums.EventPaymentCanceled, intent, enums.PaymentStatusCanceled, intent.AmountTotal, reason, ""))
	})
	if errors.Is(err, errCancelRaced) {
		current, rerr := e.reload(ctx, intent.ID)
		if rerr != nil {
			return rerr
		}
		if current.Status == enums.PaymentStatusCanceled {
			return nil
		}
		return stateConflict("payment changed while recording cancellation", StateDetails{
			StoredStatus: current.Status,
			Requested:    enums.PaymentStatusCanceled,
		})
	}
	if err != nil {
		return err
	}

	e.updateHistory(ctx, intent.ID, enums.HistoryStatusRefunded)
	e.releaseReferral(ctx, intent.ReferralCode, intent.ID)
	e.logg.Info(e.logg.WithField(ctx, "reason", reason), "payment canceled")
	return nil
}
