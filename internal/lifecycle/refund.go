package lifecycle

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

// RefundResult carries the processor's refund reference.
type RefundResult struct {
	PaymentIntent *models.PaymentIntent
	RefundID      string
	Amount        int64
}

var errRefundRaced = errors.New("refund raced with another status change")

// Refund returns the full captured amount to the rider and reverses the
// driver's earnings in the same local transaction as the status change.
func (e *engine) Refund(ctx context.Context, id uuid.UUID, reason string) (*RefundResult, error) {
	result, err := e.refund(ctx, id, reason)
	e.metrics.ObserveOperation("refund", err)
	return result, err
}

func (e *engine) refund(ctx context.Context, id uuid.UUID, reason string) (*RefundResult, error) {
	intent, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	intent, remote, err := e.sync(ctx, intent)
	if err != nil {
		return nil, err
	}
	ctx = e.logContext(ctx, intent)

	if intent.Status != enums.PaymentStatusSucceeded {
		details := StateDetails{StoredStatus: intent.Status, Requested: enums.PaymentStatusRefunded}
		if remote != nil {
			details.ProcessorStatus = remote.Status
		}
		return nil, stateConflict("only captured payments can be refunded", details)
	}

	refund, err := e.processor.Refund(ctx, intent.ProcessorIntentID, intent.AmountTotal, intent.ID.String())
	if err != nil {
		e.logg.Error(ctx, "processor refund failed", err)
		return nil, err
	}

	if err := e.applyRefund(ctx, intent, refund.ID, reason); err != nil {
		return nil, err
	}
	current, err := e.reload(ctx, intent.ID)
	if err != nil {
		return nil, err
	}
	return &RefundResult{PaymentIntent: current, RefundID: refund.ID, Amount: intent.AmountTotal}, nil
}

// applyRefund writes the local side of a refund: earnings reversal, status
// change, negative history row and outbox event commit together, so a payout
// never sees a refunded payment with pending earnings.
func (e *engine) applyRefund(ctx context.Context, intent *models.PaymentIntent, refundID, reason string) error {
	ctx = context.WithoutCancel(ctx)
	now := e.now().UTC()

	fields := map[string]any{"refunded_at": now}
	if refundID != "" {
		fields["processor_refund_id"] = refundID
	}

	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		if _, err := repo.ReverseEarnings(ctx, intent.ID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reverse driver earnings")
		}
		won, err := repo.TransitionStatus(ctx, intent.ID,
			[]enums.PaymentStatus{enums.PaymentStatusSucceeded},
			enums.PaymentStatusRefunded,
			fields,
		)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refunded")
		}
		if !won {
			return errRefundRaced
		}
		if err := repo.CreateHistory(ctx, &models.PaymentHistoryEntry{
			PaymentIntentID: intent.ID,
			RiderID:         intent.RiderID,
			RideID:          intent.RideID,
			EntryType:       enums.HistoryEntryTypeRefund,
			Amount:          -intent.AmountTotal,
			Currency:        intent.Currency,
			Status:          enums.HistoryStatusRefunded,
			Description:     "Ride refund",
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write refund history")
		}
		if err := repo.UpdateHistoryStatus(ctx, intent.ID, enums.HistoryEntryTypeCharge, enums.HistoryStatusRefunded); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment history")
		}
		return e.outbox.Emit(ctx, tx, statusEvent(enums.EventPaymentRefunded, intent, enums.PaymentStatusRefunded, intent.AmountTotal, reason, refundID))
	})
	if errors.Is(err, errRefundRaced) {
		current, rerr := e.reload(ctx, intent.ID)
		if rerr != nil {
			return rerr
		}
		if current.Status == enums.PaymentStatusRefunded {
			return nil
		}
		return stateConflict("payment changed while recording refund", StateDetails{
			StoredStatus: current.Status,
			Requested:    enums.PaymentStatusRefunded,
		})
	}
	if err != nil {
		e.logg.Error(ctx, "refund issued at processor but local write failed; next sync will reconcile", err)
		return err
	}
	e.logg.Info(e.logg.WithField(ctx, "refund_id", refundID), "payment refunded")
	return nil
}
