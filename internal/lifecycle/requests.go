package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/ridepay-backend/internal/processor"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

// RequestCapture queues the payment for the reconciliation worker. Already
// captured payments return a nil entry.
func (e *engine) RequestCapture(ctx context.Context, id uuid.UUID) (*models.CaptureQueueEntry, error) {
	intent, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.enqueue(ctx, intent)
}

// RequestCaptureForRide queues the most recent capturable payment of a completed ride.
func (e *engine) RequestCaptureForRide(ctx context.Context, rideID uuid.UUID) (*models.CaptureQueueEntry, error) {
	if rideID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ride id is required")
	}
	intents, err := e.repo.ListIntentsByRide(ctx, rideID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ride payments")
	}
	for i := range intents {
		switch intents[i].Status {
		case enums.PaymentStatusAuthorized, enums.PaymentStatusProcessing, enums.PaymentStatusSucceeded:
			return e.enqueue(ctx, &intents[i])
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no capturable payment for ride")
}

func (e *engine) enqueue(ctx context.Context, intent *models.PaymentIntent) (*models.CaptureQueueEntry, error) {
	ctx = e.logContext(ctx, intent)
	switch intent.Status {
	case enums.PaymentStatusSucceeded:
		return nil, nil
	case enums.PaymentStatusAuthorized, enums.PaymentStatusProcessing:
	default:
		return nil, stateConflict("payment is not awaiting capture", StateDetails{
			StoredStatus: intent.Status,
			Requested:    enums.PaymentStatusSucceeded,
		})
	}
	entry, created, err := e.queue.Enqueue(ctx, intent.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue capture")
	}
	if created {
		e.logg.Info(e.logg.WithQueueEntryID(ctx, entry.ID.String()), "capture queued")
	}
	return entry, nil
}

// CancelOrphans releases holds that never got a booking within olderThan.
func (e *engine) CancelOrphans(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	cutoff := e.now().UTC().Add(-olderThan)
	orphans, err := e.repo.ListOrphanedAuthorizations(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orphaned authorizations")
	}

	var (
		canceled int
		errs     error
	)
	for i := range orphans {
		if ctx.Err() != nil {
			return canceled, multierr.Append(errs, ctx.Err())
		}
		intent, err := e.cancel(ctx, orphans[i].ID, "no booking created", processor.CancelReasonAbandoned)
		e.metrics.ObserveOperation("cancel_orphan", err)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if intent.Status == enums.PaymentStatusCanceled {
			canceled++
		}
	}
	return canceled, errs
}

// RecoverStaleProcessing syncs payments stuck in processing so a crashed
// capture is either finalized or handed back to authorized.
func (e *engine) RecoverStaleProcessing(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	cutoff := e.now().UTC().Add(-e.staleAfter)
	stuck, err := e.repo.ListStaleProcessing(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale processing payments")
	}

	var (
		recovered int
		errs      error
	)
	for i := range stuck {
		if ctx.Err() != nil {
			return recovered, multierr.Append(errs, ctx.Err())
		}
		intent, _, err := e.sync(ctx, &stuck[i])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if intent.Status != enums.PaymentStatusProcessing {
			recovered++
		}
	}
	return recovered, errs
}
