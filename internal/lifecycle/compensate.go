package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/ridepay-backend/internal/processor"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

type referralReleaser interface {
	Release(ctx context.Context, code string, paymentIntentID uuid.UUID) error
}

// AuthorizationCompensation identifies what an abandoned authorize left behind.
type AuthorizationCompensation struct {
	PaymentIntentID   uuid.UUID
	ProcessorIntentID string
	ReferralCode      *string
}

// Compensator undoes the side effects of an authorize whose local write did
// not happen: the processor hold is canceled and any claimed referral is
// released.
type Compensator struct {
	processor processor.Processor
	referrals referralReleaser
	logg      *logger.Logger
}

func NewCompensator(proc processor.Processor, referrals referralReleaser, logg *logger.Logger) (*Compensator, error) {
	if proc == nil {
		return nil, fmt.Errorf("processor required")
	}
	if referrals == nil {
		return nil, fmt.Errorf("referral releaser required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Compensator{processor: proc, referrals: referrals, logg: logg}, nil
}

// CompensateAuthorization runs every undo step even if one fails and returns
// the combined error. It ignores the caller's cancellation.
func (c *Compensator) CompensateAuthorization(ctx context.Context, in AuthorizationCompensation) error {
	ctx = context.WithoutCancel(ctx)
	ctx = c.logg.WithPaymentIntentID(ctx, in.PaymentIntentID.String())

	var errs error
	if in.ProcessorIntentID != "" {
		ctx = c.logg.WithField(ctx, "processor_intent_id", in.ProcessorIntentID)
		if _, err := c.processor.Cancel(ctx, in.ProcessorIntentID, processor.CancelReasonAbandoned); err != nil {
			errs = multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel orphaned authorization"))
		}
	}
	if in.ReferralCode != nil && *in.ReferralCode != "" {
		if err := c.referrals.Release(ctx, *in.ReferralCode, in.PaymentIntentID); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if errs != nil {
		c.logg.Error(ctx, "authorization compensation incomplete; manual review required", errs)
		return errs
	}
	c.logg.Warn(ctx, "authorization compensated")
	return nil
}
