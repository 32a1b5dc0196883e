package lifecycle

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/ridepay-backend/internal/processor"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

// AuthorizeInput describes one booking attempt.
type AuthorizeInput struct {
	RiderID         uuid.UUID
	DriverID        uuid.UUID
	RideID          uuid.UUID
	AmountSubtotal  int64
	ReferralCode    string
	PaymentMethodID string
}

// AuthorizeResult carries the local intent and the token the client uses to
// confirm the payment method.
type AuthorizeResult struct {
	PaymentIntent   *models.PaymentIntent
	ClientSecret    string
	DiscountApplied bool
}

func (in AuthorizeInput) validate() error {
	switch {
	case in.RiderID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "rider id is required")
	case in.DriverID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "driver id is required")
	case in.RideID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "ride id is required")
	case in.RiderID == in.DriverID:
		return pkgerrors.New(pkgerrors.CodeValidation, "rider and driver must differ")
	case in.AmountSubtotal <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "amount subtotal must be positive")
	}
	return nil
}

// Authorize places a hold for the ride amount. It is never retried by the
// engine: a new call would mint a second hold.
func (e *engine) Authorize(ctx context.Context, input AuthorizeInput) (*AuthorizeResult, error) {
	result, err := e.authorize(ctx, input)
	e.metrics.ObserveOperation("authorize", err)
	return result, err
}

func (e *engine) authorize(ctx context.Context, input AuthorizeInput) (*AuthorizeResult, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	id := uuid.New()
	ctx = e.logg.WithPaymentIntentID(ctx, id.String())

	var (
		discount     int64
		referralCode *string
	)
	if code := strings.TrimSpace(input.ReferralCode); code != "" {
		redemption, err := e.referrals.Redeem(ctx, code, input.RiderID, id, input.AmountSubtotal)
		if err != nil {
			return nil, err
		}
		if redemption.Claimed {
			discount = redemption.Discount
			claimed := redemption.Code
			referralCode = &claimed
		}
	}

	total := input.AmountSubtotal - discount
	if total <= 0 {
		e.releaseReferral(ctx, referralCode, id)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount after discount must be positive")
	}

	req := processor.AuthorizationRequest{
		IdempotencyKey:  id.String(),
		Amount:          total,
		Currency:        e.currency,
		PaymentMethodID: input.PaymentMethodID,
		Metadata: map[string]string{
			"payment_intent_id": id.String(),
			"ride_id":           input.RideID.String(),
			"rider_id":          input.RiderID.String(),
			"driver_id":         input.DriverID.String(),
		},
	}
	remote, err := processor.RequireIntent(e.processor.CreateAuthorization(ctx, req))
	if err != nil {
		if pkgerrors.IsRetryable(err) {
			e.abandonUncertainAuthorization(ctx, req, id)
		}
		e.releaseReferral(ctx, referralCode, id)
		return nil, err
	}

	status := MapProcessorStatus(remote)
	if status != enums.PaymentStatusAuthorized && status != enums.PaymentStatusRequiresPaymentMethod {
		cerr := e.compensator.CompensateAuthorization(ctx, AuthorizationCompensation{
			PaymentIntentID:   id,
			ProcessorIntentID: remote.ID,
			ReferralCode:      referralCode,
		})
		return nil, multierr.Append(stateConflict("processor returned an unexpected authorization status", StateDetails{
			ProcessorStatus: remote.Status,
			Requested:       enums.PaymentStatusAuthorized,
		}), cerr)
	}

	intent := &models.PaymentIntent{
		ID:                id,
		ProcessorIntentID: remote.ID,
		RiderID:           input.RiderID,
		DriverID:          input.DriverID,
		RideID:            input.RideID,
		AmountSubtotal:    input.AmountSubtotal,
		DiscountAmount:    discount,
		AmountTotal:       total,
		Currency:          e.currency,
		Status:            status,
		ReferralCode:      referralCode,
	}
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.repo.WithTx(tx).CreateIntent(ctx, intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payment intent")
		}
		if status != enums.PaymentStatusAuthorized {
			return nil
		}
		return e.outbox.Emit(ctx, tx, authorizedEvent(intent))
	})
	if err != nil {
		cerr := e.compensator.CompensateAuthorization(ctx, AuthorizationCompensation{
			PaymentIntentID:   id,
			ProcessorIntentID: remote.ID,
			ReferralCode:      referralCode,
		})
		return nil, multierr.Append(err, cerr)
	}

	historyStatus := enums.HistoryStatusPending
	if status == enums.PaymentStatusAuthorized {
		historyStatus = enums.HistoryStatusAuthorized
	}
	if err := e.repo.CreateHistory(ctx, &models.PaymentHistoryEntry{
		PaymentIntentID: id,
		RiderID:         input.RiderID,
		RideID:          input.RideID,
		EntryType:       enums.HistoryEntryTypeCharge,
		Amount:          total,
		Currency:        e.currency,
		Status:          historyStatus,
		Description:     "Ride payment",
	}); err != nil {
		e.logg.Error(ctx, "payment history write failed", err)
	}

	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"processor_intent_id": remote.ID,
		"amount_total":        total,
		"discount_amount":     discount,
		"status":              status,
	}), "payment authorized")

	return &AuthorizeResult{
		PaymentIntent:   intent,
		ClientSecret:    remote.ClientSecret,
		DiscountApplied: discount > 0,
	}, nil
}

// abandonUncertainAuthorization handles a create call whose outcome is
// unknown, e.g. a timeout. Replaying the same idempotency key returns the
// hold if the processor did create it, and that hold is then canceled.
func (e *engine) abandonUncertainAuthorization(ctx context.Context, req processor.AuthorizationRequest, id uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	remote, err := processor.RequireIntent(e.processor.CreateAuthorization(ctx, req))
	if err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "authorization outcome unknown; replay failed")
		return
	}
	if err := e.compensator.CompensateAuthorization(ctx, AuthorizationCompensation{
		PaymentIntentID:   id,
		ProcessorIntentID: remote.ID,
	}); err != nil {
		e.logg.Error(ctx, "cancel uncertain authorization failed", err)
	}
}

func (e *engine) releaseReferral(ctx context.Context, code *string, id uuid.UUID) {
	if code == nil {
		return
	}
	if err := e.referrals.Release(context.WithoutCancel(ctx), *code, id); err != nil {
		e.logg.Error(ctx, "release referral code failed", err)
	}
}
