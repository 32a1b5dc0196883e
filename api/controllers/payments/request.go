package payments

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ridepay-backend/api/validators"
	"github.com/angelmondragon/ridepay-backend/internal/lifecycle"
)

const (
	maxReasonLen    = 255
	maxHistoryLimit = 100
)

// AuthorizeRequest is the booking-flow body for placing a hold.
type AuthorizeRequest struct {
	DriverID        uuid.UUID `json:"driver_id" validate:"required"`
	RideID          uuid.UUID `json:"ride_id" validate:"required"`
	AmountSubtotal  int64     `json:"amount_subtotal" validate:"required,gt=0"`
	ReferralCode    string    `json:"referral_code,omitempty" validate:"omitempty,max=32"`
	PaymentMethodID string    `json:"payment_method_id,omitempty" validate:"omitempty,max=255"`
}

func (r AuthorizeRequest) toInput(riderID uuid.UUID) lifecycle.AuthorizeInput {
	return lifecycle.AuthorizeInput{
		RiderID:         riderID,
		DriverID:        r.DriverID,
		RideID:          r.RideID,
		AmountSubtotal:  r.AmountSubtotal,
		ReferralCode:    validators.SanitizeString(r.ReferralCode, 32),
		PaymentMethodID: validators.SanitizeString(r.PaymentMethodID, 255),
	}
}

type LinkBookingRequest struct {
	BookingID uuid.UUID `json:"booking_id" validate:"required"`
}

// ReasonRequest is shared by cancel and refund; the body is optional.
type ReasonRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=255"`
}

func (r ReasonRequest) sanitized(fallback string) string {
	if reason := validators.SanitizeString(r.Reason, maxReasonLen); reason != "" {
		return reason
	}
	return fallback
}

// IssueReferralRequest creates a referral code from the operator console.
type IssueReferralRequest struct {
	Code            string          `json:"code" validate:"required,min=4,max=32"`
	OwnerUserID     uuid.UUID       `json:"owner_user_id" validate:"required"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	ExpiresInHours  int             `json:"expires_in_hours" validate:"required,gt=0,max=8760"`
}
