package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ridepay-backend/pkg/enums"
)

// PaymentAuthorizedEvent is emitted once a hold exists on the rider's payment method.
type PaymentAuthorizedEvent struct {
	PaymentIntentID   uuid.UUID `json:"payment_intent_id"`
	ProcessorIntentID string    `json:"processor_intent_id"`
	RiderID           uuid.UUID `json:"rider_id"`
	DriverID          uuid.UUID `json:"driver_id"`
	RideID            uuid.UUID `json:"ride_id"`
	AmountTotal       int64     `json:"amount_total"`
	DiscountAmount    int64     `json:"discount_amount"`
	Currency          string    `json:"currency"`
}

// PaymentCapturedEvent is emitted after the hold has been converted into a charge.
type PaymentCapturedEvent struct {
	PaymentIntentID uuid.UUID `json:"payment_intent_id"`
	RiderID         uuid.UUID `json:"rider_id"`
	DriverID        uuid.UUID `json:"driver_id"`
	RideID          uuid.UUID `json:"ride_id"`
	AmountCaptured  int64     `json:"amount_captured"`
	PlatformFee     int64     `json:"platform_fee"`
	DriverNet       int64     `json:"driver_net"`
	Currency        string    `json:"currency"`
	CapturedAt      time.Time `json:"captured_at"`
}

// PaymentStatusEvent covers cancel, refund and failure notifications.
type PaymentStatusEvent struct {
	PaymentIntentID uuid.UUID           `json:"payment_intent_id"`
	RiderID         uuid.UUID           `json:"rider_id"`
	DriverID        uuid.UUID           `json:"driver_id"`
	RideID          uuid.UUID           `json:"ride_id"`
	Status          enums.PaymentStatus `json:"status"`
	Amount          int64               `json:"amount"`
	Currency        string              `json:"currency"`
	Reason          string              `json:"reason,omitempty"`
	RefundID        string              `json:"refund_id,omitempty"`
}
