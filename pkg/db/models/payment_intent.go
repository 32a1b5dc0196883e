package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ridepay-backend/pkg/enums"
)

// PaymentIntent is the local record of one booking attempt's authorization.
// It mirrors the processor's intent; the processor remains authoritative for money.
type PaymentIntent struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ProcessorIntentID   string              `gorm:"column:processor_intent_id;not null;uniqueIndex"`
	RiderID             uuid.UUID           `gorm:"column:rider_id;type:uuid;not null"`
	DriverID            uuid.UUID           `gorm:"column:driver_id;type:uuid;not null"`
	RideID              uuid.UUID           `gorm:"column:ride_id;type:uuid;not null;index"`
	BookingID           *uuid.UUID          `gorm:"column:booking_id;type:uuid"`
	AmountSubtotal      int64               `gorm:"column:amount_subtotal;not null"`
	DiscountAmount      int64               `gorm:"column:discount_amount;not null;default:0"`
	AmountTotal         int64               `gorm:"column:amount_total;not null"`
	Currency            string              `gorm:"column:currency;not null"`
	Status              enums.PaymentStatus `gorm:"column:status;type:text;not null"`
	ReferralCode        *string             `gorm:"column:referral_code"`
	ProcessorChargeRef  *string             `gorm:"column:processor_charge_ref"`
	ProcessorRefundID   *string             `gorm:"column:processor_refund_id"`
	FailureReason       *string             `gorm:"column:failure_reason"`
	CancellationReason  *string             `gorm:"column:cancellation_reason"`
	ProcessingStartedAt *time.Time          `gorm:"column:processing_started_at"`
	CapturedAt          *time.Time          `gorm:"column:captured_at"`
	CanceledAt          *time.Time          `gorm:"column:canceled_at"`
	RefundedAt          *time.Time          `gorm:"column:refunded_at"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
