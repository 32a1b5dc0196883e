package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ridepay-backend/pkg/enums"
)

// DriverEarnings is the fee split derived from one successful capture.
type DriverEarnings struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	PaymentIntentID uuid.UUID            `gorm:"column:payment_intent_id;type:uuid;not null;uniqueIndex"`
	DriverID        uuid.UUID            `gorm:"column:driver_id;type:uuid;not null;index"`
	RideID          uuid.UUID            `gorm:"column:ride_id;type:uuid;not null"`
	GrossAmount     int64                `gorm:"column:gross_amount;not null"`
	PlatformFee     int64                `gorm:"column:platform_fee;not null"`
	NetAmount       int64                `gorm:"column:net_amount;not null"`
	FeePercent      int64                `gorm:"column:fee_percent;not null"`
	Status          enums.EarningsStatus `gorm:"column:status;type:text;not null"`
	RefundedAt      *time.Time           `gorm:"column:refunded_at"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (DriverEarnings) TableName() string {
	return "driver_earnings"
}
