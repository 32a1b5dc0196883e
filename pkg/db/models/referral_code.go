package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReferralCode grants a one-time percentage discount on a ride.
type ReferralCode struct {
	ID                  uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Code                string          `gorm:"column:code;not null;uniqueIndex"`
	OwnerUserID         uuid.UUID       `gorm:"column:owner_user_id;type:uuid;not null"`
	DiscountPercent     decimal.Decimal `gorm:"column:discount_percent;type:numeric(5,2);not null"`
	ExpiresAt           time.Time       `gorm:"column:expires_at;not null"`
	UsedAt              *time.Time      `gorm:"column:used_at"`
	UsedBy              *uuid.UUID      `gorm:"column:used_by;type:uuid"`
	UsedPaymentIntentID *uuid.UUID      `gorm:"column:used_payment_intent_id;type:uuid"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
