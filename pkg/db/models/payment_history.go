package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ridepay-backend/pkg/enums"
)

// PaymentHistoryEntry is a rider-facing transaction row. Display only.
type PaymentHistoryEntry struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	PaymentIntentID uuid.UUID              `gorm:"column:payment_intent_id;type:uuid;not null;index"`
	RiderID         uuid.UUID              `gorm:"column:rider_id;type:uuid;not null;index"`
	RideID          uuid.UUID              `gorm:"column:ride_id;type:uuid;not null"`
	EntryType       enums.HistoryEntryType `gorm:"column:entry_type;type:text;not null"`
	Amount          int64                  `gorm:"column:amount;not null"`
	Currency        string                 `gorm:"column:currency;not null"`
	Status          enums.HistoryStatus    `gorm:"column:status;type:text;not null"`
	Description     string                 `gorm:"column:description;not null;default:''"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentHistoryEntry) TableName() string {
	return "payment_history"
}
