package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ridepay-backend/pkg/enums"
)

// CaptureQueueEntry is a durable job asking the worker to capture one payment intent.
type CaptureQueueEntry struct {
	ID              uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	PaymentIntentID uuid.UUID                `gorm:"column:payment_intent_id;type:uuid;not null;index"`
	Status          enums.CaptureQueueStatus `gorm:"column:status;type:text;not null"`
	Attempts        int                      `gorm:"column:attempts;not null;default:0"`
	LastAttemptAt   *time.Time               `gorm:"column:last_attempt_at"`
	ErrorMessage    *string                  `gorm:"column:error_message"`
	CreatedAt       time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
