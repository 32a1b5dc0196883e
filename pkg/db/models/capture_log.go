package models

import (
	"time"

	"github.com/google/uuid"
)

// CaptureLog is the append-only audit row written once per successful capture.
type CaptureLog struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	PaymentIntentID    uuid.UUID `gorm:"column:payment_intent_id;type:uuid;not null;uniqueIndex"`
	ProcessorIntentID  string    `gorm:"column:processor_intent_id;not null"`
	ProcessorChargeRef *string   `gorm:"column:processor_charge_ref"`
	AmountCaptured     int64     `gorm:"column:amount_captured;not null"`
	Currency           string    `gorm:"column:currency;not null"`
	CapturedAt         time.Time `gorm:"column:captured_at;not null"`
}
