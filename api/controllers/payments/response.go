package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ridepay-backend/internal/lifecycle"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
)

// PaymentResponse is the public view of a payment intent. Processor
// references stay internal.
type PaymentResponse struct {
	ID             uuid.UUID           `json:"id"`
	RiderID        uuid.UUID           `json:"rider_id"`
	DriverID       uuid.UUID           `json:"driver_id"`
	RideID         uuid.UUID           `json:"ride_id"`
	BookingID      *uuid.UUID          `json:"booking_id,omitempty"`
	AmountSubtotal int64               `json:"amount_subtotal"`
	DiscountAmount int64               `json:"discount_amount"`
	AmountTotal    int64               `json:"amount_total"`
	Currency       string              `json:"currency"`
	Status         enums.PaymentStatus `json:"status"`
	ReferralCode   *string             `json:"referral_code,omitempty"`
	FailureReason  *string             `json:"failure_reason,omitempty"`
	CapturedAt     *time.Time          `json:"captured_at,omitempty"`
	CanceledAt     *time.Time          `json:"canceled_at,omitempty"`
	RefundedAt     *time.Time          `json:"refunded_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func newPaymentResponse(intent *models.PaymentIntent) *PaymentResponse {
	if intent == nil {
		return nil
	}
	return &PaymentResponse{
		ID:             intent.ID,
		RiderID:        intent.RiderID,
		DriverID:       intent.DriverID,
		RideID:         intent.RideID,
		BookingID:      intent.BookingID,
		AmountSubtotal: intent.AmountSubtotal,
		DiscountAmount: intent.DiscountAmount,
		AmountTotal:    intent.AmountTotal,
		Currency:       intent.Currency,
		Status:         intent.Status,
		ReferralCode:   intent.ReferralCode,
		FailureReason:  intent.FailureReason,
		CapturedAt:     intent.CapturedAt,
		CanceledAt:     intent.CanceledAt,
		RefundedAt:     intent.RefundedAt,
		CreatedAt:      intent.CreatedAt,
		UpdatedAt:      intent.UpdatedAt,
	}
}

type AuthorizeResponse struct {
	Payment         *PaymentResponse `json:"payment"`
	ClientSecret    string           `json:"client_secret,omitempty"`
	DiscountApplied bool             `json:"discount_applied"`
}

type EarningsResponse struct {
	GrossAmount int64                `json:"gross_amount"`
	PlatformFee int64                `json:"platform_fee"`
	NetAmount   int64                `json:"net_amount"`
	FeePercent  int64                `json:"fee_percent"`
	Status      enums.EarningsStatus `json:"status"`
}

type CaptureResponse struct {
	Payment        *PaymentResponse  `json:"payment"`
	CapturedAmount int64             `json:"captured_amount"`
	Earnings       *EarningsResponse `json:"earnings,omitempty"`
	Replayed       bool              `json:"replayed"`
}

func newCaptureResponse(result *lifecycle.CaptureResult) CaptureResponse {
	resp := CaptureResponse{
		Payment:        newPaymentResponse(result.PaymentIntent),
		CapturedAmount: result.CapturedAmount,
		Replayed:       result.Replayed,
	}
	if e := result.Earnings; e != nil {
		resp.Earnings = &EarningsResponse{
			GrossAmount: e.GrossAmount,
			PlatformFee: e.PlatformFee,
			NetAmount:   e.NetAmount,
			FeePercent:  e.FeePercent,
			Status:      e.Status,
		}
	}
	return resp
}

type RefundResponse struct {
	Payment  *PaymentResponse `json:"payment"`
	RefundID string           `json:"refund_id"`
	Amount   int64            `json:"amount"`
}

type QueueEntryResponse struct {
	ID              uuid.UUID                `json:"id"`
	PaymentIntentID uuid.UUID                `json:"payment_intent_id"`
	Status          enums.CaptureQueueStatus `json:"status"`
	Attempts        int                      `json:"attempts"`
	CreatedAt       time.Time                `json:"created_at"`
}

// RideCompletionResponse reports the queued capture. Entry is nil when the
// payment was already captured.
type RideCompletionResponse struct {
	Entry           *QueueEntryResponse `json:"capture_entry,omitempty"`
	AlreadyCaptured bool                `json:"already_captured"`
}

func newRideCompletionResponse(entry *models.CaptureQueueEntry) RideCompletionResponse {
	if entry == nil {
		return RideCompletionResponse{AlreadyCaptured: true}
	}
	return RideCompletionResponse{Entry: &QueueEntryResponse{
		ID:              entry.ID,
		PaymentIntentID: entry.PaymentIntentID,
		Status:          entry.Status,
		Attempts:        entry.Attempts,
		CreatedAt:       entry.CreatedAt,
	}}
}

type ReferralCodeResponse struct {
	ID              uuid.UUID `json:"id"`
	Code            string    `json:"code"`
	OwnerUserID     uuid.UUID `json:"owner_user_id"`
	DiscountPercent string    `json:"discount_percent"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func newReferralCodeResponse(code *models.ReferralCode) ReferralCodeResponse {
	return ReferralCodeResponse{
		ID:              code.ID,
		Code:            code.Code,
		OwnerUserID:     code.OwnerUserID,
		DiscountPercent: code.DiscountPercent.StringFixed(2),
		ExpiresAt:       code.ExpiresAt,
	}
}

// CaptureEntryResponse is an operator view of a capture queue entry.
type CaptureEntryResponse struct {
	ID              uuid.UUID                `json:"id"`
	PaymentIntentID uuid.UUID                `json:"payment_intent_id"`
	Status          enums.CaptureQueueStatus `json:"status"`
	Attempts        int                      `json:"attempts"`
	LastAttemptAt   *time.Time               `json:"last_attempt_at,omitempty"`
	ErrorMessage    *string                  `json:"error_message,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
}

func newCaptureEntryResponse(entry models.CaptureQueueEntry) CaptureEntryResponse {
	return CaptureEntryResponse{
		ID:              entry.ID,
		PaymentIntentID: entry.PaymentIntentID,
		Status:          entry.Status,
		Attempts:        entry.Attempts,
		LastAttemptAt:   entry.LastAttemptAt,
		ErrorMessage:    entry.ErrorMessage,
		CreatedAt:       entry.CreatedAt,
	}
}

type HistoryEntryResponse struct {
	ID              uuid.UUID              `json:"id"`
	PaymentIntentID uuid.UUID              `json:"payment_intent_id"`
	RideID          uuid.UUID              `json:"ride_id"`
	EntryType       enums.HistoryEntryType `json:"entry_type"`
	Amount          int64                  `json:"amount"`
	Currency        string                 `json:"currency"`
	Status          enums.HistoryStatus    `json:"status"`
	Description     string                 `json:"description,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

func newHistoryEntryResponse(entry models.PaymentHistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:              entry.ID,
		PaymentIntentID: entry.PaymentIntentID,
		RideID:          entry.RideID,
		EntryType:       entry.EntryType,
		Amount:          entry.Amount,
		Currency:        entry.Currency,
		Status:          entry.Status,
		Description:     entry.Description,
		CreatedAt:       entry.CreatedAt,
	}
}

// DriverEarningsResponse is one ride's fee split as the driver sees it.
type DriverEarningsResponse struct {
	PaymentIntentID uuid.UUID `json:"payment_intent_id"`
	RideID          uuid.UUID `json:"ride_id"`
	EarningsResponse
	CreatedAt time.Time `json:"created_at"`
}

func newDriverEarningsResponse(e models.DriverEarnings) DriverEarningsResponse {
	return DriverEarningsResponse{
		PaymentIntentID: e.PaymentIntentID,
		RideID:          e.RideID,
		EarningsResponse: EarningsResponse{
			GrossAmount: e.GrossAmount,
			PlatformFee: e.PlatformFee,
			NetAmount:   e.NetAmount,
			FeePercent:  e.FeePercent,
			Status:      e.Status,
		},
		CreatedAt: e.CreatedAt,
	}
}
