// Package processor is the boundary to the external payment processor. Every
// call is bounded by a timeout and classified into the typed error taxonomy so
// callers can tell transient failures from state mismatches.
package processor

import (
	"context"
)

// Status is the processor's own intent vocabulary.
type Status string

const (
	StatusRequiresPaymentMethod Status = "requires_payment_method"
	StatusRequiresConfirmation  Status = "requires_confirmation"
	StatusRequiresAction        Status = "requires_action"
	StatusProcessing            Status = "processing"
	StatusRequiresCapture       Status = "requires_capture"
	StatusCanceled              Status = "canceled"
	StatusSucceeded             Status = "succeeded"
)

// CancelReason is forwarded to the processor when an authorization is released.
type CancelReason string

const (
	CancelReasonRequestedByCustomer CancelReason = "requested_by_customer"
	CancelReasonAbandoned           CancelReason = "abandoned"
	CancelReasonDuplicate           CancelReason = "duplicate"
)

// Intent is the processor's current view of one payment intent.
type Intent struct {
	ID             string
	Status         Status
	ClientSecret   string
	ChargeRef      string
	Amount         int64
	AmountReceived int64
	AmountRefunded int64
	FullyRefunded  bool
}

// Refund is the result of a refund call.
type Refund struct {
	ID     string
	Status string
	Amount int64
}

// AuthorizationRequest creates a manual-capture hold.
type AuthorizationRequest struct {
	IdempotencyKey  string
	Amount          int64
	Currency        string
	PaymentMethodID string
	Metadata        map[string]string
}

// Processor is the contract the lifecycle engine depends on. Capture, Cancel,
// Refund and FetchStatus are safe to repeat; CreateAuthorization mints a new
// processor intent unless the same idempotency key is replayed.
type Processor interface {
	CreateAuthorization(ctx context.Context, req AuthorizationRequest) (*Intent, error)
	Capture(ctx context.Context, intentID string, idempotencyKey string) (*Intent, error)
	Cancel(ctx context.Context, intentID string, reason CancelReason) (*Intent, error)
	Refund(ctx context.Context, intentID string, amount int64, idempotencyKey string) (*Refund, error)
	FetchStatus(ctx context.Context, intentID string) (*Intent, error)
}
