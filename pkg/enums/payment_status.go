package enums

import "fmt"

// PaymentStatus tracks the lifecycle of a ride payment intent.
type PaymentStatus string

const (
	PaymentStatusRequiresPaymentMethod PaymentStatus = "requires_payment_method"
	PaymentStatusAuthorized            PaymentStatus = "authorized"
	PaymentStatusProcessing            PaymentStatus = "processing"
	PaymentStatusSucceeded             PaymentStatus = "succeeded"
	PaymentStatusCanceled              PaymentStatus = "canceled"
	PaymentStatusRefunded              PaymentStatus = "refunded"
	PaymentStatusFailed                PaymentStatus = "failed"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusRequiresPaymentMethod,
	PaymentStatusAuthorized,
	PaymentStatusProcessing,
	PaymentStatusSucceeded,
	PaymentStatusCanceled,
	PaymentStatusRefunded,
	PaymentStatusFailed,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition may leave this status.
func (p PaymentStatus) IsTerminal() bool {
	switch p {
	case PaymentStatusCanceled, PaymentStatusRefunded, PaymentStatusFailed:
		return true
	}
	return false
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
