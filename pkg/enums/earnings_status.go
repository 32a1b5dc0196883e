package enums

import "fmt"

// EarningsStatus tracks whether a driver earnings row is still payable.
type EarningsStatus string

const (
	EarningsStatusPending  EarningsStatus = "pending"
	EarningsStatusRefunded EarningsStatus = "refunded"
)

var validEarningsStatuses = []EarningsStatus{
	EarningsStatusPending,
	EarningsStatusRefunded,
}

// String implements fmt.Stringer.
func (e EarningsStatus) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EarningsStatus.
func (e EarningsStatus) IsValid() bool {
	for _, candidate := range validEarningsStatuses {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEarningsStatus converts raw input into an EarningsStatus.
func ParseEarningsStatus(value string) (EarningsStatus, error) {
	for _, candidate := range validEarningsStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid earnings status %q", value)
}
