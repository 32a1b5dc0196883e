package enums

import "fmt"

// HistoryStatus is the rider-facing display status of a transaction row.
type HistoryStatus string

const (
	HistoryStatusPending    HistoryStatus = "pending"
	HistoryStatusAuthorized HistoryStatus = "authorized"
	HistoryStatusSucceeded  HistoryStatus = "succeeded"
	HistoryStatusRefunded   HistoryStatus = "refunded"
	HistoryStatusFailed     HistoryStatus = "failed"
)

var validHistoryStatuses = []HistoryStatus{
	HistoryStatusPending,
	HistoryStatusAuthorized,
	HistoryStatusSucceeded,
	HistoryStatusRefunded,
	HistoryStatusFailed,
}

// String implements fmt.Stringer.
func (h HistoryStatus) String() string {
	return string(h)
}

// IsValid reports whether the value is a known HistoryStatus.
func (h HistoryStatus) IsValid() bool {
	for _, candidate := range validHistoryStatuses {
		if candidate == h {
			return true
		}
	}
	return false
}

// ParseHistoryStatus converts raw input into a HistoryStatus.
func ParseHistoryStatus(value string) (HistoryStatus, error) {
	for _, candidate := range validHistoryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid history status %q", value)
}

// HistoryEntryType separates charges from refunds in the rider's history.
type HistoryEntryType string

const (
	HistoryEntryTypeCharge HistoryEntryType = "charge"
	HistoryEntryTypeRefund HistoryEntryType = "refund"
)

// String implements fmt.Stringer.
func (h HistoryEntryType) String() string {
	return string(h)
}

// IsValid reports whether the value is a known HistoryEntryType.
func (h HistoryEntryType) IsValid() bool {
	return h == HistoryEntryTypeCharge || h == HistoryEntryTypeRefund
}
