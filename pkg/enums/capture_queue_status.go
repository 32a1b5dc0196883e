package enums

import "fmt"

// CaptureQueueStatus tracks a pending-capture job.
type CaptureQueueStatus string

const (
	CaptureQueueStatusPending    CaptureQueueStatus = "pending"
	CaptureQueueStatusProcessing CaptureQueueStatus = "processing"
	CaptureQueueStatusCompleted  CaptureQueueStatus = "completed"
	CaptureQueueStatusFailed     CaptureQueueStatus = "failed"
)

var validCaptureQueueStatuses = []CaptureQueueStatus{
	CaptureQueueStatusPending,
	CaptureQueueStatusProcessing,
	CaptureQueueStatusCompleted,
	CaptureQueueStatusFailed,
}

// String implements fmt.Stringer.
func (c CaptureQueueStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CaptureQueueStatus.
func (c CaptureQueueStatus) IsValid() bool {
	for _, candidate := range validCaptureQueueStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the entry will never be picked up automatically again.
func (c CaptureQueueStatus) IsTerminal() bool {
	return c == CaptureQueueStatusCompleted || c == CaptureQueueStatusFailed
}

// ParseCaptureQueueStatus converts raw input into a CaptureQueueStatus.
func ParseCaptureQueueStatus(value string) (CaptureQueueStatus, error) {
	for _, candidate := range validCaptureQueueStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid capture queue status %q", value)
}
