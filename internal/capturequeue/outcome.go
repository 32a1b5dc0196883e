package capturequeue

import "github.com/angelmondragon/ridepay-backend/pkg/enums"

// Outcome classifies one capture attempt against a queue entry.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRetryable Outcome = "retryable"
	OutcomeFatal     Outcome = "fatal"
)

// NextStatus returns the status an entry moves to after an attempt. attempts
// is the count including the attempt being recorded.
func NextStatus(outcome Outcome, attempts, maxAttempts int) enums.CaptureQueueStatus {
	switch outcome {
	case OutcomeSucceeded:
		return enums.CaptureQueueStatusCompleted
	case OutcomeRetryable:
		if attempts >= maxAttempts {
			return enums.CaptureQueueStatusFailed
		}
		return enums.CaptureQueueStatusPending
	default:
		return enums.CaptureQueueStatusFailed
	}
}
