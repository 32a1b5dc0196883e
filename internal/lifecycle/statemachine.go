package lifecycle

import (
	"github.com/angelmondragon/ridepay-backend/internal/processor"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

type transition struct {
	from enums.PaymentStatus
	to   enums.PaymentStatus
}

// transitions lists every move an operation may request. failed is reachable
// from every non-terminal status.
var transitions = map[transition]struct{}{
	{enums.PaymentStatusRequiresPaymentMethod, enums.PaymentStatusAuthorized}: {},
	{enums.PaymentStatusAuthorized, enums.PaymentStatusProcessing}:            {},
	{enums.PaymentStatusAuthorized, enums.PaymentStatusCanceled}:              {},
	{enums.PaymentStatusProcessing, enums.PaymentStatusSucceeded}:             {},
	{enums.PaymentStatusProcessing, enums.PaymentStatusAuthorized}:            {},
	{enums.PaymentStatusSucceeded, enums.PaymentStatusRefunded}:               {},
	{enums.PaymentStatusRequiresPaymentMethod, enums.PaymentStatusFailed}:     {},
	{enums.PaymentStatusAuthorized, enums.PaymentStatusFailed}:                {},
	{enums.PaymentStatusProcessing, enums.PaymentStatusFailed}:                {},
}

// reconciliations are extra moves applied only when the processor already
// reports the target status, e.g. a capture that completed remotely before
// the local write.
var reconciliations = map[transition]struct{}{
	{enums.PaymentStatusAuthorized, enums.PaymentStatusSucceeded}:            {},
	{enums.PaymentStatusRequiresPaymentMethod, enums.PaymentStatusCanceled}: {},
	{enums.PaymentStatusProcessing, enums.PaymentStatusCanceled}:            {},
}

// CanTransition reports whether an operation may move a payment from one status to another.
func CanTransition(from, to enums.PaymentStatus) bool {
	_, ok := transitions[transition{from, to}]
	return ok
}

// CanReconcile reports whether local state may follow the processor from one status to another.
func CanReconcile(from, to enums.PaymentStatus) bool {
	if CanTransition(from, to) {
		return true
	}
	_, ok := reconciliations[transition{from, to}]
	return ok
}

// StateDetails is attached to every lifecycle state conflict.
type StateDetails struct {
	StoredStatus    enums.PaymentStatus `json:"stored_status"`
	ProcessorStatus processor.Status    `json:"processor_status,omitempty"`
	Requested       enums.PaymentStatus `json:"requested_status,omitempty"`
}

// ValidateTransition returns a state conflict when the move is not legal.
func ValidateTransition(from, to enums.PaymentStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return stateConflict("payment cannot move to "+to.String()+" from "+from.String(), StateDetails{
		StoredStatus: from,
		Requested:    to,
	})
}

func stateConflict(msg string, details StateDetails) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, msg).WithDetails(details)
}

// MapProcessorStatus translates the processor vocabulary into local status.
// Awaiting capture is always authorized; a succeeded intent whose charge is
// fully refunded is refunded.
func MapProcessorStatus(intent *processor.Intent) enums.PaymentStatus {
	if intent == nil {
		return ""
	}
	switch intent.Status {
	case processor.StatusRequiresCapture:
		return enums.PaymentStatusAuthorized
	case processor.StatusRequiresPaymentMethod, processor.StatusRequiresConfirmation, processor.StatusRequiresAction:
		return enums.PaymentStatusRequiresPaymentMethod
	case processor.StatusProcessing:
		return enums.PaymentStatusProcessing
	case processor.StatusSucceeded:
		if intent.FullyRefunded {
			return enums.PaymentStatusRefunded
		}
		return enums.PaymentStatusSucceeded
	case processor.StatusCanceled:
		return enums.PaymentStatusCanceled
	default:
		return ""
	}
}
