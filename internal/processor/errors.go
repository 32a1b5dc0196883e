package processor

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

// StateDetails is attached to state conflicts raised by the processor.
type StateDetails struct {
	ProcessorStatus Status `json:"processor_status,omitempty"`
	ProcessorCode   string `json:"processor_code,omitempty"`
}

// ErrNilIntent marks a processor call that reported success without an intent.
var ErrNilIntent = errors.New("processor returned no intent")

// RequireIntent turns a nil intent from an otherwise successful call into a
// transient processor error so callers never dereference nil.
func RequireIntent(intent *Intent, err error) (*Intent, error) {
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProcessorUnavailable, ErrNilIntent, "processor returned no intent")
	}
	return intent, nil
}

// classify maps a processor failure onto the shared error taxonomy.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeProcessorUnavailable, err, op+" timed out")
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return pkgerrors.Wrap(pkgerrors.CodeProcessorUnavailable, err, op+" network failure")
		}
		return pkgerrors.Wrap(pkgerrors.CodeProcessorUnavailable, err, op+" failed")
	}

	switch {
	case stripeErr.HTTPStatusCode == http.StatusUnauthorized,
		stripeErr.HTTPStatusCode == http.StatusForbidden,
		stripeErr.Code == stripe.ErrorCodeAPIKeyExpired:
		return pkgerrors.Wrap(pkgerrors.CodeConfiguration, err, op+" rejected credentials")
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.Code == stripe.ErrorCodeRateLimit,
		stripeErr.Code == stripe.ErrorCodeLockTimeout,
		stripeErr.Type == stripe.ErrorTypeAPI,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
		return pkgerrors.Wrap(pkgerrors.CodeProcessorUnavailable, err, op+" temporarily unavailable")
	case stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState:
		details := StateDetails{ProcessorCode: string(stripeErr.Code)}
		if stripeErr.PaymentIntent != nil {
			details.ProcessorStatus = Status(stripeErr.PaymentIntent.Status)
		}
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, op+" not allowed in current processor state").WithDetails(details)
	case stripeErr.Type == stripe.ErrorTypeCard:
		return pkgerrors.Wrap(pkgerrors.CodePaymentDeclined, err, op+" declined").WithDetails(map[string]any{
			"decline_code": string(stripeErr.DeclineCode),
		})
	case stripeErr.Type == stripe.ErrorTypeIdempotency:
		return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, op+" idempotency key reused with different parameters")
	case stripeErr.HTTPStatusCode == http.StatusNotFound:
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, op+" processor intent not found")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, op+" rejected by processor")
	}
}

// unexpectedStateIntent returns the intent the processor reported alongside an
// unexpected-state error, if any.
func unexpectedStateIntent(err error) *stripe.PaymentIntent {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return nil
	}
	if stripeErr.Code != stripe.ErrorCodePaymentIntentUnexpectedState {
		return nil
	}
	return stripeErr.PaymentIntent
}
