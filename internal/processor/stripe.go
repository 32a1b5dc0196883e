package processor

import (
	"context"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

const defaultRequestTimeout = 10 * time.Second

type paymentIntentAPI interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	Capture(ctx context.Context, id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Cancel(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	Retrieve(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error)
}

type refundAPI interface {
	Create(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error)
}

type stripeAPI interface {
	API() *stripe.Client
}

type StripeProcessorParams struct {
	Client         stripeAPI
	RequestTimeout time.Duration
	Logger         *logger.Logger
}

// StripeProcessor implements Processor with manual-capture PaymentIntents.
type StripeProcessor struct {
	intents paymentIntentAPI
	refunds refundAPI
	timeout time.Duration
	logg    *logger.Logger
}

func NewStripeProcessor(params StripeProcessorParams) (*StripeProcessor, error) {
	if params.Client == nil || params.Client.API() == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "stripe client required")
	}
	api := params.Client.API()
	return newStripeProcessor(api.V1PaymentIntents, api.V1Refunds, params.RequestTimeout, params.Logger), nil
}

func newStripeProcessor(intents paymentIntentAPI, refunds refundAPI, timeout time.Duration, logg *logger.Logger) *StripeProcessor {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &StripeProcessor{
		intents: intents,
		refunds: refunds,
		timeout: timeout,
		logg:    logg,
	}
}

func (p *StripeProcessor) CreateAuthorization(ctx context.Context, req AuthorizationRequest) (*Intent, error) {
	if req.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authorization amount must be positive")
	}
	if len(strings.TrimSpace(req.Currency)) != 3 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency must be a 3-letter code")
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	if req.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
		params.Confirm = stripe.Bool(true)
		params.AutomaticPaymentMethods = &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		}
	} else {
		params.AutomaticPaymentMethods = &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		}
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey("authorize-" + req.IdempotencyKey)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pi, err := p.intents.Create(callCtx, params)
	if err != nil {
		return nil, classify(err, "create authorization")
	}
	return RequireIntent(toIntent(pi), nil)
}

func (p *StripeProcessor) Capture(ctx context.Context, intentID string, idempotencyKey string) (*Intent, error) {
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "processor intent id required")
	}
	params := &stripe.PaymentIntentCaptureParams{}
	params.AddExpand("latest_charge")
	if idempotencyKey != "" {
		params.SetIdempotencyKey("capture-" + idempotencyKey)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pi, err := p.intents.Capture(callCtx, intentID, params)
	if err != nil {
		// A repeated capture of an already captured intent is success, not a new charge.
		if reported := unexpectedStateIntent(err); reported != nil && reported.Status == stripe.PaymentIntentStatusSucceeded {
			if p.logg != nil {
				p.logg.Warn(p.logg.WithField(ctx, "processor_intent_id", intentID), "capture replay on succeeded intent treated as success")
			}
			return toIntent(reported), nil
		}
		return nil, classify(err, "capture")
	}
	return RequireIntent(toIntent(pi), nil)
}

func (p *StripeProcessor) Cancel(ctx context.Context, intentID string, reason CancelReason) (*Intent, error) {
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "processor intent id required")
	}
	params := &stripe.PaymentIntentCancelParams{}
	if reason != "" {
		params.CancellationReason = stripe.String(string(reason))
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pi, err := p.intents.Cancel(callCtx, intentID, params)
	if err != nil {
		if reported := unexpectedStateIntent(err); reported != nil && reported.Status == stripe.PaymentIntentStatusCanceled {
			return toIntent(reported), nil
		}
		return nil, classify(err, "cancel")
	}
	return RequireIntent(toIntent(pi), nil)
}

func (p *StripeProcessor) Refund(ctx context.Context, intentID string, amount int64, idempotencyKey string) (*Refund, error) {
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "processor intent id required")
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(amount),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey("refund-" + idempotencyKey)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rf, err := p.refunds.Create(callCtx, params)
	if err != nil {
		return nil, classify(err, "refund")
	}
	if rf == nil {
		return nil, pkgerrors.New(pkgerrors.CodeProcessorUnavailable, "refund returned no result")
	}
	return &Refund{ID: rf.ID, Status: string(rf.Status), Amount: rf.Amount}, nil
}

func (p *StripeProcessor) FetchStatus(ctx context.Context, intentID string) (*Intent, error) {
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "processor intent id required")
	}
	params := &stripe.PaymentIntentRetrieveParams{}
	params.AddExpand("latest_charge")

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pi, err := p.intents.Retrieve(callCtx, intentID, params)
	if err != nil {
		return nil, classify(err, "fetch status")
	}
	return RequireIntent(toIntent(pi), nil)
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	if pi == nil {
		return nil
	}
	intent := &Intent{
		ID:             pi.ID,
		Status:         Status(pi.Status),
		ClientSecret:   pi.ClientSecret,
		Amount:         pi.Amount,
		AmountReceived: pi.AmountReceived,
	}
	if pi.LatestCharge != nil {
		intent.ChargeRef = pi.LatestCharge.ID
		intent.AmountRefunded = pi.LatestCharge.AmountRefunded
		intent.FullyRefunded = pi.LatestCharge.Refunded
	}
	return intent
}
