// Package stripewebhook turns signed processor events into lifecycle syncs.
// Events carry no authority of their own: every handled event re-reads the
// processor's current status through the engine.
package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

type paymentSyncer interface {
	SyncByProcessorID(ctx context.Context, processorIntentID string) (*models.PaymentIntent, error)
}

type ServiceParams struct {
	Engine paymentSyncer
	Logger *logger.Logger
}

type Service struct {
	engine paymentSyncer
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lifecycle engine required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{engine: params.Engine, logg: params.Logger}, nil
}

// HandleEvent syncs the payment an event refers to. Events for intents this
// service never created are acknowledged and ignored.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": string(event.Type),
	})

	processorIntentID, err := intentIDFromEvent(event)
	if err != nil {
		return err
	}
	if processorIntentID == "" {
		return nil
	}

	ctx = s.logg.WithField(ctx, "processor_intent_id", processorIntentID)
	intent, err := s.engine.SyncByProcessorID(ctx, processorIntentID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(ctx, "webhook for unknown payment intent ignored")
			return nil
		}
		return err
	}
	s.logg.Info(s.logg.WithField(ctx, "status", intent.Status), "payment synced from webhook")
	return nil
}

// intentIDFromEvent returns the payment intent id of a handled event, or ""
// for event types this service does not act on.
func intentIDFromEvent(event *stripe.Event) (string, error) {
	switch event.Type {
	case stripe.EventTypePaymentIntentAmountCapturableUpdated,
		stripe.EventTypePaymentIntentSucceeded,
		stripe.EventTypePaymentIntentCanceled,
		stripe.EventTypePaymentIntentPaymentFailed,
		stripe.EventTypePaymentIntentProcessing,
		stripe.EventTypePaymentIntentRequiresAction:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		if pi.ID == "" {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
		}
		return pi.ID, nil
	case stripe.EventTypeChargeRefunded:
		id := event.GetObjectValue("payment_intent")
		if id == "" {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "charge event missing payment intent")
		}
		return id, nil
	default:
		return "", nil
	}
}
