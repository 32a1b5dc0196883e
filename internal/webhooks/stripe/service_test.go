package stripewebhook

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

type stubSyncer struct {
	synced []string
	err    error
}

func (s *stubSyncer) SyncByProcessorID(ctx context.Context, processorIntentID string) (*models.PaymentIntent, error) {
	s.synced = append(s.synced, processorIntentID)
	if s.err != nil {
		return nil, s.err
	}
	return &models.PaymentIntent{ProcessorIntentID: processorIntentID, Status: enums.PaymentStatusSucceeded}, nil
}

func newTestService(t *testing.T, syncer *stubSyncer) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Engine: syncer,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return svc
}

func paymentIntentEvent(t *testing.T, eventType stripe.EventType, id string) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(&stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded})
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	return &stripe.Event{ID: "evt_1", Type: eventType, Data: &stripe.EventData{Raw: raw}}
}

func TestHandleEventSyncsPaymentIntentEvents(t *testing.T) {
	types := []stripe.EventType{
		stripe.EventTypePaymentIntentSucceeded,
		stripe.EventTypePaymentIntentCanceled,
		stripe.EventTypePaymentIntentAmountCapturableUpdated,
		stripe.EventTypePaymentIntentPaymentFailed,
	}
	for _, eventType := range types {
		syncer := &stubSyncer{}
		svc := newTestService(t, syncer)
		if err := svc.HandleEvent(context.Background(), paymentIntentEvent(t, eventType, "pi_123")); err != nil {
			t.Fatalf("%s: handle event: %v", eventType, err)
		}
		if len(syncer.synced) != 1 || syncer.synced[0] != "pi_123" {
			t.Fatalf("%s: expected pi_123 synced, got %v", eventType, syncer.synced)
		}
	}
}

func TestHandleEventSyncsRefundedCharge(t *testing.T) {
	syncer := &stubSyncer{}
	svc := newTestService(t, syncer)
	event := &stripe.Event{
		Type: stripe.EventTypeChargeRefunded,
		Data: &stripe.EventData{Object: map[string]interface{}{"payment_intent": "pi_refund"}},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(syncer.synced) != 1 || syncer.synced[0] != "pi_refund" {
		t.Fatalf("expected refunded intent synced, got %v", syncer.synced)
	}
}

func TestHandleEventIgnoresUnrelatedTypes(t *testing.T) {
	syncer := &stubSyncer{}
	svc := newTestService(t, syncer)
	event := &stripe.Event{Type: stripe.EventTypeCustomerCreated, Data: &stripe.EventData{}}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(syncer.synced) != 0 {
		t.Fatalf("expected no sync, got %v", syncer.synced)
	}
}

func TestHandleEventAcknowledgesUnknownIntent(t *testing.T) {
	syncer := &stubSyncer{err: pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")}
	svc := newTestService(t, syncer)
	if err := svc.HandleEvent(context.Background(), paymentIntentEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_other")); err != nil {
		t.Fatalf("expected unknown intent acknowledged, got %v", err)
	}
}

func TestHandleEventPropagatesSyncFailure(t *testing.T) {
	syncer := &stubSyncer{err: pkgerrors.New(pkgerrors.CodeProcessorUnavailable, "timeout")}
	svc := newTestService(t, syncer)
	err := svc.HandleEvent(context.Background(), paymentIntentEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_1"))
	if !pkgerrors.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestHandleEventRejectsMissingData(t *testing.T) {
	svc := newTestService(t, &stubSyncer{})
	if err := svc.HandleEvent(context.Background(), &stripe.Event{Type: stripe.EventTypePaymentIntentSucceeded}); err == nil {
		t.Fatal("expected validation error")
	}
}

type memoryStore struct {
	data map[string]string
}

func (m *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = "1"
	return true, nil
}

func (m *memoryStore) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryStore) WebhookEventKey(provider, eventID string) string {
	return "rp:webhook:" + provider + ":" + eventID
}

func TestIdempotencyGuard(t *testing.T) {
	store := &memoryStore{data: map[string]string{}}
	guard, err := NewIdempotencyGuard(store, 0, "stripe")
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	seen, err := guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil || seen {
		t.Fatalf("first delivery should be new, seen=%v err=%v", seen, err)
	}
	if seen, _ := guard.CheckAndMark(context.Background(), "evt_1"); !seen {
		t.Fatal("redelivery should be detected")
	}
	if err := guard.Delete(context.Background(), "evt_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if seen, _ := guard.CheckAndMark(context.Background(), "evt_1"); seen {
		t.Fatal("cleared event should be processed again")
	}
	if _, err := guard.CheckAndMark(context.Background(), ""); err == nil {
		t.Fatal("expected empty event id to fail")
	}
	if _, err := NewIdempotencyGuard(nil, 0, "stripe"); err == nil {
		t.Fatal("expected nil store to fail")
	}
}
