package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	stripewebhook "github.com/angelmondragon/ridepay-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
	pkgstripe "github.com/angelmondragon/ridepay-backend/pkg/stripe"
)

const testSecret = "whsec_test"

func newGuard(t *testing.T) *stripewebhook.IdempotencyGuard {
	t.Helper()
	guard, err := stripewebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute, "stripe")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

func post(handler http.Handler, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhook_SuccessAndIdempotent(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &secretVerifier{secret: testSecret}, newGuard(t), nil)

	rec := post(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}

	rec = post(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t)
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &secretVerifier{secret: testSecret}, newGuard(t), nil)

	rec := post(handler, payload, "t=1,v1=invalid")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid signature, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t)
	handler := StripeWebhook(&fakeStripeWebhookService{}, &secretVerifier{secret: testSecret}, newGuard(t), nil)

	if rec := post(handler, payload, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without signature, got %d", rec.Code)
	}
}

func TestStripeWebhook_FailureAllowsRedelivery(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := &fakeStripeWebhookService{err: pkgerrors.New(pkgerrors.CodeProcessorUnavailable, "processor timeout")}
	handler := StripeWebhook(service, &secretVerifier{secret: testSecret}, newGuard(t), nil)

	if rec := post(handler, payload, header); rec.Code < 500 {
		t.Fatalf("expected 5xx so the processor retries, got %d", rec.Code)
	}
	service.err = nil
	if rec := post(handler, payload, header); rec.Code != http.StatusOK {
		t.Fatalf("expected redelivery processed, got %d", rec.Code)
	}
	if service.calls != 2 {
		t.Fatalf("expected two deliveries handled, got %d", service.calls)
	}
}

func buildSignedEvent(t *testing.T) ([]byte, string) {
	t.Helper()
	intent := &stripe.PaymentIntent{
		ID:     "pi_" + uuid.NewString(),
		Status: stripe.PaymentIntentStatusSucceeded,
		Amount: 1800,
	}
	rawIntent, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal payment intent: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypePaymentIntentSucceeded,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data: &stripe.EventData{
			Raw: rawIntent,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload, buildStripeSignatureHeader(payload, testSecret, time.Now().Unix())
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type fakeStripeWebhookService struct {
	calls int
	err   error
}

func (f *fakeStripeWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	f.calls++
	return f.err
}

type secretVerifier struct {
	secret string
}

func (v *secretVerifier) ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return pkgstripe.ConstructEvent(payload, sigHeader, v.secret)
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{
		data: make(map[string]string),
	}
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) WebhookEventKey(provider, eventID string) string {
	return fmt.Sprintf("rp:webhook:%s:%s", provider, eventID)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
