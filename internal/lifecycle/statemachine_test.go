package lifecycle

import (
	"testing"

	"github.com/angelmondragon/ridepay-backend/internal/processor"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to enums.PaymentStatus }{
		{enums.PaymentStatusRequiresPaymentMethod, enums.PaymentStatusAuthorized},
		{enums.PaymentStatusAuthorized, enums.PaymentStatusProcessing},
		{enums.PaymentStatusAuthorized, enums.PaymentStatusCanceled},
		{enums.PaymentStatusProcessing, enums.PaymentStatusSucceeded},
		{enums.PaymentStatusProcessing, enums.PaymentStatusAuthorized},
		{enums.PaymentStatusSucceeded, enums.PaymentStatusRefunded},
		{enums.PaymentStatusProcessing, enums.PaymentStatusFailed},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to enums.PaymentStatus }{
		{enums.PaymentStatusAuthorized, enums.PaymentStatusSucceeded},
		{enums.PaymentStatusSucceeded, enums.PaymentStatusCanceled},
		{enums.PaymentStatusCanceled, enums.PaymentStatusAuthorized},
		{enums.PaymentStatusRefunded, enums.PaymentStatusSucceeded},
		{enums.PaymentStatusCanceled, enums.PaymentStatusFailed},
		{enums.PaymentStatusFailed, enums.PaymentStatusAuthorized},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestCanReconcileExtendsTransitions(t *testing.T) {
	if !CanReconcile(enums.PaymentStatusAuthorized, enums.PaymentStatusSucceeded) {
		t.Fatal("expected remote capture to be reconcilable")
	}
	if !CanReconcile(enums.PaymentStatusRequiresPaymentMethod, enums.PaymentStatusCanceled) {
		t.Fatal("expected remote cancel of unconfirmed intent to be reconcilable")
	}
	if CanReconcile(enums.PaymentStatusCanceled, enums.PaymentStatusSucceeded) {
		t.Fatal("canceled payments never reconcile to succeeded")
	}
}

func TestValidateTransitionReturnsStateConflict(t *testing.T) {
	err := ValidateTransition(enums.PaymentStatusCanceled, enums.PaymentStatusProcessing)
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	details, ok := pkgerrors.As(err).Details().(StateDetails)
	if !ok || details.StoredStatus != enums.PaymentStatusCanceled {
		t.Fatalf("expected stored status in details, got %#v", pkgerrors.As(err).Details())
	}
	if pkgerrors.IsRetryable(err) {
		t.Fatal("state conflicts are not retryable")
	}
}

func TestMapProcessorStatus(t *testing.T) {
	cases := []struct {
		intent processor.Intent
		want   enums.PaymentStatus
	}{
		{processor.Intent{Status: processor.StatusRequiresCapture}, enums.PaymentStatusAuthorized},
		{processor.Intent{Status: processor.StatusRequiresPaymentMethod}, enums.PaymentStatusRequiresPaymentMethod},
		{processor.Intent{Status: processor.StatusRequiresConfirmation}, enums.PaymentStatusRequiresPaymentMethod},
		{processor.Intent{Status: processor.StatusRequiresAction}, enums.PaymentStatusRequiresPaymentMethod},
		{processor.Intent{Status: processor.StatusProcessing}, enums.PaymentStatusProcessing},
		{processor.Intent{Status: processor.StatusSucceeded}, enums.PaymentStatusSucceeded},
		{processor.Intent{Status: processor.StatusSucceeded, FullyRefunded: true}, enums.PaymentStatusRefunded},
		{processor.Intent{Status: processor.StatusCanceled}, enums.PaymentStatusCanceled},
		{processor.Intent{Status: "unknown"}, ""},
	}
	for _, tc := range cases {
		intent := tc.intent
		if got := MapProcessorStatus(&intent); got != tc.want {
			t.Fatalf("MapProcessorStatus(%s, refunded=%v) = %q, want %q", intent.Status, intent.FullyRefunded, got, tc.want)
		}
	}
	if got := MapProcessorStatus(nil); got != "" {
		t.Fatalf("expected empty status for nil intent, got %q", got)
	}
}

func TestSplitEarnings(t *testing.T) {
	cases := []struct {
		gross, pct, fee, net int64
	}{
		{1000, 15, 150, 850},
		{1800, 15, 270, 1530},
		{999, 15, 149, 850},
		{1, 15, 0, 1},
		{1000, 0, 0, 1000},
		{1000, 100, 1000, 0},
	}
	for _, tc := range cases {
		fee, net := SplitEarnings(tc.gross, tc.pct)
		if fee != tc.fee || net != tc.net {
			t.Fatalf("SplitEarnings(%d, %d) = (%d, %d), want (%d, %d)", tc.gross, tc.pct, fee, net, tc.fee, tc.net)
		}
		if fee+net != tc.gross {
			t.Fatalf("split does not sum to gross for %d", tc.gross)
		}
	}
}
