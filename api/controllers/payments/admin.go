package payments

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ridepay-backend/api/responses"
	"github.com/angelmondragon/ridepay-backend/api/validators"
	"github.com/angelmondragon/ridepay-backend/internal/lifecycle"
	"github.com/angelmondragon/ridepay-backend/internal/reconcile"
	"github.com/angelmondragon/ridepay-backend/internal/referrals"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

const maxAdminBatchSize = 100

type singleCapturer interface {
	CaptureOne(ctx context.Context, paymentID uuid.UUID) (*lifecycle.CaptureResult, error)
}

type batchRunner interface {
	RunCaptureBatch(ctx context.Context, batchSize, maxAttempts int) (reconcile.Summary, error)
}

type failedLister interface {
	FailedEntries(ctx context.Context, limit int) ([]models.CaptureQueueEntry, error)
}

type refunder interface {
	Refund(ctx context.Context, id uuid.UUID, reason string) (*lifecycle.RefundResult, error)
}

type syncer interface {
	Sync(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
}

type referralIssuer interface {
	Issue(ctx context.Context, input referrals.IssueInput) (*models.ReferralCode, error)
}

// BatchDefaults are the worker settings used when the caller omits them.
type BatchDefaults struct {
	BatchSize   int
	MaxAttempts int
}

// AdminCapture captures one payment immediately, outside the scheduled batch.
func AdminCapture(svc singleCapturer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "capture worker unavailable"))
			return
		}
		paymentID, err := uuidParam(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.CaptureOne(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCaptureResponse(result))
	}
}

// AdminRefund refunds the full captured amount.
func AdminRefund(svc refunder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		paymentID, err := uuidParam(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload ReasonRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Refund(r.Context(), paymentID, payload.sanitized("requested_by_customer"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, RefundResponse{
			Payment:  newPaymentResponse(result.PaymentIntent),
			RefundID: result.RefundID,
			Amount:   result.Amount,
		})
	}
}

// AdminSync pulls the processor's view of one payment into the ledger.
func AdminSync(svc syncer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		paymentID, err := uuidParam(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		intent, err := svc.Sync(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(intent))
	}
}

// AdminRunCaptureBatch runs one capture batch synchronously and returns its summary.
func AdminRunCaptureBatch(svc batchRunner, defaults BatchDefaults, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "capture worker unavailable"))
			return
		}
		batchSize, err := validators.ParseQueryInt(r, "batch_size", defaults.BatchSize, 1, maxAdminBatchSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		maxAttempts, err := validators.ParseQueryInt(r, "max_attempts", defaults.MaxAttempts, 1, 20)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := svc.RunCaptureBatch(r.Context(), batchSize, maxAttempts)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if summary.Halted {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeConfiguration, "capture batch halted").WithDetails(summary))
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// AdminListFailedCaptures lists capture entries the worker gave up on.
func AdminListFailedCaptures(svc failedLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "capture worker unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, maxAdminBatchSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.FailedEntries(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]CaptureEntryResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, newCaptureEntryResponse(row))
		}
		responses.WriteSuccess(w, out)
	}
}

// AdminIssueReferral creates a referral code.
func AdminIssueReferral(svc referralIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "referral service unavailable"))
			return
		}
		var payload IssueReferralRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		code, err := svc.Issue(r.Context(), referrals.IssueInput{
			Code:            payload.Code,
			OwnerUserID:     payload.OwnerUserID,
			DiscountPercent: payload.DiscountPercent,
			ExpiresAt:       time.Now().UTC().Add(time.Duration(payload.ExpiresInHours) * time.Hour),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newReferralCodeResponse(code))
	}
}
