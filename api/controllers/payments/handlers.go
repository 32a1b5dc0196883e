// Package payments exposes the ride payment lifecycle over HTTP.
package payments

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/ridepay-backend/api/middleware"
	"github.com/angelmondragon/ridepay-backend/api/responses"
	"github.com/angelmondragon/ridepay-backend/api/validators"
	"github.com/angelmondragon/ridepay-backend/internal/lifecycle"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

type authorizer interface {
	Authorize(ctx context.Context, input lifecycle.AuthorizeInput) (*lifecycle.AuthorizeResult, error)
}

type paymentReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
}

type bookingLinker interface {
	paymentReader
	LinkBooking(ctx context.Context, id, bookingID uuid.UUID) (*models.PaymentIntent, error)
}

type canceler interface {
	paymentReader
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.PaymentIntent, error)
}

type historyReader interface {
	History(ctx context.Context, riderID uuid.UUID, limit int) ([]models.PaymentHistoryEntry, error)
}

type earningsReader interface {
	PendingEarnings(ctx context.Context, driverID uuid.UUID) ([]models.DriverEarnings, error)
}

type rideCompleter interface {
	RequestCaptureForRide(ctx context.Context, rideID uuid.UUID) (*models.CaptureQueueEntry, error)
}

// Authorize places the hold for a ride booking on behalf of the calling rider.
func Authorize(svc authorizer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		riderID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload AuthorizeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Authorize(r.Context(), payload.toInput(riderID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, AuthorizeResponse{
			Payment:         newPaymentResponse(result.PaymentIntent),
			ClientSecret:    result.ClientSecret,
			DiscountApplied: result.DiscountApplied,
		})
	}
}

// Get returns a payment visible to the caller.
func Get(svc paymentReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		intent, err := loadOwned(r, svc, true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(intent))
	}
}

// LinkBooking attaches the booking created after a successful authorization.
func LinkBooking(svc bookingLinker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		intent, err := loadOwned(r, svc, false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload LinkBookingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.LinkBooking(r.Context(), intent.ID, payload.BookingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(updated))
	}
}

// Cancel releases the hold before capture.
func Cancel(svc canceler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		intent, err := loadOwned(r, svc, false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload ReasonRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.Cancel(r.Context(), intent.ID, payload.sanitized("canceled by rider"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(updated))
	}
}

// CompleteRide queues capture of the ride's authorized payment.
func CompleteRide(svc rideCompleter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		rideID, err := uuidParam(r, "rideId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entry, err := svc.RequestCaptureForRide(r.Context(), rideID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusAccepted
		if entry == nil {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, newRideCompletionResponse(entry))
	}
}

// History lists the calling rider's charges and refunds.
func History(svc historyReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		riderID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, maxHistoryLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.History(r.Context(), riderID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]HistoryEntryResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, newHistoryEntryResponse(row))
		}
		responses.WriteSuccess(w, out)
	}
}

// PendingEarnings lists the calling driver's earnings awaiting payout.
func PendingEarnings(svc earningsReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		driverID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.PendingEarnings(r.Context(), driverID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]DriverEarningsResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, newDriverEarningsResponse(row))
		}
		responses.WriteSuccess(w, out)
	}
}

// loadOwned fetches the payment in the path and enforces that riders only
// touch their own payments. Drivers may read their rides when allowDriver is set.
func loadOwned(r *http.Request, svc paymentReader, allowDriver bool) (*models.PaymentIntent, error) {
	paymentID, err := uuidParam(r, "paymentId")
	if err != nil {
		return nil, err
	}
	userID, err := callerID(r)
	if err != nil {
		return nil, err
	}
	intent, err := svc.Get(r.Context(), paymentID)
	if err != nil {
		return nil, err
	}

	switch enums.ActorRole(middleware.RoleFromContext(r.Context())) {
	case enums.ActorRoleAdmin:
		return intent, nil
	case enums.ActorRoleRider:
		if intent.RiderID == userID {
			return intent, nil
		}
	case enums.ActorRoleDriver:
		if allowDriver && intent.DriverID == userID {
			return intent, nil
		}
	}
	// Foreign payments are reported as missing so ids cannot be enumerated.
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
}

func callerID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).WithDetails(map[string]any{"field": name})
	}
	return id, nil
}
