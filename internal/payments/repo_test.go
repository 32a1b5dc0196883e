package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ridepay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

func seedIntent(t *testing.T, repo Repository, status enums.PaymentStatus) *models.PaymentIntent {
	t.Helper()
	intent := &models.PaymentIntent{
		ID:                uuid.New(),
		ProcessorIntentID: "pi_" + uuid.NewString(),
		RiderID:           uuid.New(),
		DriverID:          uuid.New(),
		RideID:            uuid.New(),
		AmountSubtotal:    2000,
		AmountTotal:       2000,
		Currency:          "usd",
		Status:            status,
	}
	require.NoError(t, repo.CreateIntent(context.Background(), intent))
	return intent
}

func TestRepositoryFindIntentNotFound(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))

	_, err := repo.FindIntent(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = repo.FindIntentByProcessorID(context.Background(), "pi_missing")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRepositoryTransitionStatusCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	intent := seedIntent(t, repo, enums.PaymentStatusAuthorized)

	startedAt := time.Now().UTC()
	won, err := repo.TransitionStatus(ctx, intent.ID,
		[]enums.PaymentStatus{enums.PaymentStatusAuthorized},
		enums.PaymentStatusProcessing,
		map[string]any{"processing_started_at": startedAt},
	)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.TransitionStatus(ctx, intent.ID,
		[]enums.PaymentStatus{enums.PaymentStatusAuthorized},
		enums.PaymentStatusProcessing,
		nil,
	)
	require.NoError(t, err)
	assert.False(t, won, "second swap from a stale status must lose")

	got, err := repo.FindIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusProcessing, got.Status)
	require.NotNil(t, got.ProcessingStartedAt)

	_, err = repo.TransitionStatus(ctx, intent.ID, nil, enums.PaymentStatusFailed, nil)
	assert.Error(t, err)
}

func TestRepositoryLinkBookingIsSetOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	intent := seedIntent(t, repo, enums.PaymentStatusAuthorized)

	first := uuid.New()
	linked, err := repo.LinkBooking(ctx, intent.ID, first)
	require.NoError(t, err)
	assert.True(t, linked)

	linked, err = repo.LinkBooking(ctx, intent.ID, uuid.New())
	require.NoError(t, err)
	assert.False(t, linked)

	got, err := repo.FindIntent(ctx, intent.ID)
	require.NoError(t, err)
	require.NotNil(t, got.BookingID)
	assert.Equal(t, first, *got.BookingID)
}

func TestRepositoryListOrphanedAuthorizations(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	old := seedIntent(t, repo, enums.PaymentStatusAuthorized)
	booked := seedIntent(t, repo, enums.PaymentStatusAuthorized)
	fresh := seedIntent(t, repo, enums.PaymentStatusAuthorized)
	captured := seedIntent(t, repo, enums.PaymentStatusSucceeded)

	past := time.Now().UTC().Add(-3 * time.Hour)
	for _, id := range []uuid.UUID{old.ID, booked.ID, captured.ID} {
		require.NoError(t, conn.Model(&models.PaymentIntent{}).Where("id = ?", id).Update("created_at", past).Error)
	}
	_, err := repo.LinkBooking(ctx, booked.ID, uuid.New())
	require.NoError(t, err)

	orphans, err := repo.ListOrphanedAuthorizations(ctx, time.Now().UTC().Add(-2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, old.ID, orphans[0].ID)
	assert.NotEqual(t, fresh.ID, orphans[0].ID)
}

func TestRepositoryListStaleProcessing(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))

	stale := seedIntent(t, repo, enums.PaymentStatusAuthorized)
	active := seedIntent(t, repo, enums.PaymentStatusAuthorized)

	_, err := repo.TransitionStatus(ctx, stale.ID, []enums.PaymentStatus{enums.PaymentStatusAuthorized}, enums.PaymentStatusProcessing,
		map[string]any{"processing_started_at": time.Now().UTC().Add(-time.Hour)})
	require.NoError(t, err)
	_, err = repo.TransitionStatus(ctx, active.ID, []enums.PaymentStatus{enums.PaymentStatusAuthorized}, enums.PaymentStatusProcessing,
		map[string]any{"processing_started_at": time.Now().UTC()})
	require.NoError(t, err)

	rows, err := repo.ListStaleProcessing(ctx, time.Now().UTC().Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, stale.ID, rows[0].ID)
}

func TestRepositoryEarningsReversal(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	intent := seedIntent(t, repo, enums.PaymentStatusSucceeded)

	none, err := repo.FindEarnings(ctx, intent.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, repo.CreateEarnings(ctx, &models.DriverEarnings{
		PaymentIntentID: intent.ID,
		DriverID:        intent.DriverID,
		RideID:          intent.RideID,
		GrossAmount:     1800,
		PlatformFee:     270,
		NetAmount:       1530,
		FeePercent:      15,
		Status:          enums.EarningsStatusPending,
	}))

	payable, err := repo.ListPayableEarnings(ctx, intent.DriverID)
	require.NoError(t, err)
	assert.Len(t, payable, 1)

	reversed, err := repo.ReverseEarnings(ctx, intent.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, reversed)

	reversed, err = repo.ReverseEarnings(ctx, intent.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, reversed)

	got, err := repo.FindEarnings(ctx, intent.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, enums.EarningsStatusRefunded, got.Status)
	assert.NotNil(t, got.RefundedAt)

	payable, err = repo.ListPayableEarnings(ctx, intent.DriverID)
	require.NoError(t, err)
	assert.Empty(t, payable)
}

func TestRepositoryCaptureLogUniquePerIntent(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	intent := seedIntent(t, repo, enums.PaymentStatusSucceeded)

	entry := func() *models.CaptureLog {
		return &models.CaptureLog{
			PaymentIntentID:   intent.ID,
			ProcessorIntentID: intent.ProcessorIntentID,
			AmountCaptured:    intent.AmountTotal,
			Currency:          intent.Currency,
			CapturedAt:        time.Now().UTC(),
		}
	}
	require.NoError(t, repo.CreateCaptureLog(ctx, entry()))
	assert.Error(t, repo.CreateCaptureLog(ctx, entry()))

	got, err := repo.FindCaptureLog(ctx, intent.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2000), got.AmountCaptured)
}

func TestRepositoryHistoryStatusUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	intent := seedIntent(t, repo, enums.PaymentStatusAuthorized)

	require.NoError(t, repo.CreateHistory(ctx, &models.PaymentHistoryEntry{
		PaymentIntentID: intent.ID,
		RiderID:         intent.RiderID,
		RideID:          intent.RideID,
		EntryType:       enums.HistoryEntryTypeCharge,
		Amount:          intent.AmountTotal,
		Currency:        intent.Currency,
		Status:          enums.HistoryStatusAuthorized,
	}))
	require.NoError(t, repo.UpdateHistoryStatus(ctx, intent.ID, enums.HistoryEntryTypeCharge, enums.HistoryStatusSucceeded))

	rows, err := repo.ListHistoryByRider(ctx, intent.RiderID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.HistoryStatusSucceeded, rows[0].Status)
}
