package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ridepay-backend/internal/processor"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

func TestCaptureIsIdempotent(t *testing.T) {
	h := newHarness(t)
	intent := h.authorize(t, 1000, "")

	first, err := h.engine.Capture(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(150), first.Earnings.PlatformFee)
	assert.Equal(t, int64(850), first.Earnings.NetAmount)

	second, err := h.engine.Capture(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, int64(1000), second.CapturedAmount)
	require.NotNil(t, second.Earnings)
	assert.Equal(t, first.Earnings.ID, second.Earnings.ID)

	captures, charges, _, _ := h.proc.Counts()
	assert.Equal(t, 1, captures)
	assert.Equal(t, 1, charges)
	assert.Equal(t, int64(1), h.count(t, &models.DriverEarnings{}, ""))
}

func TestCaptureConcurrentCallersChargeOnce(t *testing.T) {
	h := newHarness(t)
	intent := h.authorize(t, 2500, "")

	const callers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		fresh      int
		replayed   int
		inProgress int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.engine.Capture(context.Background(), intent.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Replayed:
				replayed++
			case err == nil:
				fresh++
			case pkgerrors.IsCode(err, pkgerrors.CodeInProgress):
				inProgress++
			default:
				t.Errorf("unexpected capture error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assert.Equal(t, callers, fresh+replayed+inProgress)
	_, charges, _, _ := h.proc.Counts()
	assert.Equal(t, 1, charges)
	assert.Equal(t, int64(1), h.count(t, &models.DriverEarnings{}, "payment_intent_id = ?", intent.ID))
	assert.Equal(t, int64(1), h.count(t, &models.CaptureLog{}, "payment_intent_id = ?", intent.ID))
	assert.Equal(t, enums.PaymentStatusSucceeded, h.status(t, intent.ID))
}

func TestCaptureReconcilesRemoteCaptureWithoutCharging(t *testing.T) {
	h := newHarness(t)
	intent := h.authorize(t, 1200, "")
	h.proc.SetStatus(intent.ProcessorIntentID, processor.StatusSucceeded)

	res, err := h.engine.Capture(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), res.CapturedAmount)

	captures, _, _, _ := h.proc.Counts()
	assert.Zero(t, captures, "processor capture must not be called again")
	assert.Equal(t, enums.PaymentStatusSucceeded, h.status(t, intent.ID))
	assert.Equal(t, int64(1), h.count(t, &models.DriverEarnings{}, "payment_intent_id = ?", intent.ID))
}

func TestCaptureTransientFailureRevertsToAuthorized(t *testing.T) {
	h := newHarness(t)
	intent := h.authorize(t, 1000, "")
	h.proc.CaptureErr = pkgerrors.New(pkgerrors.CodeProcessorUnavailable, "processor timed out")

	_, err := h.engine.Capture(context.Background(), intent.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.Equal(t, enums.PaymentStatusAuthorized, h.status(t, intent.ID))
	assert.Zero(t, h.count(t, &models.DriverEarnings{}, ""))

	h.proc.CaptureErr = nil
	res, err := h.engine.Capture(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestCaptureDeclineMarksFailed(t *testing.T) {
	h := newHarness(t)
	intent := h.authorize(t, 1000, "")
	h.proc.CaptureErr = pkgerrors.New(pkgerrors.CodePaymentDeclined, "card declined")

	_, err := h.engine.Capture(context.Background(), intent.ID)
	require.Error(t, err)
	assert.False(t, pkgerrors.IsRetryable(err))
	assert.Equal(t, enums.PaymentStatusFailed, h.status(t, intent.ID))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentFailed))
}

func TestCaptureConfigurationErrorIsNotRetryable(t *testing.T) {
	h := newHarness(t)
	intent := h.authorize(t, 1000, "")
	h.proc.CaptureErr = pkgerrors.New(pkgerrors.CodeConfiguration, "invalid api key")

	_, err := h.engine.Capture(context.Background(), intent.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConfiguration))
	assert.Equal(t, enums.PaymentStatusAuthorized, h.status(t, intent.ID))
}

func TestCaptureRejectsCanceledPayment(t *testing.T) {
	h := newHarness(t)
	intent := h.authorize(t, 1000, "")
	_, err := h.engine.Cancel(context.Background(), intent.ID, "")
	require.NoError(t, err)

	_, err = h.engine.Capture(context.Background(), intent.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
	details, ok := pkgerrors.As(err).Details().(StateDetails)
	require.True(t, ok)
	assert.Equal(t, enums.PaymentStatusCanceled, details.StoredStatus)
	assert.Equal(t, processor.StatusCanceled, details.ProcessorStatus)
}

func TestCaptureConflictResyncsProcessorCancellation(t *testing.T) {
	h := newHarness(t)
	intent := h.authorize(t, 1000, "")
	h.proc.StatusBeforeCapture = processor.StatusCanceled

	_, err := h.engine.Capture(context.Background(), intent.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	assert.Equal(t, processor.StatusCanceled, h.proc.Status(intent.ProcessorIntentID))
	assert.Equal(t, enums.PaymentStatusCanceled, h.status(t, intent.ID))
	assert.Zero(t, h.count(t, &models.DriverEarnings{}, ""))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentCanceled))
}

func TestCaptureWithoutProcessorIntentRevertsToAuthorized(t *testing.T) {
	h := newHarness(t)
	intent := h.authorize(t, 1000, "")
	h.proc.EmptyCapture = true

	_, err := h.engine.Capture(context.Background(), intent.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, processor.ErrNilIntent)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeProcessorUnavailable))
	assert.Equal(t, enums.PaymentStatusAuthorized, h.status(t, intent.ID))
	assert.Zero(t, h.count(t, &models.DriverEarnings{}, ""))
}

func TestCaptureFreshProcessingIsInProgress(t *testing.T) {
	h := newHarness(t)
	intent := h.authorize(t, 1000, "")
	started := h.clock.Now()
	h.forceStatus(t, intent.ID, enums.PaymentStatusProcessing, &started)

	_, err := h.engine.Capture(context.Background(), intent.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInProgress), "got %v", err)
	captures, _, _, _ := h.proc.Counts()
	assert.Zero(t, captures)
	assert.Equal(t, enums.PaymentStatusProcessing, h.status(t, intent.ID))
}

func TestCaptureResetsStaleProcessing(t *testing.T) {
	h := newHarness(t)
	intent := h.authorize(t, 1000, "")
	started := h.clock.Now().Add(-10 * time.Minute)
	h.forceStatus(t, intent.ID, enums.PaymentStatusProcessing, &started)

	res, err := h.engine.Capture(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, enums.PaymentStatusSucceeded, h.status(t, intent.ID))
}

func TestRecoverStaleProcessing(t *testing.T) {
	h := newHarness(t)
	reset := h.authorize(t, 1000, "")
	remote := h.authorize(t, 1000, "")
	started := h.clock.Now().Add(-time.Hour)
	h.forceStatus(t, reset.ID, enums.PaymentStatusProcessing, &started)
	h.forceStatus(t, remote.ID, enums.PaymentStatusProcessing, &started)
	h.proc.SetStatus(remote.ProcessorIntentID, processor.StatusSucceeded)

	n, err := h.engine.RecoverStaleProcessing(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, enums.PaymentStatusAuthorized, h.status(t, reset.ID))
	assert.Equal(t, enums.PaymentStatusSucceeded, h.status(t, remote.ID))
	assert.Equal(t, int64(1), h.count(t, &models.DriverEarnings{}, "payment_intent_id = ?", remote.ID))
}
