package capturequeue

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ridepay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
)

func TestNextStatus(t *testing.T) {
	cases := []struct {
		outcome  Outcome
		attempts int
		want     enums.CaptureQueueStatus
	}{
		{OutcomeSucceeded, 1, enums.CaptureQueueStatusCompleted},
		{OutcomeSucceeded, 5, enums.CaptureQueueStatusCompleted},
		{OutcomeRetryable, 1, enums.CaptureQueueStatusPending},
		{OutcomeRetryable, 4, enums.CaptureQueueStatusPending},
		{OutcomeRetryable, 5, enums.CaptureQueueStatusFailed},
		{OutcomeFatal, 1, enums.CaptureQueueStatusFailed},
	}
	for _, tc := range cases {
		if got := NextStatus(tc.outcome, tc.attempts, 5); got != tc.want {
			t.Fatalf("NextStatus(%s, %d) = %s, want %s", tc.outcome, tc.attempts, got, tc.want)
		}
	}
}

func TestEnqueueIsIdempotentWhileActive(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	paymentID := uuid.New()

	first, created, err := repo.Enqueue(ctx, paymentID)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.Enqueue(ctx, paymentID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, err = repo.RecordAttempt(ctx, first.ID, OutcomeSucceeded, "", 5)
	require.NoError(t, err)

	third, created, err := repo.Enqueue(ctx, paymentID)
	require.NoError(t, err)
	assert.True(t, created, "a completed entry does not block a new one")
	assert.NotEqual(t, first.ID, third.ID)
}

func TestDequeueBatchOrdersOldestFirstAndSkipsExhausted(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	base := time.Now().UTC().Add(-time.Hour)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		entry, _, err := repo.Enqueue(ctx, uuid.New())
		require.NoError(t, err)
		require.NoError(t, conn.Model(&models.CaptureQueueEntry{}).Where("id = ?", entry.ID).
			Update("created_at", base.Add(time.Duration(3-i)*time.Minute)).Error)
		ids = append(ids, entry.ID)
	}
	require.NoError(t, conn.Model(&models.CaptureQueueEntry{}).Where("id = ?", ids[1]).Update("attempts", 5).Error)

	rows, err := repo.DequeueBatch(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ids[2], rows[0].ID)
	assert.Equal(t, ids[0], rows[1].ID)
	for _, row := range rows {
		assert.Equal(t, enums.CaptureQueueStatusPending, row.Status, "dequeue must not claim entries")
	}

	limited, err := repo.DequeueBatch(ctx, 1, 5)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMarkProcessingSingleClaim(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	entry, _, err := repo.Enqueue(ctx, uuid.New())
	require.NoError(t, err)

	won, err := repo.MarkProcessing(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkProcessing(ctx, entry.ID)
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, repo.ReleaseProcessing(ctx, entry.ID))
	got, err := repo.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CaptureQueueStatusPending, got.Status)
	assert.Zero(t, got.Attempts)
}

func TestRecordAttemptTerminatesAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	entry, _, err := repo.Enqueue(ctx, uuid.New())
	require.NoError(t, err)

	const maxAttempts = 5
	runs := 0
	for {
		batch, err := repo.DequeueBatch(ctx, 10, maxAttempts)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		runs++
		require.LessOrEqual(t, runs, maxAttempts)
		won, err := repo.MarkProcessing(ctx, batch[0].ID)
		require.NoError(t, err)
		require.True(t, won)
		_, err = repo.RecordAttempt(ctx, batch[0].ID, OutcomeRetryable, "processor unavailable", maxAttempts)
		require.NoError(t, err)
	}

	got, err := repo.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, maxAttempts, runs)
	assert.Equal(t, maxAttempts, got.Attempts)
	assert.Equal(t, enums.CaptureQueueStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "processor unavailable", *got.ErrorMessage)
	assert.NotNil(t, got.LastAttemptAt)

	again, err := repo.RecordAttempt(ctx, entry.ID, OutcomeRetryable, "late", maxAttempts)
	require.NoError(t, err)
	assert.Equal(t, maxAttempts, again.Attempts, "terminal entries are not touched")

	failed, err := repo.ListFailed(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestRecordAttemptFatalFailsImmediately(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	entry, _, err := repo.Enqueue(ctx, uuid.New())
	require.NoError(t, err)

	got, err := repo.RecordAttempt(ctx, entry.ID, OutcomeFatal, "state conflict", 5)
	require.NoError(t, err)
	assert.Equal(t, enums.CaptureQueueStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestResetStaleRecoversInterruptedEntries(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	stuck, _, err := repo.Enqueue(ctx, uuid.New())
	require.NoError(t, err)
	exhausted, _, err := repo.Enqueue(ctx, uuid.New())
	require.NoError(t, err)
	for _, id := range []uuid.UUID{stuck.ID, exhausted.ID} {
		won, err := repo.MarkProcessing(ctx, id)
		require.NoError(t, err)
		require.True(t, won)
	}
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, conn.Model(&models.CaptureQueueEntry{}).Where("id IN ?", []uuid.UUID{stuck.ID, exhausted.ID}).
		UpdateColumn("updated_at", past).Error)
	require.NoError(t, conn.Model(&models.CaptureQueueEntry{}).Where("id = ?", exhausted.ID).
		UpdateColumn("attempts", 4).Error)

	n, err := repo.ResetStale(ctx, time.Now().UTC().Add(-10*time.Minute), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := repo.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CaptureQueueStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	got, err = repo.Get(ctx, exhausted.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CaptureQueueStatusFailed, got.Status)
	assert.Equal(t, 5, got.Attempts)
}

func TestCompleteForPayment(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	paymentID := uuid.New()
	entry, _, err := repo.Enqueue(ctx, paymentID)
	require.NoError(t, err)

	n, err := repo.CompleteForPayment(ctx, paymentID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CaptureQueueStatusCompleted, got.Status)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// "é" is two bytes, so the cap lands inside the last rune.
	msg := strings.Repeat("a", maxErrorLength-1) + "é" + "tail"
	got := truncate(msg)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxErrorLength-1, len(got))

	short := "carte refusée"
	assert.Equal(t, short, truncate(short))
}

func TestRecordAttemptStoresValidUTF8(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	entry, _, err := repo.Enqueue(ctx, uuid.New())
	require.NoError(t, err)
	claimed, err := repo.MarkProcessing(ctx, entry.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	msg := strings.Repeat("€", maxErrorLength)
	got, err := repo.RecordAttempt(ctx, entry.ID, OutcomeRetryable, msg, 5)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	assert.True(t, utf8.ValidString(*got.ErrorMessage))
	assert.LessOrEqual(t, len(*got.ErrorMessage), maxErrorLength)
}
