// Package reconcile drains the capture queue. Each run walks a bounded batch of
// pending entries in order, paces processor calls, and records one attempt per
// entry it actually tried.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/angelmondragon/ridepay-backend/internal/capturequeue"
	"github.com/angelmondragon/ridepay-backend/internal/lifecycle"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
	"github.com/angelmondragon/ridepay-backend/pkg/metrics"
)

const (
	defaultPerEntryDelay = 500 * time.Millisecond
	defaultBatchSize     = 10
	defaultMaxAttempts   = 5
)

type captureEngine interface {
	Capture(ctx context.Context, id uuid.UUID) (*lifecycle.CaptureResult, error)
}

type queueStore interface {
	DequeueBatch(ctx context.Context, limit, maxAttempts int) ([]models.CaptureQueueEntry, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, outcome capturequeue.Outcome, errMsg string, maxAttempts int) (*models.CaptureQueueEntry, error)
	ReleaseProcessing(ctx context.Context, id uuid.UUID) error
	CompleteForPayment(ctx context.Context, paymentIntentID uuid.UUID) (int64, error)
	ListFailed(ctx context.Context, limit int) ([]models.CaptureQueueEntry, error)
}

// Summary reports what one batch run did.
type Summary struct {
	Dequeued    int    `json:"dequeued"`
	Processed   int    `json:"processed"`
	Succeeded   int    `json:"succeeded"`
	Retried     int    `json:"retried"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	Errors      int    `json:"errors"`
	Halted      bool   `json:"halted"`
	HaltReason  string `json:"halt_reason,omitempty"`
	Interrupted bool   `json:"interrupted"`
}

// WorkerParams wires the reconciliation worker.
type WorkerParams struct {
	Engine        captureEngine
	Queue         queueStore
	Logger        *logger.Logger
	Metrics       *metrics.PaymentMetrics
	PerEntryDelay time.Duration
	Now           func() time.Time
}

// Worker runs capture batches and single admin-triggered captures.
type Worker struct {
	engine  captureEngine
	queue   queueStore
	logg    *logger.Logger
	metrics *metrics.PaymentMetrics
	delay   time.Duration
	now     func() time.Time
}

func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Engine == nil {
		return nil, fmt.Errorf("lifecycle engine required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("capture queue required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	delay := params.PerEntryDelay
	if delay < 0 {
		delay = defaultPerEntryDelay
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Worker{
		engine:  params.Engine,
		queue:   params.Queue,
		logg:    params.Logger,
		metrics: params.Metrics,
		delay:   delay,
		now:     now,
	}, nil
}

type entryResult int

const (
	resultSucceeded entryResult = iota
	resultRetried
	resultFailed
	resultSkipped
	resultError
	resultHalt
)

// RunCaptureBatch captures up to batchSize pending entries, oldest first.
// Entries are handled one at a time; a configuration error stops the run and
// hands the entry back without spending an attempt. Cancellation of ctx stops
// the run between entries.
func (w *Worker) RunCaptureBatch(ctx context.Context, batchSize, maxAttempts int) (Summary, error) {
	var summary Summary
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	start := w.now()
	runCtx := w.logg.WithFields(ctx, map[string]any{
		"event":        "capture.batch",
		"batch_size":   batchSize,
		"max_attempts": maxAttempts,
	})

	entries, err := w.queue.DequeueBatch(ctx, batchSize, maxAttempts)
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dequeue capture batch")
	}
	summary.Dequeued = len(entries)

	limit := rate.Inf
	if w.delay > 0 {
		limit = rate.Every(w.delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	for _, entry := range entries {
		if err := limiter.Wait(ctx); err != nil {
			summary.Interrupted = true
			break
		}
		result, haltReason := w.processEntry(runCtx, entry, maxAttempts)
		switch result {
		case resultSucceeded:
			summary.Processed++
			summary.Succeeded++
		case resultRetried:
			summary.Processed++
			summary.Retried++
		case resultFailed:
			summary.Processed++
			summary.Failed++
		case resultSkipped:
			summary.Skipped++
		case resultError:
			summary.Errors++
		case resultHalt:
			summary.Processed++
			summary.Halted = true
			summary.HaltReason = haltReason
		}
		if summary.Halted {
			break
		}
	}

	w.metrics.ObserveBatch(w.now().Sub(start), summary.Dequeued)
	doneCtx := w.logg.WithFields(runCtx, map[string]any{
		"dequeued":    summary.Dequeued,
		"processed":   summary.Processed,
		"succeeded":   summary.Succeeded,
		"retried":     summary.Retried,
		"failed":      summary.Failed,
		"skipped":     summary.Skipped,
		"errors":      summary.Errors,
		"interrupted": summary.Interrupted,
		"duration_ms": w.now().Sub(start).Milliseconds(),
	})
	if summary.Halted {
		w.logg.Error(w.logg.WithField(doneCtx, "halt_reason", summary.HaltReason), "capture batch halted", errors.New(summary.HaltReason))
		return summary, nil
	}
	w.logg.Info(doneCtx, "capture batch complete")
	return summary, nil
}

func (w *Worker) processEntry(ctx context.Context, entry models.CaptureQueueEntry, maxAttempts int) (entryResult, string) {
	// Bookkeeping must land even when the run is canceled mid-capture.
	bookCtx := context.WithoutCancel(ctx)
	ctx = w.logg.WithQueueEntryID(ctx, entry.ID.String())
	ctx = w.logg.WithPaymentIntentID(ctx, entry.PaymentIntentID.String())
	bookCtx = w.logg.WithQueueEntryID(bookCtx, entry.ID.String())

	claimed, err := w.queue.MarkProcessing(bookCtx, entry.ID)
	if err != nil {
		w.logg.Error(ctx, "claim capture entry failed", err)
		w.metrics.IncCaptureEntry("error")
		return resultError, ""
	}
	if !claimed {
		w.logg.Info(ctx, "capture entry claimed elsewhere; skipping")
		w.metrics.IncCaptureEntry("skipped")
		return resultSkipped, ""
	}

	result, err := w.engine.Capture(ctx, entry.PaymentIntentID)
	switch {
	case err == nil:
		if _, recErr := w.queue.RecordAttempt(bookCtx, entry.ID, capturequeue.OutcomeSucceeded, "", maxAttempts); recErr != nil {
			w.logg.Error(ctx, "record capture success failed", recErr)
			w.metrics.IncCaptureEntry("error")
			return resultError, ""
		}
		logCtx := w.logg.WithFields(ctx, map[string]any{
			"captured_amount": result.CapturedAmount,
			"replayed":        result.Replayed,
		})
		w.logg.Info(logCtx, "capture entry completed")
		w.metrics.IncCaptureEntry("succeeded")
		return resultSucceeded, ""

	case pkgerrors.IsCode(err, pkgerrors.CodeConfiguration):
		if relErr := w.queue.ReleaseProcessing(bookCtx, entry.ID); relErr != nil {
			w.logg.Error(ctx, "release capture entry failed", relErr)
		}
		w.metrics.IncCaptureEntry("halted")
		return resultHalt, err.Error()

	case pkgerrors.IsCode(err, pkgerrors.CodeInProgress):
		if relErr := w.queue.ReleaseProcessing(bookCtx, entry.ID); relErr != nil {
			w.logg.Error(ctx, "release capture entry failed", relErr)
		}
		w.logg.Info(ctx, "capture already in flight; entry left pending")
		w.metrics.IncCaptureEntry("skipped")
		return resultSkipped, ""
	}

	outcome := capturequeue.OutcomeFatal
	if pkgerrors.IsRetryable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		outcome = capturequeue.OutcomeRetryable
	}
	updated, recErr := w.queue.RecordAttempt(bookCtx, entry.ID, outcome, err.Error(), maxAttempts)
	if recErr != nil {
		w.logg.Error(ctx, "record capture attempt failed", recErr)
		w.metrics.IncCaptureEntry("error")
		return resultError, ""
	}

	logCtx := w.logg.WithFields(ctx, map[string]any{
		"attempts": updated.Attempts,
		"outcome":  outcome,
	})
	if updated.Status == enums.CaptureQueueStatusFailed {
		w.logg.Error(logCtx, "capture entry failed permanently", err)
		w.metrics.IncCaptureEntry("failed")
		return resultFailed, ""
	}
	w.logg.Warn(logCtx, "capture attempt failed; entry will be retried")
	w.metrics.IncCaptureEntry("retried")
	return resultRetried, ""
}

// CaptureOne captures a single payment outside the batch, e.g. from the admin
// API, and closes any queue entry still waiting for it.
func (w *Worker) CaptureOne(ctx context.Context, paymentID uuid.UUID) (*lifecycle.CaptureResult, error) {
	result, err := w.engine.Capture(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	bookCtx := w.logg.WithPaymentIntentID(context.WithoutCancel(ctx), paymentID.String())
	if _, err := w.queue.CompleteForPayment(bookCtx, paymentID); err != nil {
		w.logg.Error(bookCtx, "complete capture queue entry failed", err)
	}
	return result, nil
}

// FailedEntries lists entries that exhausted their attempts or hit a fatal
// error, most recent first. They need an operator.
func (w *Worker) FailedEntries(ctx context.Context, limit int) ([]models.CaptureQueueEntry, error) {
	rows, err := w.queue.ListFailed(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list failed capture entries")
	}
	return rows, nil
}
