package cron

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/ridepay-backend/internal/reconcile"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

type fakeBatchRunner struct {
	summary     reconcile.Summary
	err         error
	batchSize   int
	maxAttempts int
}

func (f *fakeBatchRunner) RunCaptureBatch(ctx context.Context, batchSize, maxAttempts int) (reconcile.Summary, error) {
	f.batchSize = batchSize
	f.maxAttempts = maxAttempts
	return f.summary, f.err
}

func TestCaptureBatchJobPassesLimits(t *testing.T) {
	runner := &fakeBatchRunner{summary: reconcile.Summary{Dequeued: 3, Succeeded: 3}}
	job, err := NewCaptureBatchJob(CaptureBatchJobParams{
		Logger:      testLogger(),
		Worker:      runner,
		BatchSize:   10,
		MaxAttempts: 5,
		Budget:      2 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewCaptureBatchJob: %v", err)
	}
	if job.Name() != "capture-batch" {
		t.Fatalf("unexpected job name %q", job.Name())
	}
	if budgeted, ok := job.(Budgeted); !ok || budgeted.Budget() != 2*time.Minute {
		t.Fatal("expected capture job to expose its run budget")
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.batchSize != 10 || runner.maxAttempts != 5 {
		t.Fatalf("unexpected limits batch=%d attempts=%d", runner.batchSize, runner.maxAttempts)
	}
}

func TestCaptureBatchJobFailsWhenHalted(t *testing.T) {
	runner := &fakeBatchRunner{summary: reconcile.Summary{Halted: true, HaltReason: "invalid api key"}}
	job, err := NewCaptureBatchJob(CaptureBatchJobParams{Logger: testLogger(), Worker: runner, BatchSize: 10, MaxAttempts: 5})
	if err != nil {
		t.Fatalf("NewCaptureBatchJob: %v", err)
	}
	err = job.Run(context.Background())
	if !pkgerrors.IsCode(err, pkgerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCaptureBatchJobRejectsBadLimits(t *testing.T) {
	if _, err := NewCaptureBatchJob(CaptureBatchJobParams{Logger: testLogger(), Worker: &fakeBatchRunner{}}); err == nil {
		t.Fatal("expected zero batch size to fail")
	}
}

type fakeStaleQueue struct {
	cutoff      time.Time
	maxAttempts int
	reset       int64
	err         error
}

func (f *fakeStaleQueue) ResetStale(ctx context.Context, olderThan time.Time, maxAttempts int) (int64, error) {
	f.cutoff = olderThan
	f.maxAttempts = maxAttempts
	return f.reset, f.err
}

type fakeLifecycle struct {
	recovered   int
	recoverErr  error
	canceled    int
	cancelErr   error
	orphanTTL   time.Duration
	orphanLimit int
}

func (f *fakeLifecycle) RecoverStaleProcessing(ctx context.Context, limit int) (int, error) {
	return f.recovered, f.recoverErr
}

func (f *fakeLifecycle) CancelOrphans(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	f.orphanTTL = olderThan
	f.orphanLimit = limit
	return f.canceled, f.cancelErr
}

func TestStaleCaptureJobResetsQueueAndPayments(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	queue := &fakeStaleQueue{reset: 2}
	engine := &fakeLifecycle{recovered: 1}
	jobIface, err := NewStaleCaptureJob(StaleCaptureJobParams{
		Logger:      testLogger(),
		Queue:       queue,
		Engine:      engine,
		StaleAfter:  5 * time.Minute,
		MaxAttempts: 5,
	})
	if err != nil {
		t.Fatalf("NewStaleCaptureJob: %v", err)
	}
	job := jobIface.(*staleCaptureJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !queue.cutoff.Equal(now.Add(-5 * time.Minute)) {
		t.Fatalf("unexpected cutoff %s", queue.cutoff)
	}
	if queue.maxAttempts != 5 {
		t.Fatalf("expected max attempts 5, got %d", queue.maxAttempts)
	}
}

func TestStaleCaptureJobRunsBothStepsOnError(t *testing.T) {
	queue := &fakeStaleQueue{err: errors.New("db down")}
	engine := &fakeLifecycle{recoverErr: errors.New("processor down")}
	job, err := NewStaleCaptureJob(StaleCaptureJobParams{
		Logger:      testLogger(),
		Queue:       queue,
		Engine:      engine,
		StaleAfter:  time.Minute,
		MaxAttempts: 5,
	})
	if err != nil {
		t.Fatalf("NewStaleCaptureJob: %v", err)
	}
	err = job.Run(context.Background())
	if err == nil {
		t.Fatal("expected combined error")
	}
	if got := err.Error(); !containsAll(got, "db down", "processor down") {
		t.Fatalf("expected both failures reported, got %q", got)
	}
}

func TestOrphanAuthorizationJobUsesTTL(t *testing.T) {
	engine := &fakeLifecycle{canceled: 3}
	job, err := NewOrphanAuthorizationJob(OrphanAuthorizationJobParams{
		Logger: testLogger(),
		Engine: engine,
		TTL:    2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewOrphanAuthorizationJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if engine.orphanTTL != 2*time.Hour || engine.orphanLimit != defaultOrphanLimit {
		t.Fatalf("unexpected sweep args ttl=%s limit=%d", engine.orphanTTL, engine.orphanLimit)
	}
}

func TestOrphanAuthorizationJobRequiresTTL(t *testing.T) {
	if _, err := NewOrphanAuthorizationJob(OrphanAuthorizationJobParams{Logger: testLogger(), Engine: &fakeLifecycle{}}); err == nil {
		t.Fatal("expected missing ttl to fail")
	}
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
