package cron

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeLock struct {
	acquired bool
	held     bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name     string
	err      error
	runs     int
	budget   time.Duration
	deadline bool
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Budget() time.Duration { return t.budget }

func (t *testJob) Run(ctx context.Context) error {
	t.runs++
	_, t.deadline = ctx.Deadline()
	return t.err
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: registry,
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "capture-batch"}
	failure := &testJob{name: "stale-capture-reset", err: errors.New("boom")}
	lock := &fakeLock{}
	service := newTestService(t, lock, failure, success)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected each job to run once, got success=%d failure=%d", success.runs, failure.runs)
	}
	if lock.releases != 1 || lock.held {
		t.Fatalf("expected lock released after cycle")
	}
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	job := &testJob{name: "capture-batch"}
	lock := &fakeLock{held: true}
	service := newTestService(t, lock, job)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job skipped while another instance holds the lock")
	}
	if lock.releases != 0 {
		t.Fatalf("lock must not be released by a non-owner")
	}
}

func TestServiceAppliesJobBudget(t *testing.T) {
	budgeted := &testJob{name: "capture-batch", budget: time.Minute}
	unbounded := &testJob{name: "orphan-authorizations"}
	service := newTestService(t, &fakeLock{}, budgeted, unbounded)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if !budgeted.deadline {
		t.Fatal("expected budgeted job to run with a deadline")
	}
	if unbounded.deadline {
		t.Fatal("expected zero budget to leave the context unbounded")
	}
}

func TestServiceStopsBetweenJobsWhenCanceled(t *testing.T) {
	job := &testJob{name: "capture-batch"}
	service := newTestService(t, &fakeLock{}, job)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := service.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if job.runs != 0 {
		t.Fatal("expected no job to start after cancellation")
	}
}
