package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/ridepay-backend/internal/reconcile"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

type batchRunner interface {
	RunCaptureBatch(ctx context.Context, batchSize, maxAttempts int) (reconcile.Summary, error)
}

// CaptureBatchJobParams configure the scheduled capture run.
type CaptureBatchJobParams struct {
	Logger      *logger.Logger
	Worker      batchRunner
	BatchSize   int
	MaxAttempts int
	Budget      time.Duration
}

// NewCaptureBatchJob drains one batch of the capture queue per cycle.
func NewCaptureBatchJob(params CaptureBatchJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Worker == nil {
		return nil, fmt.Errorf("reconciliation worker required")
	}
	if params.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if params.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive")
	}
	return &captureBatchJob{
		logg:        params.Logger,
		worker:      params.Worker,
		batchSize:   params.BatchSize,
		maxAttempts: params.MaxAttempts,
		budget:      params.Budget,
	}, nil
}

type captureBatchJob struct {
	logg        *logger.Logger
	worker      batchRunner
	batchSize   int
	maxAttempts int
	budget      time.Duration
}

func (j *captureBatchJob) Name() string { return "capture-batch" }

func (j *captureBatchJob) Budget() time.Duration { return j.budget }

// Run reports a halted batch as a job failure so it surfaces in alerts.
func (j *captureBatchJob) Run(ctx context.Context) error {
	summary, err := j.worker.RunCaptureBatch(ctx, j.batchSize, j.maxAttempts)
	if err != nil {
		return err
	}
	if summary.Halted {
		return pkgerrors.New(pkgerrors.CodeConfiguration, "capture batch halted").
			WithDetails(map[string]any{"reason": summary.HaltReason})
	}
	if summary.Interrupted && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		j.logg.Warn(ctx, "capture batch ran out of budget; remaining entries wait for the next cycle")
	}
	return nil
}
