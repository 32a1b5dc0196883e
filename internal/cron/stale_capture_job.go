package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

const defaultStaleLimit = 100

type staleQueueResetter interface {
	ResetStale(ctx context.Context, olderThan time.Time, maxAttempts int) (int64, error)
}

type staleProcessingRecoverer interface {
	RecoverStaleProcessing(ctx context.Context, limit int) (int, error)
}

// StaleCaptureJobParams configure the interrupted-capture sweep.
type StaleCaptureJobParams struct {
	Logger      *logger.Logger
	Queue       staleQueueResetter
	Engine      staleProcessingRecoverer
	StaleAfter  time.Duration
	MaxAttempts int
	Limit       int
}

// NewStaleCaptureJob returns queue entries and payments stuck in processing
// by a crashed run to a state the next batch can pick up.
func NewStaleCaptureJob(params StaleCaptureJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("capture queue required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("lifecycle engine required")
	}
	if params.StaleAfter <= 0 {
		return nil, fmt.Errorf("stale threshold must be positive")
	}
	if params.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultStaleLimit
	}
	return &staleCaptureJob{
		logg:        params.Logger,
		queue:       params.Queue,
		engine:      params.Engine,
		staleAfter:  params.StaleAfter,
		maxAttempts: params.MaxAttempts,
		limit:       limit,
		now:         time.Now,
	}, nil
}

type staleCaptureJob struct {
	logg        *logger.Logger
	queue       staleQueueResetter
	engine      staleProcessingRecoverer
	staleAfter  time.Duration
	maxAttempts int
	limit       int
	now         func() time.Time
}

func (j *staleCaptureJob) Name() string { return "stale-capture-reset" }

func (j *staleCaptureJob) Run(ctx context.Context) error {
	var errs error
	cutoff := j.now().UTC().Add(-j.staleAfter)

	reset, err := j.queue.ResetStale(ctx, cutoff, j.maxAttempts)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("reset stale queue entries: %w", err))
	}
	recovered, err := j.engine.RecoverStaleProcessing(ctx, j.limit)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("recover stale payments: %w", err))
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":             cutoff,
		"entries_reset":      reset,
		"payments_recovered": recovered,
	})
	if reset > 0 || recovered > 0 {
		j.logg.Warn(logCtx, "interrupted captures recovered")
	} else {
		j.logg.Info(logCtx, "no interrupted captures found")
	}
	return errs
}
