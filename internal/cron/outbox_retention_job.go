package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

const defaultOutboxRetention = 30 * 24 * time.Hour

// OutboxRetentionJobParams configure the outbox cleanup.
type OutboxRetentionJobParams struct {
	Logger           *logger.Logger
	DB               txRunner
	Repository       outboxRetentionRepo
	Retention        time.Duration
	TerminalAttempts int
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, terminalAttempts int) (int64, error)
}

// NewOutboxRetentionJob prunes delivered payment events and DLQ'd rows.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if params.TerminalAttempts <= 0 {
		return nil, fmt.Errorf("terminal attempts must be positive")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	return &outboxRetentionJob{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		retention:        retention,
		terminalAttempts: params.TerminalAttempts,
		now:              time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg             *logger.Logger
	db               txRunner
	repo             outboxRetentionRepo
	retention        time.Duration
	terminalAttempts int
	now              func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.terminalAttempts)
		deleted = rows
		return err
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return nil
}
