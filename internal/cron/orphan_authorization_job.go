package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

const defaultOrphanLimit = 50

type orphanCanceler interface {
	CancelOrphans(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// OrphanAuthorizationJobParams configure the abandoned-hold sweep.
type OrphanAuthorizationJobParams struct {
	Logger *logger.Logger
	Engine orphanCanceler
	TTL    time.Duration
	Limit  int
}

// NewOrphanAuthorizationJob releases card holds whose booking was never created.
func NewOrphanAuthorizationJob(params OrphanAuthorizationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("lifecycle engine required")
	}
	if params.TTL <= 0 {
		return nil, fmt.Errorf("orphan ttl must be positive")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultOrphanLimit
	}
	return &orphanAuthorizationJob{
		logg:   params.Logger,
		engine: params.Engine,
		ttl:    params.TTL,
		limit:  limit,
	}, nil
}

type orphanAuthorizationJob struct {
	logg   *logger.Logger
	engine orphanCanceler
	ttl    time.Duration
	limit  int
}

func (j *orphanAuthorizationJob) Name() string { return "orphan-authorizations" }

func (j *orphanAuthorizationJob) Run(ctx context.Context) error {
	canceled, err := j.engine.CancelOrphans(ctx, j.ttl, j.limit)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"ttl":      j.ttl.String(),
		"canceled": canceled,
	})
	if err != nil {
		return fmt.Errorf("cancel orphaned authorizations: %w", err)
	}
	j.logg.Info(logCtx, "orphaned authorizations swept")
	return nil
}
