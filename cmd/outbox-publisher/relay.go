package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ridepay-backend/pkg/config"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
	"github.com/angelmondragon/ridepay-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type txRunner interface {
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// topicPublisher sends one message and waits for the broker's ack.
type topicPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) (string, error)
}

type RelayParams struct {
	Outbox      config.OutboxConfig
	Logger      *logger.Logger
	DB          txRunner
	Store       outboxStore
	DeadLetters deadLetterStore
	Events      eventResolver
	Topic       topicPublisher
}

// Relay moves payment lifecycle events from the outbox table onto the
// payment events topic. Each payment is its own ordering key, so consumers
// never see a capture before the authorization it settles.
type Relay struct {
	logg         *logger.Logger
	db           txRunner
	store        outboxStore
	deadLetters  deadLetterStore
	events       eventResolver
	topic        topicPublisher
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

type relayOutcome int

const (
	outcomePublished relayOutcome = iota
	outcomeRetry
	outcomeDeadLettered
)

type batchSummary struct {
	published    int
	retried      int
	deadLettered int
}

func (b batchSummary) empty() bool {
	return b.published+b.retried+b.deadLettered == 0
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Store == nil:
		return nil, errors.New("outbox store is required")
	case params.DeadLetters == nil:
		return nil, errors.New("dead letter store is required")
	case params.Events == nil:
		return nil, errors.New("event registry is required")
	case params.Topic == nil:
		return nil, errors.New("payment events publisher is required")
	}

	r := &Relay{
		logg:         params.Logger,
		db:           params.DB,
		store:        params.Store,
		deadLetters:  params.DeadLetters,
		events:       params.Events,
		topic:        params.Topic,
		batchSize:    params.Outbox.BatchSize,
		maxAttempts:  params.Outbox.MaxAttempts,
		pollInterval: time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	return r, nil
}

// Run drains the outbox until ctx is canceled. A full batch is followed
// immediately by the next one; an idle or failed poll waits with jitter.
func (r *Relay) Run(ctx context.Context) error {
	backoff := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay stopping")
			return err
		}

		summary, err := r.relayBatch(ctx)
		wait := r.pollInterval
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			backoff = nextBackoff(backoff, r.pollInterval, maxBackoff)
			wait = backoff
		case !summary.empty():
			backoff = r.pollInterval
			continue
		default:
			backoff = r.pollInterval
		}

		if err := sleep(ctx, withJitter(wait)); err != nil {
			return err
		}
	}
}

// relayBatch claims one batch inside a transaction. Publish failures are
// recorded per row; only bookkeeping failures abort the batch.
func (r *Relay) relayBatch(ctx context.Context) (batchSummary, error) {
	var summary batchSummary
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		summary = batchSummary{}
		events, err := r.store.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox batch: %w", err)
		}
		for _, event := range events {
			outcome, err := r.relayEvent(ctx, tx, event)
			if err != nil {
				return err
			}
			switch outcome {
			case outcomePublished:
				summary.published++
			case outcomeRetry:
				summary.retried++
			case outcomeDeadLettered:
				summary.deadLettered++
			}
		}
		return nil
	})
	if err == nil && !summary.empty() {
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"published":     summary.published,
			"retried":       summary.retried,
			"dead_lettered": summary.deadLettered,
		}), "outbox batch relayed")
	}
	return summary, err
}

func (r *Relay) relayEvent(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (relayOutcome, error) {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"outbox_id":         event.ID.String(),
		"event_type":        event.EventType,
		"payment_intent_id": event.AggregateID.String(),
		"attempt_count":     event.AttemptCount,
	})

	resolved, err := r.events.Resolve(event)
	if err != nil {
		return outcomeDeadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	}

	pubErr := r.publish(ctx, event, resolved)
	if pubErr == nil {
		if err := r.store.MarkPublishedTx(tx, event.ID); err != nil {
			return outcomePublished, fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		return outcomePublished, nil
	}

	var permanent registry.NonRetryableError
	if errors.As(pubErr, &permanent) {
		return outcomeDeadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, pubErr)
	}
	if event.AttemptCount+1 >= r.maxAttempts {
		return outcomeDeadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", pubErr))
	}

	r.logg.Warn(r.logg.WithField(ctx, "error", pubErr.Error()), "payment event publish failed; will retry")
	if err := r.store.MarkFailedTx(tx, event.ID, pubErr); err != nil {
		return outcomeRetry, fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return outcomeRetry, nil
}

func (r *Relay) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	msg := &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: event.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":          resolved.Envelope.EventID,
			"event_type":        string(event.EventType),
			"aggregate_type":    string(event.AggregateType),
			"payment_intent_id": event.AggregateID.String(),
			"occurred_at":       resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	_, err := r.topic.Publish(publishCtx, msg)
	return err
}

// deadLetter parks the row and stops further attempts on it.
func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	})
	r.logg.Warn(ctx, "payment event dead-lettered")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := r.deadLetters.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := r.store.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, max)
}

func withJitter(d time.Duration) time.Duration {
	return d + rand.N(jitterWindow)
}

// orderedTopic publishes to a Pub/Sub topic with message ordering enabled.
type orderedTopic struct {
	publisher *gcppubsub.Publisher
}

func newOrderedTopic(p *gcppubsub.Publisher) (*orderedTopic, error) {
	if p == nil {
		return nil, errors.New("pubsub publisher not configured")
	}
	return &orderedTopic{publisher: p}, nil
}

func (t *orderedTopic) Publish(ctx context.Context, msg *gcppubsub.Message) (string, error) {
	id, err := t.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil && msg.OrderingKey != "" {
		// A failed ordered publish pauses the key until resumed.
		t.publisher.ResumePublish(msg.OrderingKey)
	}
	return id, err
}
