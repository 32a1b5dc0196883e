package capturequeue

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ridepay-backend/pkg/db"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

const (
	maxErrorLength   = 1024
	activeEntryIndex = "capture_queue_entries_active_payment_uidx"
)

var activeStatuses = []enums.CaptureQueueStatus{
	enums.CaptureQueueStatusPending,
	enums.CaptureQueueStatusProcessing,
}

// Repository is the durable pending-capture queue.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Enqueue(ctx context.Context, paymentIntentID uuid.UUID) (*models.CaptureQueueEntry, bool, error)
	DequeueBatch(ctx context.Context, limit, maxAttempts int) ([]models.CaptureQueueEntry, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, outcome Outcome, errMsg string, maxAttempts int) (*models.CaptureQueueEntry, error)
	ReleaseProcessing(ctx context.Context, id uuid.UUID) error
	ResetStale(ctx context.Context, olderThan time.Time, maxAttempts int) (int64, error)
	CompleteForPayment(ctx context.Context, paymentIntentID uuid.UUID) (int64, error)
	ListFailed(ctx context.Context, limit int) ([]models.CaptureQueueEntry, error)
	Get(ctx context.Context, id uuid.UUID) (*models.CaptureQueueEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the capture queue to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Enqueue inserts a pending entry unless the intent already has an active one,
// in which case the existing entry is returned with created=false. Postgres
// backs this with a partial unique index on active entries.
func (r *repository) Enqueue(ctx context.Context, paymentIntentID uuid.UUID) (*models.CaptureQueueEntry, bool, error) {
	if paymentIntentID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}

	var (
		entry   *models.CaptureQueueEntry
		created bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findActive(tx, paymentIntentID)
		if err != nil {
			return err
		}
		if existing != nil {
			entry = existing
			return nil
		}
		entry = &models.CaptureQueueEntry{
			ID:              uuid.New(),
			PaymentIntentID: paymentIntentID,
			Status:          enums.CaptureQueueStatusPending,
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if db.IsUniqueViolation(err, activeEntryIndex) {
		// A concurrent request won the insert; hand back its entry.
		existing, findErr := findActive(r.db.WithContext(ctx), paymentIntentID)
		if findErr != nil {
			return nil, false, findErr
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}
	return entry, created, nil
}

func (r *repository) DequeueBatch(ctx context.Context, limit, maxAttempts int) ([]models.CaptureQueueEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	var rows []models.CaptureQueueEntry
	if err := r.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", enums.CaptureQueueStatusPending, maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CaptureQueueEntry{}).
		Where("id = ? AND status = ?", id, enums.CaptureQueueStatusPending).
		Updates(map[string]any{
			"status":     enums.CaptureQueueStatusProcessing,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) RecordAttempt(ctx context.Context, id uuid.UUID, outcome Outcome, errMsg string, maxAttempts int) (*models.CaptureQueueEntry, error) {
	var entry models.CaptureQueueEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "capture queue entry not found")
			}
			return err
		}
		if entry.Status.IsTerminal() {
			return nil
		}

		now := time.Now().UTC()
		entry.Attempts++
		entry.Status = NextStatus(outcome, entry.Attempts, maxAttempts)
		entry.LastAttemptAt = &now
		if outcome == OutcomeSucceeded {
			entry.ErrorMessage = nil
		} else {
			msg := truncate(errMsg)
			entry.ErrorMessage = &msg
		}
		return tx.Model(&models.CaptureQueueEntry{}).
			Where("id = ?", entry.ID).
			Updates(map[string]any{
				"status":          entry.Status,
				"attempts":        entry.Attempts,
				"last_attempt_at": entry.LastAttemptAt,
				"error_message":   entry.ErrorMessage,
				"updated_at":      now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ReleaseProcessing hands an entry back to pending without counting an attempt.
func (r *repository) ReleaseProcessing(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.CaptureQueueEntry{}).
		Where("id = ? AND status = ?", id, enums.CaptureQueueStatusProcessing).
		Updates(map[string]any{
			"status":     enums.CaptureQueueStatusPending,
			"updated_at": time.Now().UTC(),
		}).Error
}

// ResetStale recovers entries left in processing by a crashed run. The
// interrupted run counts as an attempt.
func (r *repository) ResetStale(ctx context.Context, olderThan time.Time, maxAttempts int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CaptureQueueEntry{}).
		Where("status = ? AND updated_at < ?", enums.CaptureQueueStatusProcessing, olderThan).
		Updates(map[string]any{
			"attempts": gorm.Expr("attempts + 1"),
			"status": gorm.Expr("CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END",
				maxAttempts, enums.CaptureQueueStatusFailed, enums.CaptureQueueStatusPending),
			"error_message": "capture run interrupted",
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// CompleteForPayment closes any active entry once the intent is captured by another path.
func (r *repository) CompleteForPayment(ctx context.Context, paymentIntentID uuid.UUID) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.CaptureQueueEntry{}).
		Where("payment_intent_id = ? AND status IN ?", paymentIntentID, activeStatuses).
		Updates(map[string]any{
			"status":        enums.CaptureQueueStatusCompleted,
			"error_message": gorm.Expr("NULL"),
			"updated_at":    now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repository) ListFailed(ctx context.Context, limit int) ([]models.CaptureQueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.CaptureQueueEntry
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.CaptureQueueStatusFailed).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*models.CaptureQueueEntry, error) {
	var entry models.CaptureQueueEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "capture queue entry not found")
		}
		return nil, err
	}
	return &entry, nil
}

func findActive(db *gorm.DB, paymentIntentID uuid.UUID) (*models.CaptureQueueEntry, error) {
	var entry models.CaptureQueueEntry
	err := db.Where("payment_intent_id = ? AND status IN ?", paymentIntentID, activeStatuses).
		Order("created_at DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// truncate caps msg at maxErrorLength bytes without splitting a rune.
func truncate(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	n := maxErrorLength
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}
