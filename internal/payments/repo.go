package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

// Repository is the ledger store for payment intents and their derived records.
// Status writes are compare-and-swap: they only apply while the row is still in
// one of the expected statuses.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateIntent(ctx context.Context, intent *models.PaymentIntent) error
	FindIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	FindIntentByProcessorID(ctx context.Context, processorIntentID string) (*models.PaymentIntent, error)
	ListIntentsByRide(ctx context.Context, rideID uuid.UUID) ([]models.PaymentIntent, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus, fields map[string]any) (bool, error)
	LinkBooking(ctx context.Context, id, bookingID uuid.UUID) (bool, error)
	ListOrphanedAuthorizations(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentIntent, error)
	ListStaleProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]models.PaymentIntent, error)

	CreateCaptureLog(ctx context.Context, entry *models.CaptureLog) error
	FindCaptureLog(ctx context.Context, paymentIntentID uuid.UUID) (*models.CaptureLog, error)

	CreateEarnings(ctx context.Context, earnings *models.DriverEarnings) error
	FindEarnings(ctx context.Context, paymentIntentID uuid.UUID) (*models.DriverEarnings, error)
	ReverseEarnings(ctx context.Context, paymentIntentID uuid.UUID, at time.Time) (bool, error)
	ListPayableEarnings(ctx context.Context, driverID uuid.UUID) ([]models.DriverEarnings, error)

	CreateHistory(ctx context.Context, entry *models.PaymentHistoryEntry) error
	UpdateHistoryStatus(ctx context.Context, paymentIntentID uuid.UUID, entryType enums.HistoryEntryType, status enums.HistoryStatus) error
	ListHistoryByRider(ctx context.Context, riderID uuid.UUID, limit int) ([]models.PaymentHistoryEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger store bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *repository) FindIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error; err != nil {
		return nil, notFound(err, "payment intent not found")
	}
	return &intent, nil
}

func (r *repository) FindIntentByProcessorID(ctx context.Context, processorIntentID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("processor_intent_id = ?", processorIntentID).First(&intent).Error; err != nil {
		return nil, notFound(err, "payment intent not found")
	}
	return &intent, nil
}

func (r *repository) ListIntentsByRide(ctx context.Context, rideID uuid.UUID) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	if err := r.db.WithContext(ctx).
		Where("ride_id = ?", rideID).
		Order("created_at DESC").
		Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus, fields map[string]any) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("at least one expected status is required")
	}
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) LinkBooking(ctx context.Context, id, bookingID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND booking_id IS NULL", id).
		Updates(map[string]any{
			"booking_id": bookingID,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListOrphanedAuthorizations(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	if err := r.db.WithContext(ctx).
		Where("status = ? AND booking_id IS NULL AND created_at < ?", enums.PaymentStatusAuthorized, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repository) ListStaleProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	if err := r.db.WithContext(ctx).
		Where("status = ? AND (processing_started_at IS NULL OR processing_started_at < ?)", enums.PaymentStatusProcessing, startedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repository) CreateCaptureLog(ctx context.Context, entry *models.CaptureLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindCaptureLog(ctx context.Context, paymentIntentID uuid.UUID) (*models.CaptureLog, error) {
	var entry models.CaptureLog
	err := r.db.WithContext(ctx).Where("payment_intent_id = ?", paymentIntentID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repository) CreateEarnings(ctx context.Context, earnings *models.DriverEarnings) error {
	if earnings.ID == uuid.Nil {
		earnings.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(earnings).Error
}

func (r *repository) FindEarnings(ctx context.Context, paymentIntentID uuid.UUID) (*models.DriverEarnings, error) {
	var earnings models.DriverEarnings
	err := r.db.WithContext(ctx).Where("payment_intent_id = ?", paymentIntentID).First(&earnings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &earnings, nil
}

func (r *repository) ReverseEarnings(ctx context.Context, paymentIntentID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DriverEarnings{}).
		Where("payment_intent_id = ? AND status = ?", paymentIntentID, enums.EarningsStatusPending).
		Updates(map[string]any{
			"status":      enums.EarningsStatusRefunded,
			"refunded_at": at,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListPayableEarnings returns the rows a payout batch may consider.
func (r *repository) ListPayableEarnings(ctx context.Context, driverID uuid.UUID) ([]models.DriverEarnings, error) {
	var rows []models.DriverEarnings
	if err := r.db.WithContext(ctx).
		Where("driver_id = ? AND status = ?", driverID, enums.EarningsStatusPending).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CreateHistory(ctx context.Context, entry *models.PaymentHistoryEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) UpdateHistoryStatus(ctx context.Context, paymentIntentID uuid.UUID, entryType enums.HistoryEntryType, status enums.HistoryStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentHistoryEntry{}).
		Where("payment_intent_id = ? AND entry_type = ?", paymentIntentID, entryType).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) ListHistoryByRider(ctx context.Context, riderID uuid.UUID, limit int) ([]models.PaymentHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.PaymentHistoryEntry
	if err := r.db.WithContext(ctx).
		Where("rider_id = ?", riderID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	}
	return err
}
