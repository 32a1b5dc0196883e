package referrals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
)

// Repository persists referral codes. Claim and Release are conditional
// updates so two concurrent redemptions of one code cannot both win.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, code *models.ReferralCode) error
	FindByCode(ctx context.Context, code string) (*models.ReferralCode, error)
	Claim(ctx context.Context, code string, userID, paymentIntentID uuid.UUID, now time.Time) (bool, error)
	Release(ctx context.Context, code string, paymentIntentID uuid.UUID, expiresAt time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a referral repository to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, code *models.ReferralCode) error {
	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(code).Error
}

// FindByCode returns nil when the code does not exist.
func (r *repository) FindByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	var row models.ReferralCode
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) Claim(ctx context.Context, code string, userID, paymentIntentID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ReferralCode{}).
		Where("code = ? AND used_at IS NULL AND expires_at > ?", code, now).
		Updates(map[string]any{
			"used_at":                now,
			"used_by":                userID,
			"used_payment_intent_id": paymentIntentID,
			"updated_at":             now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Release(ctx context.Context, code string, paymentIntentID uuid.UUID, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ReferralCode{}).
		Where("code = ? AND used_payment_intent_id = ?", code, paymentIntentID).
		Updates(map[string]any{
			"used_at":                gorm.Expr("NULL"),
			"used_by":                gorm.Expr("NULL"),
			"used_payment_intent_id": gorm.Expr("NULL"),
			"expires_at":             expiresAt,
			"updated_at":             time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
