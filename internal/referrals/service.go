package referrals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ridepay-backend/pkg/db"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

var hundred = decimal.NewFromInt(100)

// Redemption describes the discount granted by a claimed code.
// Discount is zero when the code existed but was already used or expired.
type Redemption struct {
	Code     string
	Percent  decimal.Decimal
	Discount int64
	Claimed  bool
}

// IssueInput describes a new referral code.
type IssueInput struct {
	Code            string          `json:"code" validate:"required,min=4,max=32"`
	OwnerUserID     uuid.UUID       `json:"owner_user_id" validate:"required"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	ExpiresAt       time.Time       `json:"expires_at" validate:"required"`
}

// Service redeems and releases referral discounts.
type Service interface {
	Issue(ctx context.Context, input IssueInput) (*models.ReferralCode, error)
	Redeem(ctx context.Context, code string, riderID, paymentIntentID uuid.UUID, subtotal int64) (*Redemption, error)
	Release(ctx context.Context, code string, paymentIntentID uuid.UUID) error
}

// ServiceParams wires the referral service.
type ServiceParams struct {
	Repo            Repository
	Logger          *logger.Logger
	ReleaseExtendBy time.Duration
	Now             func() time.Time
}

type service struct {
	repo     Repository
	logg     *logger.Logger
	extendBy time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("referral repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		logg:     params.Logger,
		extendBy: params.ReleaseExtendBy,
		now:      now,
	}, nil
}

// NormalizeCode trims and upper-cases a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DiscountFor floors subtotal * percent / 100 and never exceeds the subtotal.
func DiscountFor(subtotal int64, percent decimal.Decimal) int64 {
	if subtotal <= 0 || !percent.IsPositive() {
		return 0
	}
	discount := decimal.NewFromInt(subtotal).Mul(percent).Div(hundred).Floor().IntPart()
	if discount > subtotal {
		return subtotal
	}
	return discount
}

func (s *service) Issue(ctx context.Context, input IssueInput) (*models.ReferralCode, error) {
	code := NormalizeCode(input.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referral code is required")
	}
	if input.OwnerUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner user id is required")
	}
	if !input.DiscountPercent.IsPositive() || input.DiscountPercent.GreaterThan(hundred) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount percent must be between 0 and 100")
	}
	if !input.ExpiresAt.After(s.now()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expiry must be in the future")
	}

	row := &models.ReferralCode{
		Code:            code,
		OwnerUserID:     input.OwnerUserID,
		DiscountPercent: input.DiscountPercent,
		ExpiresAt:       input.ExpiresAt.UTC(),
	}
	if err := s.repo.Create(ctx, row); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "referral code already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create referral code")
	}
	return row, nil
}

func (s *service) Redeem(ctx context.Context, code string, riderID, paymentIntentID uuid.UUID, subtotal int64) (*Redemption, error) {
	code = NormalizeCode(code)
	row, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup referral code")
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown referral code")
	}
	if row.OwnerUserID == riderID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referral code cannot be redeemed by its owner")
	}

	result := &Redemption{Code: row.Code, Percent: row.DiscountPercent}
	now := s.now().UTC()
	if row.UsedAt != nil || !row.ExpiresAt.After(now) {
		return result, nil
	}

	won, err := s.repo.Claim(ctx, row.Code, riderID, paymentIntentID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim referral code")
	}
	if !won {
		s.logg.Info(ctx, "referral code claimed concurrently; no discount applied")
		return result, nil
	}
	result.Claimed = true
	result.Discount = DiscountFor(subtotal, row.DiscountPercent)
	return result, nil
}

// Release returns a claimed code to its unused state and pushes the expiry out
// so the rider can retry the booking. A no-op when the payment never held it.
func (s *service) Release(ctx context.Context, code string, paymentIntentID uuid.UUID) error {
	code = NormalizeCode(code)
	row, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup referral code")
	}
	if row == nil || row.UsedPaymentIntentID == nil || *row.UsedPaymentIntentID != paymentIntentID {
		return nil
	}

	expiresAt := row.ExpiresAt
	if extended := s.now().UTC().Add(s.extendBy); extended.After(expiresAt) {
		expiresAt = extended
	}
	released, err := s.repo.Release(ctx, code, paymentIntentID, expiresAt)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release referral code")
	}
	if released {
		logCtx := s.logg.WithField(ctx, "referral_code", code)
		logCtx = s.logg.WithPaymentIntentID(logCtx, paymentIntentID.String())
		s.logg.Info(logCtx, "referral code released")
	}
	return nil
}
