package lifecycle

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/ridepay-backend/internal/capturequeue"
	"github.com/angelmondragon/ridepay-backend/internal/payments"
	"github.com/angelmondragon/ridepay-backend/internal/processor/processortest"
	"github.com/angelmondragon/ridepay-backend/internal/referrals"
	"github.com/angelmondragon/ridepay-backend/pkg/db"
	"github.com/angelmondragon/ridepay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
	"github.com/angelmondragon/ridepay-backend/pkg/outbox"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	conn      *gorm.DB
	engine    Engine
	proc      *processortest.Fake
	repo      payments.Repository
	queue     capturequeue.Repository
	referrals referrals.Repository
	clock     *testClock
}

type harnessOption func(*EngineParams)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	clock := &testClock{now: time.Now().UTC()}
	proc := processortest.New()

	referralRepo := referrals.NewRepository(conn)
	referralSvc, err := referrals.NewService(referrals.ServiceParams{
		Repo:            referralRepo,
		Logger:          logg,
		ReleaseExtendBy: 72 * time.Hour,
		Now:             clock.Now,
	})
	require.NoError(t, err)

	repo := payments.NewRepository(conn)
	queue := capturequeue.NewRepository(conn)
	params := EngineParams{
		Payments:             repo,
		Referrals:            referralSvc,
		Queue:                queue,
		Processor:            proc,
		Outbox:               outbox.NewService(outbox.NewRepository(conn), logg),
		Tx:                   db.NewFromConn(conn),
		Logger:               logg,
		FeePercent:           15,
		Currency:             "usd",
		StaleProcessingAfter: 5 * time.Minute,
		Now:                  clock.Now,
	}
	for _, opt := range opts {
		opt(&params)
	}
	engine, err := NewEngine(params)
	require.NoError(t, err)

	return &harness{
		conn:      conn,
		engine:    engine,
		proc:      proc,
		repo:      repo,
		queue:     queue,
		referrals: referralRepo,
		clock:     clock,
	}
}

func (h *harness) seedReferral(t *testing.T, code string, pct int64) {
	t.Helper()
	require.NoError(t, h.referrals.Create(context.Background(), &models.ReferralCode{
		Code:            code,
		OwnerUserID:     uuid.New(),
		DiscountPercent: decimal.NewFromInt(pct),
		ExpiresAt:       h.clock.Now().Add(24 * time.Hour),
	}))
}

func (h *harness) authorize(t *testing.T, amount int64, code string) *models.PaymentIntent {
	t.Helper()
	res, err := h.engine.Authorize(context.Background(), AuthorizeInput{
		RiderID:        uuid.New(),
		DriverID:       uuid.New(),
		RideID:         uuid.New(),
		AmountSubtotal: amount,
		ReferralCode:   code,
	})
	require.NoError(t, err)
	return res.PaymentIntent
}

func (h *harness) status(t *testing.T, id uuid.UUID) enums.PaymentStatus {
	t.Helper()
	intent, err := h.repo.FindIntent(context.Background(), id)
	require.NoError(t, err)
	return intent.Status
}

func (h *harness) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := h.conn.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (h *harness) forceStatus(t *testing.T, id uuid.UUID, status enums.PaymentStatus, startedAt *time.Time) {
	t.Helper()
	require.NoError(t, h.conn.Model(&models.PaymentIntent{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "processing_started_at": startedAt}).Error)
}

type failingTx struct{}

func (failingTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return errors.New("database unavailable")
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	if _, err := NewEngine(EngineParams{}); err == nil {
		t.Fatal("expected missing dependencies to fail")
	}
}
