package paymentstack

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ridepay-backend/internal/lifecycle"
	"github.com/angelmondragon/ridepay-backend/internal/processor/processortest"
	"github.com/angelmondragon/ridepay-backend/pkg/config"
	"github.com/angelmondragon/ridepay-backend/pkg/db"
	"github.com/angelmondragon/ridepay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ridepay-backend/pkg/enums"
	"github.com/angelmondragon/ridepay-backend/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Payments: config.PaymentsConfig{
			PlatformFeePercent:    15,
			Currency:              "usd",
			ReferralReleaseExtend: 72 * time.Hour,
			StaleProcessingAfter:  5 * time.Minute,
		},
		CaptureWorker: config.CaptureWorkerConfig{BatchSize: 10, MaxAttempts: 5},
	}
}

func TestAssembleRunsRideThroughCapture(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	reg := prometheus.NewRegistry()

	stack, err := Assemble(testConfig(), logg, db.NewFromConn(conn), processortest.New(), nil, reg)
	require.NoError(t, err)

	rideID := uuid.New()
	res, err := stack.Engine.Authorize(ctx, lifecycle.AuthorizeInput{
		RiderID:        uuid.New(),
		DriverID:       uuid.New(),
		RideID:         rideID,
		AmountSubtotal: 2500,
	})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusAuthorized, res.PaymentIntent.Status)

	entry, err := stack.Engine.RequestCaptureForRide(ctx, rideID)
	require.NoError(t, err)
	require.NotNil(t, entry)

	summary, err := stack.Worker.RunCaptureBatch(ctx, 10, 5)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)

	intent, err := stack.Engine.Get(ctx, res.PaymentIntent.ID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusSucceeded, intent.Status)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(context.Background(), nil, nil, nil, nil)
	require.Error(t, err)
}
