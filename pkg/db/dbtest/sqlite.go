// Package dbtest opens isolated in-memory SQLite databases for repository tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
)

// AllModels lists every persisted model so tests migrate the full schema.
var AllModels = []any{
	&models.PaymentIntent{},
	&models.CaptureQueueEntry{},
	&models.CaptureLog{},
	&models.DriverEarnings{},
	&models.PaymentHistoryEntry{},
	&models.ReferralCode{},
	&models.OutboxEvent{},
	&models.OutboxDLQ{},
}

// Open returns a fresh database named after the test. A single connection is
// used so concurrent goroutines serialize on SQLite instead of failing with
// table locks; callers must not use the root handle while holding a transaction.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(AllModels...); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}
