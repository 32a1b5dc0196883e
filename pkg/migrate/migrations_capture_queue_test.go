package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCaptureQueueMigrationContainsActiveIndex(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_capture_queue_entries.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no capture queue migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS capture_queue_entries",
		"CREATE UNIQUE INDEX IF NOT EXISTS capture_queue_entries_active_payment_uidx",
		"WHERE status IN ('pending', 'processing')",
		"REFERENCES payment_intents(id)",
		"DROP TABLE IF EXISTS capture_queue_entries",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
