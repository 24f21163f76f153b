package testutil

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/facebookgo/clock"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB creates a SQLite database in the test's temp dir, migrates models
// and closes the connection when the test finishes. WAL lets reads run beside
// an open write transaction; immediate transactions serialize writers.
func NewTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=0", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			t.Fatalf("failed to migrate test database: %v", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB from gorm: %v", err)
	}

	sqlDB.SetMaxOpenConns(4)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	return node
}

// NewClock returns a mock clock pinned to noon UTC of the given date.
func NewClock(y int, m time.Month, d int) *clock.Mock {
	c := clock.NewMock()
	// the mock starts at the Unix epoch and only moves forward
	c.Add(time.Date(y, m, d, 12, 0, 0, 0, time.UTC).Sub(c.Now()))
	return c
}

func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
