package testutil

import (
	"os"
	"strings"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/yungbote/promptbridge-backend/internal/data/db"
	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB opens a migrated ledger database private to tb. It is in-memory sqlite
// unless TEST_POSTGRES_DSN is set, in which case callers should isolate with Tx.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	cfg := db.Config{Driver: db.DriverSQLite, DSN: "file::memory:"}
	if dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN")); dsn != "" {
		cfg = db.Config{Driver: db.DriverPostgres, DSN: dsn}
	}

	gdb, err := db.Open(nil, cfg)
	if err != nil {
		tb.Fatalf("failed to init test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	if cfg.Driver == db.DriverSQLite {
		// Every pooled connection would get its own in-memory database.
		sqlDB.SetMaxOpenConns(1)
	}
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrateAll(gdb); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return gdb
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}
