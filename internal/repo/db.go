// Package repo is the persistence layer: free functions over *gorm.DB for
// connections, conversations, unread counters, messages, and idempotency
// records. This file holds the SQLite bootstrap and schema migration.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-connect-backend/internal/domain"
)

// sqlitePragmas are applied on open. WAL lets the read-heavy conversation
// listing proceed while a send commits; busy_timeout keeps concurrent unread
// updates from surfacing as SQLITE_BUSY.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA foreign_keys=ON;",
	"PRAGMA busy_timeout=5000;",
}

// OpenSQLite opens or creates the database at path, applies the PRAGMAs,
// sizes the pool, and installs the OpenTelemetry plugin so queries appear
// as child spans of the request trace.
func OpenSQLite(path string) (*gorm.DB, error) {
	// A missing parent directory otherwise surfaces as sqlite error 14,
	// which is useless for diagnosing a bad DB_PATH.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	for _, p := range sqlitePragmas {
		db.Exec(p)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for every persisted model. The
// users table is included so tests and dev environments can seed profiles;
// in production it is owned and populated by the user service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Connection{},
		&domain.Conversation{},
		&domain.ConversationUnread{},
		&domain.Message{},
		&domain.UserProfile{},
		&domain.Idempotency{},
	)
}
