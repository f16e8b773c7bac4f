// Package repo persists donors and donations with GORM over SQLite
// (pure Go driver). This file bootstraps the database and migrations.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-donation-backend/internal/domain"
)

// Options tunes OpenSQLite behavior.
type Options struct {
	// Tracing attaches the gorm OpenTelemetry plugin so SQL statements show
	// up as spans under the request trace.
	Tracing bool
}

// OpenSQLite opens (or creates) the donation database and applies PRAGMAs
// and pool settings suited to a single-process web backend.
func OpenSQLite(path string, opts Options) (*gorm.DB, error) {
	// A missing parent directory surfaces as sqlite "out of memory (14)" on
	// some platforms; fail with the real cause instead.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		db.Exec(pragma)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if opts.Tracing {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// AutoMigrate creates or updates the donor and donation tables, including
// the secondary indexes on email, payment-intent, subscription, and invoice
// references declared on the models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Donor{},
		&domain.Donation{},
	)
}
