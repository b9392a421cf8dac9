// Package testutil provides helpers shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"polls-backend/config"
	"polls-backend/database"
	"polls-backend/migrations"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory SQLite database with the schema migrated.
// The connection is closed when the test ends.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver:         config.DriverSQLite,
		URL:            fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		ConnectRetries: 1,
	}
	db, err := database.Open(context.Background(), cfg, nil, logger.Silent)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}
