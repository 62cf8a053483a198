// Package dbtest opens throwaway SQLite databases with the users table for
// tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/umar/users-api/internal/config"
	"github.com/umar/users-api/internal/database"
)

// Schema is the users table the handlers expect. Only id is constrained so
// full-row overwrites with NULL succeed.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id         TEXT PRIMARY KEY,
    email      TEXT,
    name       TEXT,
    username   TEXT,
    phone      TEXT,
    avatar_url TEXT,
    password   TEXT
);
`

// Open returns a fresh database in t.TempDir with the users table created.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	cfg := config.Database{
		Driver:       config.DriverSQLite,
		URL:          filepath.Join(t.TempDir(), "users.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  5 * time.Second,
	}
	db, err := database.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("create users table: %v", err)
	}
	return db
}

// Gateway returns a gateway over a fresh test database.
func Gateway(t testing.TB) *database.SQLGateway {
	t.Helper()
	return database.NewGateway(Open(t), config.DriverSQLite)
}
