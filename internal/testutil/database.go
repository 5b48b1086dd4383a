package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "modernc.org/sqlite" // Test Package

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/database"
)

// SetupTestDB creates an in-memory SQLite database for testing.
// The schema comes from the same embedded migrations production runs.
// The database is automatically cleaned up when the test completes.
//
// Example usage:
//
//	func TestSomething(t *testing.T) {
//	    db := testutil.SetupTestDB(t)
//	    // db is ready to use with schema created
//	}
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// In-memory database (destroyed when connection closes)
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every connection to :memory: is its own database, so keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	// Test connection
	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping test database: %v", err)
	}

	// Configure SQLite for testing
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA timezone = 'UTC'",
		"PRAGMA journal_mode = MEMORY", // Faster for tests
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			t.Fatalf("Failed to set pragma: %v", err)
		}
	}

	// Create schema
	if _, err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	// Cleanup when test ends
	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// CleanDatabase removes all data from all tables while preserving the schema.
// Useful for tests that need a fresh database state without recreating the schema.
//
// Example usage:
//
//	func TestSomething(t *testing.T) {
//	    db := testutil.SetupTestDB(t)
//	    // ... do some testing ...
//	    testutil.CleanDatabase(t, db)
//	    // ... database is now empty ...
//	}
func CleanDatabase(t *testing.T, db *sql.DB) {
	t.Helper()

	// Children first so foreign keys never block a delete.
	tables := []string{
		"portfolio_snapshot",
		"account_balance",
		"broker_transaction",
		"holding",
		"linked_account",
	}

	for _, table := range tables {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("Failed to clean table %s: %v", table, err)
		}
	}
}

// CountRows returns the number of rows in a table, optionally filtered by a WHERE clause.
//
// Example usage:
//
//	n := testutil.CountRows(t, db, "holding", "account_id = ? AND is_active = 1", accountID)
func CountRows(t *testing.T, db *sql.DB, table, where string, args ...any) int {
	t.Helper()

	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}

	var count int
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		t.Fatalf("Failed to count rows in %s: %v", table, err)
	}
	return count
}

// AssertRowCount fails the test when a table does not hold the expected number of rows.
func AssertRowCount(t *testing.T, db *sql.DB, table string, expected int) {
	t.Helper()

	if got := CountRows(t, db, table, ""); got != expected {
		t.Errorf("Expected %d rows in %s, got %d", expected, table, got)
	}
}

// DumpTable renders every row of a table, for failure messages.
func DumpTable(t *testing.T, db *sql.DB, table string) string {
	t.Helper()

	rows, err := db.Query("SELECT * FROM " + table)
	if err != nil {
		t.Fatalf("Failed to dump table %s: %v", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		t.Fatalf("Failed to read columns of %s: %v", table, err)
	}

	out := ""
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			t.Fatalf("Failed to scan row of %s: %v", table, err)
		}
		out += fmt.Sprintln(values...)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("Failed to iterate %s: %v", table, err)
	}
	return out
}
