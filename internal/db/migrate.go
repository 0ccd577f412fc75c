package db

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
)

// ApplyMigrationFile executes a SQL migration script. Statements use
// IF NOT EXISTS guards so re-applying on boot is safe.
func ApplyMigrationFile(db *sql.DB, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.Exec(string(b)); err != nil && !isAlreadyExistsErr(err) {
		return fmt.Errorf("apply migration %s: %w", path, err)
	}
	return nil
}

func isAlreadyExistsErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
