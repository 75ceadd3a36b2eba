// Package db opens the workspace SQLite database. All platform state lives
// in a single file under the workspace's .paperline directory.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type Config struct {
	Workspace string
	// Filename overrides the database file name; empty means paperline.db.
	Filename string
}

func (c Config) path() string {
	name := c.Filename
	if name == "" {
		name = "paperline.db"
	}
	workspace := c.Workspace
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".paperline", name)
}

// EnsureWorkspace creates the workspace state directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".paperline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the database with foreign keys on, creating the workspace
// directory as needed.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", cfg.path())
	return sql.Open("sqlite", dsn)
}
