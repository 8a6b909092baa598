// Package store provides snapshot storage backends for HabitLoop.
//
// This file implements the SQLite-backed snapshot store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/jroos/habitloop/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists the snapshot documents in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is
// a file path; the containing directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite snapshot store ready", "path", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) saveDocument(name string, body []byte) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO snapshots (name, body, updated_at) VALUES (?, ?, ?)`,
		name, string(body), time.Now(),
	)
	if err != nil {
		slog.Error("SQLiteStore saveDocument failed", "error", err, "name", name)
		return fmt.Errorf("failed to save snapshot %s: %w", name, err)
	}
	slog.Debug("SQLiteStore saveDocument succeeded", "name", name, "bytes", len(body))
	return nil
}

func (s *SQLiteStore) loadDocument(name string) ([]byte, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM snapshots WHERE name = ?`, name).Scan(&body)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore loadDocument not found", "name", name)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore loadDocument failed", "error", err, "name", name)
		return nil, fmt.Errorf("failed to load snapshot %s: %w", name, err)
	}
	return []byte(body), nil
}

func (s *SQLiteStore) LoadUsers() (map[string]*models.UserRecord, error) {
	data, err := s.loadDocument(usersDocument)
	if err != nil {
		return nil, err
	}
	return decodeUsers(data)
}

func (s *SQLiteStore) SaveUsers(users map[string]*models.UserRecord) error {
	data, err := encodeUsers(users)
	if err != nil {
		return err
	}
	return s.saveDocument(usersDocument, data)
}

func (s *SQLiteStore) LoadRuntime() (*models.RuntimeState, error) {
	data, err := s.loadDocument(runtimeDocument)
	if err != nil {
		return nil, err
	}
	return decodeRuntime(data)
}

func (s *SQLiteStore) SaveRuntime(rt *models.RuntimeState) error {
	data, err := encodeRuntime(rt)
	if err != nil {
		return err
	}
	return s.saveDocument(runtimeDocument, data)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
