// Package store provides snapshot storage backends for HabitLoop.
//
// This file implements the PostgreSQL-backed snapshot store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/jroos/habitloop/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists the snapshot documents in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres snapshot store ready")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) saveDocument(name string, body []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO snapshots (name, body, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		name, string(body), time.Now(),
	)
	if err != nil {
		slog.Error("PostgresStore saveDocument failed", "error", err, "name", name)
		return fmt.Errorf("failed to save snapshot %s: %w", name, err)
	}
	slog.Debug("PostgresStore saveDocument succeeded", "name", name, "bytes", len(body))
	return nil
}

func (s *PostgresStore) loadDocument(name string) ([]byte, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM snapshots WHERE name = $1`, name).Scan(&body)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore loadDocument not found", "name", name)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore loadDocument failed", "error", err, "name", name)
		return nil, fmt.Errorf("failed to load snapshot %s: %w", name, err)
	}
	return []byte(body), nil
}

func (s *PostgresStore) LoadUsers() (map[string]*models.UserRecord, error) {
	data, err := s.loadDocument(usersDocument)
	if err != nil {
		return nil, err
	}
	return decodeUsers(data)
}

func (s *PostgresStore) SaveUsers(users map[string]*models.UserRecord) error {
	data, err := encodeUsers(users)
	if err != nil {
		return err
	}
	return s.saveDocument(usersDocument, data)
}

func (s *PostgresStore) LoadRuntime() (*models.RuntimeState, error) {
	data, err := s.loadDocument(runtimeDocument)
	if err != nil {
		return nil, err
	}
	return decodeRuntime(data)
}

func (s *PostgresStore) SaveRuntime(rt *models.RuntimeState) error {
	data, err := encodeRuntime(rt)
	if err != nil {
		return err
	}
	return s.saveDocument(runtimeDocument, data)
}

// Close closes the Postgres connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
