// Package storage is the persistence gateway for the matching engine. It
// owns the SQLite schema for inbox items, transactions, match suggestions
// and calibration profiles, and enforces the write-layer invariants of the
// match state machine: every predicate is tenant-scoped, and at most one
// suggestion per inbox item and per transaction can be confirmed at any time.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"inbox-matching-service/pkg/logger"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store implements the persistence gateway over SQLite
type Store struct {
	db     *sql.DB
	dbPath string
	log    logger.Logger
}

// Open opens (creating if necessary) the database at dbPath and applies
// schema migrations
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids lock churn
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
		log:    logger.GetGlobalLogger().WithComponent("storage"),
	}

	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migration is one schema migration step
type migration struct {
	version     int
	description string
	statements  []string
}

var migrations = []migration{
	{
		version:     1,
		description: "Initial schema",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS inbox_items (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				display_name TEXT NOT NULL DEFAULT '',
				amount_minor INTEGER,
				currency TEXT NOT NULL DEFAULT '',
				doc_date DATETIME,
				merchant_name TEXT NOT NULL DEFAULT '',
				free_text TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'pending',
				status_reason TEXT NOT NULL DEFAULT '',
				matched_transaction_id TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX idx_inbox_items_tenant_date ON inbox_items(tenant_id, doc_date)`,
			`CREATE INDEX idx_inbox_items_tenant_status ON inbox_items(tenant_id, status)`,

			`CREATE TABLE IF NOT EXISTS transactions (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				amount_minor INTEGER NOT NULL,
				currency TEXT NOT NULL,
				tx_date DATETIME NOT NULL,
				counterparty_text TEXT NOT NULL DEFAULT '',
				matched_inbox_id TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX idx_transactions_tenant_date ON transactions(tenant_id, tx_date)`,

			`CREATE TABLE IF NOT EXISTS match_suggestions (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				inbox_id TEXT NOT NULL,
				transaction_id TEXT NOT NULL,
				confidence REAL NOT NULL,
				status TEXT NOT NULL DEFAULT 'suggested',
				decided_by TEXT NOT NULL DEFAULT '',
				decided_at DATETIME,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX idx_suggestions_tenant_inbox ON match_suggestions(tenant_id, inbox_id)`,
			`CREATE INDEX idx_suggestions_tenant_status ON match_suggestions(tenant_id, status)`,
			// The write-layer guarantee behind the at-most-one-confirmed
			// invariant: two concurrent confirms cannot both commit
			`CREATE UNIQUE INDEX idx_suggestions_one_confirmed
				ON match_suggestions(tenant_id, inbox_id) WHERE status = 'confirmed'`,

			`CREATE TABLE IF NOT EXISTS calibration_profiles (
				tenant_id TEXT PRIMARY KEY,
				amount_weight REAL NOT NULL,
				date_weight REAL NOT NULL,
				text_weight REAL NOT NULL,
				currency_weight REAL NOT NULL,
				auto_match_threshold REAL NOT NULL,
				suggest_threshold REAL NOT NULL,
				ambiguity_margin REAL NOT NULL,
				sample_count INTEGER NOT NULL DEFAULT 0,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
		},
	},
	{
		version:     2,
		description: "Deduplicate suggested pairings",
		statements: []string{
			`CREATE UNIQUE INDEX idx_suggestions_pairing
				ON match_suggestions(tenant_id, inbox_id, transaction_id)`,
		},
	},
	{
		version:     3,
		description: "One confirmed suggestion per transaction",
		statements: []string{
			// Mirror of idx_suggestions_one_confirmed for the transaction
			// side: a transaction cannot be confirmed against two items
			`CREATE UNIQUE INDEX idx_suggestions_tx_one_confirmed
				ON match_suggestions(tenant_id, transaction_id) WHERE status = 'confirmed'`,
		},
	},
}

// migrate brings the schema up to the latest version
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}

		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}

		s.log.WithFields(logger.Fields{
			"version":     m.version,
			"description": m.description,
		}).Info("Applied schema migration")
	}

	return nil
}
