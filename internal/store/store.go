package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"iter"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/deploydag/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added history index on (network, unit, seq)
const currentSchemaVersion = 1

// Manifest is the durable record of confirmed deployments. Both the SQLite
// Store and boltstore.Store implement it.
type Manifest interface {
	// Put writes rec under (rec.Network, rec.Unit) according to mode.
	// It returns the record that is active afterwards and whether rec was
	// the one written.
	Put(ctx context.Context, rec ir.Record, mode ir.PutMode) (ir.Record, bool, error)

	// Get returns the active record, or *ir.NotFoundError.
	Get(ctx context.Context, network, unit string) (ir.Record, error)

	// All lazily yields the active records of a network in insertion order.
	// Each range over the sequence starts from the beginning.
	All(ctx context.Context, network string) iter.Seq2[ir.Record, error]

	// History returns every record ever written for a key, oldest first.
	History(ctx context.Context, network, unit string) ([]ir.Record, error)

	// Networks lists networks with at least one record, sorted.
	Networks(ctx context.Context) ([]string, error)

	Close() error
}

var _ Manifest = (*Store)(nil)

// Store is the SQLite manifest.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite manifest at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	return open("file:" + path + "?_txlock=immediate")
}

// OpenMemory opens a private in-memory manifest. Dry runs use it as a
// scratch copy of the real manifest.
func OpenMemory() (*Store, error) {
	return open("file::memory:?_txlock=immediate")
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. One connection also keeps
	// an in-memory database alive for the life of the Store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the index History and Networks read from.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deployments_history
		ON deployments(network, unit, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
