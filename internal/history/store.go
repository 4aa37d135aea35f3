// Package history is the durable record of verified downloads. It is the
// only state that survives across runs.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cidproject/cid/internal/checksum"
)

// StoreUnavailableError means the history database could not be opened or
// created. It is fatal to the whole run.
type StoreUnavailableError struct {
	Path string
	Err  error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("history store unavailable at %s: %v", e.Path, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// Record is one committed (name, checksum) pair.
type Record struct {
	ID          int64
	Name        string
	Algorithm   string
	Digest      string
	CommittedAt time.Time
}

// Store provides SQLite-backed persistence for the download history.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the history database at path, creating the file, its parent
// directory, and the schema as needed.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StoreUnavailableError{Path: path, Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StoreUnavailableError{Path: path, Err: err}
	}

	// Concurrent pipeline workers all commit through this handle; a single
	// connection serializes writers instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &StoreUnavailableError{Path: path, Err: err}
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, &StoreUnavailableError{Path: path, Err: err}
	}

	logger.Debug("history store opened", "path", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close history store: %w", err)
	}
	return nil
}

// Exists reports whether the exact (name, checksum) pair has been committed.
func (s *Store) Exists(name string, sum checksum.Checksum) (bool, error) {
	const query = `
		SELECT 1 FROM image_history
		WHERE name = ? AND algorithm = ? AND digest = ?
		LIMIT 1
	`

	var one int
	err := s.db.QueryRow(query, name, string(sum.Algorithm()), sum.Hex()).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to query image history: %w", err)
	}
	return true, nil
}

// Commit records the pair as owned. Committing the same (name, checksum)
// twice leaves exactly one row; a new checksum for a known name is a new,
// distinct record and the old one is kept for audit.
func (s *Store) Commit(name string, sum checksum.Checksum, committedAt time.Time) error {
	const query = `
		INSERT OR IGNORE INTO image_history (name, algorithm, digest, committed_at)
		VALUES (?, ?, ?, ?)
	`

	if sum.IsZero() {
		return fmt.Errorf("refusing to commit %q without a checksum", name)
	}

	_, err := s.db.Exec(query, name, string(sum.Algorithm()), sum.Hex(), committedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to commit %q to image history: %w", name, err)
	}
	return nil
}

// Records returns all history records, most recent first.
func (s *Store) Records() ([]Record, error) {
	const query = `
		SELECT id, name, algorithm, digest, committed_at
		FROM image_history
		ORDER BY committed_at DESC, name ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query image history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Algorithm, &rec.Digest, &rec.CommittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history records: %w", err)
	}

	return records, nil
}
