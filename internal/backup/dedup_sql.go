package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	apperrors "file-backup-sync/internal/errors"
)

// SQLDialect selects the SQL flavour used by SQLDedupStore
type SQLDialect string

const (
	SQLDialectSQLite SQLDialect = "sqlite3"
	SQLDialectMySQL  SQLDialect = "mysql"
)

var dedupSchemas = map[SQLDialect]string{
	SQLDialectSQLite: `CREATE TABLE IF NOT EXISTS dedup_entries (
	fingerprint TEXT PRIMARY KEY,
	reference TEXT NOT NULL,
	owner TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dedup_reference ON dedup_entries (reference)`,
	SQLDialectMySQL: `CREATE TABLE IF NOT EXISTS dedup_entries (
	fingerprint CHAR(64) NOT NULL PRIMARY KEY,
	reference VARCHAR(1024) NOT NULL,
	owner VARCHAR(1024) NOT NULL,
	created_at BIGINT NOT NULL,
	INDEX idx_dedup_reference (reference(255))
)`,
}

var dedupInserts = map[SQLDialect]string{
	SQLDialectSQLite: "INSERT OR IGNORE INTO dedup_entries (fingerprint, reference, owner, created_at) VALUES (?, ?, ?, ?)",
	SQLDialectMySQL:  "INSERT IGNORE INTO dedup_entries (fingerprint, reference, owner, created_at) VALUES (?, ?, ?, ?)",
}

const (
	dedupHasQuery        = "SELECT 1 FROM dedup_entries WHERE fingerprint = ?"
	dedupGetQuery        = "SELECT fingerprint, reference, owner, created_at FROM dedup_entries WHERE fingerprint = ?"
	dedupReferencesQuery = "SELECT fingerprint FROM dedup_entries WHERE reference = ? ORDER BY fingerprint"
	dedupDeleteQuery     = "DELETE FROM dedup_entries WHERE fingerprint = ?"
)

// SQLDedupStore is a DedupStore persisted in SQLite or MySQL. Uniqueness
// is enforced by the primary key, so concurrent writers cannot create two
// entries for one fingerprint.
type SQLDedupStore struct {
	db      *sql.DB
	dialect SQLDialect
	retry   *apperrors.RetryHandler
	ownsDB  bool
}

// OpenSQLDedupStore opens a database with the driver matching dialect and
// prepares the schema.
func OpenSQLDedupStore(ctx context.Context, dialect SQLDialect, dsn string) (*SQLDedupStore, error) {
	if _, ok := dedupSchemas[dialect]; !ok {
		return nil, NewConfigurationError(fmt.Sprintf("unsupported dedup dialect %q", dialect), nil)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, NewIndexError("failed to open dedup index", err)
	}

	if dialect == SQLDialectSQLite {
		// SQLite allows a single writer; serialize through one connection.
		db.SetMaxOpenConns(1)
	}

	store, err := NewSQLDedupStore(ctx, db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewSQLDedupStore wraps an existing database handle and creates the table
// if needed.
func NewSQLDedupStore(ctx context.Context, db *sql.DB, dialect SQLDialect) (*SQLDedupStore, error) {
	schema, ok := dedupSchemas[dialect]
	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("unsupported dedup dialect %q", dialect), nil)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, NewIndexError("failed to create dedup table", err)
	}

	return &SQLDedupStore{
		db:      db,
		dialect: dialect,
		retry: apperrors.NewRetryHandler(apperrors.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   50 * time.Millisecond,
			MaxDelay:    time.Second,
			Multiplier:  2.0,
		}),
	}, nil
}

// Has reports whether fp has been registered
func (s *SQLDedupStore) Has(ctx context.Context, fp Fingerprint) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, dedupHasQuery, string(fp)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, NewIndexError("failed to query dedup index", err)
	}
	return true, nil
}

// Get returns the entry for fp, or nil when unknown
func (s *SQLDedupStore) Get(ctx context.Context, fp Fingerprint) (*DedupEntry, error) {
	var (
		entry     DedupEntry
		createdAt int64
	)

	err := s.db.QueryRowContext(ctx, dedupGetQuery, string(fp)).
		Scan(&entry.Fingerprint, &entry.Reference, &entry.Owner, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, NewIndexError("failed to read dedup entry", err)
	}

	entry.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &entry, nil
}

// Put registers fp. An existing row is left untouched.
func (s *SQLDedupStore) Put(ctx context.Context, fp Fingerprint, owner, reference string) error {
	if !fp.IsValid() {
		return NewValidationError(fmt.Sprintf("invalid fingerprint %q", fp), nil)
	}

	createdAt := time.Now().UTC().UnixMilli()
	err := s.retry.Retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, dedupInserts[s.dialect], string(fp), reference, owner, createdAt)
		return err
	})
	if err != nil {
		return NewIndexError("failed to insert dedup entry", err)
	}
	return nil
}

// ReferencesTo lists the fingerprints stored under reference, sorted
func (s *SQLDedupStore) ReferencesTo(ctx context.Context, reference string) ([]Fingerprint, error) {
	rows, err := s.db.QueryContext(ctx, dedupReferencesQuery, reference)
	if err != nil {
		return nil, NewIndexError("failed to query dedup references", err)
	}
	defer rows.Close()

	var fps []Fingerprint
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, NewIndexError("failed to read dedup reference", err)
		}
		fps = append(fps, Fingerprint(fp))
	}
	if err := rows.Err(); err != nil {
		return nil, NewIndexError("failed to read dedup references", err)
	}
	return fps, nil
}

// Remove deletes the row for fp
func (s *SQLDedupStore) Remove(ctx context.Context, fp Fingerprint) error {
	err := s.retry.Retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, dedupDeleteQuery, string(fp))
		return err
	})
	if err != nil {
		return NewIndexError("failed to delete dedup entry", err)
	}
	return nil
}

// Dialect returns the SQL dialect in use
func (s *SQLDedupStore) Dialect() SQLDialect {
	return s.dialect
}

// Close closes the database if the store opened it
func (s *SQLDedupStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
