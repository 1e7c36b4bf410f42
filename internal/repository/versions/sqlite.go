package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	// Pure Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/oshokin/panel-updater/internal/domain/update"
)

// SQLiteRepository reads and writes version records in the appliance's
// settings database. Two historical schema shapes exist for the table:
// the canonical one keyed by subsystem (key, version, value) and a legacy
// single-row one with no key column, written by old installations for the
// primary subsystem only.
type SQLiteRepository struct {
	db   *sql.DB
	path string
}

// readStrategy is one attempt at extracting a version for a subsystem.
// It reports not-applicable (ok=false) when its schema shape does not match,
// so the next strategy in order is tried.
type readStrategy func(ctx context.Context, subsystem update.Subsystem) (version string, ok bool, err error)

// NewSQLiteRepository opens the settings database at the provided path.
// An empty path opens an in-memory database, which tests use.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := openDatabase(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteRepository{db: db, path: path}, nil
}

// openDatabase opens one settings database with the pragmas the panel
// tolerates while it holds the file open itself.
func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}

	// A single pass is the only writer; one connection keeps the in-memory
	// variant coherent as well.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 30000",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	return db, nil
}

// Reopen re-establishes the handle after the backing file was replaced.
// The primary pipeline restores the settings subtree by moving a preserved
// copy into place, so the connection opened before the swap points at the
// deleted inode; the commit must reach the restored file instead.
func (r *SQLiteRepository) Reopen(_ context.Context) error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close settings database: %w", err)
	}

	db, err := openDatabase(r.path)
	if err != nil {
		return err
	}

	r.db = db

	return nil
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Read tries the canonical keyed schema first and, for the primary subsystem
// only, falls back to the legacy single-row shape. The fallback is confined
// to the primary so it cannot mask a genuine "not installed" result for
// auxiliary subsystems.
func (r *SQLiteRepository) Read(ctx context.Context, subsystem update.Subsystem) (string, error) {
	strategies := []readStrategy{r.readCanonical}
	if subsystem == update.SubsystemPanel {
		strategies = append(strategies, r.readLegacy)
	}

	for _, strategy := range strategies {
		version, ok, err := strategy(ctx, subsystem)
		if err != nil {
			return "", err
		}

		if ok {
			return version, nil
		}
	}

	return "", fmt.Errorf("%s: %w", subsystem, ErrNotFound)
}

// readCanonical queries the keyed schema.
func (r *SQLiteRepository) readCanonical(ctx context.Context, subsystem update.Subsystem) (string, bool, error) {
	var version string

	err := r.db.QueryRowContext(ctx,
		"SELECT version FROM versions WHERE key = ?", subsystem.String(),
	).Scan(&version)

	switch {
	case err == nil:
		return version, true, nil
	case errors.Is(err, sql.ErrNoRows), isSchemaShapeError(err):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("read version record: %w", err)
	}
}

// readLegacy queries the single-row shape with no key filter. It applies only
// when the table actually lacks the key column: against a canonical table the
// unfiltered query would serve whichever row it happens to hit, turning a
// never-provisioned primary into some other subsystem's version.
func (r *SQLiteRepository) readLegacy(ctx context.Context, _ update.Subsystem) (string, bool, error) {
	var probe string

	err := r.db.QueryRowContext(ctx, "SELECT key FROM versions LIMIT 1").Scan(&probe)

	switch {
	case err == nil, errors.Is(err, sql.ErrNoRows):
		// The key column exists: this database is canonical.
		return "", false, nil
	case isSchemaShapeError(err):
	default:
		return "", false, fmt.Errorf("probe versions schema: %w", err)
	}

	var version string

	err = r.db.QueryRowContext(ctx, "SELECT version FROM versions LIMIT 1").Scan(&version)

	switch {
	case err == nil:
		return version, true, nil
	case errors.Is(err, sql.ErrNoRows), isSchemaShapeError(err):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("read legacy version record: %w", err)
	}
}

// Write updates the version and human-readable display value in one
// transaction. Zero affected rows means the subsystem was never provisioned;
// inserting here would mask that, so it is an error instead.
func (r *SQLiteRepository) Write(ctx context.Context, subsystem update.Subsystem, version, display string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin version write: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE versions SET version = ?, value = ? WHERE key = ?",
		version, display, subsystem.String())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update version record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("count affected rows: %w", err)
	}

	if affected == 0 {
		_ = tx.Rollback()
		return fmt.Errorf("%s: %w", subsystem, ErrNotProvisioned)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit version write: %w", err)
	}

	return nil
}

// Verify re-reads the record and demands exact equality with the value just
// written. Any disagreement is a correctness violation, never a warning.
func (r *SQLiteRepository) Verify(ctx context.Context, subsystem update.Subsystem, expected string) error {
	stored, err := r.Read(ctx, subsystem)
	if err != nil {
		return err
	}

	if stored != expected {
		return fmt.Errorf("%s: expected %q, stored %q: %w",
			subsystem, expected, stored, ErrVerifyMismatch)
	}

	return nil
}

// InitCanonicalSchema creates the keyed table when absent. The records
// themselves are created by the installation that provisions a subsystem;
// this exists for fresh databases and the test suite.
func (r *SQLiteRepository) InitCanonicalSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS versions (key TEXT PRIMARY KEY, version TEXT NOT NULL, value TEXT)")
	if err != nil {
		return fmt.Errorf("create versions table: %w", err)
	}

	return nil
}

// Provision inserts a record for a subsystem. Installation-time only.
func (r *SQLiteRepository) Provision(ctx context.Context, subsystem update.Subsystem, version, display string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO versions (key, version, value) VALUES (?, ?, ?)",
		subsystem.String(), version, display)
	if err != nil {
		return fmt.Errorf("provision %s: %w", subsystem, err)
	}

	return nil
}

// isSchemaShapeError recognizes queries that failed because the database
// carries the other historical schema shape (or none at all), which a read
// strategy treats as not-applicable rather than a failure.
func isSchemaShapeError(err error) bool {
	message := err.Error()

	return strings.Contains(message, "no such table") ||
		strings.Contains(message, "no such column")
}
