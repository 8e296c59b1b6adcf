// Package database provides the SQLite persistence layer of the data index.
//
// It defines the schema for acquisitions, archive files and their per-type
// info records, storage groups and nodes, file copies and copy requests, and
// thin helpers to read and insert those rows.
//
// # Usage Example
//
//	db, err := database.New(database.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Seed the built-in acquisition and file types (idempotent)
//	if err := db.PopulateTypes(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	acqType, err := db.GetAcqType(ctx, "corr")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Schema
//
// Table and column names follow the historical data index layout (lower-case
// entity names, "<field>_id" foreign keys) because other services query the
// same tables directly. See schema.go for the table definitions.
//
// # Concurrency
//
// Several ingest processes may write to the same database at once. The
// package holds no in-process locks; it relies on:
//   - UNIQUE constraints on names, (acq_id, name) and (file_id, node_id)
//   - INSERT ... ON CONFLICT DO NOTHING for idempotent seeding
//   - WAL mode, a 5-second busy timeout and BEGIN IMMEDIATE transactions,
//     applied to every pooled connection through the DSN
//
// Constraint violations are returned wrapped, never swallowed; use
// IsUniqueViolation and IsForeignKeyViolation to recognise them.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// DB wraps the SQL database with helper methods for the data index tables.
type DB struct {
	db     *sql.DB
	path   string // Path to the database file (for diagnostic logging)
	logger logrus.FieldLogger
}

// Config holds database configuration.
type Config struct {
	// Path to the SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long a connection waits on a locked database
	BusyTimeout time.Duration

	// Logger receives schema and write diagnostics. Nil means the logrus
	// standard logger.
	Logger logrus.FieldLogger
}

// DefaultConfig returns a default database configuration.
func DefaultConfig() Config {
	return Config{
		Path:            "/var/lib/dataindex/dataindex.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 1 * time.Hour,
		BusyTimeout:     5 * time.Second,
	}
}

// pragmas are applied to every new connection. They are passed in the DSN
// rather than executed once, since a PRAGMA only affects the connection that
// runs it and the pool opens connections lazily.
var pragmas = []string{
	"journal_mode(WAL)",    // Write-Ahead Logging for better concurrency
	"foreign_keys(1)",      // Enforce foreign key constraints
	"synchronous(NORMAL)",  // Balance durability and performance
	"cache_size(-10000)",   // 10MB cache
	"temp_store(MEMORY)",   // Use memory for temp tables
	"mmap_size(268435456)", // 256MB memory-mapped I/O
}

// dsn builds the modernc.org/sqlite connection string for cfg.
func dsn(cfg Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Set("_txlock", "immediate")
	q.Set("_time_format", "sqlite")

	return "file:" + cfg.Path + "?" + q.Encode()
}

// New creates a new database connection and initializes the schema.
//
// The function creates all tables if they don't exist and applies any
// pending schema migrations. It does not seed the type registries; call
// PopulateTypes for that.
func New(cfg Config) (*DB, error) {
	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Path, err)
	}

	d := &DB{
		db:     db,
		path:   cfg.Path,
		logger: logrus.StandardLogger(),
	}
	d.SetLogger(cfg.Logger)

	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// SetLogger sets a custom logger for database diagnostics.
func (d *DB) SetLogger(logger logrus.FieldLogger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	d.logger = logger
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping verifies the database connection is alive.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// logWrite emits the diagnostic line that accompanies every insert/update.
func (d *DB) logWrite(op string, res sql.Result, fields logrus.Fields) {
	rows := int64(-1)
	if res != nil {
		rows, _ = res.RowsAffected()
	}
	entry := d.logger.WithFields(fields).WithFields(logrus.Fields{
		"op":      op,
		"rows":    rows,
		"db_file": d.path,
	})
	entry.Debug("db write")
}

// withTx runs fn inside a transaction, committing if fn returns nil.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// sqliteCode returns the primary SQLite result code carried by err, or 0.
func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() & 0xff
	}
	return 0
}

// IsUniqueViolation reports whether err was caused by a UNIQUE or PRIMARY
// KEY constraint, e.g. a second copy row for the same (file, node) pair.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT || strings.Contains(msg, "constraint failed") {
		return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed")
	}
	return false
}

// IsForeignKeyViolation reports whether err was caused by a FOREIGN KEY constraint.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED, i.e. another
// process held the database lock past the busy timeout. Callers may retry.
func IsBusy(err error) bool {
	switch sqliteCode(err) {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// nullString maps "" to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullInt64 maps nil to NULL.
func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

// nullFloat64 maps nil to NULL.
func nullFloat64(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.UTC(), Valid: true}
}

func ptrInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func ptrFloat64(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func ptrTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}

// now is the timestamp written into registered/last_update columns.
var now = func() time.Time { return time.Now().UTC() }
