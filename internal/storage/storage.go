// Package storage is the transactional SQLite store behind the pipeline and
// the read repository consumed by the API.
package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned by single-row lookups that matched nothing.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateURL means the articles.url unique index rejected a write.
	ErrDuplicateURL = errors.New("duplicate article url")
	// ErrDuplicateSlug means the articles.slug unique index rejected a write.
	ErrDuplicateSlug = errors.New("duplicate article slug")
	// ErrConstraint covers every other constraint violation.
	ErrConstraint = errors.New("constraint violation")
	// ErrUnavailable means the database could not serve the request at all.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrInvalidQuery is returned for read queries outside the accepted ranges.
	ErrInvalidQuery = errors.New("invalid query")
)

// DB wraps the SQLite connection pool shared by every worker.
type DB struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if needed) the database file at path. Every pooled
// connection gets foreign keys, a busy timeout and immediate write locks so
// concurrent writers queue instead of failing on lock upgrade.
func Open(path string, logger *slog.Logger) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("open database: empty path")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(10000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &DB{db: db, log: logger}, nil
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Close closes the pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// SQL exposes the raw handle for tests and tooling.
func (d *DB) SQL() *sql.DB { return d.db }

// Tx is a write transaction scoped to one Transaction call.
type Tx struct {
	tx *sql.Tx
}

// Transaction runs fn inside a transaction, committing when fn returns nil
// and rolling back otherwise (panics included). Errors are translated.
func (d *DB) Transaction(ctx context.Context, fn func(*Tx) error) (err error) {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", translate(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
			return
		}
		if cerr := sqlTx.Commit(); cerr != nil {
			err = fmt.Errorf("commit transaction: %w", translate(cerr))
		}
	}()

	err = fn(&Tx{tx: sqlTx})
	return err
}

// IsUnavailable reports whether err means the store itself could not be
// reached, as opposed to rejecting a particular row.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, driver.ErrBadConn)
}

// translate maps driver errors onto the package sentinels while keeping the
// original error in the chain.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}

	switch se.Code() & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		msg := se.Error()
		switch {
		case strings.Contains(msg, "articles.url"):
			return fmt.Errorf("%w: %w", ErrDuplicateURL, err)
		case strings.Contains(msg, "articles.slug"):
			return fmt.Errorf("%w: %w", ErrDuplicateSlug, err)
		default:
			return fmt.Errorf("%w: %w", ErrConstraint, err)
		}
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR,
		sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_FULL, sqlite3.SQLITE_READONLY,
		sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
