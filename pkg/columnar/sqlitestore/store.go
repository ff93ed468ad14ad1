// Package sqlitestore provides a SQLite-backed columnar.Store for durable
// single-node use. Every logical table shares one physical table whose rows
// hold a JSON envelope of typed columns.
//
// The store serves a single database; calls addressing another instance or
// database fail as unsupported, as do snapshot-bound reads.
package sqlitestore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const schemaDDL = `CREATE TABLE IF NOT EXISTS strata_rows (
  tbl          TEXT    NOT NULL,
  row_key      TEXT    NOT NULL,
  payload      BLOB    NOT NULL,
  committed_at INTEGER NOT NULL,
  PRIMARY KEY (tbl, row_key)
)`

// Option configures a Store.
type Option func(*Store)

// WithDatabase names the database the file serves. Calls naming a
// different database are rejected.
func WithDatabase(name string) Option {
	return func(s *Store) { s.database = name }
}

// WithClock sets the commit clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store persists rows in SQLite.
type Store struct {
	sqlDB    *sql.DB
	path     string
	database string
	now      func() time.Time
	logger   *zap.Logger
}

var _ columnar.Store = (*Store)(nil)

// Open opens the SQLite file at path, creating the row table if needed.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "sqlite path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "open sqlite db")
	}
	// One writer at a time keeps read-modify-write merges serialized.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "ping sqlite db")
	}
	if _, err := sqlDB.Exec(schemaDDL); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "create row table")
	}

	s := &Store{
		sqlDB: sqlDB,
		path:  cleanPath,
		now:   time.Now,
		logger: logger.With(
			zap.String("component", "sqlite_store"),
			zap.String("path", cleanPath)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Info("opened sqlite store")
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) checkTarget(t columnar.Target) error {
	if t.Instance != "" {
		return errors.Unsupported("instance addressing on the sqlite store").WithDetail("instance", t.Instance)
	}
	if t.Database != "" && t.Database != s.database {
		return errors.Unsupported("addressing other databases on the sqlite store").WithDetail("database", t.Database)
	}
	return nil
}

// ReadRow implements columnar.Store.
func (s *Store) ReadRow(ctx context.Context, table, keyColumn string, key columnar.Value, opts columnar.ReadOptions) (columnar.Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return columnar.Row{}, false, err
	}
	if err := s.checkTarget(opts.Target); err != nil {
		return columnar.Row{}, false, err
	}
	if opts.Bound.Kind != columnar.BoundStrong {
		return columnar.Row{}, false, errors.Unsupported("snapshot-bound reads on the sqlite store")
	}
	k, err := columnar.KeyString(key)
	if err != nil {
		return columnar.Row{}, false, err
	}

	var payload []byte
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT payload FROM strata_rows WHERE tbl = ? AND row_key = ?`, table, k).Scan(&payload)
	if stderrors.Is(err, sql.ErrNoRows) {
		return columnar.Row{}, false, nil
	}
	if err != nil {
		return columnar.Row{}, false, fmt.Errorf("read row: %w", err)
	}
	row, err := decodeRow(payload)
	if err != nil {
		return columnar.Row{}, false, errors.Wrap(err, errors.ErrorTypeData, "corrupt row payload").
			WithDetail("table", table)
	}
	if len(opts.Columns) > 0 {
		names := make(map[string]struct{}, len(opts.Columns)+1)
		for _, c := range opts.Columns {
			names[c] = struct{}{}
		}
		names[keyColumn] = struct{}{}
		row = row.Project(names)
	}
	return row, true, nil
}

// Apply implements columnar.Store. All mutations commit in one transaction.
func (s *Store) Apply(ctx context.Context, target columnar.Target, mutations []columnar.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkTarget(target); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	at := s.now().UTC().UnixNano()
	for _, m := range mutations {
		if err := s.apply(ctx, tx, m, at); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("applied mutations", zap.Int("count", len(mutations)))
	return nil
}

func (s *Store) apply(ctx context.Context, tx *sql.Tx, m columnar.Mutation, at int64) error {
	k, err := columnar.KeyString(m.Key)
	if err != nil {
		return err
	}

	if m.Op == columnar.OpDelete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM strata_rows WHERE tbl = ? AND row_key = ?`, m.Table, k); err != nil {
			return fmt.Errorf("delete %s: %w", m.Table, err)
		}
		return nil
	}

	if m.Op == columnar.OpInsert {
		payload, err := encodeRow(merge(columnar.Row{}, m))
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "encode row")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO strata_rows (tbl, row_key, payload, committed_at) VALUES (?, ?, ?, ?)`,
			m.Table, k, payload, at)
		if isUniqueViolation(err) {
			return fmt.Errorf("insert %s: %w", m.Table, columnar.ErrRowExists)
		}
		if err != nil {
			return fmt.Errorf("insert %s: %w", m.Table, err)
		}
		return nil
	}

	var existing []byte
	err = tx.QueryRowContext(ctx,
		`SELECT payload FROM strata_rows WHERE tbl = ? AND row_key = ?`, m.Table, k).Scan(&existing)
	var current columnar.Row
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		if m.Op == columnar.OpUpdate {
			return fmt.Errorf("update %s: %w", m.Table, columnar.ErrRowNotFound)
		}
	case err != nil:
		return fmt.Errorf("read %s: %w", m.Table, err)
	default:
		if current, err = decodeRow(existing); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "corrupt row payload").WithDetail("table", m.Table)
		}
	}

	payload, err := encodeRow(merge(current, m))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "encode row")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO strata_rows (tbl, row_key, payload, committed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tbl, row_key) DO UPDATE SET payload = excluded.payload, committed_at = excluded.committed_at`,
		m.Table, k, payload, at)
	if err != nil {
		return fmt.Errorf("write %s: %w", m.Table, err)
	}
	return nil
}

// merge overlays the mutation's columns on the current row. Columns the
// mutation does not name keep their values.
func merge(current columnar.Row, m columnar.Mutation) columnar.Row {
	for _, c := range m.Row.Columns {
		current.Set(c.Name, c.Value)
	}
	current.Set(m.KeyColumn, m.Key)
	return current
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if stderrors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
