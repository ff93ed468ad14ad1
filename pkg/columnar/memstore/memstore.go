// Package memstore is an in-process columnar.Store. Rows are versioned by
// commit time so snapshot-bound reads see the data as of their bound.
// Writes follow insert-or-update column semantics: columns a mutation does
// not name keep their previous values.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"go.uber.org/zap"
)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the commit clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithDefaultTarget sets the instance and database used when a call does
// not name one.
func WithDefaultTarget(t columnar.Target) Option {
	return func(s *Store) { s.defaults = t }
}

type version struct {
	at      time.Time
	row     columnar.Row
	deleted bool
}

// Store keeps every table in memory.
type Store struct {
	mu       sync.RWMutex
	tables   map[string]map[string][]version
	now      func() time.Time
	defaults columnar.Target
	closed   bool
	logger   *zap.Logger
}

var _ columnar.Store = (*Store)(nil)

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		tables: make(map[string]map[string][]version),
		now:    time.Now,
		logger: logger.With(zap.String("component", "memstore")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) tableName(target columnar.Target, table string) string {
	if target.Instance == "" {
		target.Instance = s.defaults.Instance
	}
	if target.Database == "" {
		target.Database = s.defaults.Database
	}
	return target.Instance + "/" + target.Database + "/" + table
}

var errClosed = errors.New(errors.ErrorTypeConnection, "store is closed")

// ReadRow implements columnar.Store.
func (s *Store) ReadRow(ctx context.Context, table, keyColumn string, key columnar.Value, opts columnar.ReadOptions) (columnar.Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return columnar.Row{}, false, err
	}
	k, err := columnar.KeyString(key)
	if err != nil {
		return columnar.Row{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return columnar.Row{}, false, errClosed
	}

	versions := s.tables[s.tableName(opts.Target, table)][k]
	at := opts.Bound.At(s.now())
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		if !at.IsZero() && v.at.After(at) {
			continue
		}
		if v.deleted {
			return columnar.Row{}, false, nil
		}
		row := v.row.Clone()
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
	return columnar.Row{}, false, nil
}

// Apply implements columnar.Store. Preconditions of every mutation are
// checked before any is applied.
func (s *Store) Apply(ctx context.Context, target columnar.Target, mutations []columnar.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	keys := make([]string, len(mutations))
	for i, m := range mutations {
		k, err := columnar.KeyString(m.Key)
		if err != nil {
			return err
		}
		keys[i] = k
		exists := s.exists(s.tableName(target, m.Table), k)
		switch {
		case m.Op == columnar.OpInsert && exists:
			return fmt.Errorf("insert %s: %w", m.Table, columnar.ErrRowExists)
		case m.Op == columnar.OpUpdate && !exists:
			return fmt.Errorf("update %s: %w", m.Table, columnar.ErrRowNotFound)
		}
	}

	at := s.now()
	for i, m := range mutations {
		name := s.tableName(target, m.Table)
		rows, ok := s.tables[name]
		if !ok {
			rows = make(map[string][]version)
			s.tables[name] = rows
		}
		next := version{at: at, deleted: m.Op == columnar.OpDelete}
		if !next.deleted {
			next.row = s.merge(rows[keys[i]], m)
		}
		rows[keys[i]] = append(rows[keys[i]], next)
	}
	s.logger.Debug("applied mutations", zap.Int("count", len(mutations)))
	return nil
}

func (s *Store) exists(table, key string) bool {
	versions := s.tables[table][key]
	return len(versions) > 0 && !versions[len(versions)-1].deleted
}

func (s *Store) merge(versions []version, m columnar.Mutation) columnar.Row {
	var row columnar.Row
	if n := len(versions); n > 0 && !versions[n-1].deleted {
		row = versions[n-1].row.Clone()
	}
	for _, c := range m.Row.Clone().Columns {
		row.Set(c.Name, c.Value)
	}
	row.Set(m.KeyColumn, m.Key)
	return row
}

// Len returns the number of live rows in a table.
func (s *Store) Len(target columnar.Target, table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.tables[s.tableName(target, table)] {
		if s.exists(s.tableName(target, table), k) {
			n++
		}
	}
	return n
}

// Close drops every table. Later calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.tables = nil
	return nil
}
