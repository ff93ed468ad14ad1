// Package spannerstore provides a columnar.Store backed by Cloud Spanner.
//
// Clients are opened lazily, one per database path, so calls addressing a
// different instance or database through columnar.Options reuse a shared
// client for that target. Point reads honor every snapshot bound; a batch
// of mutations is committed with a single Apply.
package spannerstore

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/spanner"
	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

// Option configures a Store.
type Option func(*Store)

// WithClientOptions appends options used for every client the store opens.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *Store) { s.clientOpts = append(s.clientOpts, opts...) }
}

// Store reads and writes rows through Spanner clients.
type Store struct {
	project    string
	defaults   columnar.Target
	clientOpts []option.ClientOption

	mu      sync.Mutex
	clients map[string]*spanner.Client
	closed  bool

	logger *zap.Logger
}

var _ columnar.Store = (*Store)(nil)

// Open validates cfg and returns a store. No connection is made until the
// first call addressing a database.
func Open(cfg config.StoreConfig, opts ...Option) (*Store, error) {
	if cfg.Project == "" || cfg.Instance == "" || cfg.Database == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "spanner store requires project, instance and database").
			WithDetail("target", cfg.Target())
	}
	s := &Store{
		project:  cfg.Project,
		defaults: columnar.Target{Instance: cfg.Instance, Database: cfg.Database},
		clients:  make(map[string]*spanner.Client),
		logger: logger.With(
			zap.String("component", "spanner_store"),
			zap.String("project", cfg.Project)),
	}
	if cfg.Endpoint != "" {
		s.clientOpts = append(s.clientOpts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.CredentialsFile != "" {
		s.clientOpts = append(s.clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DatabasePath resolves target against the store's defaults.
func (s *Store) DatabasePath(target columnar.Target) string {
	instance, database := target.Instance, target.Database
	if instance == "" {
		instance = s.defaults.Instance
	}
	if database == "" {
		database = s.defaults.Database
	}
	return fmt.Sprintf("projects/%s/instances/%s/databases/%s", s.project, instance, database)
}

func (s *Store) client(ctx context.Context, target columnar.Target) (*spanner.Client, error) {
	path := s.DatabasePath(target)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New(errors.ErrorTypeConnection, "spanner store is closed")
	}
	if c, ok := s.clients[path]; ok {
		return c, nil
	}
	// The client outlives the call that opened it.
	c, err := spanner.NewClient(context.WithoutCancel(ctx), path, s.clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "open spanner client").WithDetail("database", path)
	}
	s.clients[path] = c
	s.logger.Info("opened spanner client", zap.String("database", path))
	return c, nil
}

func timestampBound(b columnar.SnapshotBound) spanner.TimestampBound {
	switch b.Kind {
	case columnar.BoundExactStaleness:
		return spanner.ExactStaleness(b.Staleness)
	case columnar.BoundReadTimestamp:
		return spanner.ReadTimestamp(b.Timestamp)
	}
	return spanner.StrongRead()
}

func spannerKey(key columnar.Value) (spanner.Key, error) {
	switch k := key.V.(type) {
	case string, int64:
		return spanner.Key{k}, nil
	}
	return nil, errors.Newf(errors.ErrorTypeValidation, "unsupported key value %T", key.V)
}

// ReadRow implements columnar.Store.
func (s *Store) ReadRow(ctx context.Context, table, keyColumn string, key columnar.Value, opts columnar.ReadOptions) (columnar.Row, bool, error) {
	k, err := spannerKey(key)
	if err != nil {
		return columnar.Row{}, false, err
	}
	c, err := s.client(ctx, opts.Target)
	if err != nil {
		return columnar.Row{}, false, err
	}

	columns := opts.Columns
	if !contains(columns, keyColumn) {
		columns = append([]string{keyColumn}, columns...)
	}
	r, err := c.Single().WithTimestampBound(timestampBound(opts.Bound)).ReadRow(ctx, table, k, columns)
	if spanner.ErrCode(err) == codes.NotFound {
		return columnar.Row{}, false, nil
	}
	if err != nil {
		return columnar.Row{}, false, fmt.Errorf("read %s: %w", table, err)
	}

	var row columnar.Row
	for i, name := range r.ColumnNames() {
		var gcv spanner.GenericColumnValue
		if err := r.Column(i, &gcv); err != nil {
			return columnar.Row{}, false, fmt.Errorf("read %s.%s: %w", table, name, err)
		}
		v, err := fromGeneric(gcv)
		if err != nil {
			return columnar.Row{}, false, errors.Wrap(err, errors.ErrorTypeData, "decode column").
				WithDetail("column", name)
		}
		row.Set(name, v)
	}
	return row, true, nil
}

// Apply implements columnar.Store.
func (s *Store) Apply(ctx context.Context, target columnar.Target, mutations []columnar.Mutation) error {
	c, err := s.client(ctx, target)
	if err != nil {
		return err
	}
	ms := make([]*spanner.Mutation, 0, len(mutations))
	for _, m := range mutations {
		sm, err := toMutation(m)
		if err != nil {
			return err
		}
		ms = append(ms, sm)
	}

	_, err = c.Apply(ctx, ms)
	switch spanner.ErrCode(err) {
	case codes.OK:
		s.logger.Debug("applied mutations", zap.Int("count", len(mutations)))
		return nil
	case codes.AlreadyExists:
		return fmt.Errorf("apply: %w: %v", columnar.ErrRowExists, err)
	case codes.NotFound:
		return fmt.Errorf("apply: %w: %v", columnar.ErrRowNotFound, err)
	}
	return fmt.Errorf("apply: %w", err)
}

func toMutation(m columnar.Mutation) (*spanner.Mutation, error) {
	k, err := spannerKey(m.Key)
	if err != nil {
		return nil, err
	}
	if m.Op == columnar.OpDelete {
		return spanner.Delete(m.Table, k), nil
	}

	cols := []string{m.KeyColumn}
	vals := []any{k[0]}
	for _, c := range m.Row.Columns {
		if c.Name == m.KeyColumn {
			continue
		}
		gcv, err := toGeneric(c.Value)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "encode column").WithDetail("column", c.Name)
		}
		cols = append(cols, c.Name)
		vals = append(vals, gcv)
	}

	switch m.Op {
	case columnar.OpInsert:
		return spanner.Insert(m.Table, cols, vals), nil
	case columnar.OpUpdate:
		return spanner.Update(m.Table, cols, vals), nil
	}
	return spanner.InsertOrUpdate(m.Table, cols, vals), nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// Close closes every client the store opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for path, c := range s.clients {
		c.Close()
		delete(s.clients, path)
	}
	return nil
}
