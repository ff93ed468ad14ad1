package manager

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/columnar/memstore"
	"github.com/ajitpratap0/strata/pkg/columnar/spannerstore"
	"github.com/ajitpratap0/strata/pkg/columnar/sqlitestore"
	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/schema"
	"go.uber.org/zap"
)

// StoreOpener opens the store described by cfg.
type StoreOpener func(ctx context.Context, cfg config.StoreConfig) (columnar.Store, error)

// Registry maps store targets to their managers and store kinds to the
// openers that build them. There is no process-wide instance: create one at
// the composition root and pass it to whatever needs managers.
type Registry struct {
	openers  map[string]StoreOpener
	managers map[string]*Manager
	mu       sync.RWMutex
	tracing  sync.Once
	logger   *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithOpener replaces the opener used for a store kind.
func WithOpener(kind string, opener StoreOpener) RegistryOption {
	return func(r *Registry) { r.openers[kind] = opener }
}

// NewRegistry creates a registry with the memory, sqlite and spanner
// openers registered.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		openers:  make(map[string]StoreOpener),
		managers: make(map[string]*Manager),
		logger:   logger.Get().With(zap.String("component", "manager_registry")),
	}
	r.openers[config.StoreMemory] = openMemory
	r.openers[config.StoreSQLite] = openSQLite
	r.openers[config.StoreSpanner] = openSpanner
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func openMemory(_ context.Context, cfg config.StoreConfig) (columnar.Store, error) {
	return memstore.New(memstore.WithDefaultTarget(columnar.Target{Instance: cfg.Instance, Database: cfg.Database})), nil
}

func openSQLite(_ context.Context, cfg config.StoreConfig) (columnar.Store, error) {
	return sqlitestore.Open(cfg.SQLitePath, sqlitestore.WithDatabase(cfg.Database))
}

func openSpanner(_ context.Context, cfg config.StoreConfig) (columnar.Store, error) {
	return spannerstore.Open(cfg)
}

// Manager returns the open manager for settings' store target, creating it
// when none exists. meta is used only when a manager is created.
func (r *Registry) Manager(ctx context.Context, settings config.Settings, meta *schema.Metadata) (*Manager, error) {
	if err := settings.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid settings")
	}
	target := settings.Store.Target()

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[target]; ok {
		if !reflect.DeepEqual(m.settings, settings) {
			r.logger.Warn("settings differ from the open manager", zap.String("target", target))
			return nil, errors.New(errors.ErrorTypeConflict,
				fmt.Sprintf("manager for %s is already open with different settings", target))
		}
		return m, nil
	}
	opener, ok := r.openers[settings.Store.Kind]
	if !ok {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("store kind %s not registered", settings.Store.Kind))
	}
	store, err := opener(ctx, settings.Store)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to open store %s", target))
	}

	if settings.Observability.EnableTracing {
		r.tracing.Do(func() { r.initTracing(settings.Observability) })
	}

	m := newManager(r, target, settings, meta, store)
	r.managers[target] = m
	r.logger.Info("manager registered", zap.String("target", target))
	return m, nil
}

// initTracing installs the stdout tracer provider the first time a manager
// is opened with tracing enabled. Failure leaves spans on the no-op provider.
func (r *Registry) initTracing(cfg config.ObservabilityConfig) {
	tc := observability.DefaultConfig()
	tc.SamplingRate = cfg.TracingSampleRate
	if _, err := observability.Initialize(tc); err != nil {
		r.logger.Warn("tracing disabled", zap.Error(err))
		return
	}
	r.logger.Info("tracing enabled", zap.Float64("sample_rate", cfg.TracingSampleRate))
}

// Lookup returns the open manager for target, if any.
func (r *Registry) Lookup(target string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[target]
	return m, ok
}

// Targets lists the targets with an open manager.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]string, 0, len(r.managers))
	for target := range r.managers {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

// deregister removes m if it is still the manager for its target.
func (r *Registry) deregister(m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.managers[m.target] == m {
		delete(r.managers, m.target)
		r.logger.Info("manager deregistered", zap.String("target", m.target))
	}
}
