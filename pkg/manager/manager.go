// Package manager binds settings and a store target to cached adapters.
//
// A Registry holds at most one open Manager per store target. A Manager
// hands out one Adapter per key/model type pair, built on first use from
// the manager's settings and shared afterwards:
//
//	m, err := manager.NewRegistry().Manager(ctx, settings, meta)
//	if err != nil {
//	    return err
//	}
//	people, err := manager.Acquire(m, &pb.PersonKey{}, &pb.Person{})
//
// Closing a manager closes its adapters, its store and its executor, and
// removes it from the registry.
package manager

import (
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/strata/pkg/adapter"
	"github.com/ajitpratap0/strata/pkg/cache"
	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/persistence"
	"github.com/ajitpratap0/strata/pkg/schema"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// Manager owns the store, executor and adapters for one store target.
type Manager struct {
	registry  *Registry
	target    string
	settings  config.Settings
	meta      *schema.Metadata
	store     columnar.Store
	exec      *persistence.Executor
	collector *metrics.Collector

	// mu orders acquisition against Close
	mu       sync.RWMutex
	closed   bool
	adapters sync.Map // fingerprint -> *adapter.Adapter[K, M]
	count    atomic.Int64

	logger *zap.Logger
}

func newManager(r *Registry, target string, settings config.Settings, meta *schema.Metadata, store columnar.Store) *Manager {
	collector := metrics.Disabled("manager")
	if settings.Observability.EnableMetrics {
		collector = metrics.NewCollector("manager")
	}
	return &Manager{
		registry:  r,
		target:    target,
		settings:  settings,
		meta:      meta,
		store:     store,
		exec:      persistence.NewExecutor(settings.Executor.MaxConcurrency),
		collector: collector,
		logger: logger.With(
			zap.String("component", "manager"),
			zap.String("target", target)),
	}
}

// Target returns the store target the manager is bound to.
func (m *Manager) Target() string { return m.target }

// Settings returns a copy of the manager's settings.
func (m *Manager) Settings() config.Settings { return m.settings }

// Metadata returns the schema metadata adapters are built with.
func (m *Manager) Metadata() *schema.Metadata { return m.meta }

// Store returns the backing store.
func (m *Manager) Store() columnar.Store { return m.store }

// Executor returns the shared execution resource.
func (m *Manager) Executor() *persistence.Executor { return m.exec }

// Len returns the number of cached adapters.
func (m *Manager) Len() int {
	return int(m.count.Load())
}

// Closed reports whether Close has been called.
func (m *Manager) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Fingerprint identifies a key/model pair by the full names of both schemas.
func Fingerprint(keyPrototype, modelPrototype proto.Message) string {
	return string(keyPrototype.ProtoReflect().Descriptor().FullName()) + "|" +
		string(modelPrototype.ProtoReflect().Descriptor().FullName())
}

// Acquire returns the adapter for the prototypes' key/model pair, building
// it on first use. Concurrent first calls for the same pair all receive the
// same adapter.
func Acquire[K, M proto.Message](m *Manager, keyPrototype K, modelPrototype M) (*adapter.Adapter[K, M], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.New(errors.ErrorTypeConnection, "manager is closed").WithDetail("target", m.target)
	}

	fp := Fingerprint(keyPrototype, modelPrototype)
	if v, ok := m.adapters.Load(fp); ok {
		return cached[K, M](v, fp)
	}

	a, err := build(m, keyPrototype, modelPrototype)
	if err != nil {
		return nil, err
	}
	v, loaded := m.adapters.LoadOrStore(fp, a)
	if loaded {
		_ = a.Close()
		return cached[K, M](v, fp)
	}

	m.collector.AdaptersCached(m.target, int(m.count.Add(1)))
	m.logger.Debug("adapter created", zap.String("fingerprint", fp))
	return a, nil
}

func cached[K, M proto.Message](v any, fp string) (*adapter.Adapter[K, M], error) {
	a, ok := v.(*adapter.Adapter[K, M])
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"adapter for %s was acquired with different Go message types", fp)
	}
	return a, nil
}

func build[K, M proto.Message](m *Manager, keyPrototype K, modelPrototype M) (*adapter.Adapter[K, M], error) {
	s := m.settings
	driver, err := columnar.NewDriver(m.store, m.meta, keyPrototype, modelPrototype, m.exec, s.Driver,
		columnar.WithCollector(m.collector),
		columnar.WithReadTimeout(s.Timeouts.Read))
	if err != nil {
		return nil, err
	}

	var c cache.Cache[K, M]
	if s.Cache.Enabled {
		opts, err := cache.OptionsFromConfig(s.Cache)
		if err != nil {
			return nil, err
		}
		mem, err := cache.NewMemory[K, M](m.meta, modelPrototype, append(opts, cache.WithCollector(m.collector))...)
		if err != nil {
			return nil, err
		}
		c = mem
	}

	return adapter.New[K, M](driver, c,
		adapter.WithTimeout(s.Timeouts.Operation),
		adapter.WithCacheTimeout(s.Timeouts.Cache),
		adapter.WithCollector(m.collector)), nil
}

type closer interface {
	Close() error
}

// Close closes every cached adapter, the store and the executor, then
// removes the manager from its registry. Further Acquire calls fail.
// Closing twice is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	var errs []error
	m.adapters.Range(func(k, v any) bool {
		if c, ok := v.(closer); ok {
			errs = append(errs, c.Close())
		}
		m.adapters.Delete(k)
		return true
	})
	m.count.Store(0)
	m.mu.Unlock()

	errs = append(errs, m.store.Close())
	m.exec.Close()
	m.collector.AdaptersCached(m.target, 0)
	if m.registry != nil {
		m.registry.deregister(m)
	}
	m.logger.Info("manager closed")
	return stderrors.Join(errs...)
}
