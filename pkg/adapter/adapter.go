// Package adapter composes a durable driver with an optional read-through
// cache.
//
// Reads consult the cache first, bounded by a short cache timeout that never
// cancels the outstanding lookup. A hit is returned without touching the
// store; a miss, timeout or cache error falls back to the driver and the
// result is written back to the cache in the background. Writes go to the
// driver only, so a cached entry may be stale until it expires or is
// evicted. Deletes remove the durable record and the cached entry
// concurrently.
package adapter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/strata/pkg/cache"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/persistence"
	"github.com/ajitpratap0/strata/pkg/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/proto"
)

// Option configures an Adapter.
type Option func(*options)

type options struct {
	timeout      time.Duration
	cacheTimeout time.Duration
	collector    *metrics.Collector
}

// WithTimeout sets the default bound for synchronous operations.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithCacheTimeout sets the bound used when a fetch does not carry its own.
func WithCacheTimeout(d time.Duration) Option {
	return func(o *options) { o.cacheTimeout = d }
}

// WithCollector records operation and cache metrics through c.
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// Adapter is the operation surface for one key/model pair. It embeds the
// persistence Engine, so Fetch, Create, Update, Persist and Delete are all
// available directly.
type Adapter[K, M proto.Message] struct {
	*persistence.Engine[K, M]
	cached *cachedDriver[K, M]
}

// New composes driver with c. A nil cache disables caching entirely.
func New[K, M proto.Message](driver persistence.Driver[K, M], c cache.Cache[K, M], opts ...Option) *Adapter[K, M] {
	o := options{
		timeout:      persistence.DefaultOperationTimeout,
		cacheTimeout: persistence.DefaultCacheTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.collector == nil {
		o.collector = metrics.Disabled("adapter")
	}

	model := string(driver.ModelPrototype().ProtoReflect().Descriptor().FullName())
	cd := &cachedDriver[K, M]{
		driver:       driver,
		cache:        c,
		model:        model,
		cacheTimeout: o.cacheTimeout,
		collector:    o.collector,
		tracer:       observability.NewModelTracer("adapter", model),
		logger:       logger.With(zap.String("component", "adapter")),
	}
	return &Adapter[K, M]{
		Engine: persistence.NewEngine[K, M](cd, o.timeout),
		cached: cd,
	}
}

// Cache returns the cache collaborator, or nil when caching is off.
func (a *Adapter[K, M]) Cache() cache.Cache[K, M] {
	return a.cached.cache
}

// Durable returns the wrapped durable driver.
func (a *Adapter[K, M]) Durable() persistence.Driver[K, M] {
	return a.cached.driver
}

// Flush drops every cached entry. It is a no-op without a cache.
func (a *Adapter[K, M]) Flush(ctx context.Context) (int, error) {
	if a.cached.cache == nil {
		return 0, nil
	}
	return persistence.Wait(ctx, a.cached.cache.Flush(ctx, a.cached.Executor()), a.cached.cacheTimeout)
}

// EvictAll drops the cached entries for keys.
func (a *Adapter[K, M]) EvictAll(ctx context.Context, keys []K) (int, error) {
	if a.cached.cache == nil {
		return 0, nil
	}
	return persistence.Wait(ctx, a.cached.cache.EvictAll(ctx, keys, a.cached.Executor()), a.cached.cacheTimeout)
}

// Close rejects further operations. Operations already started complete.
func (a *Adapter[K, M]) Close() error {
	if a.cached.closed.Swap(true) {
		return nil
	}
	a.cached.logger.Debug("adapter closed", zap.String("model", a.cached.model))
	return nil
}

// Closed reports whether Close has been called.
func (a *Adapter[K, M]) Closed() bool {
	return a.cached.closed.Load()
}

// cachedDriver is the Driver the Engine runs on: the durable driver plus the
// cache, metrics and spans.
type cachedDriver[K, M proto.Message] struct {
	driver       persistence.Driver[K, M]
	cache        cache.Cache[K, M]
	model        string
	cacheTimeout time.Duration
	collector    *metrics.Collector
	tracer       *observability.ModelTracer
	logger       *zap.Logger
	closed       atomic.Bool
}

var errClosed = errors.New(errors.ErrorTypeInternal, "adapter is closed")

func (d *cachedDriver[K, M]) Metadata() *schema.Metadata      { return d.driver.Metadata() }
func (d *cachedDriver[K, M]) Executor() *persistence.Executor { return d.driver.Executor() }
func (d *cachedDriver[K, M]) KeyPrototype() K                 { return d.driver.KeyPrototype() }
func (d *cachedDriver[K, M]) ModelPrototype() M               { return d.driver.ModelPrototype() }

// track ends the span and records metrics once f completes.
func track[T any](f *persistence.Future[T], finish func(error)) *persistence.Future[T] {
	f.OnComplete(func(_ T, err error) { finish(err) })
	return f
}

func (d *cachedDriver[K, M]) begin(ctx context.Context, op string) (context.Context, *observability.Span, func(error)) {
	timer := metrics.NewTimer()
	ctx = logger.ContextWithOperation(ctx, d.model, op)
	ctx, span := d.tracer.StartSpan(ctx, op)
	return ctx, span, func(err error) {
		d.collector.ObserveOperation(op, d.model, timer.Stop(), err)
		span.Finish(err)
	}
}

func (d *cachedDriver[K, M]) useCache(enabled bool) bool {
	return d.cache != nil && enabled
}

// Retrieve reads through the cache.
func (d *cachedDriver[K, M]) Retrieve(ctx context.Context, key K, opts persistence.FetchOptions) *persistence.Future[persistence.Optional[M]] {
	if d.closed.Load() {
		return persistence.Failed[persistence.Optional[M]](errClosed)
	}
	ctx, span, finish := d.begin(ctx, "retrieve")
	if !d.useCache(opts.CacheEnabled) {
		return track(d.driver.Retrieve(ctx, key, opts), finish)
	}
	return track(persistence.Compose(ctx, func(ctx context.Context) (persistence.Optional[M], error) {
		if hit, ok := d.lookup(ctx, key, opts); ok {
			span.SetAttribute("strata.cache", metrics.CacheHit)
			return persistence.Some(hit), nil
		}

		found, err := d.driver.Retrieve(ctx, key, opts).Get(ctx)
		if err != nil {
			return found, err
		}
		if model, ok := found.Get(); ok {
			if !opts.Cacheable() {
				span.AddEvent("cache.backfill_skipped", attribute.String("strata.reason", "partial read"))
				return found, nil
			}
			span.AddEvent("cache.backfill")
			d.backfill(ctx, key, model, opts)
		}
		return found, nil
	}), finish)
}

// lookup waits up to the cache timeout for a cached model. The lookup runs
// detached from ctx so that giving up on it never cancels it.
func (d *cachedDriver[K, M]) lookup(ctx context.Context, key K, opts persistence.FetchOptions) (M, bool) {
	var zero M
	timeout := opts.CacheTimeout
	if timeout <= 0 {
		timeout = d.cacheTimeout
	}

	found, err := d.cache.FetchCached(context.WithoutCancel(ctx), key, opts, d.Executor()).Await(timeout)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		d.collector.CacheLookup(d.model, metrics.CacheTimeout)
		logger.Annotate(d.logger, ctx).Debug("cache lookup timed out, falling back to store", zap.Duration("timeout", timeout))
		return zero, false
	case err != nil:
		d.collector.CacheLookup(d.model, metrics.CacheError)
		logger.Annotate(d.logger, ctx).Warn("cache lookup failed, falling back to store", zap.Error(err))
		return zero, false
	}
	model, ok := found.Get()
	if !ok {
		d.collector.CacheLookup(d.model, metrics.CacheMiss)
		return zero, false
	}
	d.collector.CacheLookup(d.model, metrics.CacheHit)
	return model, true
}

// backfill writes model into the cache without waiting. Failures are
// logged and dropped.
func (d *cachedDriver[K, M]) backfill(ctx context.Context, key K, model M, opts persistence.FetchOptions) {
	d.cache.InjectRecord(context.WithoutCancel(ctx), key, model, opts, d.Executor()).
		OnComplete(func(_ struct{}, err error) {
			d.collector.CacheBackfill(d.model, err)
			if err != nil {
				logger.Annotate(d.logger, ctx).Warn("cache backfill failed", zap.Error(err))
			}
		})
}

// Persist writes through to the durable driver only.
func (d *cachedDriver[K, M]) Persist(ctx context.Context, key K, model M, opts persistence.WriteOptions) *persistence.Future[M] {
	if d.closed.Load() {
		return persistence.Failed[M](errClosed)
	}
	ctx, span, finish := d.begin(ctx, "persist")
	span.SetAttribute("strata.disposition", string(opts.EffectiveDisposition()))
	return track(d.driver.Persist(ctx, key, model, opts), finish)
}

// Delete removes the durable record and, when caching is on, evicts the
// cached entry at the same time. It completes once both have finished.
func (d *cachedDriver[K, M]) Delete(ctx context.Context, key K, opts persistence.DeleteOptions) *persistence.Future[K] {
	if d.closed.Load() {
		return persistence.Failed[K](errClosed)
	}
	ctx, span, finish := d.begin(ctx, "delete")
	if !d.useCache(opts.CacheEnabled) {
		return track(d.driver.Delete(ctx, key, opts), finish)
	}
	return track(persistence.Compose(ctx, func(ctx context.Context) (K, error) {
		var (
			g   errgroup.Group
			out K
		)
		g.Go(func() error {
			k, err := d.driver.Delete(ctx, key, opts).Get(ctx)
			out = k
			return err
		})
		g.Go(func() error {
			evicted, err := d.cache.Evict(ctx, key, d.Executor()).Get(ctx)
			if err == nil {
				span.AddEvent("cache.evict", attribute.Bool("strata.evicted", evicted))
			}
			return err
		})
		if err := g.Wait(); err != nil {
			return out, err
		}
		return out, nil
	}), finish)
}
