package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/strata/pkg/codec"
	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/persistence"
	"github.com/ajitpratap0/strata/pkg/schema"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// DefaultMaxBytes caps an in-memory cache when no size is configured.
const DefaultMaxBytes = 64 << 20

// Option configures a Memory cache.
type Option func(*options)

type options struct {
	maxBytes   int64
	compressor compression.Compressor
	mode       codec.Mode
	eviction   persistence.EvictionMode
	collector  *metrics.Collector
	now        func() time.Time
}

// WithMaxBytes caps the total size of stored payloads.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithCompressor sets the payload compressor.
func WithCompressor(c compression.Compressor) Option {
	return func(o *options) { o.compressor = c }
}

// WithEncoding sets the record encoding.
func WithEncoding(mode codec.Mode) Option {
	return func(o *options) { o.mode = mode }
}

// WithEviction selects which entry is dropped when the cache is full.
func WithEviction(mode persistence.EvictionMode) Option {
	return func(o *options) { o.eviction = mode }
}

// WithCollector publishes cache size metrics through c.
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithClock replaces the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// OptionsFromConfig translates cache settings into options.
func OptionsFromConfig(cfg config.CacheConfig) ([]Option, error) {
	algo, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid cache compression")
	}
	comp, err := compression.NewCompressor(&compression.Config{
		Algorithm:      algo,
		Level:          compression.Default,
		MaxDecodedSize: compression.DefaultMaxDecodedSize,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid cache compression")
	}
	mode, err := codec.ParseMode(cfg.Encoding)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid cache encoding")
	}
	eviction, err := ParseEviction(cfg.Eviction)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithMaxBytes(cfg.MaxBytes),
		WithCompressor(comp),
		WithEncoding(mode),
		WithEviction(eviction),
	}, nil
}

// ParseEviction maps a configured name (ttl, lru, lfu) to an EvictionMode.
func ParseEviction(name string) (persistence.EvictionMode, error) {
	switch name {
	case "", "ttl", "TTL":
		return persistence.EvictionTTL, nil
	case "lru", "LRU":
		return persistence.EvictionLRU, nil
	case "lfu", "LFU":
		return persistence.EvictionLFU, nil
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "unknown eviction mode: %s", name)
}

type entry struct {
	key     string
	record  codec.EncodedRecord
	ttl     time.Duration
	sliding bool
	expires time.Time
	uses    int64
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Memory is an in-process cache of compressed encoded records, bounded in
// bytes. Entries expire after their TTL; entries injected with LRU eviction
// have their TTL renewed on every hit. When full, the configured eviction
// mode picks the victim: least recently used, least frequently used, or
// soonest to expire.
type Memory[K, M proto.Message] struct {
	meta   *schema.Metadata
	codec  *codec.ProtoCodec[M]
	opts   options
	logger *zap.Logger

	mu    sync.Mutex
	size  int64
	items map[string]*list.Element
	order *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Cache[proto.Message, proto.Message] = (*Memory[proto.Message, proto.Message])(nil)

// NewMemory creates a cache for models shaped like prototype.
func NewMemory[K, M proto.Message](meta *schema.Metadata, prototype M, opts ...Option) (*Memory[K, M], error) {
	o := options{
		maxBytes: DefaultMaxBytes,
		mode:     codec.ModeBinary,
		eviction: persistence.EvictionTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxBytes <= 0 {
		o.maxBytes = DefaultMaxBytes
	}
	if o.compressor == nil {
		comp, err := compression.NewCompressor(compression.DefaultConfig())
		if err != nil {
			return nil, err
		}
		o.compressor = comp
	}
	if o.collector == nil {
		o.collector = metrics.Disabled("cache")
	}

	typeName := string(prototype.ProtoReflect().Descriptor().FullName())
	return &Memory[K, M]{
		meta:  meta,
		codec: codec.NewProtoCodec(prototype, o.mode),
		opts:  o,
		logger: logger.With(
			zap.String("component", "memory_cache"),
			zap.String("model", typeName)),
		items: make(map[string]*list.Element),
		order: list.New(),
	}, nil
}

func (c *Memory[K, M]) cacheKey(key K) (string, error) {
	if !schema.Present(key) {
		return "", errors.New(errors.ErrorTypeValidation, "Cannot cache under an empty key.")
	}
	id, ok, err := c.meta.ID(key)
	if err != nil {
		return "", err
	}
	if !ok || !schema.PopulatedID(id) {
		return "", errors.Newf(errors.ErrorTypeValidation,
			"Cannot cache under key of type '%s' without an ID value.", key.ProtoReflect().Descriptor().FullName())
	}
	return c.codec.TypeName() + "/" + schema.IDString(id), nil
}

// InjectRecord encodes, compresses and stores value under key. Values larger
// than the whole cache are dropped silently.
func (c *Memory[K, M]) InjectRecord(ctx context.Context, key K, value M, opts persistence.FetchOptions, ex *persistence.Executor) *persistence.Future[struct{}] {
	return submit(ctx, ex, func(context.Context) (struct{}, error) {
		k, err := c.cacheKey(key)
		if err != nil {
			return struct{}{}, err
		}
		record, err := c.codec.Serialize(value)
		if err != nil {
			return struct{}{}, err
		}
		record.Data, err = c.opts.compressor.Compress(record.Data)
		if err != nil {
			return struct{}{}, errors.ModelDeflate(err)
		}
		c.store(k, record, opts)
		return struct{}{}, nil
	})
}

func (c *Memory[K, M]) store(k string, record codec.EncodedRecord, opts persistence.FetchOptions) {
	itemSize := int64(record.Size())
	if itemSize > c.opts.maxBytes {
		c.logger.Debug("record larger than cache, not stored", zap.String("key", k), zap.Int64("bytes", itemSize))
		return
	}

	now := c.opts.now()
	e := &entry{
		key:     k,
		record:  record,
		ttl:     opts.CacheTTL,
		sliding: opts.Eviction == persistence.EvictionLRU,
	}
	if e.ttl > 0 {
		e.expires = now.Add(e.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[k]; ok {
		c.removeElement(el)
	}
	for c.size+itemSize > c.opts.maxBytes && c.order.Len() > 0 {
		c.removeElement(c.victim(now))
	}
	c.items[k] = c.order.PushFront(e)
	c.size += itemSize
	c.publish()
}

// victim picks the entry to drop when full. Expired entries always go first.
func (c *Memory[K, M]) victim(now time.Time) *list.Element {
	var pick *list.Element
	for el := c.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.expired(now) {
			return el
		}
		if pick == nil {
			pick = el
			continue
		}
		p := pick.Value.(*entry)
		switch c.opts.eviction {
		case persistence.EvictionLFU:
			if e.uses < p.uses {
				pick = el
			}
		case persistence.EvictionTTL:
			if !e.expires.IsZero() && (p.expires.IsZero() || e.expires.Before(p.expires)) {
				pick = el
			}
		}
	}
	return pick
}

// FetchCached returns the model cached under key, if present and unexpired.
func (c *Memory[K, M]) FetchCached(ctx context.Context, key K, _ persistence.FetchOptions, ex *persistence.Executor) *persistence.Future[persistence.Optional[M]] {
	return submit(ctx, ex, func(context.Context) (persistence.Optional[M], error) {
		k, err := c.cacheKey(key)
		if err != nil {
			return persistence.None[M](), err
		}
		record, ok := c.lookup(k)
		if !ok {
			c.misses.Add(1)
			return persistence.None[M](), nil
		}
		c.hits.Add(1)

		data, err := c.opts.compressor.Decompress(record.Data)
		if err != nil {
			return persistence.None[M](), errors.ModelInflate(err)
		}
		record.Data = data
		model, err := c.codec.Deserialize(record)
		if err != nil {
			return persistence.None[M](), err
		}
		return persistence.Some(model), nil
	})
}

func (c *Memory[K, M]) lookup(k string) (codec.EncodedRecord, bool) {
	now := c.opts.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[k]
	if !ok {
		return codec.EncodedRecord{}, false
	}
	e := el.Value.(*entry)
	if e.expired(now) {
		c.removeElement(el)
		c.publish()
		return codec.EncodedRecord{}, false
	}
	e.uses++
	if e.sliding && e.ttl > 0 {
		e.expires = now.Add(e.ttl)
	}
	c.order.MoveToFront(el)
	return e.record, true
}

// Evict removes the entry under key.
func (c *Memory[K, M]) Evict(ctx context.Context, key K, ex *persistence.Executor) *persistence.Future[bool] {
	return submit(ctx, ex, func(context.Context) (bool, error) {
		k, err := c.cacheKey(key)
		if err != nil {
			return false, err
		}
		return c.remove(k), nil
	})
}

// EvictAll removes the entries under keys.
func (c *Memory[K, M]) EvictAll(ctx context.Context, keys []K, ex *persistence.Executor) *persistence.Future[int] {
	return submit(ctx, ex, func(context.Context) (int, error) {
		removed := 0
		for _, key := range keys {
			k, err := c.cacheKey(key)
			if err != nil {
				return removed, err
			}
			if c.remove(k) {
				removed++
			}
		}
		return removed, nil
	})
}

// Flush drops every entry.
func (c *Memory[K, M]) Flush(ctx context.Context, ex *persistence.Executor) *persistence.Future[int] {
	return submit(ctx, ex, func(context.Context) (int, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		n := c.order.Len()
		c.items = make(map[string]*list.Element)
		c.order.Init()
		c.size = 0
		c.publish()
		return n, nil
	})
}

func (c *Memory[K, M]) remove(k string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[k]
	if !ok {
		return false
	}
	c.removeElement(el)
	c.publish()
	return true
}

func (c *Memory[K, M]) removeElement(el *list.Element) {
	c.order.Remove(el)
	e := el.Value.(*entry)
	delete(c.items, e.key)
	c.size -= int64(e.record.Size())
}

// publish must be called with mu held.
func (c *Memory[K, M]) publish() {
	c.opts.collector.CacheSize(c.order.Len(), c.size)
}

// Len returns the number of stored entries, expired ones included.
func (c *Memory[K, M]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Size returns the total compressed payload size in bytes.
func (c *Memory[K, M]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns lookup hit and miss counts.
func (c *Memory[K, M]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
