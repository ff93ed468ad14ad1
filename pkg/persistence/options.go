package persistence

import (
	"time"

	"google.golang.org/protobuf/types/known/fieldmaskpb"
)

// Documented option defaults.
const (
	DefaultOperationTimeout = 30 * time.Second
	DefaultCacheTimeout     = 2 * time.Second
	DefaultCacheTTL         = time.Hour
)

// MaskMode decides how paths named in a field mask are treated.
type MaskMode string

const (
	// MaskInclude keeps only the named leaves
	MaskInclude MaskMode = "INCLUDE"
	// MaskExclude drops the named leaves
	MaskExclude MaskMode = "EXCLUDE"
	// MaskProjection keeps the named leaves and projects them from the store
	MaskProjection MaskMode = "PROJECTION"
)

// Disposition is the existence precondition of a write.
type Disposition string

const (
	// DispositionUnset lets the operation pick its own disposition
	DispositionUnset Disposition = ""
	// DispositionBlind writes regardless of existence (upsert)
	DispositionBlind Disposition = "BLIND"
	// DispositionMustExist requires an existing record (update)
	DispositionMustExist Disposition = "MUST_EXIST"
	// DispositionMustNotExist requires no existing record (create)
	DispositionMustNotExist Disposition = "MUST_NOT_EXIST"
)

// EvictionMode selects how cached entries expire.
type EvictionMode string

const (
	EvictionTTL EvictionMode = "TTL"
	EvictionLFU EvictionMode = "LFU"
	EvictionLRU EvictionMode = "LRU"
)

// StoreOptions carries per-call settings understood by one store driver.
// Drivers resolve it once per call and ignore values meant for other stores.
type StoreOptions interface {
	StoreKind() string
}

// FetchOptions configures a single retrieval. The zero value is not
// meaningful; start from DefaultFetchOptions.
type FetchOptions struct {
	Mask         *fieldmaskpb.FieldMask
	MaskMode     MaskMode
	CacheEnabled bool
	CacheTimeout time.Duration
	CacheTTL     time.Duration
	Eviction     EvictionMode
	// Timeout bounds synchronous calls; zero uses the engine default
	Timeout time.Duration
	Store   StoreOptions
}

// DefaultFetchOptions returns the documented fetch defaults.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		MaskMode:     MaskInclude,
		CacheEnabled: true,
		CacheTimeout: DefaultCacheTimeout,
		CacheTTL:     DefaultCacheTTL,
		Eviction:     EvictionTTL,
	}
}

// WithMask returns a copy applying paths under mode.
func (o FetchOptions) WithMask(mode MaskMode, paths ...string) FetchOptions {
	o.Mask = &fieldmaskpb.FieldMask{Paths: append([]string(nil), paths...)}
	o.MaskMode = mode
	return o
}

// WithCache returns a copy with caching switched on or off.
func (o FetchOptions) WithCache(enabled bool) FetchOptions {
	o.CacheEnabled = enabled
	return o
}

// WithCacheTimeout returns a copy bounding the cache lookup wait.
func (o FetchOptions) WithCacheTimeout(d time.Duration) FetchOptions {
	o.CacheTimeout = d
	return o
}

// WithCacheTTL returns a copy with the backfill time-to-live.
func (o FetchOptions) WithCacheTTL(d time.Duration, mode EvictionMode) FetchOptions {
	o.CacheTTL = d
	o.Eviction = mode
	return o
}

// WithTimeout returns a copy bounding synchronous waits.
func (o FetchOptions) WithTimeout(d time.Duration) FetchOptions {
	o.Timeout = d
	return o
}

// WithStore returns a copy carrying store-specific options.
func (o FetchOptions) WithStore(s StoreOptions) FetchOptions {
	o.Store = s
	return o
}

// HasMask reports whether a non-empty mask is set.
func (o FetchOptions) HasMask() bool {
	return o.Mask != nil && len(o.Mask.GetPaths()) > 0
}

// Cacheable reports whether a read with o returns the full, latest model and
// may therefore populate a cache. PROJECTION masks read a subset of fields,
// and store options can opt out through a Cacheable() bool method.
func (o FetchOptions) Cacheable() bool {
	if o.MaskMode == MaskProjection && o.HasMask() {
		return false
	}
	if c, ok := o.Store.(interface{ Cacheable() bool }); ok {
		return c.Cacheable()
	}
	return true
}

// WriteOptions configures a single write.
type WriteOptions struct {
	Disposition   Disposition
	Transactional bool
	Timeout       time.Duration
	Store         StoreOptions
}

// DefaultWriteOptions returns write options with an unset disposition, which
// persist treats as BLIND.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{}
}

// WithDisposition returns a copy with the given disposition.
func (o WriteOptions) WithDisposition(d Disposition) WriteOptions {
	o.Disposition = d
	return o
}

// WithTransactional returns a copy requesting a transactional write.
func (o WriteOptions) WithTransactional(tx bool) WriteOptions {
	o.Transactional = tx
	return o
}

// WithTimeout returns a copy bounding synchronous waits.
func (o WriteOptions) WithTimeout(d time.Duration) WriteOptions {
	o.Timeout = d
	return o
}

// WithStore returns a copy carrying store-specific options.
func (o WriteOptions) WithStore(s StoreOptions) WriteOptions {
	o.Store = s
	return o
}

// EffectiveDisposition resolves an unset disposition to BLIND.
func (o WriteOptions) EffectiveDisposition() Disposition {
	if o.Disposition == DispositionUnset {
		return DispositionBlind
	}
	return o.Disposition
}

// DeleteOptions configures a single delete.
type DeleteOptions struct {
	// CacheEnabled evicts the cached entry alongside the durable delete
	CacheEnabled  bool
	Transactional bool
	Timeout       time.Duration
	Store         StoreOptions
}

// DefaultDeleteOptions returns the documented delete defaults.
func DefaultDeleteOptions() DeleteOptions {
	return DeleteOptions{CacheEnabled: true}
}

// WithCache returns a copy with cache eviction switched on or off.
func (o DeleteOptions) WithCache(enabled bool) DeleteOptions {
	o.CacheEnabled = enabled
	return o
}

// WithTransactional returns a copy requesting a transactional delete.
func (o DeleteOptions) WithTransactional(tx bool) DeleteOptions {
	o.Transactional = tx
	return o
}

// WithTimeout returns a copy bounding synchronous waits.
func (o DeleteOptions) WithTimeout(d time.Duration) DeleteOptions {
	o.Timeout = d
	return o
}

// WithStore returns a copy carrying store-specific options.
func (o DeleteOptions) WithStore(s StoreOptions) DeleteOptions {
	o.Store = s
	return o
}
