// Package cache defines the cache collaborator used by the cache-augmented
// adapter, and an in-memory implementation holding compressed encoded
// records.
//
// A cache only ever sees fully materialized models. Field masks are applied
// after a hit, so entries are always stored unmasked.
package cache

import (
	"context"

	"github.com/ajitpratap0/strata/pkg/persistence"
	"google.golang.org/protobuf/proto"
)

// Cache is the read-through cache contract for one key/model type pair. All
// calls run on the supplied executor and never block the caller.
type Cache[K, M proto.Message] interface {
	// InjectRecord stores value under key, honoring the TTL and eviction
	// settings in opts
	InjectRecord(ctx context.Context, key K, value M, opts persistence.FetchOptions, ex *persistence.Executor) *persistence.Future[struct{}]
	// FetchCached looks key up. A miss is an empty Optional, not an error.
	FetchCached(ctx context.Context, key K, opts persistence.FetchOptions, ex *persistence.Executor) *persistence.Future[persistence.Optional[M]]
	// Evict removes key and reports whether an entry was present
	Evict(ctx context.Context, key K, ex *persistence.Executor) *persistence.Future[bool]
	// EvictAll removes every key in keys and reports how many were present
	EvictAll(ctx context.Context, keys []K, ex *persistence.Executor) *persistence.Future[int]
	// Flush drops every entry and reports how many were removed
	Flush(ctx context.Context, ex *persistence.Executor) *persistence.Future[int]
}

// submit runs fn on ex, or inline when ex is nil.
func submit[T any](ctx context.Context, ex *persistence.Executor, fn func(context.Context) (T, error)) *persistence.Future[T] {
	if ex != nil {
		return persistence.Submit(ctx, ex, fn)
	}
	v, err := fn(ctx)
	if err != nil {
		return persistence.Failed[T](err)
	}
	return persistence.Completed(v)
}
