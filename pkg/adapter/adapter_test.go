package adapter_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajitpratap0/strata/pkg/adapter"
	"github.com/ajitpratap0/strata/pkg/cache"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/persistence"
	"github.com/ajitpratap0/strata/pkg/schema"
	"github.com/ajitpratap0/strata/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

type model = *dynamicpb.Message

// stubDriver keeps Person records in a map and counts calls.
type stubDriver struct {
	f    *testutil.FixtureSet
	meta *schema.Metadata
	exec *persistence.Executor

	mu   sync.Mutex
	rows map[string]model

	retrieves atomic.Int32
	deletes   atomic.Int32
}

func newStubDriver(t *testing.T) *stubDriver {
	f := testutil.Fixtures()
	d := &stubDriver{f: f, meta: f.Metadata(), exec: persistence.NewExecutor(8), rows: map[string]model{}}
	t.Cleanup(d.exec.Close)
	return d
}

func (d *stubDriver) Metadata() *schema.Metadata      { return d.meta }
func (d *stubDriver) Executor() *persistence.Executor { return d.exec }
func (d *stubDriver) KeyPrototype() model             { return d.f.New(d.f.PersonKey) }
func (d *stubDriver) ModelPrototype() model           { return d.f.New(d.f.Person) }

func (d *stubDriver) id(key model) string {
	v, _, _ := d.meta.ID(key)
	return v.String()
}

func (d *stubDriver) Retrieve(ctx context.Context, key model, _ persistence.FetchOptions) *persistence.Future[persistence.Optional[model]] {
	d.retrieves.Add(1)
	return persistence.Submit(ctx, d.exec, func(context.Context) (persistence.Optional[model], error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if row, ok := d.rows[d.id(key)]; ok {
			return persistence.Some(proto.Clone(row).(model)), nil
		}
		return persistence.None[model](), nil
	})
}

func (d *stubDriver) Persist(ctx context.Context, key, m model, opts persistence.WriteOptions) *persistence.Future[model] {
	return persistence.Submit(ctx, d.exec, func(context.Context) (model, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		id := d.id(key)
		_, exists := d.rows[id]
		if opts.EffectiveDisposition() == persistence.DispositionMustNotExist && exists {
			return nil, errors.ModelWriteConflict(id, string(opts.Disposition))
		}
		if opts.EffectiveDisposition() == persistence.DispositionMustExist && !exists {
			return nil, errors.ModelWriteConflict(id, string(opts.Disposition))
		}
		d.rows[id] = proto.Clone(m).(model)
		return m, nil
	})
}

func (d *stubDriver) Delete(ctx context.Context, key model, _ persistence.DeleteOptions) *persistence.Future[model] {
	d.deletes.Add(1)
	return persistence.Submit(ctx, d.exec, func(context.Context) (model, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.rows, d.id(key))
		return key, nil
	})
}

// scriptedCache wraps a memory cache and can stall or fail lookups.
type scriptedCache struct {
	*cache.Memory[model, model]

	fetchErr   error
	fetchBlock chan struct{}

	mu        sync.Mutex
	fetchCtxs []context.Context
	fetches   atomic.Int32
	injects   atomic.Int32
	evicts    atomic.Int32
}

func newScriptedCache(t *testing.T, d *stubDriver) *scriptedCache {
	mem, err := cache.NewMemory[model, model](d.meta, d.f.New(d.f.Person))
	require.NoError(t, err)
	return &scriptedCache{Memory: mem}
}

func (c *scriptedCache) FetchCached(ctx context.Context, key model, opts persistence.FetchOptions, ex *persistence.Executor) *persistence.Future[persistence.Optional[model]] {
	c.fetches.Add(1)
	c.mu.Lock()
	c.fetchCtxs = append(c.fetchCtxs, ctx)
	c.mu.Unlock()
	if c.fetchErr != nil {
		return persistence.Failed[persistence.Optional[model]](c.fetchErr)
	}
	if c.fetchBlock != nil {
		return persistence.Submit(ctx, ex, func(ctx context.Context) (persistence.Optional[model], error) {
			<-c.fetchBlock
			return c.Memory.FetchCached(ctx, key, opts, nil).Get(ctx)
		})
	}
	return c.Memory.FetchCached(ctx, key, opts, ex)
}

func (c *scriptedCache) InjectRecord(ctx context.Context, key, value model, opts persistence.FetchOptions, ex *persistence.Executor) *persistence.Future[struct{}] {
	c.injects.Add(1)
	return c.Memory.InjectRecord(ctx, key, value, opts, ex)
}

func (c *scriptedCache) Evict(ctx context.Context, key model, ex *persistence.Executor) *persistence.Future[bool] {
	c.evicts.Add(1)
	return c.Memory.Evict(ctx, key, ex)
}

func seed(t *testing.T, d *stubDriver, id, name string) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows[id] = d.f.NewPerson(id, name, 36)
}

func TestRetrieveBackfillsOnMiss(t *testing.T) {
	d := newStubDriver(t)
	c := newScriptedCache(t, d)
	a := adapter.New[model, model](d, c)
	ctx, _ := testutil.TestContext(t)
	seed(t, d, "p-1", "Ada")

	got, ok, err := a.Fetch(ctx, d.f.NewPersonKey("p-1"), persistence.DefaultFetchOptions())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", testutil.Get(got, "name").String())
	assert.EqualValues(t, 1, d.retrieves.Load())

	testutil.AssertEventually(t, func() bool { return c.Len() == 1 }, time.Second, "backfill never reached the cache")
	assert.EqualValues(t, 1, c.injects.Load())

	got, ok, err = a.Fetch(ctx, d.f.NewPersonKey("p-1"), persistence.DefaultFetchOptions())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", testutil.Get(got, "name").String())
	assert.EqualValues(t, 1, d.retrieves.Load(), "a cache hit must not reach the store")
}

func TestRetrieveAbsentDoesNotBackfill(t *testing.T) {
	d := newStubDriver(t)
	c := newScriptedCache(t, d)
	a := adapter.New[model, model](d, c)
	ctx, _ := testutil.TestContext(t)

	_, ok, err := a.Fetch(ctx, d.f.NewPersonKey("missing"), persistence.DefaultFetchOptions())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c.injects.Load())
}

func TestRetrieveFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *scriptedCache)
		opts  persistence.FetchOptions
	}{
		{
			name:  "cache error",
			setup: func(c *scriptedCache) { c.fetchErr = fmt.Errorf("cache unavailable") },
			opts:  persistence.DefaultFetchOptions(),
		},
		{
			name:  "cache timeout",
			setup: func(c *scriptedCache) { c.fetchBlock = make(chan struct{}) },
			opts:  persistence.DefaultFetchOptions().WithCacheTimeout(20 * time.Millisecond),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newStubDriver(t)
			c := newScriptedCache(t, d)
			tt.setup(c)
			a := adapter.New[model, model](d, c)
			ctx, _ := testutil.TestContext(t)
			seed(t, d, "p-1", "Ada")

			got, ok, err := a.Fetch(ctx, d.f.NewPersonKey("p-1"), tt.opts)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "Ada", testutil.Get(got, "name").String())
			assert.EqualValues(t, 1, d.retrieves.Load())

			if c.fetchBlock != nil {
				c.mu.Lock()
				lookupCtx := c.fetchCtxs[0]
				c.mu.Unlock()
				assert.NoError(t, lookupCtx.Err(), "giving up on the cache must not cancel the lookup")
				close(c.fetchBlock)
			}
		})
	}
}

func TestRetrieveWithoutCache(t *testing.T) {
	d := newStubDriver(t)
	c := newScriptedCache(t, d)
	a := adapter.New[model, model](d, c)
	ctx, _ := testutil.TestContext(t)
	seed(t, d, "p-1", "Ada")

	_, ok, err := a.Fetch(ctx, d.f.NewPersonKey("p-1"), persistence.DefaultFetchOptions().WithCache(false))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, c.fetches.Load())
	assert.Zero(t, c.injects.Load())

	bare := adapter.New[model, model](d, nil)
	_, ok, err = bare.Fetch(ctx, d.f.NewPersonKey("p-1"), persistence.DefaultFetchOptions())
	require.NoError(t, err)
	assert.True(t, ok)
	n, err := bare.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMaskAppliesToCacheHits(t *testing.T) {
	d := newStubDriver(t)
	c := newScriptedCache(t, d)
	a := adapter.New[model, model](d, c)
	ctx, _ := testutil.TestContext(t)

	person := d.f.NewPerson("p-1", "Ada", 36)
	_, err := c.InjectRecord(ctx, d.f.NewPersonKey("p-1"), person, persistence.DefaultFetchOptions(), nil).Get(ctx)
	require.NoError(t, err)

	got, ok, err := a.Fetch(ctx, d.f.NewPersonKey("p-1"),
		persistence.DefaultFetchOptions().WithMask(persistence.MaskInclude, "age"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 36, testutil.Get(got, "age").Int())
	assert.Empty(t, testutil.Get(got, "name").String())
	assert.Zero(t, d.retrieves.Load())

	// the cached entry itself stays whole
	found, err := c.Memory.FetchCached(ctx, d.f.NewPersonKey("p-1"), persistence.DefaultFetchOptions(), nil).Get(ctx)
	require.NoError(t, err)
	cached, _ := found.Get()
	assert.True(t, proto.Equal(person, cached))
}

func TestWritesDoNotTouchCache(t *testing.T) {
	d := newStubDriver(t)
	c := newScriptedCache(t, d)
	a := adapter.New[model, model](d, c)
	ctx, _ := testutil.TestContext(t)

	_, err := a.Create(ctx, d.f.NewPerson("p-1", "Ada", 36), persistence.DefaultWriteOptions())
	require.NoError(t, err)
	assert.Zero(t, c.Len())
	assert.Zero(t, c.injects.Load())

	// warm the cache, then update: the cached copy stays stale until evicted
	_, _, err = a.Fetch(ctx, d.f.NewPersonKey("p-1"), persistence.DefaultFetchOptions())
	require.NoError(t, err)
	testutil.AssertEventually(t, func() bool { return c.Len() == 1 }, time.Second, "backfill never reached the cache")

	_, err = a.Update(ctx, d.f.NewPerson("p-1", "Ada Lovelace", 36), persistence.DefaultWriteOptions())
	require.NoError(t, err)

	got, _, err := a.Fetch(ctx, d.f.NewPersonKey("p-1"), persistence.DefaultFetchOptions())
	require.NoError(t, err)
	assert.Equal(t, "Ada", testutil.Get(got, "name").String())

	n, err := a.EvictAll(ctx, []model{d.f.NewPersonKey("p-1")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _, err = a.Fetch(ctx, d.f.NewPersonKey("p-1"), persistence.DefaultFetchOptions())
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", testutil.Get(got, "name").String())
}

func TestDeleteEvicts(t *testing.T) {
	d := newStubDriver(t)
	c := newScriptedCache(t, d)
	a := adapter.New[model, model](d, c)
	ctx, _ := testutil.TestContext(t)
	key := d.f.NewPersonKey("p-1")

	prime := func() {
		seed(t, d, "p-1", "Ada")
		_, err := c.InjectRecord(ctx, key, d.f.NewPerson("p-1", "Ada", 36), persistence.DefaultFetchOptions(), nil).Get(ctx)
		require.NoError(t, err)
	}

	prime()
	out, err := a.Delete(ctx, key, persistence.DefaultDeleteOptions())
	require.NoError(t, err)
	assert.True(t, proto.Equal(key, out))
	assert.Zero(t, c.Len())
	assert.EqualValues(t, 1, c.evicts.Load())
	assert.EqualValues(t, 1, d.deletes.Load())

	prime()
	_, err = a.Delete(ctx, key, persistence.DefaultDeleteOptions().WithCache(false))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len(), "cache left alone when disabled")
	assert.EqualValues(t, 1, c.evicts.Load())
}

func TestClosedAdapter(t *testing.T) {
	d := newStubDriver(t)
	a := adapter.New[model, model](d, nil)
	ctx, _ := testutil.TestContext(t)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.True(t, a.Closed())

	_, _, err := a.Fetch(ctx, d.f.NewPersonKey("p-1"), persistence.DefaultFetchOptions())
	require.Error(t, err)
	_, err = a.Create(ctx, d.f.NewPerson("", "Ada", 1), persistence.DefaultWriteOptions())
	require.Error(t, err)
}
