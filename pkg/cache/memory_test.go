package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/strata/pkg/cache"
	"github.com/ajitpratap0/strata/pkg/codec"
	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/persistence"
	"github.com/ajitpratap0/strata/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

type model = *dynamicpb.Message

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCache(t *testing.T, opts ...cache.Option) (*cache.Memory[model, model], *testutil.FixtureSet) {
	t.Helper()
	f := testutil.Fixtures()
	c, err := cache.NewMemory[model, model](f.Metadata(), f.New(f.Person), opts...)
	require.NoError(t, err)
	return c, f
}

func TestMemoryRoundTrip(t *testing.T) {
	algorithms := []compression.Algorithm{compression.None, compression.Snappy, compression.LZ4, compression.Zstd, compression.Gzip}
	for _, algo := range algorithms {
		for _, mode := range []codec.Mode{codec.ModeBinary, codec.ModeJSON} {
			t.Run(string(algo)+"/"+string(mode), func(t *testing.T) {
				comp, err := compression.NewCompressor(&compression.Config{Algorithm: algo, Level: compression.Default})
				require.NoError(t, err)
				c, f := newCache(t, cache.WithCompressor(comp), cache.WithEncoding(mode))
				ex := persistence.NewExecutor(2)
				defer ex.Close()
				ctx, _ := testutil.TestContext(t)

				person := f.NewPerson("p-1", "Ada", 36)
				testutil.Set(person, "contact_info", f.NewContactInfo("ada@example.com", "+15550100", "+15550101"))
				opts := persistence.DefaultFetchOptions()

				_, err = c.InjectRecord(ctx, f.NewPersonKey("p-1"), person, opts, ex).Get(ctx)
				require.NoError(t, err)

				found, err := c.FetchCached(ctx, f.NewPersonKey("p-1"), opts, ex).Get(ctx)
				require.NoError(t, err)
				got, ok := found.Get()
				require.True(t, ok)
				assert.True(t, proto.Equal(person, got))

				found, err = c.FetchCached(ctx, f.NewPersonKey("p-2"), opts, ex).Get(ctx)
				require.NoError(t, err)
				assert.False(t, found.IsPresent())

				hits, misses := c.Stats()
				assert.EqualValues(t, 1, hits)
				assert.EqualValues(t, 1, misses)
			})
		}
	}
}

func TestMemoryRejectsKeysWithoutID(t *testing.T) {
	c, f := newCache(t)
	ctx, _ := testutil.TestContext(t)

	_, err := c.FetchCached(ctx, f.NewPersonKey(""), persistence.DefaultFetchOptions(), nil).Get(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = c.InjectRecord(ctx, f.NewPersonKey(""), f.NewPerson("", "Ada", 1), persistence.DefaultFetchOptions(), nil).Get(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Zero(t, c.Len())

	_, err = c.Evict(ctx, f.NewPersonKey(""), nil).Get(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	var missing model
	_, err = c.InjectRecord(ctx, missing, f.NewPerson("p-1", "Ada", 1), persistence.DefaultFetchOptions(), nil).Get(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestMemoryExpiry(t *testing.T) {
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c, f := newCache(t, cache.WithClock(clk.Now))
	ctx, _ := testutil.TestContext(t)

	lookup := func(id string) bool {
		found, err := c.FetchCached(ctx, f.NewPersonKey(id), persistence.DefaultFetchOptions(), nil).Get(ctx)
		require.NoError(t, err)
		return found.IsPresent()
	}

	ttl := persistence.DefaultFetchOptions().WithCacheTTL(time.Minute, persistence.EvictionTTL)
	sliding := persistence.DefaultFetchOptions().WithCacheTTL(time.Minute, persistence.EvictionLRU)
	forever := persistence.DefaultFetchOptions().WithCacheTTL(0, persistence.EvictionTTL)

	_, err := c.InjectRecord(ctx, f.NewPersonKey("fixed"), f.NewPerson("fixed", "A", 1), ttl, nil).Get(ctx)
	require.NoError(t, err)
	_, err = c.InjectRecord(ctx, f.NewPersonKey("sliding"), f.NewPerson("sliding", "B", 2), sliding, nil).Get(ctx)
	require.NoError(t, err)
	_, err = c.InjectRecord(ctx, f.NewPersonKey("forever"), f.NewPerson("forever", "C", 3), forever, nil).Get(ctx)
	require.NoError(t, err)

	clk.Advance(40 * time.Second)
	assert.True(t, lookup("fixed"))
	assert.True(t, lookup("sliding"))

	clk.Advance(40 * time.Second)
	assert.False(t, lookup("fixed"), "absolute TTL elapsed")
	assert.True(t, lookup("sliding"), "sliding TTL renewed by the previous hit")
	assert.True(t, lookup("forever"))
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCapacity(t *testing.T) {
	none, err := compression.NewCompressor(&compression.Config{Algorithm: compression.None})
	require.NoError(t, err)
	f := testutil.Fixtures()
	person := f.NewPerson("p-0", "Ada", 36)
	entrySize := int64(proto.Size(person))

	tests := []struct {
		name     string
		eviction persistence.EvictionMode
		touch    []string
		evicted  string
	}{
		{name: "lru drops least recently used", eviction: persistence.EvictionLRU, touch: []string{"p-0"}, evicted: "p-1"},
		{name: "lfu drops least frequently used", eviction: persistence.EvictionLFU, touch: []string{"p-0", "p-0", "p-1"}, evicted: "p-2"},
		{name: "ttl drops soonest to expire", eviction: persistence.EvictionTTL, touch: []string{"p-0"}, evicted: "p-0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, f := newCache(t,
				cache.WithCompressor(none),
				cache.WithEviction(tt.eviction),
				cache.WithMaxBytes(entrySize*3))
			ctx, _ := testutil.TestContext(t)

			for i, id := range []string{"p-0", "p-1", "p-2"} {
				opts := persistence.DefaultFetchOptions().WithCacheTTL(time.Duration(i+1)*time.Hour, persistence.EvictionTTL)
				_, err := c.InjectRecord(ctx, f.NewPersonKey(id), f.NewPerson(id, "Ada", 36), opts, nil).Get(ctx)
				require.NoError(t, err)
			}
			for _, id := range tt.touch {
				found, err := c.FetchCached(ctx, f.NewPersonKey(id), persistence.DefaultFetchOptions(), nil).Get(ctx)
				require.NoError(t, err)
				require.True(t, found.IsPresent())
			}

			_, err := c.InjectRecord(ctx, f.NewPersonKey("p-3"), f.NewPerson("p-3", "Ada", 36), persistence.DefaultFetchOptions(), nil).Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, c.Len())
			assert.LessOrEqual(t, c.Size(), entrySize*3)

			found, err := c.FetchCached(ctx, f.NewPersonKey(tt.evicted), persistence.DefaultFetchOptions(), nil).Get(ctx)
			require.NoError(t, err)
			assert.False(t, found.IsPresent())
		})
	}
}

func TestMemoryEvict(t *testing.T) {
	c, f := newCache(t)
	ex := persistence.NewExecutor(2)
	defer ex.Close()
	ctx, _ := testutil.TestContext(t)
	opts := persistence.DefaultFetchOptions()

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := c.InjectRecord(ctx, f.NewPersonKey(id), f.NewPerson(id, "X", 1), opts, ex).Get(ctx)
		require.NoError(t, err)
	}

	removed, err := c.Evict(ctx, f.NewPersonKey("a"), ex).Get(ctx)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = c.Evict(ctx, f.NewPersonKey("a"), ex).Get(ctx)
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := c.EvictAll(ctx, []model{f.NewPersonKey("b"), f.NewPersonKey("zz")}, ex).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.Flush(ctx, ex).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Size())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.NewSettings().Cache
	opts, err := cache.OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	bad := cfg
	bad.Compression = "brotli"
	_, err = cache.OptionsFromConfig(bad)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	bad = cfg
	bad.Eviction = "random"
	_, err = cache.OptionsFromConfig(bad)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
