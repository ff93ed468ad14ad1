package persistence_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

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

// mapDriver is a minimal in-memory driver for Person records.
type mapDriver struct {
	f     *testutil.FixtureSet
	meta  *schema.Metadata
	exec  *persistence.Executor
	mu    sync.Mutex
	rows  map[string]model
	calls atomic.Int32
	block chan struct{}
}

func newMapDriver(t *testing.T) *mapDriver {
	f := testutil.Fixtures()
	d := &mapDriver{
		f:    f,
		meta: f.Metadata(),
		exec: persistence.NewExecutor(4),
		rows: map[string]model{},
	}
	t.Cleanup(func() {
		if d.block != nil {
			close(d.block)
		}
		d.exec.Close()
	})
	return d
}

func (d *mapDriver) Metadata() *schema.Metadata      { return d.meta }
func (d *mapDriver) Executor() *persistence.Executor { return d.exec }
func (d *mapDriver) KeyPrototype() model             { return d.f.New(d.f.PersonKey) }
func (d *mapDriver) ModelPrototype() model           { return d.f.New(d.f.Person) }

func (d *mapDriver) id(key model) string {
	v, _, _ := d.meta.ID(key)
	return v.String()
}

func (d *mapDriver) wait(ctx context.Context) error {
	if d.block == nil {
		return nil
	}
	select {
	case <-d.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *mapDriver) Retrieve(ctx context.Context, key model, _ persistence.FetchOptions) *persistence.Future[persistence.Optional[model]] {
	d.calls.Add(1)
	return persistence.Submit(ctx, d.exec, func(ctx context.Context) (persistence.Optional[model], error) {
		if err := d.wait(ctx); err != nil {
			return persistence.None[model](), err
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		row, ok := d.rows[d.id(key)]
		if !ok {
			return persistence.None[model](), nil
		}
		return persistence.Some(proto.Clone(row).(model)), nil
	})
}

func (d *mapDriver) Persist(ctx context.Context, key, m model, opts persistence.WriteOptions) *persistence.Future[model] {
	d.calls.Add(1)
	return persistence.Submit(ctx, d.exec, func(ctx context.Context) (model, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		id := d.id(key)
		_, exists := d.rows[id]
		switch opts.EffectiveDisposition() {
		case persistence.DispositionMustNotExist:
			if exists {
				return nil, errors.ModelWriteConflict(id, string(opts.Disposition))
			}
		case persistence.DispositionMustExist:
			if !exists {
				return nil, errors.ModelWriteConflict(id, string(opts.Disposition))
			}
		}
		d.rows[id] = proto.Clone(m).(model)
		return m, nil
	})
}

func (d *mapDriver) Delete(ctx context.Context, key model, _ persistence.DeleteOptions) *persistence.Future[model] {
	d.calls.Add(1)
	return persistence.Submit(ctx, d.exec, func(ctx context.Context) (model, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.rows, d.id(key))
		return key, nil
	})
}

func TestCreateGeneratesDistinctKeys(t *testing.T) {
	d := newMapDriver(t)
	engine := persistence.NewEngine[model, model](d, time.Second)
	ctx, _ := testutil.TestContext(t)

	first, err := engine.Create(ctx, d.f.NewPerson("", "Ada", 36), persistence.DefaultWriteOptions())
	require.NoError(t, err)
	second, err := engine.Create(ctx, d.f.NewPerson("", "Grace", 45), persistence.DefaultWriteOptions())
	require.NoError(t, err)

	id1, ok, err := d.meta.ID(first)
	require.NoError(t, err)
	require.True(t, ok)
	id2, _, _ := d.meta.ID(second)
	assert.NotEmpty(t, id1.String())
	assert.NotEqual(t, id1.String(), id2.String())
	assert.Len(t, d.rows, 2)
}

func TestCreateAsyncWithoutKey(t *testing.T) {
	d := newMapDriver(t)
	engine := persistence.NewEngine[model, model](d, time.Second)
	ctx, _ := testutil.TestContext(t)

	out, err := engine.CreateAsync(ctx, d.f.NewPerson("", "Ada", 36), persistence.DefaultWriteOptions()).Get(ctx)
	require.NoError(t, err)
	id, ok, err := d.meta.ID(out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, id.String())

	var typedNil model
	out, err = engine.CreateAt(ctx, typedNil, d.f.NewPerson("", "Grace", 45), persistence.DefaultWriteOptions())
	require.NoError(t, err)
	id, _, _ = d.meta.ID(out)
	assert.NotEmpty(t, id.String())
	assert.Len(t, d.rows, 2)
}

func TestCreateUsesModelKey(t *testing.T) {
	d := newMapDriver(t)
	engine := persistence.NewEngine[model, model](d, time.Second)
	ctx, _ := testutil.TestContext(t)

	out, err := engine.Create(ctx, d.f.NewPerson("user-1", "Ada", 36), persistence.DefaultWriteOptions())
	require.NoError(t, err)
	id, _, _ := d.meta.ID(out)
	assert.Equal(t, "user-1", id.String())

	// explicit key wins and is spliced into the model
	out, err = engine.CreateAt(ctx, d.f.NewPersonKey("user-2"), d.f.NewPerson("", "Grace", 45), persistence.DefaultWriteOptions())
	require.NoError(t, err)
	id, _, _ = d.meta.ID(out)
	assert.Equal(t, "user-2", id.String())
}

func TestCreateConflict(t *testing.T) {
	d := newMapDriver(t)
	engine := persistence.NewEngine[model, model](d, time.Second)
	ctx, _ := testutil.TestContext(t)
	key := d.f.NewPersonKey("user-1")
	person := d.f.NewPerson("user-1", "Ada", 36)

	opts := persistence.DefaultWriteOptions().WithDisposition(persistence.DispositionMustNotExist)
	out, err := engine.Persist(ctx, key, person, opts)
	require.NoError(t, err)
	assert.True(t, proto.Equal(person, out))

	_, err = engine.Persist(ctx, key, person, opts)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
}

func TestCreateRejectsConflictingDisposition(t *testing.T) {
	d := newMapDriver(t)
	engine := persistence.NewEngine[model, model](d, time.Second)
	ctx, _ := testutil.TestContext(t)

	for _, disp := range []persistence.Disposition{persistence.DispositionBlind, persistence.DispositionMustExist} {
		_, err := engine.Create(ctx, d.f.NewPerson("", "Ada", 36), persistence.DefaultWriteOptions().WithDisposition(disp))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	}
	_, err := engine.Update(ctx, d.f.NewPerson("p", "Ada", 36),
		persistence.DefaultWriteOptions().WithDisposition(persistence.DispositionMustNotExist))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Zero(t, d.calls.Load())
}

func TestUpdate(t *testing.T) {
	d := newMapDriver(t)
	engine := persistence.NewEngine[model, model](d, time.Second)
	ctx, _ := testutil.TestContext(t)

	_, err := engine.Update(ctx, d.f.NewPerson("", "Ada", 36), persistence.DefaultWriteOptions())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Zero(t, d.calls.Load(), "update without a key must fail before any remote call")

	_, err = engine.Update(ctx, d.f.NewPerson("missing", "Ada", 36), persistence.DefaultWriteOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	_, err = engine.Create(ctx, d.f.NewPerson("p-1", "Ada", 36), persistence.DefaultWriteOptions())
	require.NoError(t, err)
	_, err = engine.UpdateAt(ctx, d.f.NewPersonKey("p-1"), d.f.NewPerson("", "Ada Lovelace", 36), persistence.DefaultWriteOptions())
	require.NoError(t, err)

	got, ok, err := engine.Fetch(ctx, d.f.NewPersonKey("p-1"), persistence.DefaultFetchOptions())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", testutil.Get(got, "name").String())
}

func TestDeleteIsIdempotent(t *testing.T) {
	d := newMapDriver(t)
	engine := persistence.NewEngine[model, model](d, time.Second)
	ctx, _ := testutil.TestContext(t)
	key := d.f.NewPersonKey("p-1")

	_, err := engine.Create(ctx, d.f.NewPerson("p-1", "Ada", 36), persistence.DefaultWriteOptions())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		out, err := engine.Delete(ctx, key, persistence.DefaultDeleteOptions())
		require.NoError(t, err)
		assert.True(t, proto.Equal(key, out))
	}

	_, ok, err := engine.Fetch(ctx, key, persistence.DefaultFetchOptions())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = engine.DeleteRecord(ctx, d.f.NewPerson("", "Ada", 36), persistence.DefaultDeleteOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	out, err := engine.DeleteRecordAsync(ctx, d.f.NewPerson("p-1", "Ada", 36), persistence.DefaultDeleteOptions()).Get(ctx)
	require.NoError(t, err)
	assert.True(t, proto.Equal(key, out))
}

func TestFetchAppliesMask(t *testing.T) {
	d := newMapDriver(t)
	engine := persistence.NewEngine[model, model](d, time.Second)
	ctx, _ := testutil.TestContext(t)

	_, err := engine.Create(ctx, d.f.NewPerson("p-1", "Ada", 36), persistence.DefaultWriteOptions())
	require.NoError(t, err)

	got, ok, err := engine.Fetch(ctx, d.f.NewPersonKey("p-1"),
		persistence.DefaultFetchOptions().WithMask(persistence.MaskInclude, "name"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", testutil.Get(got, "name").String())
	assert.Zero(t, testutil.Get(got, "age").Int())
}

func TestFetchValidation(t *testing.T) {
	d := newMapDriver(t)
	engine := persistence.NewEngine[model, model](d, time.Second)
	ctx, _ := testutil.TestContext(t)

	_, _, err := engine.Fetch(ctx, d.f.NewPersonKey(""), persistence.DefaultFetchOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, _, err = engine.Fetch(ctx, d.f.NewPerson("p-1", "", 0), persistence.DefaultFetchOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidModel))

	_, err = engine.FetchAsync(ctx, nil, persistence.DefaultFetchOptions()).Get(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Zero(t, d.calls.Load())
}

func TestFetchTimesOut(t *testing.T) {
	d := newMapDriver(t)
	d.block = make(chan struct{})
	engine := persistence.NewEngine[model, model](d, time.Second)
	ctx, _ := testutil.TestContext(t)

	_, _, err := engine.Fetch(ctx, d.f.NewPersonKey("p-1"),
		persistence.DefaultFetchOptions().WithTimeout(20*time.Millisecond))
	require.Error(t, err)
	kind, ok := errors.FailureOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.FailureTimeout, kind)
}
