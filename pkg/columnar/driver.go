package columnar

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/ajitpratap0/strata/pkg/codec"
	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/persistence"
	"github.com/ajitpratap0/strata/pkg/schema"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// DefaultReadTimeout bounds a single row read.
const DefaultReadTimeout = 120 * time.Second

// DriverOption configures a Driver.
type DriverOption func(*driverOptions)

type driverOptions struct {
	collector   *metrics.Collector
	readTimeout time.Duration
}

// WithCollector records operation metrics and dropped fields through c.
func WithCollector(c *metrics.Collector) DriverOption {
	return func(o *driverOptions) { o.collector = c }
}

// WithReadTimeout overrides the row read bound.
func WithReadTimeout(d time.Duration) DriverOption {
	return func(o *driverOptions) { o.readTimeout = d }
}

// Driver persists one key/model pair as rows of a columnar table. It
// implements persistence.Driver and is safe for concurrent use.
type Driver[K, M proto.Message] struct {
	store       Store
	mapper      *Mapper
	codec       codec.Codec[M, Row]
	exec        *persistence.Executor
	key         KeyColumn
	table       string
	keyProto    K
	modelProto  M
	readTimeout time.Duration
	collector   *metrics.Collector
	tracer      *observability.ModelTracer
	model       string
	logger      *zap.Logger
}

// NewDriver binds store to the key and model types of the prototypes.
// Schema problems, such as a model without a usable ID field, are reported
// here rather than on first use.
func NewDriver[K, M proto.Message](store Store, meta *schema.Metadata, keyPrototype K, modelPrototype M,
	exec *persistence.Executor, settings config.DriverConfig, opts ...DriverOption) (*Driver[K, M], error) {
	o := driverOptions{readTimeout: DefaultReadTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.collector == nil {
		o.collector = metrics.Disabled("columnar_driver")
	}
	if o.readTimeout <= 0 {
		o.readTimeout = DefaultReadTimeout
	}

	md := modelPrototype.ProtoReflect().Descriptor()
	if err := meta.EnforceRole(md, schema.RoleObject); err != nil {
		return nil, err
	}
	if err := meta.EnforceRole(keyPrototype.ProtoReflect().Descriptor(), schema.RoleObjectKey); err != nil {
		return nil, err
	}

	mapper := NewMapper(meta, settings)
	key, err := mapper.KeyColumn(md)
	if err != nil {
		return nil, err
	}
	model := string(md.FullName())
	return &Driver[K, M]{
		store:  store,
		mapper: mapper,
		codec: codec.New[M, Row](
			NewRowEncoder[M](mapper),
			NewRowDecoder[M](mapper, modelPrototype, o.collector)),
		exec:        exec,
		key:         key,
		table:       mapper.Table(md),
		keyProto:    keyPrototype,
		modelProto:  modelPrototype,
		readTimeout: o.readTimeout,
		collector:   o.collector,
		tracer:      observability.NewModelTracer("columnar_driver", model),
		model:       model,
		logger: logger.With(
			zap.String("component", "columnar_driver"),
			zap.String("model", model),
			zap.String("table", mapper.Table(md))),
	}, nil
}

func (d *Driver[K, M]) Metadata() *schema.Metadata      { return d.mapper.meta }
func (d *Driver[K, M]) Executor() *persistence.Executor { return d.exec }
func (d *Driver[K, M]) KeyPrototype() K                 { return d.keyProto }
func (d *Driver[K, M]) ModelPrototype() M               { return d.modelProto }

// Mapper returns the column mapper.
func (d *Driver[K, M]) Mapper() *Mapper {
	return d.mapper
}

// Codec returns the row codec.
func (d *Driver[K, M]) Codec() codec.Codec[M, Row] {
	return d.codec
}

// Table returns the table name.
func (d *Driver[K, M]) Table() string {
	return d.table
}

// Store returns the backing store.
func (d *Driver[K, M]) Store() Store {
	return d.store
}

func (d *Driver[K, M]) begin(ctx context.Context, op string) (context.Context, func(error)) {
	timer := metrics.NewTimer()
	ctx, span := d.tracer.StartSpan(ctx, op)
	span.SetAttribute("strata.table", d.table)
	return ctx, func(err error) {
		d.collector.ObserveOperation(op, d.model, timer.Stop(), err)
		span.Finish(err)
	}
}

func track[T any](f *persistence.Future[T], finish func(error)) *persistence.Future[T] {
	f.OnComplete(func(_ T, err error) { finish(err) })
	return f
}

// keyValue resolves the primary key column value of key.
func (d *Driver[K, M]) keyValue(key K) (Value, string, error) {
	id, ok, err := d.mapper.meta.ID(key)
	if err != nil {
		return Value{}, "", err
	}
	if !ok {
		return Value{}, "", errors.Newf(errors.ErrorTypeValidation,
			"Key of type '%s' has no ID value.", key.ProtoReflect().Descriptor().FullName())
	}
	v, err := keyValue(d.key, id)
	return v, schema.IDString(id), err
}

// Columns lists the columns a read asks for: an explicit projection, the
// top-level fields named by a PROJECTION mask, or every eligible column.
// The key column is always included.
func (d *Driver[K, M]) Columns(opts persistence.FetchOptions) []string {
	storeOpts := resolveOptions(opts.Store)
	columns := []string{d.key.Name}
	seen := map[string]bool{d.key.Name: true}
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			columns = append(columns, name)
		}
	}

	md := d.modelProto.ProtoReflect().Descriptor()
	switch {
	case len(storeOpts.Projection) > 0:
		for _, c := range storeOpts.Projection {
			add(c)
		}
	case opts.MaskMode == persistence.MaskProjection && opts.HasMask():
		for _, path := range opts.Mask.GetPaths() {
			top, _, _ := strings.Cut(path, ".")
			ptr, ok, err := d.mapper.meta.ResolveField(md, top)
			if err != nil || !ok || !d.mapper.Eligible(ptr.Field) {
				continue
			}
			if d.mapper.meta.Field(ptr.Field).Kind == schema.FieldKey {
				continue
			}
			add(d.mapper.ColumnName(ptr.Field))
		}
	default:
		for _, p := range d.mapper.Fields(md, nil) {
			add(d.mapper.ColumnName(p.Field))
		}
	}
	return columns
}

// Retrieve reads the row stored under key.
func (d *Driver[K, M]) Retrieve(ctx context.Context, key K, opts persistence.FetchOptions) *persistence.Future[persistence.Optional[M]] {
	kv, id, err := d.keyValue(key)
	if err != nil {
		return persistence.Failed[persistence.Optional[M]](err)
	}
	storeOpts := resolveOptions(opts.Store)
	read := ReadOptions{Target: storeOpts.Target, Columns: d.Columns(opts), Bound: storeOpts.Bound}

	ctx, finish := d.begin(ctx, "retrieve")
	return track(persistence.Submit(ctx, d.exec, func(ctx context.Context) (persistence.Optional[M], error) {
		ctx, cancel := context.WithTimeout(ctx, d.readTimeout)
		defer cancel()

		row, ok, err := d.store.ReadRow(ctx, d.table, d.key.Name, kv, read)
		if err != nil {
			return persistence.None[M](), err
		}
		if !ok {
			d.logger.Debug("row not found", zap.String("key", id))
			return persistence.None[M](), nil
		}
		model, err := d.codec.Deserialize(row)
		if err != nil {
			return persistence.None[M](), err
		}
		return persistence.Some(model), nil
	}), finish)
}

// Persist writes model under key with the mutation kind its disposition
// maps to. Transactional writes are not supported.
func (d *Driver[K, M]) Persist(ctx context.Context, key K, model M, opts persistence.WriteOptions) *persistence.Future[M] {
	storeOpts := resolveOptions(opts.Store)
	if opts.Transactional || storeOpts.Transactional {
		return persistence.Failed[M](errors.Unsupported("transactional writes"))
	}
	if !schema.Present(model) {
		return persistence.Failed[M](errors.New(errors.ErrorTypeValidation, "Cannot persist an empty model."))
	}
	kv, id, err := d.keyValue(key)
	if err != nil {
		return persistence.Failed[M](err)
	}
	disposition := opts.EffectiveDisposition()

	ctx, finish := d.begin(ctx, "persist")
	return track(persistence.Submit(ctx, d.exec, func(ctx context.Context) (M, error) {
		var zero M
		row, err := d.codec.Serialize(model)
		if err != nil {
			return zero, err
		}
		row.Set(d.key.Name, kv)

		mutation := Mutation{Op: OpFor(disposition), Table: d.table, KeyColumn: d.key.Name, Key: kv, Row: row}
		if err := d.store.Apply(ctx, storeOpts.Target, []Mutation{mutation}); err != nil {
			if stderrors.Is(err, ErrRowExists) || stderrors.Is(err, ErrRowNotFound) {
				return zero, errors.ModelWriteConflict(id, string(disposition))
			}
			return zero, errors.ModelWriteFailure(id, err)
		}
		d.logger.Debug("persisted row", zap.String("key", id), zap.Stringer("op", mutation.Op))
		return model, nil
	}), finish)
}

// Delete removes the row under key. Transactional deletes are not
// supported.
func (d *Driver[K, M]) Delete(ctx context.Context, key K, opts persistence.DeleteOptions) *persistence.Future[K] {
	storeOpts := resolveOptions(opts.Store)
	if opts.Transactional || storeOpts.Transactional {
		return persistence.Failed[K](errors.Unsupported("transactional deletes"))
	}
	kv, id, err := d.keyValue(key)
	if err != nil {
		return persistence.Failed[K](err)
	}

	ctx, finish := d.begin(ctx, "delete")
	return track(persistence.Submit(ctx, d.exec, func(ctx context.Context) (K, error) {
		mutation := Mutation{Op: OpDelete, Table: d.table, KeyColumn: d.key.Name, Key: kv}
		if err := d.store.Apply(ctx, storeOpts.Target, []Mutation{mutation}); err != nil {
			return key, errors.ModelWriteFailure(id, err)
		}
		return key, nil
	}), finish)
}
