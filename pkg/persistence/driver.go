// Package persistence defines the driver contract shared by every store and
// cache composition, and the Engine that layers fetch, create, update and
// delete semantics over it.
//
// All remote work is asynchronous and returns a Future. Synchronous
// conveniences wait on that future for a bounded time and translate faults
// into TIMEOUT, INTERRUPTED or INTERNAL operation failures. Validation
// problems are reported before any asynchronous work is scheduled.
package persistence

import (
	"context"
	"time"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/schema"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Driver is the low-level persistence contract for one key/model type pair.
type Driver[K, M proto.Message] interface {
	// Metadata resolves roles and fields for the driver's types
	Metadata() *schema.Metadata
	// Executor runs the driver's asynchronous work
	Executor() *Executor
	// KeyPrototype returns an empty key used to build new keys
	KeyPrototype() K
	// ModelPrototype returns an empty model used to build new models
	ModelPrototype() M

	// Retrieve reads the model stored under key
	Retrieve(ctx context.Context, key K, opts FetchOptions) *Future[Optional[M]]
	// Persist writes model under key, honoring the write disposition
	Persist(ctx context.Context, key K, model M, opts WriteOptions) *Future[M]
	// Delete removes the model under key. Deleting an absent key succeeds.
	Delete(ctx context.Context, key K, opts DeleteOptions) *Future[K]
}

// Engine provides the operation surface over a Driver: fetch, create,
// update, delete and persist, each in synchronous and asynchronous forms.
type Engine[K, M proto.Message] struct {
	driver  Driver[K, M]
	meta    *schema.Metadata
	timeout time.Duration
	logger  *zap.Logger
}

// NewEngine wraps driver. A non-positive timeout uses DefaultOperationTimeout.
func NewEngine[K, M proto.Message](driver Driver[K, M], timeout time.Duration) *Engine[K, M] {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &Engine[K, M]{
		driver:  driver,
		meta:    driver.Metadata(),
		timeout: timeout,
		logger: logger.With(
			zap.String("component", "persistence_engine"),
			zap.String("model", string(driver.ModelPrototype().ProtoReflect().Descriptor().FullName()))),
	}
}

// Driver returns the wrapped driver.
func (e *Engine[K, M]) Driver() Driver[K, M] {
	return e.driver
}

func (e *Engine[K, M]) wait(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return e.timeout
}

func present(m proto.Message) bool {
	return schema.Present(m)
}

// keyID validates that key is an object key with a populated ID.
func (e *Engine[K, M]) keyID(key K) (protoreflect.Value, error) {
	if !present(key) {
		return protoreflect.Value{}, errors.New(errors.ErrorTypeValidation, "Cannot use an empty key.")
	}
	md := key.ProtoReflect().Descriptor()
	if err := e.meta.EnforceRole(md, schema.RoleObjectKey); err != nil {
		return protoreflect.Value{}, err
	}
	id, ok, err := e.meta.ID(key)
	if err != nil {
		return protoreflect.Value{}, err
	}
	if !ok || !schema.PopulatedID(id) {
		return protoreflect.Value{}, errors.Newf(errors.ErrorTypeValidation,
			"Key of type '%s' has no ID value.", md.FullName())
	}
	return id, nil
}

// modelKey extracts a key with a populated ID from model.
func (e *Engine[K, M]) modelKey(model M) (K, bool, error) {
	var zero K
	k, ok, err := e.meta.Key(model)
	if err != nil || !ok {
		return zero, false, err
	}
	key, isK := k.(K)
	if !isK {
		return zero, false, errors.Newf(errors.ErrorTypeValidation,
			"Key of type '%s' is not usable with this engine.", k.ProtoReflect().Descriptor().FullName())
	}
	if _, err := e.keyID(key); err != nil {
		return zero, false, nil
	}
	return key, true, nil
}

// -- Fetch -- //

func (e *Engine[K, M]) prepareFetch(key K, opts FetchOptions) error {
	if _, err := e.keyID(key); err != nil {
		return err
	}
	if opts.Mask != nil && opts.MaskMode == "" {
		return errors.New(errors.ErrorTypeValidation, "A field mask requires a mask mode.")
	}
	return nil
}

// FetchAsync retrieves the model stored under key, applying any field mask.
func (e *Engine[K, M]) FetchAsync(ctx context.Context, key K, opts FetchOptions) *Future[Optional[M]] {
	if err := e.prepareFetch(key, opts); err != nil {
		return Failed[Optional[M]](err)
	}
	return e.fetch(ctx, key, opts)
}

func (e *Engine[K, M]) fetch(ctx context.Context, key K, opts FetchOptions) *Future[Optional[M]] {
	return Then(e.driver.Retrieve(ctx, key, opts), func(found Optional[M]) (Optional[M], error) {
		model, ok := found.Get()
		if !ok || !opts.HasMask() {
			return found, nil
		}
		masked, err := ApplyMask(model, opts)
		if err != nil {
			return None[M](), err
		}
		return Some(masked), nil
	})
}

// Fetch retrieves the model stored under key. ok is false when absent.
func (e *Engine[K, M]) Fetch(ctx context.Context, key K, opts FetchOptions) (model M, ok bool, err error) {
	if err := e.prepareFetch(key, opts); err != nil {
		return model, false, err
	}
	found, err := Wait(ctx, e.fetch(ctx, key, opts), e.wait(opts.Timeout))
	if err != nil {
		return model, false, err
	}
	model, ok = found.Get()
	return model, ok, nil
}

// -- Create -- //

func (e *Engine[K, M]) prepareCreate(key K, model M, opts WriteOptions) (K, M, WriteOptions, error) {
	var zeroK K
	var zeroM M
	switch opts.Disposition {
	case DispositionUnset, DispositionMustNotExist:
		opts.Disposition = DispositionMustNotExist
	default:
		return zeroK, zeroM, opts, errors.Newf(errors.ErrorTypeValidation,
			"Cannot create a model with write disposition %s.", opts.Disposition)
	}
	if !present(model) {
		return zeroK, zeroM, opts, errors.New(errors.ErrorTypeValidation, "Cannot create an empty model.")
	}
	if err := e.meta.EnforceRole(model.ProtoReflect().Descriptor(), schema.RoleObject); err != nil {
		return zeroK, zeroM, opts, err
	}

	if !present(key) {
		if existing, ok, err := e.modelKey(model); err != nil {
			return zeroK, zeroM, opts, err
		} else if ok {
			key = existing
		}
	}
	if !present(key) || !e.hasID(key) {
		generated, err := GenerateKey(e.meta, model, e.driver.KeyPrototype())
		if err != nil {
			return zeroK, zeroM, opts, err
		}
		if present(key) {
			id, _, _ := e.meta.ID(generated)
			spliced, err := e.meta.SpliceID(key, id)
			if err != nil {
				return zeroK, zeroM, opts, err
			}
			generated = spliced.(K)
		}
		key = generated
		e.logger.Debug("generated key for new model", zap.Stringer("key", keyStringer{e.meta, key}))
	}

	spliced, err := e.meta.SpliceKey(model, key)
	if err != nil {
		return zeroK, zeroM, opts, err
	}
	return key, spliced.(M), opts, nil
}

func (e *Engine[K, M]) hasID(key K) bool {
	_, err := e.keyID(key)
	return err == nil
}

// CreateAsync writes a new model. The key is taken from the model when it
// carries one, otherwise a random ID is generated and spliced into both.
func (e *Engine[K, M]) CreateAsync(ctx context.Context, model M, opts WriteOptions) *Future[M] {
	var none K
	return e.CreateAtAsync(ctx, none, model, opts)
}

// CreateAtAsync writes a new model under key. An empty key or one without
// an ID behaves like CreateAsync.
func (e *Engine[K, M]) CreateAtAsync(ctx context.Context, key K, model M, opts WriteOptions) *Future[M] {
	key, model, opts, err := e.prepareCreate(key, model, opts)
	if err != nil {
		return Failed[M](err)
	}
	return e.driver.Persist(ctx, key, model, opts)
}

// Create writes a new model and returns it with its key populated.
func (e *Engine[K, M]) Create(ctx context.Context, model M, opts WriteOptions) (M, error) {
	var none K
	return e.CreateAt(ctx, none, model, opts)
}

// CreateAt writes a new model under key.
func (e *Engine[K, M]) CreateAt(ctx context.Context, key K, model M, opts WriteOptions) (M, error) {
	key, model, opts, err := e.prepareCreate(key, model, opts)
	if err != nil {
		var zero M
		return zero, err
	}
	return Wait(ctx, e.driver.Persist(ctx, key, model, opts), e.wait(opts.Timeout))
}

// -- Update -- //

func (e *Engine[K, M]) prepareUpdate(key K, model M, opts WriteOptions) (K, M, WriteOptions, error) {
	var zeroK K
	var zeroM M
	switch opts.Disposition {
	case DispositionUnset, DispositionMustExist:
		opts.Disposition = DispositionMustExist
	default:
		return zeroK, zeroM, opts, errors.Newf(errors.ErrorTypeValidation,
			"Cannot update a model with write disposition %s.", opts.Disposition)
	}
	if !present(model) {
		return zeroK, zeroM, opts, errors.New(errors.ErrorTypeValidation, "Cannot update an empty model.")
	}
	if !present(key) {
		existing, ok, err := e.modelKey(model)
		if err != nil {
			return zeroK, zeroM, opts, err
		}
		if !ok {
			return zeroK, zeroM, opts, errors.Newf(errors.ErrorTypeValidation,
				"Cannot update model of type '%s' without a key.", model.ProtoReflect().Descriptor().FullName())
		}
		return existing, model, opts, nil
	}
	if _, err := e.keyID(key); err != nil {
		return zeroK, zeroM, opts, err
	}
	spliced, err := e.meta.SpliceKey(model, key)
	if err != nil {
		return zeroK, zeroM, opts, err
	}
	return key, spliced.(M), opts, nil
}

// UpdateAsync overwrites an existing model, keyed by the key it carries.
func (e *Engine[K, M]) UpdateAsync(ctx context.Context, model M, opts WriteOptions) *Future[M] {
	var none K
	return e.UpdateAtAsync(ctx, none, model, opts)
}

// UpdateAtAsync overwrites the existing model under key.
func (e *Engine[K, M]) UpdateAtAsync(ctx context.Context, key K, model M, opts WriteOptions) *Future[M] {
	key, model, opts, err := e.prepareUpdate(key, model, opts)
	if err != nil {
		return Failed[M](err)
	}
	return e.driver.Persist(ctx, key, model, opts)
}

// Update overwrites an existing model. It fails before any remote call when
// the model has no resolvable key.
func (e *Engine[K, M]) Update(ctx context.Context, model M, opts WriteOptions) (M, error) {
	var none K
	return e.UpdateAt(ctx, none, model, opts)
}

// UpdateAt overwrites the existing model under key.
func (e *Engine[K, M]) UpdateAt(ctx context.Context, key K, model M, opts WriteOptions) (M, error) {
	key, model, opts, err := e.prepareUpdate(key, model, opts)
	if err != nil {
		var zero M
		return zero, err
	}
	return Wait(ctx, e.driver.Persist(ctx, key, model, opts), e.wait(opts.Timeout))
}

// -- Persist -- //

// PersistAsync writes model under key with the disposition in opts (BLIND
// when unset). It is the low-level write every other write reduces to.
func (e *Engine[K, M]) PersistAsync(ctx context.Context, key K, model M, opts WriteOptions) *Future[M] {
	if _, err := e.keyID(key); err != nil {
		return Failed[M](err)
	}
	return e.driver.Persist(ctx, key, model, opts)
}

// Persist is the synchronous form of PersistAsync.
func (e *Engine[K, M]) Persist(ctx context.Context, key K, model M, opts WriteOptions) (M, error) {
	if _, err := e.keyID(key); err != nil {
		var zero M
		return zero, err
	}
	return Wait(ctx, e.driver.Persist(ctx, key, model, opts), e.wait(opts.Timeout))
}

// -- Delete -- //

// DeleteAsync removes the model under key. Deleting an absent key succeeds.
func (e *Engine[K, M]) DeleteAsync(ctx context.Context, key K, opts DeleteOptions) *Future[K] {
	if _, err := e.keyID(key); err != nil {
		return Failed[K](err)
	}
	return e.driver.Delete(ctx, key, opts)
}

// Delete removes the model under key and returns the key.
func (e *Engine[K, M]) Delete(ctx context.Context, key K, opts DeleteOptions) (K, error) {
	if _, err := e.keyID(key); err != nil {
		var zero K
		return zero, err
	}
	return Wait(ctx, e.driver.Delete(ctx, key, opts), e.wait(opts.Timeout))
}

func (e *Engine[K, M]) recordKey(model M) (K, error) {
	var zero K
	if !present(model) {
		return zero, errors.New(errors.ErrorTypeValidation, "Cannot delete an empty model.")
	}
	key, ok, err := e.modelKey(model)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, errors.Newf(errors.ErrorTypeValidation,
			"Cannot delete model of type '%s' without a key.", model.ProtoReflect().Descriptor().FullName())
	}
	return key, nil
}

// DeleteRecordAsync removes model, addressed by the key it carries.
func (e *Engine[K, M]) DeleteRecordAsync(ctx context.Context, model M, opts DeleteOptions) *Future[K] {
	key, err := e.recordKey(model)
	if err != nil {
		return Failed[K](err)
	}
	return e.driver.Delete(ctx, key, opts)
}

// DeleteRecord removes model, addressed by the key it carries.
func (e *Engine[K, M]) DeleteRecord(ctx context.Context, model M, opts DeleteOptions) (K, error) {
	key, err := e.recordKey(model)
	if err != nil {
		var zero K
		return zero, err
	}
	return Wait(ctx, e.driver.Delete(ctx, key, opts), e.wait(opts.Timeout))
}

type keyStringer struct {
	meta *schema.Metadata
	key  proto.Message
}

func (k keyStringer) String() string {
	id, _, err := k.meta.ID(k.key)
	if err != nil {
		return ""
	}
	return schema.IDString(id)
}
