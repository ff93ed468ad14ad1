package columnar

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/persistence"
)

// Sentinel errors stores return for precondition failures. The driver turns
// both into write conflicts.
var (
	ErrRowExists   = stderrors.New("row already exists")
	ErrRowNotFound = stderrors.New("row not found")
)

// Op is the kind of a row mutation.
type Op int

const (
	// OpInsert fails with ErrRowExists when the key is present
	OpInsert Op = iota
	// OpUpdate fails with ErrRowNotFound when the key is absent
	OpUpdate
	// OpInsertOrUpdate writes regardless of existence
	OpInsertOrUpdate
	// OpDelete removes the row; deleting an absent key succeeds
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpInsertOrUpdate:
		return "INSERT_OR_UPDATE"
	case OpDelete:
		return "DELETE"
	}
	return "UNKNOWN"
}

// OpFor maps a write disposition to its mutation kind.
func OpFor(d persistence.Disposition) Op {
	switch d {
	case persistence.DispositionMustNotExist:
		return OpInsert
	case persistence.DispositionMustExist:
		return OpUpdate
	}
	return OpInsertOrUpdate
}

// Mutation is one keyed change to a table. Row is unused for deletes.
type Mutation struct {
	Op        Op
	Table     string
	KeyColumn string
	Key       Value
	Row       Row
}

// KeyString renders a primary key value as an opaque string, distinguishing
// string keys from integer keys with the same text.
func KeyString(key Value) (string, error) {
	switch x := key.V.(type) {
	case string:
		return "s:" + x, nil
	case int64:
		return "i:" + strconv.FormatInt(x, 10), nil
	}
	return "", errors.Newf(errors.ErrorTypeValidation, "Unsupported key value %T.", key.V)
}

// BoundKind selects the read timestamp policy.
type BoundKind int

const (
	// BoundStrong reads the latest committed data
	BoundStrong BoundKind = iota
	// BoundExactStaleness reads data exactly Staleness old
	BoundExactStaleness
	// BoundReadTimestamp reads data as of Timestamp
	BoundReadTimestamp
)

// SnapshotBound bounds the staleness of a read.
type SnapshotBound struct {
	Kind      BoundKind
	Staleness time.Duration
	Timestamp time.Time
}

// Strong returns a strong read bound.
func Strong() SnapshotBound {
	return SnapshotBound{Kind: BoundStrong}
}

// ExactStaleness returns a bound reading data d old.
func ExactStaleness(d time.Duration) SnapshotBound {
	return SnapshotBound{Kind: BoundExactStaleness, Staleness: d}
}

// ReadTimestamp returns a bound reading data as of t.
func ReadTimestamp(t time.Time) SnapshotBound {
	return SnapshotBound{Kind: BoundReadTimestamp, Timestamp: t}
}

// At resolves the bound to a point in time relative to now. A strong bound
// resolves to the zero time.
func (b SnapshotBound) At(now time.Time) time.Time {
	switch b.Kind {
	case BoundExactStaleness:
		return now.Add(-b.Staleness)
	case BoundReadTimestamp:
		return b.Timestamp
	}
	return time.Time{}
}

// Target addresses a database. Empty fields use the store's defaults.
type Target struct {
	Instance string
	Database string
}

// ReadOptions configures a single row read.
type ReadOptions struct {
	Target  Target
	Columns []string
	Bound   SnapshotBound
}

// Store is a keyed columnar store: point reads with a column projection,
// and batches of keyed mutations applied atomically.
type Store interface {
	// ReadRow reads one row. ok is false when the key is absent.
	ReadRow(ctx context.Context, table, keyColumn string, key Value, opts ReadOptions) (row Row, ok bool, err error)
	// Apply writes mutations atomically against target
	Apply(ctx context.Context, target Target, mutations []Mutation) error
	// Close releases the store's resources
	Close() error
}

// StoreKind is the persistence.StoreOptions kind of Options.
const StoreKind = "columnar"

// Options are per-call overrides for the columnar driver. Attach them to
// any operation through the options' WithStore method.
type Options struct {
	Target        Target
	Transactional bool
	Bound         SnapshotBound
	// Projection lists the columns to read; empty reads every eligible column
	Projection []string
}

// StoreKind implements persistence.StoreOptions.
func (Options) StoreKind() string {
	return StoreKind
}

// Cacheable reports whether a read with o returns the latest full row of
// the default database. Projections, stale bounds and other targets do not.
func (o Options) Cacheable() bool {
	return len(o.Projection) == 0 && o.Bound.Kind == BoundStrong && o.Target == (Target{})
}

// resolveOptions extracts columnar options from a call's store options.
// Options meant for other stores are ignored.
func resolveOptions(s persistence.StoreOptions) Options {
	switch o := s.(type) {
	case Options:
		return o
	case *Options:
		if o != nil {
			return *o
		}
	}
	return Options{}
}
