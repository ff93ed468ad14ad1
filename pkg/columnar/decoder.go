package columnar

import (
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/schema"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

var jsonUnmarshal = protojson.UnmarshalOptions{DiscardUnknown: true}

// RowDecoder inflates rows into models. Columns are matched by resolved
// name; columns the model does not declare are ignored.
//
// When expected types are checked, a column whose reported type differs from
// the field's resolved type is dropped and logged under the lenient policy,
// and fails the decode under the strict one.
type RowDecoder[M proto.Message] struct {
	mapper    *Mapper
	prototype M
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewRowDecoder creates a decoder producing instances of prototype's type.
func NewRowDecoder[M proto.Message](mapper *Mapper, prototype M, collector *metrics.Collector) *RowDecoder[M] {
	if collector == nil {
		collector = metrics.Disabled("columnar_decoder")
	}
	return &RowDecoder[M]{
		mapper:    mapper,
		prototype: prototype,
		collector: collector,
		logger: logger.With(
			zap.String("component", "columnar_decoder"),
			zap.String("model", string(prototype.ProtoReflect().Descriptor().FullName()))),
	}
}

// Deserialize builds a model from row.
func (d *RowDecoder[M]) Deserialize(row Row) (M, error) {
	var zero M
	out := d.prototype.ProtoReflect().New()
	md := out.Descriptor()

	key, err := d.mapper.KeyColumn(md)
	if err != nil {
		return zero, err
	}
	if v, ok := row.Get(key.Name); ok && !v.IsNull() {
		if err := d.inflateKey(out, key, v); err != nil {
			return zero, err
		}
	}

	names := columnSet(row)
	for _, p := range d.mapper.Fields(md, names) {
		if key.ID.Depth == 0 && p.Field == key.ID.Field {
			continue
		}
		if err := d.converge(out, p.Field, row); err != nil {
			return zero, err
		}
	}
	return out.Interface().(M), nil
}

func columnSet(row Row) map[string]struct{} {
	names := make(map[string]struct{}, len(row.Columns))
	for _, c := range row.Columns {
		names[c.Name] = struct{}{}
	}
	return names
}

// inflateKey splices the primary key value into the ID field, creating the
// enclosing key message when the ID lives inside one.
func (d *RowDecoder[M]) inflateKey(target protoreflect.Message, key KeyColumn, v Value) error {
	fd := key.ID.Field
	var id protoreflect.Value
	switch x := v.V.(type) {
	case string:
		switch fd.Kind() {
		case protoreflect.StringKind:
			id = protoreflect.ValueOfString(x)
		default:
			n, err := strconv.ParseInt(x, 10, 64)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "key column is not an integer").
					WithDetail("column", key.Name)
			}
			id = integerValue(fd, n)
		}
	case int64:
		if fd.Kind() == protoreflect.StringKind {
			id = protoreflect.ValueOfString(strconv.FormatInt(x, 10))
		} else {
			id = integerValue(fd, x)
		}
	default:
		return errors.Newf(errors.ErrorTypeData, "Unsupported key type: '%s'.", v.Type.Code)
	}

	current := target
	for _, name := range pathParents(key.ID.Path) {
		current = current.Mutable(current.Descriptor().Fields().ByName(protoreflect.Name(name))).Message()
	}
	current.Set(fd, id)
	return nil
}

func pathParents(path string) []string {
	var parents []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parents = append(parents, path[start:i])
			start = i + 1
		}
	}
	return parents
}

func integerValue(fd protoreflect.FieldDescriptor, n int64) protoreflect.Value {
	switch fd.Kind() {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return protoreflect.ValueOfInt32(int32(n))
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return protoreflect.ValueOfUint32(uint32(n))
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return protoreflect.ValueOfUint64(uint64(n))
	case protoreflect.EnumKind:
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(n))
	}
	return protoreflect.ValueOfInt64(n)
}

// converge copies one column into its field.
func (d *RowDecoder[M]) converge(target protoreflect.Message, fd protoreflect.FieldDescriptor, row Row) error {
	column := d.mapper.ColumnName(fd)
	v, ok := row.Get(column)
	if !ok || v.IsNull() {
		return nil
	}

	if d.mapper.settings.CheckExpectedTypes {
		expected, err := d.mapper.ColumnType(fd)
		if err != nil {
			return err
		}
		if !sameShape(expected, v.Type) {
			d.logger.Error(
				"Type mismatch: field '"+string(fd.FullName())+"' expected type "+expected.Code.String()+
					", but got "+v.Type.Code.String()+".",
				zap.String("column", column))
			d.collector.FieldDropped(string(target.Descriptor().FullName()), column)
			if d.mapper.settings.Strict() {
				return errors.Newf(errors.ErrorTypeData,
					"Column %s holds %s, but field '%s' expects %s.", column, v.Type, fd.FullName(), expected)
			}
			return nil
		}
	}

	if v.Type.Code == TypeArray {
		if !fd.IsList() {
			return errors.Newf(errors.ErrorTypeData, "Column %s is an array, but field '%s' is not repeated.",
				column, fd.FullName())
		}
		items, _ := v.V.([]any)
		list := target.Mutable(fd).List()
		for _, item := range items {
			if item == nil {
				continue
			}
			pv, ok, err := d.inflate(target, fd, Value{Type: v.Type.Inner(), V: item})
			if err != nil {
				return err
			}
			if ok {
				list.Append(pv)
			}
		}
		return nil
	}

	if fd.IsList() {
		return errors.Newf(errors.ErrorTypeData, "Column %s is not an array, but field '%s' is repeated.",
			column, fd.FullName())
	}
	pv, ok, err := d.inflate(target, fd, v)
	if err != nil || !ok {
		return err
	}
	target.Set(fd, pv)
	return nil
}

// sameShape compares the reported type against the expected one. Arrays
// compare their element codes too; struct members are checked on descent.
func sameShape(expected, actual Type) bool {
	if expected.Code != actual.Code {
		return false
	}
	if expected.Code == TypeArray {
		return expected.Inner().Code == actual.Inner().Code
	}
	return true
}

// inflate converts one non-null scalar into a field value. ok is false when
// the value is skipped, as for unknown enum names.
func (d *RowDecoder[M]) inflate(target protoreflect.Message, fd protoreflect.FieldDescriptor, v Value) (protoreflect.Value, bool, error) {
	mismatch := func() (protoreflect.Value, bool, error) {
		return protoreflect.Value{}, false, errors.Newf(errors.ErrorTypeData,
			"Cannot convert %s value to field '%s' of kind %s.", v.Type.Code, fd.FullName(), fd.Kind())
	}

	switch x := v.V.(type) {
	case bool:
		if fd.Kind() == protoreflect.BoolKind {
			return protoreflect.ValueOfBool(x), true, nil
		}
	case int64:
		switch fd.Kind() {
		case protoreflect.BoolKind, protoreflect.StringKind, protoreflect.BytesKind,
			protoreflect.FloatKind, protoreflect.DoubleKind, protoreflect.MessageKind:
			return mismatch()
		}
		return integerValue(fd, x), true, nil
	case float64:
		switch fd.Kind() {
		case protoreflect.FloatKind:
			return protoreflect.ValueOfFloat32(float32(x)), true, nil
		case protoreflect.DoubleKind:
			return protoreflect.ValueOfFloat64(x), true, nil
		}
	case string:
		return d.inflateString(target, fd, v.Type.Code, x)
	case []byte:
		switch fd.Kind() {
		case protoreflect.BytesKind:
			return protoreflect.ValueOfBytes(append([]byte(nil), x...)), true, nil
		case protoreflect.StringKind:
			return protoreflect.ValueOfString(string(x)), true, nil
		}
	case time.Time:
		if v.Type.Code == TypeDate {
			return inflateDate(target, fd, civil.DateOf(x.UTC()))
		}
		return inflateTimestamp(target, fd, x)
	case civil.Date:
		return inflateDate(target, fd, x)
	case Row:
		if fd.Kind() == protoreflect.MessageKind {
			sub := newMessage(target, fd)
			if err := d.convergeStruct(sub, x); err != nil {
				return protoreflect.Value{}, false, err
			}
			return protoreflect.ValueOfMessage(sub), true, nil
		}
	}
	return mismatch()
}

func (d *RowDecoder[M]) convergeStruct(target protoreflect.Message, row Row) error {
	names := columnSet(row)
	for _, p := range d.mapper.meta.AllFields(target.Descriptor(), false, func(p schema.FieldPointer) bool {
		if !d.mapper.Eligible(p.Field) {
			return false
		}
		_, ok := names[d.mapper.ColumnName(p.Field)]
		return ok
	}) {
		if err := d.converge(target, p.Field, row); err != nil {
			return err
		}
	}
	return nil
}

func (d *RowDecoder[M]) inflateString(target protoreflect.Message, fd protoreflect.FieldDescriptor, code TypeCode, s string) (protoreflect.Value, bool, error) {
	if code == TypeNumeric {
		switch fd.Kind() {
		case protoreflect.StringKind:
			return protoreflect.ValueOfString(s), true, nil
		case protoreflect.EnumKind:
			n, err := strconv.ParseInt(s, 10, 32)
			if err != nil {
				return protoreflect.Value{}, false, errors.Wrap(err, errors.ErrorTypeData, "NUMERIC enum value is not integral").
					WithDetail("field", string(fd.FullName()))
			}
			return protoreflect.ValueOfEnum(protoreflect.EnumNumber(n)), true, nil
		}
		return protoreflect.Value{}, false, errors.Newf(errors.ErrorTypeCapability,
			"NUMERIC fields must be expressed as proto-strings, in exponent notation if necessary; field '%s' is %s.",
			fd.FullName(), fd.Kind())
	}

	switch fd.Kind() {
	case protoreflect.StringKind:
		return protoreflect.ValueOfString(s), true, nil
	case protoreflect.BytesKind:
		return protoreflect.ValueOfBytes([]byte(s)), true, nil
	case protoreflect.EnumKind:
		ev := fd.Enum().Values().ByName(protoreflect.Name(s))
		if ev == nil {
			d.logger.Warn("failed to decode enum value",
				zap.String("value", s),
				zap.String("field", string(fd.FullName())))
			return protoreflect.Value{}, false, nil
		}
		return protoreflect.ValueOfEnum(ev.Number()), true, nil
	case protoreflect.MessageKind:
		if d.mapper.JSONField(fd) {
			sub := newMessage(target, fd)
			if err := jsonUnmarshal.Unmarshal([]byte(s), sub.Interface()); err != nil {
				d.logger.Error("failed to deserialize JSON model", zap.String("field", string(fd.FullName())), zap.Error(err))
				return protoreflect.Value{}, false, errors.Wrap(err, errors.ErrorTypeData, "failed to decode JSON field").
					WithDetail("field", string(fd.FullName()))
			}
			return protoreflect.ValueOfMessage(sub), true, nil
		}
	}
	return protoreflect.Value{}, false, errors.Newf(errors.ErrorTypeData,
		"Cannot convert STRING value to field '%s' of kind %s.", fd.FullName(), fd.Kind())
}

func newMessage(target protoreflect.Message, fd protoreflect.FieldDescriptor) protoreflect.Message {
	if fd.IsList() {
		return target.Mutable(fd).List().NewElement().Message()
	}
	return target.NewField(fd).Message()
}

func inflateTimestamp(target protoreflect.Message, fd protoreflect.FieldDescriptor, t time.Time) (protoreflect.Value, bool, error) {
	switch fd.Kind() {
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return protoreflect.ValueOfUint64(uint64(t.UnixMilli())), true, nil
	case protoreflect.StringKind:
		return protoreflect.ValueOfString(t.UTC().Format(time.RFC3339Nano)), true, nil
	case protoreflect.MessageKind:
		if IsTimestamp(fd.Message()) {
			sub := newMessage(target, fd)
			FillTimestamp(sub, t)
			return protoreflect.ValueOfMessage(sub), true, nil
		}
		return protoreflect.Value{}, false, errors.Unsupported(
			"converting TIMESTAMP values to sub-message type '" + string(fd.Message().FullName()) + "'")
	}
	return protoreflect.Value{}, false, errors.Unsupported("converting TIMESTAMP values to proto-type " + fd.Kind().String())
}

func inflateDate(target protoreflect.Message, fd protoreflect.FieldDescriptor, day civil.Date) (protoreflect.Value, bool, error) {
	switch fd.Kind() {
	case protoreflect.StringKind:
		return protoreflect.ValueOfString(FormatDate(day)), true, nil
	case protoreflect.MessageKind:
		sub := newMessage(target, fd)
		switch {
		case IsDate(fd.Message()):
			FillDate(sub, day)
		case IsTimestamp(fd.Message()):
			FillTimestamp(sub, day.In(time.UTC))
		default:
			return protoreflect.Value{}, false, errors.Unsupported(
				"converting DATE values to sub-message type '" + string(fd.Message().FullName()) + "'")
		}
		return protoreflect.ValueOfMessage(sub), true, nil
	}
	return protoreflect.Value{}, false, errors.Unsupported("converting DATE values to proto-type " + fd.Kind().String())
}
