package columnar

import (
	"math/big"
	"strconv"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/schema"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

var jsonMarshal = protojson.MarshalOptions{}

// RowEncoder serializes models into rows. The produced row is returned to
// the caller and never retained.
type RowEncoder[M proto.Message] struct {
	mapper *Mapper
}

// NewRowEncoder creates an encoder resolving columns through mapper.
func NewRowEncoder[M proto.Message](mapper *Mapper) *RowEncoder[M] {
	return &RowEncoder[M]{mapper: mapper}
}

// Serialize binds every eligible, populated field of model. The KEY field
// and a top-level ID field collapse into the primary key column. Absent
// scalars and empty repeated fields produce no column.
func (e *RowEncoder[M]) Serialize(model M) (Row, error) {
	m := e.mapper
	msg := model.ProtoReflect()
	md := msg.Descriptor()

	key, err := m.KeyColumn(md)
	if err != nil {
		return Row{}, err
	}

	var row Row
	for _, p := range m.meta.AllFields(md, false, func(p schema.FieldPointer) bool { return m.Eligible(p.Field) }) {
		fd := p.Field
		if !hasValue(msg, fd) {
			continue
		}
		kind := m.meta.Field(fd).Kind
		if kind == schema.FieldKey || (kind == schema.FieldID && key.ID.Depth == 0) {
			if fd.IsList() {
				return Row{}, errors.Newf(errors.ErrorTypeData,
					"Key field '%s' cannot be repeated.", fd.FullName())
			}
			id, ok, err := m.meta.ID(model)
			if err != nil {
				return Row{}, err
			}
			if ok {
				v, err := keyValue(key, id)
				if err != nil {
					return Row{}, err
				}
				row.Set(key.Name, v)
			}
			continue
		}

		t, err := m.ColumnType(fd)
		if err != nil {
			return Row{}, err
		}
		v, err := e.bind(fd, msg.Get(fd), t)
		if err != nil {
			return Row{}, err
		}
		row.Set(m.ColumnName(fd), v)
	}
	return row, nil
}

func hasValue(msg protoreflect.Message, fd protoreflect.FieldDescriptor) bool {
	if fd.IsList() {
		return msg.Get(fd).List().Len() > 0
	}
	return msg.Has(fd)
}

// keyValue renders an ID as the primary key column value.
func keyValue(key KeyColumn, id protoreflect.Value) (Value, error) {
	switch x := id.Interface().(type) {
	case string:
		if key.Type.Code == TypeString {
			return StringValue(x), nil
		}
	case int64:
		return Int64Value(x), nil
	case uint64:
		return Int64Value(int64(x)), nil
	}
	return Value{}, errors.Newf(errors.ErrorTypeData,
		"Unsupported key value of type %T for column %s.", id.Interface(), key.Name)
}

func (e *RowEncoder[M]) bind(fd protoreflect.FieldDescriptor, v protoreflect.Value, t Type) (Value, error) {
	if !fd.IsList() {
		return e.bindScalar(fd, v, t)
	}
	inner := t.Inner()
	list := v.List()
	items := make([]any, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		item, err := e.bindScalar(fd, list.Get(i), inner)
		if err != nil {
			return Value{}, err
		}
		items = append(items, item.V)
	}
	return ArrayValue(inner, items), nil
}

func (e *RowEncoder[M]) bindScalar(fd protoreflect.FieldDescriptor, v protoreflect.Value, t Type) (Value, error) {
	switch t.Code {
	case TypeBool:
		if fd.Kind() == protoreflect.BoolKind {
			return BoolValue(v.Bool()), nil
		}
	case TypeInt64:
		if n, ok := integral(fd, v); ok {
			return Int64Value(n), nil
		}
	case TypeFloat64:
		switch fd.Kind() {
		case protoreflect.FloatKind, protoreflect.DoubleKind:
			return Float64Value(v.Float()), nil
		}
	case TypeNumeric:
		switch fd.Kind() {
		case protoreflect.EnumKind:
			return NumericValue(strconv.FormatInt(int64(v.Enum()), 10)), nil
		case protoreflect.StringKind:
			if _, ok := new(big.Rat).SetString(v.String()); !ok {
				return Value{}, errors.Newf(errors.ErrorTypeData,
					"Value of field '%s' is not a valid NUMERIC literal.", fd.FullName())
			}
			return NumericValue(v.String()), nil
		}
	case TypeString:
		switch fd.Kind() {
		case protoreflect.StringKind:
			return StringValue(v.String()), nil
		case protoreflect.EnumKind:
			ev := fd.Enum().Values().ByNumber(v.Enum())
			if ev == nil {
				return Value{}, errors.Newf(errors.ErrorTypeData,
					"Enum value %d of field '%s' has no name.", v.Enum(), fd.FullName())
			}
			return StringValue(string(ev.Name())), nil
		case protoreflect.MessageKind:
			if e.mapper.JSONField(fd) {
				data, err := jsonMarshal.Marshal(v.Message().Interface())
				if err != nil {
					return Value{}, errors.Wrap(err, errors.ErrorTypeData, "failed to encode JSON field").
						WithDetail("field", string(fd.FullName()))
				}
				return StringValue(string(data)), nil
			}
		}
	case TypeBytes:
		switch fd.Kind() {
		case protoreflect.BytesKind:
			return BytesValue(append([]byte(nil), v.Bytes()...)), nil
		case protoreflect.StringKind:
			return BytesValue([]byte(v.String())), nil
		}
	case TypeTimestamp:
		if fd.Kind() == protoreflect.MessageKind && IsTimestamp(fd.Message()) {
			return TimestampValue(TimeFromTimestamp(v.Message())), nil
		}
		return Value{}, errors.Unsupported("TIMESTAMP columns from non-Timestamp fields").
			WithDetail("field", string(fd.FullName()))
	case TypeDate:
		if fd.Kind() == protoreflect.MessageKind && IsDate(fd.Message()) {
			return DateValue(DateFromMessage(v.Message())), nil
		}
		return Value{}, errors.Unsupported("DATE columns from non-Date fields").
			WithDetail("field", string(fd.FullName()))
	case TypeStruct:
		return Value{}, errors.Newf(errors.ErrorTypeCapability,
			"STRUCT types are expressions and are not valid for storage. Please use either a `JSON` field "+
				"or valid sub-collection binding, at field path '%s'.", fd.FullName())
	}
	return Value{}, errors.Newf(errors.ErrorTypeData,
		"Cannot bind field '%s' of kind %s to a %s column.", fd.FullName(), fd.Kind(), t.Code)
}

// integral widens any integer or enum field value to int64.
func integral(fd protoreflect.FieldDescriptor, v protoreflect.Value) (int64, bool) {
	switch fd.Kind() {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return v.Int(), true
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return int64(v.Uint()), true
	case protoreflect.EnumKind:
		return int64(v.Enum()), true
	}
	return 0, false
}
