package columnar

import (
	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/schema"
	"github.com/ajitpratap0/strata/pkg/strings"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/type/date"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Column sizing defaults.
const (
	DefaultStringSize = 2048
	DefaultKeySize    = 240
)

var (
	timestampName = (&timestamppb.Timestamp{}).ProtoReflect().Descriptor().FullName()
	dateName      = (&date.Date{}).ProtoReflect().Descriptor().FullName()
)

// IsTimestamp reports whether md is google.protobuf.Timestamp.
func IsTimestamp(md protoreflect.MessageDescriptor) bool {
	return md != nil && md.FullName() == timestampName
}

// IsDate reports whether md is google.type.Date.
func IsDate(md protoreflect.MessageDescriptor) bool {
	return md != nil && md.FullName() == dateName
}

// Mapper resolves column names, types and eligibility for model fields
// under one set of driver settings. It holds no per-call state.
type Mapper struct {
	meta     *schema.Metadata
	settings config.DriverConfig
	logger   *zap.Logger
}

// NewMapper creates a mapper over meta.
func NewMapper(meta *schema.Metadata, settings config.DriverConfig) *Mapper {
	return &Mapper{
		meta:     meta,
		settings: settings,
		logger:   logger.With(zap.String("component", "columnar_mapper")),
	}
}

// Metadata returns the schema resolver.
func (m *Mapper) Metadata() *schema.Metadata {
	return m.meta
}

// Settings returns the driver settings.
func (m *Mapper) Settings() config.DriverConfig {
	return m.settings
}

// Table returns the table name for md: the annotated name, else the
// message's own name.
func (m *Mapper) Table(md protoreflect.MessageDescriptor) string {
	if t := m.meta.Message(md).Table; t != "" {
		return t
	}
	return string(md.Name())
}

// ColumnName resolves the column name for fd. Store-specific names win over
// generic names, which win over the literal field name when names are
// preserved. Otherwise the JSON name is used, capitalized when configured.
func (m *Mapper) ColumnName(fd protoreflect.FieldDescriptor) string {
	ann := m.meta.Field(fd)
	var name string
	switch {
	case ann.Spanner.Name != "":
		name = ann.Spanner.Name
	case ann.Column.Name != "":
		name = ann.Column.Name
	case m.settings.PreserveFieldNames:
		name = string(fd.Name())
	case m.settings.CapitalizedNames:
		name = strings.UpperFirst(fd.JSONName())
	default:
		name = fd.JSONName()
	}
	m.logger.Debug("resolved column name", zap.String("field", string(fd.FullName())), zap.String("column", name))
	return name
}

// Eligible reports whether fd maps to a column at all.
func (m *Mapper) Eligible(fd protoreflect.FieldDescriptor) bool {
	ann := m.meta.Field(fd)
	return !ann.Column.Ignore && !ann.Spanner.Ignore && !ann.Internal()
}

// JSONField reports whether fd is a message field stored as JSON text.
func (m *Mapper) JSONField(fd protoreflect.FieldDescriptor) bool {
	if fd.Kind() != protoreflect.MessageKind {
		return false
	}
	ann := m.meta.Field(fd)
	return ann.JSON || isJSONType(ann.Spanner.Type) || (ann.Spanner.Type == "" && isJSONType(ann.Column.Type))
}

func isJSONType(t string) bool {
	return t == "JSON" || t == "json"
}

// Size resolves the declared length of a STRING or BYTES column.
// Zero means MAX.
func (m *Mapper) Size(fd protoreflect.FieldDescriptor) int {
	return declaredSize(m.meta.Field(fd), DefaultStringSize)
}

func declaredSize(ann schema.FieldAnnotation, fallback int) int {
	for _, size := range []int{ann.Spanner.Size, ann.Column.Size} {
		switch {
		case size == schema.SizeMax:
			return 0
		case size > 0:
			return size
		}
	}
	return fallback
}

// Fields lists the eligible top-level fields of md in declaration order,
// skipping the KEY field. A non-nil columns set further restricts the list
// to fields whose column names it holds.
func (m *Mapper) Fields(md protoreflect.MessageDescriptor, columns map[string]struct{}) []schema.FieldPointer {
	return m.meta.AllFields(md, false, func(p schema.FieldPointer) bool {
		if !m.Eligible(p.Field) || m.meta.Field(p.Field).Kind == schema.FieldKey {
			return false
		}
		if columns != nil {
			_, ok := columns[m.ColumnName(p.Field)]
			return ok
		}
		return true
	})
}

// ColumnType resolves the column type of fd.
func (m *Mapper) ColumnType(fd protoreflect.FieldDescriptor) (Type, error) {
	return m.columnType(fd, map[protoreflect.FullName]bool{})
}

func (m *Mapper) columnType(fd protoreflect.FieldDescriptor, visiting map[protoreflect.FullName]bool) (Type, error) {
	if fd.IsMap() {
		return Type{}, errors.Unsupported("map fields as columns").WithDetail("field", string(fd.FullName()))
	}
	inner, err := m.elementType(fd, visiting)
	if err != nil {
		return Type{}, err
	}
	if fd.IsList() {
		return ArrayOf(inner), nil
	}
	return inner, nil
}

func (m *Mapper) elementType(fd protoreflect.FieldDescriptor, visiting map[protoreflect.FullName]bool) (Type, error) {
	ann := m.meta.Field(fd)
	override := ann.Spanner.Type
	if override == "" {
		override = ann.Column.Type
	}
	if override != "" {
		code, err := ParseTypeCode(override)
		if err != nil {
			return Type{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid column type override").
				WithDetail("field", string(fd.FullName()))
		}
		if code == TypeStruct || code == TypeArray {
			return Type{}, errors.Newf(errors.ErrorTypeValidation,
				"Column type override %s is not allowed on field '%s'.", code, fd.FullName())
		}
		return Scalar(code), nil
	}

	switch fd.Kind() {
	case protoreflect.DoubleKind, protoreflect.FloatKind:
		return Scalar(TypeFloat64), nil
	case protoreflect.Int32Kind, protoreflect.Int64Kind,
		protoreflect.Uint32Kind, protoreflect.Uint64Kind,
		protoreflect.Sint32Kind, protoreflect.Sint64Kind,
		protoreflect.Fixed32Kind, protoreflect.Fixed64Kind,
		protoreflect.Sfixed32Kind, protoreflect.Sfixed64Kind:
		return Scalar(TypeInt64), nil
	case protoreflect.BoolKind:
		return Scalar(TypeBool), nil
	case protoreflect.StringKind:
		return Scalar(TypeString), nil
	case protoreflect.BytesKind:
		return Scalar(TypeBytes), nil
	case protoreflect.EnumKind:
		if m.settings.EnumsAsNumbers {
			return Scalar(TypeNumeric), nil
		}
		return Scalar(TypeString), nil
	case protoreflect.MessageKind:
		md := fd.Message()
		switch {
		case IsTimestamp(md):
			return Scalar(TypeTimestamp), nil
		case IsDate(md):
			return Scalar(TypeDate), nil
		case ann.JSON:
			return Scalar(TypeString), nil
		}
		return m.structType(md, visiting)
	}
	return Type{}, errors.Unsupported("field kind "+fd.Kind().String()).WithDetail("field", string(fd.FullName()))
}

func (m *Mapper) structType(md protoreflect.MessageDescriptor, visiting map[protoreflect.FullName]bool) (Type, error) {
	if visiting[md.FullName()] {
		return Type{}, errors.Newf(errors.ErrorTypeValidation,
			"Message '%s' refers to itself and cannot be mapped to a STRUCT column.", md.FullName())
	}
	visiting[md.FullName()] = true
	defer delete(visiting, md.FullName())

	var fields []StructField
	for _, p := range m.meta.AllFields(md, false, func(p schema.FieldPointer) bool { return m.Eligible(p.Field) }) {
		t, err := m.columnType(p.Field, visiting)
		if err != nil {
			return Type{}, err
		}
		fields = append(fields, StructField{Name: m.ColumnName(p.Field), Type: t})
	}
	return StructOf(fields...), nil
}

// KeyColumn describes the primary key column of a table.
type KeyColumn struct {
	Name string
	Type Type
	Size int
	// ID addresses the ID field relative to the model
	ID schema.FieldPointer
}

// KeyColumn resolves md's primary key column from its ID field. The name
// follows the ID field's annotations; the type is INT64 for 64-bit integer
// IDs and STRING for string IDs.
func (m *Mapper) KeyColumn(md protoreflect.MessageDescriptor) (KeyColumn, error) {
	id, ok, err := m.meta.IDField(md)
	if err != nil {
		return KeyColumn{}, err
	}
	if !ok {
		return KeyColumn{}, errors.MissingAnnotatedField(string(md.FullName()), string(schema.FieldID))
	}
	if id.Field.IsList() {
		return KeyColumn{}, errors.Newf(errors.ErrorTypeValidation,
			"ID field '%s' cannot be repeated.", id.Field.FullName())
	}

	key := KeyColumn{Name: m.ColumnName(id.Field), ID: id}
	switch id.Field.Kind() {
	case protoreflect.StringKind:
		key.Type = Scalar(TypeString)
		key.Size = declaredSize(m.meta.Field(id.Field), DefaultKeySize)
	case protoreflect.Int64Kind, protoreflect.Uint64Kind, protoreflect.Fixed64Kind,
		protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		key.Type = Scalar(TypeInt64)
	default:
		return KeyColumn{}, errors.Newf(errors.ErrorTypeValidation,
			"Unsupported key type %s on ID field '%s'.", id.Field.Kind(), id.Field.FullName())
	}
	return key, nil
}
