package columnar

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// TypeCode is the column type family understood by columnar stores.
type TypeCode int

const (
	TypeUnspecified TypeCode = iota
	TypeBool
	TypeInt64
	TypeFloat64
	TypeNumeric
	TypeString
	TypeBytes
	TypeTimestamp
	TypeDate
	TypeStruct
	TypeArray
)

var typeNames = map[TypeCode]string{
	TypeUnspecified: "TYPE_CODE_UNSPECIFIED",
	TypeBool:        "BOOL",
	TypeInt64:       "INT64",
	TypeFloat64:     "FLOAT64",
	TypeNumeric:     "NUMERIC",
	TypeString:      "STRING",
	TypeBytes:       "BYTES",
	TypeTimestamp:   "TIMESTAMP",
	TypeDate:        "DATE",
	TypeStruct:      "STRUCT",
	TypeArray:       "ARRAY",
}

func (c TypeCode) String() string {
	if name, ok := typeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("TypeCode(%d)", int(c))
}

// ParseTypeCode parses an override type name. JSON maps to STRING, since
// JSON-typed fields are stored as encoded strings.
func ParseTypeCode(name string) (TypeCode, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "JSON" {
		return TypeString, nil
	}
	for code, n := range typeNames {
		if n == upper && code != TypeUnspecified {
			return code, nil
		}
	}
	return TypeUnspecified, fmt.Errorf("unknown column type %q", name)
}

// StructField is one named member of a STRUCT type.
type StructField struct {
	Name string
	Type Type
}

// Type is a column type. Elem is set for arrays, Fields for structs.
type Type struct {
	Code   TypeCode
	Elem   *Type
	Fields []StructField
}

// Scalar returns a non-composite type.
func Scalar(code TypeCode) Type {
	return Type{Code: code}
}

// ArrayOf returns an array type of elem.
func ArrayOf(elem Type) Type {
	return Type{Code: TypeArray, Elem: &elem}
}

// StructOf returns a struct type with the given members.
func StructOf(fields ...StructField) Type {
	return Type{Code: TypeStruct, Fields: fields}
}

// Inner returns the element type of an array, or t itself.
func (t Type) Inner() Type {
	if t.Code == TypeArray && t.Elem != nil {
		return *t.Elem
	}
	return t
}

// Equal reports whether t and o describe the same type.
func (t Type) Equal(o Type) bool {
	if t.Code != o.Code {
		return false
	}
	switch t.Code {
	case TypeArray:
		if t.Elem == nil || o.Elem == nil {
			return t.Elem == o.Elem
		}
		return t.Elem.Equal(*o.Elem)
	case TypeStruct:
		if len(t.Fields) != len(o.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != o.Fields[i].Name || !t.Fields[i].Type.Equal(o.Fields[i].Type) {
				return false
			}
		}
	}
	return true
}

func (t Type) String() string {
	switch t.Code {
	case TypeArray:
		return "ARRAY<" + t.Inner().String() + ">"
	case TypeStruct:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + " " + f.Type.String()
		}
		return "STRUCT<" + strings.Join(parts, ", ") + ">"
	}
	return t.Code.String()
}

// Value is a typed column value. A nil V is NULL.
//
// V holds bool, int64, float64, string (STRING and NUMERIC), []byte,
// time.Time, civil.Date, Row (STRUCT) or []any (ARRAY, elements of the
// inner type).
type Value struct {
	Type Type
	V    any
}

// Null returns a NULL value of type t.
func Null(t Type) Value {
	return Value{Type: t}
}

// IsNull reports whether v holds no value.
func (v Value) IsNull() bool {
	return v.V == nil
}

func BoolValue(b bool) Value           { return Value{Type: Scalar(TypeBool), V: b} }
func Int64Value(i int64) Value         { return Value{Type: Scalar(TypeInt64), V: i} }
func Float64Value(f float64) Value     { return Value{Type: Scalar(TypeFloat64), V: f} }
func NumericValue(s string) Value      { return Value{Type: Scalar(TypeNumeric), V: s} }
func StringValue(s string) Value       { return Value{Type: Scalar(TypeString), V: s} }
func BytesValue(b []byte) Value        { return Value{Type: Scalar(TypeBytes), V: b} }
func TimestampValue(t time.Time) Value { return Value{Type: Scalar(TypeTimestamp), V: t} }
func DateValue(d civil.Date) Value     { return Value{Type: Scalar(TypeDate), V: d} }

// ArrayValue builds an array value of elem-typed items.
func ArrayValue(elem Type, items []any) Value {
	return Value{Type: ArrayOf(elem), V: items}
}

// StructValue wraps a nested row.
func StructValue(t Type, row Row) Value {
	return Value{Type: t, V: row}
}

// Column is one named value within a row.
type Column struct {
	Name  string
	Value Value
}

// Row is an ordered set of columns as read from, or written to, a store.
type Row struct {
	Columns []Column
}

// Get returns the named column's value.
func (r Row) Get(name string) (Value, bool) {
	for _, c := range r.Columns {
		if c.Name == name {
			return c.Value, true
		}
	}
	return Value{}, false
}

// Set replaces or appends the named column.
func (r *Row) Set(name string, v Value) {
	for i := range r.Columns {
		if r.Columns[i].Name == name {
			r.Columns[i].Value = v
			return
		}
	}
	r.Columns = append(r.Columns, Column{Name: name, Value: v})
}

// Names lists column names in row order.
func (r Row) Names() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// Clone returns a copy of r sharing no mutable state with it.
func (r Row) Clone() Row {
	out := Row{Columns: make([]Column, len(r.Columns))}
	for i, c := range r.Columns {
		out.Columns[i] = Column{Name: c.Name, Value: c.Value.clone()}
	}
	return out
}

func (v Value) clone() Value {
	switch x := v.V.(type) {
	case []byte:
		v.V = append([]byte(nil), x...)
	case Row:
		v.V = x.Clone()
	case []any:
		items := make([]any, len(x))
		for i, item := range x {
			items[i] = Value{Type: v.Type.Inner(), V: item}.clone().V
		}
		v.V = items
	}
	return v
}

// Project returns a row holding only the named columns that are present in
// r, in r's order. A nil set keeps everything.
func (r Row) Project(names map[string]struct{}) Row {
	if names == nil {
		return r
	}
	out := Row{Columns: make([]Column, 0, len(names))}
	for _, c := range r.Columns {
		if _, ok := names[c.Name]; ok {
			out.Columns = append(out.Columns, c)
		}
	}
	return out
}
