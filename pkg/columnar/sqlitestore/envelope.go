package sqlitestore

import (
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/goccy/go-json"
)

// Rows are stored as a self-describing JSON envelope so a single physical
// table can hold any logical table's columns.

type envelope struct {
	Columns []envelopeColumn `json:"columns"`
}

type envelopeColumn struct {
	Name  string          `json:"name"`
	Type  typeSpec        `json:"type"`
	Value json.RawMessage `json:"value"`
}

type typeSpec struct {
	Code   string      `json:"code"`
	Elem   *typeSpec   `json:"elem,omitempty"`
	Fields []fieldSpec `json:"fields,omitempty"`
}

type fieldSpec struct {
	Name string   `json:"name"`
	Type typeSpec `json:"type"`
}

var null = json.RawMessage("null")

func specOf(t columnar.Type) typeSpec {
	spec := typeSpec{Code: t.Code.String()}
	if t.Elem != nil {
		elem := specOf(*t.Elem)
		spec.Elem = &elem
	}
	for _, f := range t.Fields {
		spec.Fields = append(spec.Fields, fieldSpec{Name: f.Name, Type: specOf(f.Type)})
	}
	return spec
}

func (s typeSpec) columnType() (columnar.Type, error) {
	code, err := columnar.ParseTypeCode(s.Code)
	if err != nil {
		return columnar.Type{}, err
	}
	t := columnar.Type{Code: code}
	if s.Elem != nil {
		elem, err := s.Elem.columnType()
		if err != nil {
			return columnar.Type{}, err
		}
		t.Elem = &elem
	}
	for _, f := range s.Fields {
		ft, err := f.Type.columnType()
		if err != nil {
			return columnar.Type{}, err
		}
		t.Fields = append(t.Fields, columnar.StructField{Name: f.Name, Type: ft})
	}
	return t, nil
}

func encodeRow(row columnar.Row) ([]byte, error) {
	env, err := toEnvelope(row)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func decodeRow(data []byte) (columnar.Row, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return columnar.Row{}, fmt.Errorf("decode row envelope: %w", err)
	}
	return fromEnvelope(env)
}

func toEnvelope(row columnar.Row) (envelope, error) {
	env := envelope{Columns: make([]envelopeColumn, 0, len(row.Columns))}
	for _, c := range row.Columns {
		raw, err := encodeValue(c.Value.Type, c.Value.V)
		if err != nil {
			return envelope{}, fmt.Errorf("column %s: %w", c.Name, err)
		}
		env.Columns = append(env.Columns, envelopeColumn{Name: c.Name, Type: specOf(c.Value.Type), Value: raw})
	}
	return env, nil
}

func fromEnvelope(env envelope) (columnar.Row, error) {
	var row columnar.Row
	for _, c := range env.Columns {
		t, err := c.Type.columnType()
		if err != nil {
			return columnar.Row{}, fmt.Errorf("column %s: %w", c.Name, err)
		}
		v, err := decodeValue(t, c.Value)
		if err != nil {
			return columnar.Row{}, fmt.Errorf("column %s: %w", c.Name, err)
		}
		row.Columns = append(row.Columns, columnar.Column{Name: c.Name, Value: columnar.Value{Type: t, V: v}})
	}
	return row, nil
}

func encodeValue(t columnar.Type, v any) (json.RawMessage, error) {
	if v == nil {
		return null, nil
	}
	var out any
	switch x := v.(type) {
	case bool, int64, string, []byte:
		out = x
	case float64:
		// JSON has no NaN or infinities.
		out = strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		out = x.UTC().Format(time.RFC3339Nano)
	case civil.Date:
		out = x.String()
	case columnar.Row:
		env, err := toEnvelope(x)
		if err != nil {
			return nil, err
		}
		out = env
	case []any:
		items := make([]json.RawMessage, len(x))
		for i, item := range x {
			raw, err := encodeValue(t.Inner(), item)
			if err != nil {
				return nil, err
			}
			items[i] = raw
		}
		out = items
	default:
		return nil, fmt.Errorf("unsupported %s value %T", t.Code, v)
	}
	return json.Marshal(out)
}

func decodeValue(t columnar.Type, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch t.Code {
	case columnar.TypeBool:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case columnar.TypeInt64:
		var n int64
		err := json.Unmarshal(raw, &n)
		return n, err
	case columnar.TypeFloat64:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return strconv.ParseFloat(s, 64)
	case columnar.TypeString, columnar.TypeNumeric:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case columnar.TypeBytes:
		var b []byte
		err := json.Unmarshal(raw, &b)
		return b, err
	case columnar.TypeTimestamp:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case columnar.TypeDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return civil.ParseDate(s)
	case columnar.TypeStruct:
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, err
		}
		return fromEnvelope(env)
	case columnar.TypeArray:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := decodeValue(t.Inner(), item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported column type %s", t)
}
