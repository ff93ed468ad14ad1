package spannerstore

import (
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"cloud.google.com/go/spanner"
	sppb "cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/ajitpratap0/strata/pkg/columnar"
	"google.golang.org/protobuf/types/known/structpb"
)

// Values cross the client boundary as GenericColumnValue, in the Spanner
// wire encoding: INT64 and NUMERIC as decimal strings, BYTES as base64,
// TIMESTAMP as RFC 3339 and DATE as YYYY-MM-DD.

var typeCodes = map[columnar.TypeCode]sppb.TypeCode{
	columnar.TypeBool:      sppb.TypeCode_BOOL,
	columnar.TypeInt64:     sppb.TypeCode_INT64,
	columnar.TypeFloat64:   sppb.TypeCode_FLOAT64,
	columnar.TypeNumeric:   sppb.TypeCode_NUMERIC,
	columnar.TypeString:    sppb.TypeCode_STRING,
	columnar.TypeBytes:     sppb.TypeCode_BYTES,
	columnar.TypeTimestamp: sppb.TypeCode_TIMESTAMP,
	columnar.TypeDate:      sppb.TypeCode_DATE,
	columnar.TypeStruct:    sppb.TypeCode_STRUCT,
	columnar.TypeArray:     sppb.TypeCode_ARRAY,
}

func wireType(t columnar.Type) (*sppb.Type, error) {
	code, ok := typeCodes[t.Code]
	if !ok {
		return nil, fmt.Errorf("no spanner type for %s", t)
	}
	out := &sppb.Type{Code: code}
	switch t.Code {
	case columnar.TypeArray:
		elem, err := wireType(t.Inner())
		if err != nil {
			return nil, err
		}
		out.ArrayElementType = elem
	case columnar.TypeStruct:
		out.StructType = &sppb.StructType{}
		for _, f := range t.Fields {
			ft, err := wireType(f.Type)
			if err != nil {
				return nil, err
			}
			out.StructType.Fields = append(out.StructType.Fields, &sppb.StructType_Field{Name: f.Name, Type: ft})
		}
	}
	return out, nil
}

func columnType(t *sppb.Type) (columnar.Type, error) {
	switch t.GetCode() {
	case sppb.TypeCode_BOOL:
		return columnar.Scalar(columnar.TypeBool), nil
	case sppb.TypeCode_INT64:
		return columnar.Scalar(columnar.TypeInt64), nil
	case sppb.TypeCode_FLOAT64, sppb.TypeCode_FLOAT32:
		return columnar.Scalar(columnar.TypeFloat64), nil
	case sppb.TypeCode_NUMERIC:
		return columnar.Scalar(columnar.TypeNumeric), nil
	case sppb.TypeCode_STRING, sppb.TypeCode_JSON:
		return columnar.Scalar(columnar.TypeString), nil
	case sppb.TypeCode_BYTES:
		return columnar.Scalar(columnar.TypeBytes), nil
	case sppb.TypeCode_TIMESTAMP:
		return columnar.Scalar(columnar.TypeTimestamp), nil
	case sppb.TypeCode_DATE:
		return columnar.Scalar(columnar.TypeDate), nil
	case sppb.TypeCode_ARRAY:
		elem, err := columnType(t.GetArrayElementType())
		if err != nil {
			return columnar.Type{}, err
		}
		return columnar.ArrayOf(elem), nil
	case sppb.TypeCode_STRUCT:
		var fields []columnar.StructField
		for _, f := range t.GetStructType().GetFields() {
			ft, err := columnType(f.GetType())
			if err != nil {
				return columnar.Type{}, err
			}
			fields = append(fields, columnar.StructField{Name: f.GetName(), Type: ft})
		}
		return columnar.StructOf(fields...), nil
	}
	return columnar.Type{}, fmt.Errorf("unsupported spanner type %s", t.GetCode())
}

// toGeneric encodes v for a mutation.
func toGeneric(v columnar.Value) (spanner.GenericColumnValue, error) {
	t, err := wireType(v.Type)
	if err != nil {
		return spanner.GenericColumnValue{}, err
	}
	pv, err := encode(v.Type, v.V)
	if err != nil {
		return spanner.GenericColumnValue{}, err
	}
	return spanner.GenericColumnValue{Type: t, Value: pv}, nil
}

// fromGeneric decodes a column read from Spanner.
func fromGeneric(gcv spanner.GenericColumnValue) (columnar.Value, error) {
	t, err := columnType(gcv.Type)
	if err != nil {
		return columnar.Value{}, err
	}
	v, err := decode(t, gcv.Value)
	if err != nil {
		return columnar.Value{}, err
	}
	return columnar.Value{Type: t, V: v}, nil
}

func encode(t columnar.Type, v any) (*structpb.Value, error) {
	if v == nil {
		return structpb.NewNullValue(), nil
	}
	switch x := v.(type) {
	case bool:
		return structpb.NewBoolValue(x), nil
	case int64:
		return structpb.NewStringValue(strconv.FormatInt(x, 10)), nil
	case float64:
		switch {
		case math.IsNaN(x):
			return structpb.NewStringValue("NaN"), nil
		case math.IsInf(x, 1):
			return structpb.NewStringValue("Infinity"), nil
		case math.IsInf(x, -1):
			return structpb.NewStringValue("-Infinity"), nil
		}
		return structpb.NewNumberValue(x), nil
	case string:
		if t.Code == columnar.TypeNumeric {
			r, ok := new(big.Rat).SetString(x)
			if !ok {
				return nil, fmt.Errorf("invalid NUMERIC literal %q", x)
			}
			return structpb.NewStringValue(spanner.NumericString(r)), nil
		}
		return structpb.NewStringValue(x), nil
	case []byte:
		return structpb.NewStringValue(base64.StdEncoding.EncodeToString(x)), nil
	case time.Time:
		return structpb.NewStringValue(x.UTC().Format(time.RFC3339Nano)), nil
	case civil.Date:
		return structpb.NewStringValue(x.String()), nil
	case []any:
		items := make([]*structpb.Value, len(x))
		for i, item := range x {
			pv, err := encode(t.Inner(), item)
			if err != nil {
				return nil, err
			}
			items[i] = pv
		}
		return structpb.NewListValue(&structpb.ListValue{Values: items}), nil
	case columnar.Row:
		items := make([]*structpb.Value, len(t.Fields))
		for i, f := range t.Fields {
			fv, _ := x.Get(f.Name)
			pv, err := encode(f.Type, fv.V)
			if err != nil {
				return nil, err
			}
			items[i] = pv
		}
		return structpb.NewListValue(&structpb.ListValue{Values: items}), nil
	}
	return nil, fmt.Errorf("unsupported %s value %T", t.Code, v)
}

func decode(t columnar.Type, pv *structpb.Value) (any, error) {
	if pv == nil {
		return nil, nil
	}
	if _, ok := pv.GetKind().(*structpb.Value_NullValue); ok {
		return nil, nil
	}

	switch t.Code {
	case columnar.TypeBool:
		b, ok := pv.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return nil, fmt.Errorf("BOOL column holds %T", pv.GetKind())
		}
		return b.BoolValue, nil
	case columnar.TypeInt64:
		return strconv.ParseInt(pv.GetStringValue(), 10, 64)
	case columnar.TypeFloat64:
		if n, ok := pv.GetKind().(*structpb.Value_NumberValue); ok {
			return n.NumberValue, nil
		}
		switch s := pv.GetStringValue(); s {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		default:
			return strconv.ParseFloat(s, 64)
		}
	case columnar.TypeNumeric, columnar.TypeString:
		return pv.GetStringValue(), nil
	case columnar.TypeBytes:
		return base64.StdEncoding.DecodeString(pv.GetStringValue())
	case columnar.TypeTimestamp:
		return time.Parse(time.RFC3339Nano, pv.GetStringValue())
	case columnar.TypeDate:
		return civil.ParseDate(pv.GetStringValue())
	case columnar.TypeArray:
		values := pv.GetListValue().GetValues()
		out := make([]any, len(values))
		for i, item := range values {
			v, err := decode(t.Inner(), item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case columnar.TypeStruct:
		values := pv.GetListValue().GetValues()
		if len(values) != len(t.Fields) {
			return nil, fmt.Errorf("STRUCT value has %d fields, type has %d", len(values), len(t.Fields))
		}
		var row columnar.Row
		for i, f := range t.Fields {
			v, err := decode(f.Type, values[i])
			if err != nil {
				return nil, err
			}
			row.Set(f.Name, columnar.Value{Type: f.Type, V: v})
		}
		return row, nil
	}
	return nil, fmt.Errorf("unsupported column type %s", t)
}
