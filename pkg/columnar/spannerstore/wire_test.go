package spannerstore

import (
	"context"
	"math"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"cloud.google.com/go/spanner"
	sppb "cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestWireRoundTrip(t *testing.T) {
	contactType := columnar.StructOf(
		columnar.StructField{Name: "Email", Type: columnar.Scalar(columnar.TypeString)},
		columnar.StructField{Name: "Phones", Type: columnar.ArrayOf(columnar.Scalar(columnar.TypeString))},
	)
	contact := columnar.Row{}
	contact.Set("Email", columnar.StringValue("a@example.com"))
	contact.Set("Phones", columnar.ArrayValue(columnar.Scalar(columnar.TypeString), []any{"1", nil}))

	tests := []struct {
		name string
		v    columnar.Value
	}{
		{"bool", columnar.BoolValue(true)},
		{"int64", columnar.Int64Value(math.MinInt64)},
		{"float64", columnar.Float64Value(2.5)},
		{"infinity", columnar.Float64Value(math.Inf(1))},
		{"numeric", columnar.NumericValue("12.500000000")},
		{"string", columnar.StringValue("héllo")},
		{"bytes", columnar.BytesValue([]byte{0xff, 0x00})},
		{"timestamp", columnar.TimestampValue(time.Date(2024, 2, 29, 1, 2, 3, 4000, time.UTC))},
		{"date", columnar.DateValue(civil.Date{Year: 1999, Month: time.December, Day: 31})},
		{"array", columnar.ArrayValue(columnar.Scalar(columnar.TypeInt64), []any{int64(1), nil, int64(3)})},
		{"struct", columnar.StructValue(contactType, contact)},
		{"null", columnar.Null(columnar.Scalar(columnar.TypeDate))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gcv, err := toGeneric(tt.v)
			require.NoError(t, err)
			got, err := fromGeneric(gcv)
			require.NoError(t, err)
			assert.Equal(t, tt.v, got)
		})
	}
}

func TestWireEncoding(t *testing.T) {
	gcv, err := toGeneric(columnar.Int64Value(42))
	require.NoError(t, err)
	assert.Equal(t, sppb.TypeCode_INT64, gcv.Type.GetCode())
	assert.Equal(t, "42", gcv.Value.GetStringValue())

	gcv, err = toGeneric(columnar.Float64Value(math.NaN()))
	require.NoError(t, err)
	assert.Equal(t, "NaN", gcv.Value.GetStringValue())

	gcv, err = toGeneric(columnar.NumericValue("1.5"))
	require.NoError(t, err)
	assert.Equal(t, "1.500000000", gcv.Value.GetStringValue())

	_, err = toGeneric(columnar.NumericValue("one"))
	assert.Error(t, err)

	// JSON columns read back as strings.
	v, err := fromGeneric(spannerGCV(&sppb.Type{Code: sppb.TypeCode_JSON}, structpb.NewStringValue(`{"a":1}`)))
	require.NoError(t, err)
	assert.Equal(t, columnar.StringValue(`{"a":1}`), v)

	_, err = fromGeneric(spannerGCV(&sppb.Type{Code: sppb.TypeCode_PROTO}, structpb.NewStringValue("")))
	assert.Error(t, err)
}

func TestToMutation(t *testing.T) {
	row := columnar.Row{}
	row.Set("Name", columnar.StringValue("Ada"))
	row.Set("ID", columnar.StringValue("ignored"))

	for _, op := range []columnar.Op{columnar.OpInsert, columnar.OpUpdate, columnar.OpInsertOrUpdate, columnar.OpDelete} {
		t.Run(op.String(), func(t *testing.T) {
			m, err := toMutation(columnar.Mutation{
				Op: op, Table: "People", KeyColumn: "ID", Key: columnar.StringValue("p-1"), Row: row,
			})
			require.NoError(t, err)
			assert.NotNil(t, m)
		})
	}

	_, err := toMutation(columnar.Mutation{Op: columnar.OpInsert, Table: "People", KeyColumn: "ID",
		Key: columnar.BoolValue(true)})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestOpenAndTargets(t *testing.T) {
	_, err := Open(config.StoreConfig{Kind: config.StoreSpanner, Project: "p"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	s, err := Open(config.StoreConfig{Kind: config.StoreSpanner, Project: "p", Instance: "i", Database: "d"})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "projects/p/instances/i/databases/d", s.DatabasePath(columnar.Target{}))
	assert.Equal(t, "projects/p/instances/i/databases/audit", s.DatabasePath(columnar.Target{Database: "audit"}))
	assert.Equal(t, "projects/p/instances/eu/databases/d", s.DatabasePath(columnar.Target{Instance: "eu"}))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, _, err = s.ReadRow(context.Background(), "People", "ID", columnar.StringValue("x"), columnar.ReadOptions{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func spannerGCV(t *sppb.Type, v *structpb.Value) spanner.GenericColumnValue {
	return spanner.GenericColumnValue{Type: t, Value: v}
}
