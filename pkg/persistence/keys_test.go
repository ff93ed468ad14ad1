package persistence_test

import (
	"testing"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/persistence"
	"github.com/ajitpratap0/strata/pkg/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"
)

func TestGenerateID(t *testing.T) {
	f := testutil.Fixtures()
	buffet := f.TypeBuffet.Fields()

	tests := []struct {
		field string
		check func(t *testing.T, v protoreflect.Value)
	}{
		{"string_field", func(t *testing.T, v protoreflect.Value) {
			_, err := uuid.Parse(v.String())
			assert.NoError(t, err)
		}},
		{"int_normal", func(t *testing.T, v protoreflect.Value) { assert.Positive(t, v.Int()) }},
		{"int_double", func(t *testing.T, v protoreflect.Value) { assert.Positive(t, v.Int()) }},
		{"uint_double", func(t *testing.T, v protoreflect.Value) { assert.NotZero(t, v.Uint()) }},
		{"fixed_normal", func(t *testing.T, v protoreflect.Value) { assert.NotZero(t, v.Uint()) }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			fd := buffet.ByName(protoreflect.Name(tt.field))
			require.NotNil(t, fd)
			v, err := persistence.GenerateID(fd)
			require.NoError(t, err)
			tt.check(t, v)
		})
	}

	for _, field := range []string{"bool_field", "labels", "timestamp"} {
		t.Run("rejects "+field, func(t *testing.T) {
			_, err := persistence.GenerateID(buffet.ByName(protoreflect.Name(field)))
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}
}

func TestGenerateKey(t *testing.T) {
	f := testutil.Fixtures()
	meta := f.Metadata()

	key, err := persistence.GenerateKey(meta, f.NewPerson("", "Ada", 36), f.New(f.PersonKey))
	require.NoError(t, err)
	id, ok, err := meta.ID(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, id.String())

	ticketKey, err := persistence.GenerateKey(meta, f.NewTicket(0, "printer on fire"), f.New(f.TicketKey))
	require.NoError(t, err)
	tid, _, _ := meta.ID(ticketKey)
	assert.Positive(t, tid.Int())

	_, err = persistence.GenerateKey(meta, f.NewPerson("", "Ada", 36), f.New(f.TicketKey))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = persistence.GenerateKey(meta, f.New(f.TypeBuffet), f.New(f.PersonKey))
	assert.True(t, errors.IsType(err, errors.ErrorTypeMissingField))
}
