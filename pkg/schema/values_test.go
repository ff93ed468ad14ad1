package schema_test

import (
	"testing"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/schema"
	"github.com/ajitpratap0/strata/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func TestPluck(t *testing.T) {
	f := testutil.Fixtures()
	m := f.Metadata()

	person := f.NewPerson("p-1", "Ada", 36)

	c, err := m.Pluck(person, "name")
	require.NoError(t, err)
	assert.True(t, c.Present)
	assert.Equal(t, "Ada", c.Value.String())

	c, err = m.Pluck(person, "key.id")
	require.NoError(t, err)
	assert.True(t, c.Present)
	assert.Equal(t, "p-1", c.Value.String())

	// unset sub-message
	c, err = m.Pluck(person, "contact_info")
	require.NoError(t, err)
	assert.False(t, c.Present)

	// leaf under an unset sub-message
	c, err = m.Pluck(person, "contact_info.email_address")
	require.NoError(t, err)
	assert.False(t, c.Present)

	// an empty sub-message counts as absent
	testutil.Set(person, "contact_info", f.New(f.ContactInfo))
	c, err = m.Pluck(person, "contact_info")
	require.NoError(t, err)
	assert.False(t, c.Present)

	testutil.Set(person, "contact_info", f.NewContactInfo("ada@example.com"))
	c, err = m.Pluck(person, "contact_info")
	require.NoError(t, err)
	assert.True(t, c.Present)
}

func TestPluckErrors(t *testing.T) {
	f := testutil.Fixtures()
	m := f.Metadata()
	person := f.NewPerson("p-1", "Ada", 36)

	tests := []struct {
		path    string
		wantErr string
	}{
		{"nickname", "Failed to locate field 'nickname' on model type 'Person'."},
		{"name.first", "Cannot access sub-field of primitive leaf field"},
		{"name.", "Invalid deep-field path"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := m.Pluck(person, tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSplice(t *testing.T) {
	f := testutil.Fixtures()
	m := f.Metadata()
	person := f.NewPerson("p-1", "Ada", 36)

	out, err := m.Splice(person, "name", protoreflect.ValueOfString("Grace"))
	require.NoError(t, err)
	assert.Equal(t, "Grace", testutil.Get(out, "name").String())
	// the input is not modified
	assert.Equal(t, "Ada", testutil.Get(person, "name").String())

	out, err = m.Splice(person, "contact_info.email_address", protoreflect.ValueOfString("ada@example.com"))
	require.NoError(t, err)
	c, err := m.Pluck(out, "contact_info.email_address")
	require.NoError(t, err)
	assert.True(t, c.Present)
	assert.Equal(t, "ada@example.com", c.Value.String())

	out, err = m.Splice(person, "name", protoreflect.Value{})
	require.NoError(t, err)
	assert.Equal(t, "", testutil.Get(out, "name").String())

	_, err = m.Splice(person, "age", protoreflect.ValueOfString("thirty-six"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	_, err = m.Splice(person, "key", protoreflect.ValueOfMessage(f.New(f.ContactInfo)))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	_, err = m.Splice(person, "nickname", protoreflect.ValueOfString("A"))
	assert.Error(t, err)
}

func TestSpliceID(t *testing.T) {
	f := testutil.Fixtures()
	m := f.Metadata()

	out, err := m.SpliceID(f.NewPerson("", "Ada", 36), protoreflect.ValueOfString("p-2"))
	require.NoError(t, err)
	id, ok, err := m.ID(out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p-2", id.String())

	out, err = m.SpliceID(f.New(f.TypeBuffet), protoreflect.ValueOfInt64(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), testutil.Get(out, "id").Int())

	_, err = m.SpliceID(f.New(f.TypeBuffet), protoreflect.ValueOfString("42"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	_, err = m.SpliceID(f.NewPerson("p-1", "", 0), protoreflect.ValueOfMessage(f.NewPersonKey("x")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot set messages as ID values.")

	_, err = m.SpliceID(f.New(f.ContactInfo), protoreflect.ValueOfString("x"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeMissingField))

	_, err = m.SpliceID(f.New(f.EnrollEvent), protoreflect.ValueOfString("x"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidModel))
}

func TestSpliceKeyAndKey(t *testing.T) {
	f := testutil.Fixtures()
	m := f.Metadata()

	person := f.NewPerson("", "Ada", 36)
	_, ok, err := m.Key(person)
	require.NoError(t, err)
	assert.False(t, ok)

	out, err := m.SpliceKey(person, f.NewPersonKey("p-3"))
	require.NoError(t, err)
	key, ok, err := m.Key(out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, proto.Equal(f.NewPersonKey("p-3"), key))

	cleared, err := m.SpliceKey(out, nil)
	require.NoError(t, err)
	_, ok, err = m.Key(cleared)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.SpliceKey(f.New(f.ContactInfo), f.NewPersonKey("p-3"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeMissingField))

	_, _, err = m.Key(f.New(f.TypeBuffet))
	assert.True(t, errors.IsType(err, errors.ErrorTypeMissingField))

	_, _, err = m.ID(f.New(f.ContactInfo))
	assert.True(t, errors.IsType(err, errors.ErrorTypeMissingField))
}

func TestPresent(t *testing.T) {
	f := testutil.Fixtures()
	var typedNil *dynamicpb.Message

	assert.False(t, schema.Present(nil))
	assert.False(t, schema.Present(typedNil))
	assert.False(t, schema.Present((*timestamppb.Timestamp)(nil)))
	assert.True(t, schema.Present(f.NewPersonKey("")))
	assert.True(t, schema.Present(f.NewPerson("p-1", "Ada", 36)))
}

func TestPopulatedID(t *testing.T) {
	tests := []struct {
		name  string
		value protoreflect.Value
		want  bool
	}{
		{"empty string", protoreflect.ValueOfString(""), false},
		{"string", protoreflect.ValueOfString("p-1"), true},
		{"zero int64", protoreflect.ValueOfInt64(0), false},
		{"int64", protoreflect.ValueOfInt64(7), true},
		{"zero uint64", protoreflect.ValueOfUint64(0), false},
		{"int32", protoreflect.ValueOfInt32(-3), true},
		{"unset", protoreflect.Value{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, schema.PopulatedID(tt.value))
		})
	}
}
