package schema_test

import (
	"testing"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/schema"
	"github.com/ajitpratap0/strata/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoles(t *testing.T) {
	f := testutil.Fixtures()
	m := f.Metadata()

	assert.Equal(t, schema.RoleObject, m.Role(f.Person))
	assert.Equal(t, schema.RoleObjectKey, m.Role(f.PersonKey))
	assert.Equal(t, schema.RoleEvent, m.Role(f.EnrollEvent))
	// unannotated messages are objects
	assert.Equal(t, schema.RoleObject, m.Role(f.ContactInfo))

	assert.True(t, m.MatchAnyRole(f.PersonKey, schema.RoleObject, schema.RoleObjectKey))
	assert.False(t, m.MatchRole(f.EnrollEvent, schema.RoleObject))

	require.NoError(t, m.EnforceRole(f.Person, schema.RoleObject))
	err := m.EnforceAnyRole(f.EnrollEvent, schema.RoleObject, schema.RoleObjectKey)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidModel))
	assert.Contains(t, err.Error(), "strata.test.EnrollEvent")
}

func TestIDField(t *testing.T) {
	f := testutil.Fixtures()
	m := f.Metadata()

	tests := []struct {
		name      string
		run       func() (schema.FieldPointer, bool, error)
		wantPath  string
		wantDepth int
		wantOK    bool
		wantErr   errors.ErrorType
	}{
		{
			name:      "nested in key",
			run:       func() (schema.FieldPointer, bool, error) { return m.IDField(f.Person) },
			wantPath:  "key.id",
			wantDepth: 1,
			wantOK:    true,
		},
		{
			name:     "top-level wins over key",
			run:      func() (schema.FieldPointer, bool, error) { return m.IDField(f.DualIDRecord) },
			wantPath: "id",
			wantOK:   true,
		},
		{
			name:     "object key",
			run:      func() (schema.FieldPointer, bool, error) { return m.IDField(f.PersonKey) },
			wantPath: "id",
			wantOK:   true,
		},
		{
			name:     "top-level only",
			run:      func() (schema.FieldPointer, bool, error) { return m.IDField(f.TypeBuffet) },
			wantPath: "id",
			wantOK:   true,
		},
		{
			name:   "no id",
			run:    func() (schema.FieldPointer, bool, error) { return m.IDField(f.ContactInfo) },
			wantOK: false,
		},
		{
			name:    "event role",
			run:     func() (schema.FieldPointer, bool, error) { return m.IDField(f.EnrollEvent) },
			wantErr: errors.ErrorTypeInvalidModel,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ptr, ok, err := tt.run()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantPath, ptr.Path)
				assert.Equal(t, tt.wantDepth, ptr.Depth)
				assert.Equal(t, "id", ptr.Name())
			}
		})
	}
}

func TestKeyField(t *testing.T) {
	f := testutil.Fixtures()
	m := f.Metadata()

	ptr, ok, err := m.KeyField(f.Person)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "key", ptr.Path)
	assert.True(t, ptr.IsMessage())
	assert.Equal(t, "strata.test.Person:key", ptr.String())

	_, ok, err = m.KeyField(f.TypeBuffet)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = m.KeyField(f.PersonKey)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidModel))
}

func TestResolveField(t *testing.T) {
	f := testutil.Fixtures()
	m := f.Metadata()

	tests := []struct {
		name      string
		path      string
		wantOK    bool
		wantDepth int
		wantErr   string
	}{
		{name: "top-level", path: "name", wantOK: true},
		{name: "nested", path: "contact_info.email_address", wantOK: true, wantDepth: 1},
		{name: "unknown", path: "nickname"},
		{name: "unknown nested", path: "contact_info.fax"},
		{name: "empty", path: "", wantErr: "Invalid deep-field path ''."},
		{name: "leading dot", path: ".name", wantErr: "Invalid deep-field path '.name'."},
		{name: "trailing dot", path: "name.", wantErr: "Invalid deep-field path 'name.'."},
		{name: "whitespace", path: "contact info", wantErr: "Invalid deep-field path 'contact info'."},
		{name: "tab", path: "contact_info.\temail_address", wantErr: "Invalid deep-field path"},
		{name: "newline", path: "name\n", wantErr: "Invalid deep-field path"},
		{name: "non-breaking space", path: "contact\u00a0info", wantErr: "Invalid deep-field path"},
		{name: "double dot", path: "contact_info..name", wantErr: "Invalid deep-field path"},
		{
			name:    "through primitive",
			path:    "name.first",
			wantErr: "Cannot access sub-field of primitive leaf field, at 'name.first' on model type 'Person'.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ptr, ok, err := m.ResolveField(f.Person, tt.path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.path, ptr.Path)
				assert.Equal(t, tt.wantDepth, ptr.Depth)
				assert.Equal(t, f.Person, ptr.Base)
			}
		})
	}
}

func TestAnnotatedField(t *testing.T) {
	f := testutil.Fixtures()
	m := f.Metadata()

	ptr, ok := m.AnnotatedField(f.Person, true, schema.KindIs(schema.FieldID))
	require.True(t, ok)
	assert.Equal(t, "key.id", ptr.Path)
	assert.Equal(t, 1, ptr.Depth)

	_, ok = m.AnnotatedField(f.Person, false, schema.KindIs(schema.FieldID))
	assert.False(t, ok)

	// first annotated field in declaration order
	ptr, ok = m.AnnotatedField(f.Person, false, nil)
	require.True(t, ok)
	assert.Equal(t, "key", ptr.Path)

	// self-referencing types terminate
	_, ok = m.AnnotatedField(f.Node, true, schema.KindIs(schema.FieldTags))
	assert.False(t, ok)
}

func TestStreamFields(t *testing.T) {
	f := testutil.Fixtures()
	m := f.Metadata()

	paths := func(ptrs []schema.FieldPointer) []string {
		out := make([]string, len(ptrs))
		for i, p := range ptrs {
			out[i] = p.Path
		}
		return out
	}

	assert.Equal(t, []string{"key", "name", "contact_info", "age"},
		paths(m.AllFields(f.Person, false, nil)))

	recursive := []string{
		"key", "key.id",
		"name",
		"contact_info", "contact_info.email_address", "contact_info.phone_e164", "contact_info.name",
		"age",
	}
	assert.Equal(t, recursive, paths(m.AllFields(f.Person, true, nil)))

	onlyMessages := func(p schema.FieldPointer) bool { return p.IsMessage() }
	assert.Equal(t, []string{"key", "contact_info"}, paths(m.AllFields(f.Person, true, onlyMessages)))

	// the sequence is recomputable and supports early exit
	seq := m.StreamFields(f.Person, true, nil)
	var first []string
	for p := range seq {
		first = append(first, p.Path)
		if len(first) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"key", "key.id"}, first)

	count := 0
	for range seq {
		count++
	}
	assert.Equal(t, len(recursive), count)
}
