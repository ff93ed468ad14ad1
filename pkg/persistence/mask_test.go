package persistence_test

import (
	"testing"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/persistence"
	"github.com/ajitpratap0/strata/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func TestApplyMask(t *testing.T) {
	f := testutil.Fixtures()

	newPerson := func() model {
		p := f.NewPerson("p-1", "Ada", 36)
		testutil.Set(p, "contact_info", f.NewContactInfo("ada@example.com", "+15550100"))
		return p
	}

	tests := []struct {
		name  string
		opts  persistence.FetchOptions
		check func(t *testing.T, got model)
	}{
		{
			name: "include keeps named leaves and containers",
			opts: persistence.DefaultFetchOptions().WithMask(persistence.MaskInclude, "name", "contact_info.email_address"),
			check: func(t *testing.T, got model) {
				assert.Equal(t, "Ada", testutil.Get(got, "name").String())
				assert.Zero(t, testutil.Get(got, "age").Int())
				contact := testutil.Get(got, "contact_info").Message()
				assert.Equal(t, "ada@example.com", contact.Get(f.ContactInfo.Fields().ByName("email_address")).String())
				assert.Zero(t, contact.Get(f.ContactInfo.Fields().ByName("phone_e164")).List().Len())
				key := testutil.Get(got, "key").Message()
				assert.Empty(t, key.Get(f.PersonKey.Fields().ByName("id")).String())
			},
		},
		{
			name: "exclude drops named leaves",
			opts: persistence.DefaultFetchOptions().WithMask(persistence.MaskExclude, "name", "contact_info.phone_e164"),
			check: func(t *testing.T, got model) {
				assert.Empty(t, testutil.Get(got, "name").String())
				assert.EqualValues(t, 36, testutil.Get(got, "age").Int())
				contact := testutil.Get(got, "contact_info").Message()
				assert.Equal(t, "ada@example.com", contact.Get(f.ContactInfo.Fields().ByName("email_address")).String())
				assert.Zero(t, contact.Get(f.ContactInfo.Fields().ByName("phone_e164")).List().Len())
				key := testutil.Get(got, "key").Message()
				assert.Equal(t, "p-1", key.Get(f.PersonKey.Fields().ByName("id")).String())
			},
		},
		{
			name: "projection behaves as include",
			opts: persistence.DefaultFetchOptions().WithMask(persistence.MaskProjection, "age"),
			check: func(t *testing.T, got model) {
				assert.EqualValues(t, 36, testutil.Get(got, "age").Int())
				assert.Empty(t, testutil.Get(got, "name").String())
			},
		},
		{
			name: "no mask returns the instance unchanged",
			opts: persistence.DefaultFetchOptions(),
			check: func(t *testing.T, got model) {
				assert.True(t, proto.Equal(newPerson(), got))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newPerson()
			got, err := persistence.ApplyMask(source, tt.opts)
			require.NoError(t, err)
			tt.check(t, got)
			assert.True(t, proto.Equal(newPerson(), source), "source must not be modified")
		})
	}
}

func TestApplyMaskRejectsUnknownPaths(t *testing.T) {
	f := testutil.Fixtures()
	_, err := persistence.ApplyMask(f.NewPerson("p-1", "Ada", 36),
		persistence.DefaultFetchOptions().WithMask(persistence.MaskInclude, "nickname"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
