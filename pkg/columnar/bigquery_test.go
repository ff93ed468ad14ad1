package columnar_test

import (
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/ajitpratap0/strata/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBigQuerySchema(t *testing.T) {
	f := testutil.Fixtures()
	ddl, err := newMapper(f).DDL(f.Ticket).Build()
	require.NoError(t, err)

	schema, err := ddl.BigQuerySchema()
	require.NoError(t, err)
	require.Len(t, schema, len(ddl.Columns))

	byName := map[string]*bigquery.FieldSchema{}
	for _, field := range schema {
		byName[field.Name] = field
	}

	key := byName["TicketID"]
	assert.Equal(t, bigquery.IntegerFieldType, key.Type)
	assert.True(t, key.Required)
	assert.Equal(t, "strata.test.TicketKey.id", key.Description)

	assert.Equal(t, bigquery.StringFieldType, byName["Title"].Type)
	assert.Equal(t, int64(2048), byName["Title"].MaxLength)
	assert.Equal(t, bigquery.TimestampFieldType, byName["Opened"].Type)
	assert.Equal(t, bigquery.DateFieldType, byName["Due"].Type)
	assert.Equal(t, bigquery.BytesFieldType, byName["Payload"].Type)
	assert.Equal(t, bigquery.FloatFieldType, byName["Score"].Type)
	assert.Equal(t, bigquery.BooleanFieldType, byName["Open"].Type)
	assert.True(t, byName["Watchers"].Repeated)
	assert.Equal(t, bigquery.IntegerFieldType, byName["Watchers"].Type)
}

func TestBigQueryRecord(t *testing.T) {
	f := testutil.Fixtures()
	ddl, err := newMapper(f).DDL(f.Profile).Build()
	require.NoError(t, err)

	schema, err := ddl.BigQuerySchema()
	require.NoError(t, err)

	var contact *bigquery.FieldSchema
	for _, field := range schema {
		if field.Name == "Contact" {
			contact = field
		}
	}
	require.NotNil(t, contact)
	assert.Equal(t, bigquery.RecordFieldType, contact.Type)
	require.Len(t, contact.Schema, 3)
	assert.Equal(t, "PhoneE164", contact.Schema[1].Name)
	assert.True(t, contact.Schema[1].Repeated)
}
