package columnar

import (
	"cloud.google.com/go/bigquery"
	"github.com/ajitpratap0/strata/pkg/errors"
)

// BigQuerySchema renders the DDL's columns as a BigQuery table schema.
// Arrays become repeated fields and structs become records.
func (d *DDL) BigQuerySchema() (bigquery.Schema, error) {
	schema := make(bigquery.Schema, 0, len(d.Columns))
	for _, c := range d.Columns {
		field, err := bigQueryField(c.Name, c.Type, c.Size)
		if err != nil {
			return nil, err
		}
		field.Required = c.NotNull
		if c.Field != nil {
			field.Description = string(c.Field.FullName())
		}
		schema = append(schema, field)
	}
	return schema, nil
}

func bigQueryField(name string, t Type, size int) (*bigquery.FieldSchema, error) {
	field := &bigquery.FieldSchema{Name: name}
	if t.Code == TypeArray {
		field.Repeated = true
		t = t.Inner()
	}

	switch t.Code {
	case TypeBool:
		field.Type = bigquery.BooleanFieldType
	case TypeInt64:
		field.Type = bigquery.IntegerFieldType
	case TypeFloat64:
		field.Type = bigquery.FloatFieldType
	case TypeNumeric:
		field.Type = bigquery.NumericFieldType
	case TypeString:
		field.Type = bigquery.StringFieldType
		field.MaxLength = int64(size)
	case TypeBytes:
		field.Type = bigquery.BytesFieldType
		field.MaxLength = int64(size)
	case TypeTimestamp:
		field.Type = bigquery.TimestampFieldType
	case TypeDate:
		field.Type = bigquery.DateFieldType
	case TypeStruct:
		field.Type = bigquery.RecordFieldType
		for _, f := range t.Fields {
			sub, err := bigQueryField(f.Name, f.Type, 0)
			if err != nil {
				return nil, err
			}
			field.Schema = append(field.Schema, sub)
		}
	default:
		return nil, errors.Newf(errors.ErrorTypeCapability, "Column %s of type %s has no BigQuery equivalent.", name, t)
	}
	return field, nil
}
