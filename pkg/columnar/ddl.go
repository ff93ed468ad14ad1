package columnar

import (
	"fmt"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/schema"
	"github.com/ajitpratap0/strata/pkg/strings"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// ColumnSpec is one column of a generated table.
type ColumnSpec struct {
	Name string
	Type Type
	// Size bounds STRING and BYTES columns (or their array elements); zero renders MAX
	Size            int
	NotNull         bool
	Expression      string
	Stored          bool
	CommitTimestamp bool
	// Field is the model field backing the column
	Field protoreflect.FieldDescriptor
}

// TypeSpec renders the column type as it appears in DDL.
func (c ColumnSpec) TypeSpec() string {
	return renderType(c.Type, c.Size)
}

// Render renders the column definition.
func (c ColumnSpec) Render() string {
	sb := strings.NewSQLBuilder(64)
	defer sb.Close()

	sb.WriteIdentifier(c.Name).WriteSpace().WriteQuery(c.TypeSpec())
	if c.NotNull {
		sb.WriteQuery(" NOT NULL")
	}
	if c.Expression != "" {
		sb.WriteQuery(" AS ( ").WriteQuery(c.Expression).WriteQuery(" )")
		if c.Stored {
			sb.WriteQuery(" STORED")
		}
	}
	if c.CommitTimestamp {
		sb.WriteQuery(" OPTIONS (allow_commit_timestamp = true)")
	}
	return sb.String()
}

func renderType(t Type, size int) string {
	switch t.Code {
	case TypeArray:
		return "ARRAY<" + renderType(t.Inner(), size) + ">"
	case TypeString, TypeBytes:
		if size <= 0 {
			return t.Code.String() + "(MAX)"
		}
		return fmt.Sprintf("%s(%d)", t.Code, size)
	case TypeStruct:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + " " + renderType(f.Type, 0)
		}
		return "STRUCT<" + strings.JoinPooled(parts, ", ") + ">"
	}
	return t.Code.String()
}

// Interleave places a table's rows inside a parent table.
type Interleave struct {
	Parent   string
	OnDelete schema.DeleteAction
}

// Render renders the interleave clause.
func (i Interleave) Render() string {
	out := "INTERLEAVE IN PARENT " + i.Parent
	switch i.OnDelete {
	case schema.DeleteCascade:
		out += " ON DELETE CASCADE"
	case schema.DeleteNoAction:
		out += " ON DELETE NO ACTION"
	}
	return out
}

// DDL is a generated CREATE TABLE statement with its column list.
type DDL struct {
	Table       string
	Model       protoreflect.MessageDescriptor
	Key         KeyColumn
	KeyOrder    schema.SortOrder
	Columns     []ColumnSpec
	Constraints []schema.Constraint
	Interleave  *Interleave
}

// Statement renders the CREATE TABLE statement.
func (d *DDL) Statement() string {
	sb := strings.NewSQLBuilder(256)
	defer sb.Close()

	columns := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		columns[i] = c.Render()
	}
	sb.WriteQuery("CREATE TABLE ").WriteIdentifier(d.Table).WriteQuery(" (").WriteJoined(columns, ", ")
	for _, c := range d.Constraints {
		sb.WriteQuery(", CONSTRAINT ").WriteIdentifier(c.Name).
			WriteQuery(" CHECK ( ").WriteQuery(c.Expression).WriteQuery(" )")
	}
	sb.WriteQuery(") PRIMARY KEY (").WriteIdentifier(d.Key.Name).WriteSpace().WriteQuery(string(d.KeyOrder)).WriteQuery(")")
	if d.Interleave != nil {
		sb.WriteQuery(", ").WriteQuery(d.Interleave.Render())
	}
	return sb.String()
}

func (d *DDL) String() string {
	return d.Statement()
}

// DDLBuilder assembles a DDL for one model. Annotation values seed the
// builder and explicit With calls override them.
type DDLBuilder struct {
	mapper      *Mapper
	model       protoreflect.MessageDescriptor
	table       string
	order       schema.SortOrder
	interleave  *Interleave
	constraints []schema.Constraint
}

// DDL starts a builder for md.
func (m *Mapper) DDL(md protoreflect.MessageDescriptor) *DDLBuilder {
	ann := m.meta.Message(md)
	b := &DDLBuilder{
		mapper:      m,
		model:       md,
		table:       m.Table(md),
		order:       ann.KeyOrder,
		constraints: append([]schema.Constraint(nil), ann.Constraints...),
	}
	if b.order == "" {
		b.order = schema.SortAscending
	}
	if ann.Interleave != "" {
		b.interleave = &Interleave{Parent: ann.Interleave, OnDelete: ann.OnDelete}
	}
	return b
}

// WithTable overrides the table name.
func (b *DDLBuilder) WithTable(name string) *DDLBuilder {
	b.table = name
	return b
}

// WithKeyOrder sets the primary key sort direction.
func (b *DDLBuilder) WithKeyOrder(order schema.SortOrder) *DDLBuilder {
	b.order = order
	return b
}

// WithInterleave interleaves the table in parent.
func (b *DDLBuilder) WithInterleave(parent string, action schema.DeleteAction) *DDLBuilder {
	b.interleave = &Interleave{Parent: parent, OnDelete: action}
	return b
}

// WithConstraint adds a CHECK constraint.
func (b *DDLBuilder) WithConstraint(name, expression string) *DDLBuilder {
	b.constraints = append(b.constraints, schema.Constraint{Name: name, Expression: expression})
	return b
}

// Build resolves every column. The primary key column comes first, followed
// by the eligible fields in declaration order.
func (b *DDLBuilder) Build() (*DDL, error) {
	m := b.mapper
	if err := m.meta.EnforceRole(b.model, schema.RoleObject); err != nil {
		return nil, err
	}
	switch b.order {
	case schema.SortAscending, schema.SortDescending:
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "Unknown key sort order %q.", b.order)
	}
	for _, c := range b.constraints {
		if c.Name == "" || c.Expression == "" {
			return nil, errors.New(errors.ErrorTypeValidation, "Table constraints need a name and an expression.")
		}
	}

	key, err := m.KeyColumn(b.model)
	if err != nil {
		return nil, err
	}
	columns := []ColumnSpec{{
		Name:    key.Name,
		Type:    key.Type,
		Size:    key.Size,
		NotNull: true,
		Field:   key.ID.Field,
	}}

	for _, p := range m.Fields(b.model, nil) {
		if key.ID.Depth == 0 && p.Field == key.ID.Field {
			continue
		}
		spec, err := m.ColumnSpec(p.Field)
		if err != nil {
			return nil, err
		}
		columns = append(columns, spec)
	}

	return &DDL{
		Table:       b.table,
		Model:       b.model,
		Key:         key,
		KeyOrder:    b.order,
		Columns:     columns,
		Constraints: b.constraints,
		Interleave:  b.interleave,
	}, nil
}

// ColumnSpec resolves the column definition for one field.
func (m *Mapper) ColumnSpec(fd protoreflect.FieldDescriptor) (ColumnSpec, error) {
	t, err := m.ColumnType(fd)
	if err != nil {
		return ColumnSpec{}, err
	}
	ann := m.meta.Field(fd)
	spec := ColumnSpec{
		Name:            m.ColumnName(fd),
		Type:            t,
		NotNull:         ann.NotNull,
		Expression:      ann.Expression,
		Stored:          ann.Stored,
		CommitTimestamp: ann.CommitTimestamp,
		Field:           fd,
	}
	if inner := t.Inner().Code; inner == TypeString || inner == TypeBytes {
		spec.Size = m.Size(fd)
	}
	return spec, nil
}
