package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/schema"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

// Output formats accepted by the ddl command.
const (
	formatSQL      = "sql"
	formatJSON     = "json"
	formatBigQuery = "bigquery"
)

type ddlFlags struct {
	modelFlags
	format      string
	table       string
	interleave  string
	onDelete    string
	desc        bool
	constraints []string
}

type columnDocument struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	NotNull         bool   `json:"not_null,omitempty"`
	Expression      string `json:"expression,omitempty"`
	Stored          bool   `json:"stored,omitempty"`
	CommitTimestamp bool   `json:"commit_timestamp,omitempty"`
	Field           string `json:"field,omitempty"`
}

type ddlDocument struct {
	Table       string              `json:"table"`
	Model       string              `json:"model"`
	Key         string              `json:"key"`
	KeyOrder    string              `json:"key_order"`
	Columns     []columnDocument    `json:"columns"`
	Constraints []schema.Constraint `json:"constraints,omitempty"`
	Interleave  string              `json:"interleave,omitempty"`
	Statement   string              `json:"statement"`
}

func newDDLCmd(global *globalFlags) *cobra.Command {
	flags := &ddlFlags{}
	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Generate the table definition for a model",
		Long: `Generate the CREATE TABLE statement the columnar driver expects for a model.

Example:
  strata ddl --descriptors models.pb --annotations models.yaml --message acme.Person
  strata ddl --descriptors models.pb --message acme.Order --interleave Customers --on-delete cascade`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDDL(cmd.OutOrStdout(), global, flags)
		},
	}
	cmd.Flags().StringVar(&flags.descriptors, "descriptors", "", "Path to a serialized FileDescriptorSet (required)")
	cmd.Flags().StringVar(&flags.annotations, "annotations", "", "Path to an annotation table YAML file")
	cmd.Flags().StringVar(&flags.message, "message", "", "Fully-qualified message name (required)")
	cmd.Flags().StringVar(&flags.format, "format", formatSQL, "Output format (sql, json, bigquery)")
	cmd.Flags().StringVar(&flags.table, "table", "", "Override the table name")
	cmd.Flags().StringVar(&flags.interleave, "interleave", "", "Interleave the table in this parent table")
	cmd.Flags().StringVar(&flags.onDelete, "on-delete", "", "Delete action for interleaved rows (cascade, no-action)")
	cmd.Flags().BoolVar(&flags.desc, "desc", false, "Sort the primary key descending")
	cmd.Flags().StringArrayVar(&flags.constraints, "constraint", nil, "CHECK constraint as name=expression (repeatable)")
	_ = cmd.MarkFlagRequired("descriptors")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func parseDeleteAction(name string) (schema.DeleteAction, error) {
	switch strings.ToLower(name) {
	case "":
		return schema.DeleteUnspecified, nil
	case "cascade":
		return schema.DeleteCascade, nil
	case "no-action", "no_action":
		return schema.DeleteNoAction, nil
	}
	return "", fmt.Errorf("unknown --on-delete action %q (want cascade or no-action)", name)
}

func runDDL(out io.Writer, global *globalFlags, flags *ddlFlags) error {
	settings, err := loadSettings(global)
	if err != nil {
		return err
	}
	md, meta, err := resolveModel(&flags.modelFlags)
	if err != nil {
		return err
	}

	b := columnar.NewMapper(meta, settings.Driver).DDL(md)
	if flags.table != "" {
		b.WithTable(flags.table)
	}
	if flags.desc {
		b.WithKeyOrder(schema.SortDescending)
	}
	if flags.interleave != "" {
		action, err := parseDeleteAction(flags.onDelete)
		if err != nil {
			return err
		}
		b.WithInterleave(flags.interleave, action)
	} else if flags.onDelete != "" {
		return fmt.Errorf("--on-delete requires --interleave")
	}
	for _, c := range flags.constraints {
		name, expr, ok := strings.Cut(c, "=")
		if !ok {
			return fmt.Errorf("invalid --constraint %q (want name=expression)", c)
		}
		b.WithConstraint(strings.TrimSpace(name), strings.TrimSpace(expr))
	}
	ddl, err := b.Build()
	if err != nil {
		return err
	}

	switch flags.format {
	case formatSQL:
		_, err = fmt.Fprintln(out, ddl.Statement()+";")
		return err
	case formatJSON:
		data, err := json.MarshalIndent(toDocument(ddl), "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	case formatBigQuery:
		bq, err := ddl.BigQuerySchema()
		if err != nil {
			return err
		}
		data, err := bq.ToJSONFields()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	return fmt.Errorf("unknown --format %q (want sql, json or bigquery)", flags.format)
}

func toDocument(ddl *columnar.DDL) ddlDocument {
	doc := ddlDocument{
		Table:       ddl.Table,
		Model:       string(ddl.Model.FullName()),
		Key:         ddl.Key.Name,
		KeyOrder:    string(ddl.KeyOrder),
		Constraints: ddl.Constraints,
		Statement:   ddl.Statement(),
	}
	if ddl.Interleave != nil {
		doc.Interleave = ddl.Interleave.Render()
	}
	for _, c := range ddl.Columns {
		col := columnDocument{
			Name:            c.Name,
			Type:            c.TypeSpec(),
			NotNull:         c.NotNull,
			Expression:      c.Expression,
			Stored:          c.Stored,
			CommitTimestamp: c.CommitTimestamp,
		}
		if c.Field != nil {
			col.Field = string(c.Field.FullName())
		}
		doc.Columns = append(doc.Columns, col)
	}
	return doc
}
