package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/schema"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/reflect/protoreflect"
)

func newFieldsCmd(global *globalFlags) *cobra.Command {
	flags := &modelFlags{}
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "List the fields of a model and the columns they map to",
		Long: `List the fields of a model with their resolved column names and types.
Fields that are ignored or internal are listed as not persisted.

Example:
  strata fields --descriptors models.pb --annotations models.yaml --message acme.Person`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFields(cmd.OutOrStdout(), global, flags)
		},
	}
	cmd.Flags().StringVar(&flags.descriptors, "descriptors", "", "Path to a serialized FileDescriptorSet (required)")
	cmd.Flags().StringVar(&flags.annotations, "annotations", "", "Path to an annotation table YAML file")
	cmd.Flags().StringVar(&flags.message, "message", "", "Fully-qualified message name (required)")
	_ = cmd.MarkFlagRequired("descriptors")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func runFields(out io.Writer, global *globalFlags, flags *modelFlags) error {
	settings, err := loadSettings(global)
	if err != nil {
		return err
	}
	md, meta, err := resolveModel(flags)
	if err != nil {
		return err
	}
	mapper := columnar.NewMapper(meta, settings.Driver)
	ddl, err := mapper.DDL(md).Build()
	if err != nil {
		return err
	}

	columns := make(map[protoreflect.FullName]columnar.ColumnSpec, len(ddl.Columns))
	for _, c := range ddl.Columns {
		columns[c.Field.FullName()] = c
	}

	fmt.Fprintf(out, "Model: %s\nTable: %s\nPrimary key: %s %s from %s\n\n",
		md.FullName(), ddl.Table, ddl.Key.Name, ddl.Columns[0].TypeSpec(), ddl.Key.ID.Path)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tCOLUMN\tTYPE")
	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		switch c, ok := columns[fd.FullName()]; {
		case ok:
			fmt.Fprintf(w, "%s\t%s\t%s\n", fd.Name(), c.Name, c.TypeSpec())
		case meta.Field(fd).Kind == schema.FieldKey:
			fmt.Fprintf(w, "%s\t%s\tprimary key\n", fd.Name(), ddl.Key.Name)
		default:
			fmt.Fprintf(w, "%s\t-\tnot persisted\n", fd.Name())
		}
	}
	return w.Flush()
}
