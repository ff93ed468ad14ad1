// Package columnar maps protobuf models onto rows of a keyed columnar table
// and persists them through a pluggable Store.
//
// # Overview
//
// The package provides:
//   - Column naming, typing and eligibility resolved from schema annotations
//   - CREATE TABLE generation with interleaving, constraints and key order
//   - A row codec converting models to mutations and rows back to models
//   - A generic Driver implementing persistence.Driver over any Store
//   - BigQuery schema export of the same column list
//
// # Naming and typing
//
// A field's column name comes from its store-specific override, then its
// generic override, then the literal field name when names are preserved,
// and otherwise the JSON name (capitalized by default). Types follow the
// same order: explicit store type, generic type, then the default mapping
// of the field kind. Repeated fields become arrays, nested messages become
// structs, and google.protobuf.Timestamp and google.type.Date become
// TIMESTAMP and DATE.
//
// The primary key column is derived from the model's ID field, which may sit
// at the top level or inside the KEY message.
//
// # DDL
//
//	mapper := columnar.NewMapper(meta, settings.Driver)
//	ddl, err := mapper.DDL(person.Descriptor()).WithInterleave("Accounts", schema.DeleteCascade).Build()
//	fmt.Println(ddl.Statement())
//	// CREATE TABLE People (ID STRING(240) NOT NULL, Name STRING(1024), ...) PRIMARY KEY (ID ASC), INTERLEAVE IN PARENT Accounts ON DELETE CASCADE
//
// # Stores
//
// Three stores implement Store: memstore (in process), sqlitestore (a single
// file) and spannerstore (Cloud Spanner). Stores report precondition
// failures with ErrRowExists and ErrRowNotFound, which the driver surfaces
// as write conflicts.
package columnar
