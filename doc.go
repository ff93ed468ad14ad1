// Package strata provides schema-driven persistence for protobuf-described
// models. Models declare their identity and column mapping through an
// annotation side-table; drivers read that metadata through reflection and
// persist records without hand-written mapping code.
//
// # Architecture
//
// Strata is layered so each piece can be used on its own:
//
// 1. Schema: roles, ID and KEY fields, dotted field paths and per-field
// column annotations, resolved from descriptors built at compile time or at
// runtime.
//
// 2. Driver contract: asynchronous Retrieve, Persist and Delete returning
// futures on a bounded executor, with synchronous conveniences on top.
//
// 3. Columnar driver: maps models onto rows of a keyed columnar table and
// generates the matching CREATE TABLE statement. Rows live in an in-memory
// store, a SQLite file or Cloud Spanner.
//
// 4. Cache adapter: a read-through cache in front of any driver, with
// compressed entries and TTL, LRU or LFU eviction.
//
// 5. Manager: one cached adapter per key/model pair for a store target.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "github.com/ajitpratap0/strata/pkg/config"
//	    "github.com/ajitpratap0/strata/pkg/manager"
//	    "github.com/ajitpratap0/strata/pkg/persistence"
//	    "github.com/ajitpratap0/strata/pkg/schema"
//	)
//
//	ann, _ := schema.LoadAnnotations("models.yaml")
//	settings, _ := config.LoadSettings("strata.yaml")
//
//	m, _ := manager.NewRegistry().Manager(ctx, settings, schema.New(ann))
//	defer m.Close()
//
//	people, _ := manager.Acquire(m, &pb.PersonKey{}, &pb.Person{})
//	created, _ := people.Create(ctx, person, persistence.DefaultWriteOptions())
//	found, ok, _ := people.Fetch(ctx, key, persistence.DefaultFetchOptions())
//
// # Key Packages
//
//	pkg/schema       - Annotation table and field resolution
//	pkg/codec        - Serializer/deserializer pairs and encoded records
//	pkg/persistence  - Options, futures, executor and the driver contract
//	pkg/columnar     - Column mapping, DDL generation and the columnar driver
//	pkg/cache        - Read-through cache collaborators
//	pkg/adapter      - Cache-augmented adapters
//	pkg/manager      - Registry of managers and cached adapters
//	pkg/config       - Settings, YAML loading and environment overrides
//	pkg/errors       - Structured error handling
//	pkg/logger       - Structured logging
//	pkg/metrics      - Prometheus metrics
//
// # Configuration
//
// Settings load from YAML with ${VAR_NAME} substitution, then STRATA_*
// environment variables override individual values:
//
//	STRATA_STORE_KIND=sqlite STRATA_STORE_SQLITE_PATH=/var/lib/strata.db strata ddl ...
//
// # Command Line
//
// The strata binary generates table definitions from compiled descriptor sets:
//
//	buf build -o models.pb
//	strata ddl --descriptors models.pb --annotations models.yaml --message acme.Person
//	strata ddl --descriptors models.pb --message acme.Person --format bigquery
package strata
