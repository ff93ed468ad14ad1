// Package schema resolves persistence metadata for protobuf-described models:
// roles, ID and KEY fields, dotted field paths, and the column annotations
// consumed by drivers. Annotations live in a side-table keyed by fully
// qualified message name rather than in protobuf options, so descriptors built
// at runtime (dynamicpb, protodesc) carry the same metadata as generated types.
package schema

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ajitpratap0/strata/pkg/logger"
	"go.uber.org/zap"
	"google.golang.org/protobuf/reflect/protoreflect"
	"gopkg.in/yaml.v3"
)

// Role tags the structural purpose of a message type.
type Role string

const (
	// RoleObject marks a business object. Unannotated messages default to it.
	RoleObject Role = "OBJECT"
	// RoleObjectKey marks the key type for a business object
	RoleObjectKey Role = "OBJECT_KEY"
	// RoleEvent marks an immutable event record
	RoleEvent Role = "EVENT"
	// RoleEdge marks a relationship between objects
	RoleEdge Role = "EDGE"
	// RoleWrapper marks an envelope around other records
	RoleWrapper Role = "WRAPPER"
)

// FieldKind tags the persistence meaning of a field.
type FieldKind string

const (
	FieldID               FieldKind = "ID"
	FieldKey              FieldKind = "KEY"
	FieldTags             FieldKind = "TAGS"
	FieldTimestampCreated FieldKind = "TIMESTAMP_CREATED"
	FieldTimestampUpdated FieldKind = "TIMESTAMP_UPDATED"
)

// Visibility controls whether a field is persisted.
type Visibility string

const (
	VisibilityPublic   Visibility = "PUBLIC"
	VisibilityInternal Visibility = "INTERNAL"
)

// SortOrder is the sort direction of a primary key column.
type SortOrder string

const (
	SortAscending  SortOrder = "ASC"
	SortDescending SortOrder = "DESC"
)

// DeleteAction is the propagation rule for interleaved child rows.
type DeleteAction string

const (
	DeleteUnspecified DeleteAction = ""
	DeleteCascade     DeleteAction = "CASCADE"
	DeleteNoAction    DeleteAction = "NO_ACTION"
)

// SizeMax requests an unbounded STRING or BYTES column.
const SizeMax = -1

// ColumnOverride customizes how a field maps to a column.
type ColumnOverride struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	Type string `yaml:"type,omitempty" json:"type,omitempty"`
	// Size bounds STRING and BYTES columns; SizeMax renders MAX.
	Size   int  `yaml:"size,omitempty" json:"size,omitempty"`
	Ignore bool `yaml:"ignore,omitempty" json:"ignore,omitempty"`
}

// FieldAnnotation is the persistence metadata for one field.
type FieldAnnotation struct {
	Kind FieldKind `yaml:"kind,omitempty" json:"kind,omitempty"`
	// Column applies to every store; Spanner overrides it for the columnar driver
	Column  ColumnOverride `yaml:"column,omitempty" json:"column,omitempty"`
	Spanner ColumnOverride `yaml:"spanner,omitempty" json:"spanner,omitempty"`
	// JSON stores a message field as a JSON string instead of a STRUCT
	JSON       bool       `yaml:"json,omitempty" json:"json,omitempty"`
	Visibility Visibility `yaml:"visibility,omitempty" json:"visibility,omitempty"`
	// Expression makes the column generated
	Expression      string `yaml:"expression,omitempty" json:"expression,omitempty"`
	Stored          bool   `yaml:"stored,omitempty" json:"stored,omitempty"`
	CommitTimestamp bool   `yaml:"commit_timestamp,omitempty" json:"commit_timestamp,omitempty"`
	NotNull         bool   `yaml:"not_null,omitempty" json:"not_null,omitempty"`
}

// Internal reports whether the field is hidden from persistence.
func (f FieldAnnotation) Internal() bool {
	return f.Visibility == VisibilityInternal
}

// Constraint is a table-level CHECK constraint.
type Constraint struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
}

// MessageAnnotation is the persistence metadata for one message type.
type MessageAnnotation struct {
	Role        Role                       `yaml:"role,omitempty" json:"role,omitempty"`
	Table       string                     `yaml:"table,omitempty" json:"table,omitempty"`
	Interleave  string                     `yaml:"interleave,omitempty" json:"interleave,omitempty"`
	OnDelete    DeleteAction               `yaml:"on_delete,omitempty" json:"on_delete,omitempty"`
	KeyOrder    SortOrder                  `yaml:"key_order,omitempty" json:"key_order,omitempty"`
	Constraints []Constraint               `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Fields      map[string]FieldAnnotation `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Annotations is the side-table of message and field metadata, keyed by
// fully-qualified message name. Safe for concurrent use.
type Annotations struct {
	messages map[protoreflect.FullName]MessageAnnotation
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewAnnotations creates an empty annotation table
func NewAnnotations() *Annotations {
	return &Annotations{
		messages: make(map[protoreflect.FullName]MessageAnnotation),
		logger:   logger.With(zap.String("component", "schema_annotations")),
	}
}

// Register sets the annotation for a message type, replacing any previous one.
func (a *Annotations) Register(name protoreflect.FullName, ann MessageAnnotation) *Annotations {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.messages[name] = ann
	a.logger.Debug("registered message annotation",
		zap.String("message", string(name)),
		zap.String("role", string(ann.Role)),
		zap.Int("fields", len(ann.Fields)))
	return a
}

// Annotate sets the annotation of a single field.
func (a *Annotations) Annotate(message protoreflect.FullName, field protoreflect.Name, ann FieldAnnotation) *Annotations {
	a.mu.Lock()
	defer a.mu.Unlock()

	msg := a.messages[message]
	if msg.Fields == nil {
		msg.Fields = make(map[string]FieldAnnotation)
	}
	msg.Fields[string(field)] = ann
	a.messages[message] = msg
	return a
}

// Merge copies every message annotation in other into a. Entries in other win.
func (a *Annotations) Merge(other *Annotations) *Annotations {
	if other == nil || other == a {
		return a
	}
	other.mu.RLock()
	snapshot := make(map[protoreflect.FullName]MessageAnnotation, len(other.messages))
	for k, v := range other.messages {
		snapshot[k] = v
	}
	other.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range snapshot {
		a.messages[k] = v
	}
	return a
}

// Message returns the annotation for a message type, or a zero value.
func (a *Annotations) Message(md protoreflect.MessageDescriptor) (MessageAnnotation, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ann, ok := a.messages[md.FullName()]
	return ann, ok
}

// Field returns the annotation for a field, if one was registered.
func (a *Annotations) Field(fd protoreflect.FieldDescriptor) (FieldAnnotation, bool) {
	parent, ok := fd.Parent().(protoreflect.MessageDescriptor)
	if !ok {
		return FieldAnnotation{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	msg, ok := a.messages[parent.FullName()]
	if !ok {
		return FieldAnnotation{}, false
	}
	ann, ok := msg.Fields[string(fd.Name())]
	return ann, ok
}

// Names lists the annotated message types in sorted order.
func (a *Annotations) Names() []protoreflect.FullName {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]protoreflect.FullName, 0, len(a.messages))
	for name := range a.messages {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// annotationFile is the YAML layout of an annotation table.
type annotationFile struct {
	Messages map[string]MessageAnnotation `yaml:"messages"`
}

// LoadAnnotations reads an annotation table from a YAML file.
//
//	messages:
//	  example.Person:
//	    role: OBJECT
//	    table: People
//	    fields:
//	      key: {kind: KEY}
func LoadAnnotations(path string) (*Annotations, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations file: %w", err)
	}
	return ParseAnnotations(data)
}

// ParseAnnotations decodes an annotation table from YAML bytes.
func ParseAnnotations(data []byte) (*Annotations, error) {
	var file annotationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse annotations: %w", err)
	}
	ann := NewAnnotations()
	for name, msg := range file.Messages {
		if !protoreflect.FullName(name).IsValid() {
			return nil, fmt.Errorf("invalid message name %q in annotations", name)
		}
		if err := msg.validate(); err != nil {
			return nil, fmt.Errorf("message %s: %w", name, err)
		}
		ann.Register(protoreflect.FullName(name), msg)
	}
	return ann, nil
}

func (m MessageAnnotation) validate() error {
	switch m.Role {
	case "", RoleObject, RoleObjectKey, RoleEvent, RoleEdge, RoleWrapper:
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	switch m.OnDelete {
	case DeleteUnspecified, DeleteCascade, DeleteNoAction:
	default:
		return fmt.Errorf("unknown on_delete action %q", m.OnDelete)
	}
	switch m.KeyOrder {
	case "", SortAscending, SortDescending:
	default:
		return fmt.Errorf("unknown key_order %q", m.KeyOrder)
	}
	for name, f := range m.Fields {
		switch f.Kind {
		case "", FieldID, FieldKey, FieldTags, FieldTimestampCreated, FieldTimestampUpdated:
		default:
			return fmt.Errorf("field %s: unknown kind %q", name, f.Kind)
		}
		switch f.Visibility {
		case "", VisibilityPublic, VisibilityInternal:
		default:
			return fmt.Errorf("field %s: unknown visibility %q", name, f.Visibility)
		}
	}
	return nil
}
