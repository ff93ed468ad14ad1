package schema

import (
	"iter"
	"strings"
	"unicode"

	"github.com/ajitpratap0/strata/pkg/errors"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// FieldPointer addresses one field within a message tree by dotted path.
type FieldPointer struct {
	// Base is the top-level message the path is relative to
	Base protoreflect.MessageDescriptor
	// Path is the dotted field-name path from Base
	Path string
	// Depth is the number of message boundaries crossed (0 for top-level fields)
	Depth int
	// Field is the descriptor of the addressed field
	Field protoreflect.FieldDescriptor
}

// Name returns the addressed field's own name.
func (p FieldPointer) Name() string {
	return string(p.Field.Name())
}

// IsMessage reports whether the field holds a singular sub-message.
func (p FieldPointer) IsMessage() bool {
	return isMessage(p.Field)
}

// String implements fmt.Stringer
func (p FieldPointer) String() string {
	return string(p.Base.FullName()) + ":" + p.Path
}

// FieldContainer pairs a field pointer with an optionally present value.
type FieldContainer struct {
	Pointer FieldPointer
	Value   protoreflect.Value
	Present bool
}

// Metadata resolves roles, annotated fields and field paths against an
// annotation table. It holds no per-call state and is safe for concurrent use.
type Metadata struct {
	annotations *Annotations
}

// New creates a resolver over ann. A nil table is treated as empty.
func New(ann *Annotations) *Metadata {
	if ann == nil {
		ann = NewAnnotations()
	}
	return &Metadata{annotations: ann}
}

// Annotations returns the underlying annotation table.
func (m *Metadata) Annotations() *Annotations {
	return m.annotations
}

// Message returns the message annotation of md (zero value when unannotated).
func (m *Metadata) Message(md protoreflect.MessageDescriptor) MessageAnnotation {
	ann, _ := m.annotations.Message(md)
	return ann
}

// Field returns the field annotation of fd (zero value when unannotated).
func (m *Metadata) Field(fd protoreflect.FieldDescriptor) FieldAnnotation {
	ann, _ := m.annotations.Field(fd)
	return ann
}

// Role returns the role of md; unannotated messages are objects.
func (m *Metadata) Role(md protoreflect.MessageDescriptor) Role {
	if ann, ok := m.annotations.Message(md); ok && ann.Role != "" {
		return ann.Role
	}
	return RoleObject
}

// MatchRole reports whether md carries role.
func (m *Metadata) MatchRole(md protoreflect.MessageDescriptor, role Role) bool {
	return m.Role(md) == role
}

// MatchAnyRole reports whether md carries any of roles.
func (m *Metadata) MatchAnyRole(md protoreflect.MessageDescriptor, roles ...Role) bool {
	actual := m.Role(md)
	for _, r := range roles {
		if r == actual {
			return true
		}
	}
	return false
}

// EnforceRole fails with an invalid-model-type error unless md carries role.
func (m *Metadata) EnforceRole(md protoreflect.MessageDescriptor, role Role) error {
	return m.EnforceAnyRole(md, role)
}

// EnforceAnyRole fails with an invalid-model-type error unless md carries one of roles.
func (m *Metadata) EnforceAnyRole(md protoreflect.MessageDescriptor, roles ...Role) error {
	if m.MatchAnyRole(md, roles...) {
		return nil
	}
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return errors.InvalidModelType(string(md.FullName()), allowed...)
}

func validatePath(path string) error {
	if path == "" || strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") || strings.ContainsFunc(path, unicode.IsSpace) {
		return errors.Newf(errors.ErrorTypeValidation, "Invalid deep-field path '%s'.", path)
	}
	return nil
}

// ResolveField resolves a dotted path against md. Unknown paths resolve to
// (zero, false, nil); malformed paths and descent through a non-message
// field are errors.
func (m *Metadata) ResolveField(md protoreflect.MessageDescriptor, path string) (FieldPointer, bool, error) {
	if err := validatePath(path); err != nil {
		return FieldPointer{}, false, err
	}

	segments := strings.Split(path, ".")
	current := md
	for i, segment := range segments {
		if segment == "" {
			return FieldPointer{}, false, errors.Newf(errors.ErrorTypeValidation, "Invalid deep-field path '%s'.", path)
		}
		fd := current.Fields().ByName(protoreflect.Name(segment))
		if fd == nil {
			return FieldPointer{}, false, nil
		}
		if i == len(segments)-1 {
			return FieldPointer{Base: md, Path: path, Depth: i, Field: fd}, true, nil
		}
		if !isMessage(fd) {
			return FieldPointer{}, false, errors.Newf(errors.ErrorTypeValidation,
				"Cannot access sub-field of primitive leaf field, at '%s' on model type '%s'.",
				path, md.Name())
		}
		current = fd.Message()
	}
	return FieldPointer{}, false, nil
}

// AnnotatedField finds the first field, in declaration order, carrying an
// annotation accepted by match. With recursive set the search descends
// depth-first into sub-messages. Recursive message types are visited once.
func (m *Metadata) AnnotatedField(md protoreflect.MessageDescriptor, recursive bool,
	match func(FieldAnnotation) bool) (FieldPointer, bool) {
	visited := map[protoreflect.FullName]bool{}
	return m.annotatedField(md, md, "", 0, recursive, match, visited)
}

func (m *Metadata) annotatedField(base, md protoreflect.MessageDescriptor, stack string, depth int, recursive bool,
	match func(FieldAnnotation) bool, visited map[protoreflect.FullName]bool) (FieldPointer, bool) {
	visited[md.FullName()] = true
	defer delete(visited, md.FullName())

	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		path := joinPath(stack, string(fd.Name()))
		if ann, ok := m.annotations.Field(fd); ok && (match == nil || match(ann)) {
			return FieldPointer{Base: base, Path: path, Depth: depth, Field: fd}, true
		}
		if recursive && isMessage(fd) && !visited[fd.Message().FullName()] {
			if found, ok := m.annotatedField(base, fd.Message(), path, depth+1, recursive, match, visited); ok {
				return found, true
			}
		}
	}
	return FieldPointer{}, false
}

// KindIs matches field annotations of the given kind.
func KindIs(kind FieldKind) func(FieldAnnotation) bool {
	return func(ann FieldAnnotation) bool { return ann.Kind == kind }
}

// IDField resolves md's ID field: a top-level ID field wins, otherwise the ID
// field inside the top-level KEY field. md must be an object or an object key.
func (m *Metadata) IDField(md protoreflect.MessageDescriptor) (FieldPointer, bool, error) {
	if err := m.EnforceAnyRole(md, RoleObject, RoleObjectKey); err != nil {
		return FieldPointer{}, false, err
	}
	if top, ok := m.AnnotatedField(md, false, KindIs(FieldID)); ok {
		return top, true, nil
	}
	if !m.MatchRole(md, RoleObject) {
		return FieldPointer{}, false, nil
	}
	key, ok, err := m.KeyField(md)
	if err != nil || !ok || !key.IsMessage() {
		return FieldPointer{}, false, err
	}
	nested, ok := m.AnnotatedField(key.Field.Message(), false, KindIs(FieldID))
	if !ok {
		return FieldPointer{}, false, nil
	}
	return FieldPointer{
		Base:  md,
		Path:  joinPath(key.Path, nested.Path),
		Depth: 1,
		Field: nested.Field,
	}, true, nil
}

// KeyField resolves md's top-level KEY field. md must be an object.
func (m *Metadata) KeyField(md protoreflect.MessageDescriptor) (FieldPointer, bool, error) {
	if err := m.EnforceRole(md, RoleObject); err != nil {
		return FieldPointer{}, false, err
	}
	ptr, ok := m.AnnotatedField(md, false, KindIs(FieldKey))
	return ptr, ok, nil
}

// StreamFields yields md's fields in declaration order. With recursive set,
// each singular message field is followed by its own direct fields. The
// sequence is stateless and may be ranged over any number of times.
func (m *Metadata) StreamFields(md protoreflect.MessageDescriptor, recursive bool,
	predicate func(FieldPointer) bool) iter.Seq[FieldPointer] {
	return func(yield func(FieldPointer) bool) {
		emit := func(p FieldPointer) bool {
			if predicate != nil && !predicate(p) {
				return true
			}
			return yield(p)
		}
		fields := md.Fields()
		for i := 0; i < fields.Len(); i++ {
			fd := fields.Get(i)
			ptr := FieldPointer{Base: md, Path: string(fd.Name()), Field: fd}
			if !emit(ptr) {
				return
			}
			if !recursive || !isMessage(fd) {
				continue
			}
			sub := fd.Message().Fields()
			for j := 0; j < sub.Len(); j++ {
				sfd := sub.Get(j)
				child := FieldPointer{Base: md, Path: joinPath(ptr.Path, string(sfd.Name())), Depth: 1, Field: sfd}
				if !emit(child) {
					return
				}
			}
		}
	}
}

// AllFields collects StreamFields into a slice.
func (m *Metadata) AllFields(md protoreflect.MessageDescriptor, recursive bool,
	predicate func(FieldPointer) bool) []FieldPointer {
	var out []FieldPointer
	for p := range m.StreamFields(md, recursive, predicate) {
		out = append(out, p)
	}
	return out
}

func isMessage(fd protoreflect.FieldDescriptor) bool {
	return fd.Kind() == protoreflect.MessageKind && !fd.IsList() && !fd.IsMap()
}

func joinPath(stack, name string) string {
	if stack == "" {
		return name
	}
	return stack + "." + name
}
