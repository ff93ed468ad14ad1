package schema

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ajitpratap0/strata/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Pluck reads the value at path from msg. A singular message leaf is present
// only when it has at least one populated field; an unset intermediate
// message makes the leaf absent. Unknown paths are errors.
func (m *Metadata) Pluck(msg proto.Message, path string) (FieldContainer, error) {
	md := msg.ProtoReflect().Descriptor()
	ptr, ok, err := m.ResolveField(md, path)
	if err != nil {
		return FieldContainer{}, err
	}
	if !ok {
		return FieldContainer{}, errors.Newf(errors.ErrorTypeValidation,
			"Failed to locate field '%s' on model type '%s'.", path, md.Name())
	}
	return m.PluckPointer(msg, ptr), nil
}

// PluckPointer reads the value addressed by an already-resolved pointer.
func (m *Metadata) PluckPointer(msg proto.Message, ptr FieldPointer) FieldContainer {
	current := msg.ProtoReflect()
	segments := strings.Split(ptr.Path, ".")
	for _, segment := range segments[:len(segments)-1] {
		fd := current.Descriptor().Fields().ByName(protoreflect.Name(segment))
		if !current.Has(fd) {
			return FieldContainer{Pointer: ptr}
		}
		current = current.Get(fd).Message()
	}

	fd := ptr.Field
	if isMessage(fd) {
		if !current.Has(fd) {
			return FieldContainer{Pointer: ptr}
		}
		value := current.Get(fd)
		return FieldContainer{Pointer: ptr, Value: value, Present: populated(value.Message())}
	}
	if fd.HasPresence() && !current.Has(fd) {
		return FieldContainer{Pointer: ptr}
	}
	return FieldContainer{Pointer: ptr, Value: current.Get(fd), Present: true}
}

// Splice returns a copy of msg with value set at path. An invalid (zero)
// value clears the field. A value of the wrong type is a data error.
func (m *Metadata) Splice(msg proto.Message, path string, value protoreflect.Value) (proto.Message, error) {
	md := msg.ProtoReflect().Descriptor()
	ptr, ok, err := m.ResolveField(md, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"Failed to locate field '%s' on model type '%s'.", path, md.Name())
	}
	out := proto.Clone(msg)
	if err := splice(out.ProtoReflect(), ptr, value); err != nil {
		return nil, err
	}
	return out, nil
}

func splice(root protoreflect.Message, ptr FieldPointer, value protoreflect.Value) (err error) {
	if value.IsValid() && !assignable(ptr.Field, value) {
		return castError(ptr, value)
	}

	current := root
	segments := strings.Split(ptr.Path, ".")
	for _, segment := range segments[:len(segments)-1] {
		fd := current.Descriptor().Fields().ByName(protoreflect.Name(segment))
		current = current.Mutable(fd).Message()
	}

	if !value.IsValid() {
		current.Clear(ptr.Field)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = castError(ptr, value)
		}
	}()
	current.Set(ptr.Field, value)
	return nil
}

// SpliceID returns a copy of msg with its ID set to id (or cleared when id is
// invalid). Messages are not valid ID values.
func (m *Metadata) SpliceID(msg proto.Message, id protoreflect.Value) (proto.Message, error) {
	if id.IsValid() {
		if _, isMsg := id.Interface().(protoreflect.Message); isMsg {
			return nil, errors.New(errors.ErrorTypeValidation, "Cannot set messages as ID values.")
		}
	}
	md := msg.ProtoReflect().Descriptor()
	ptr, ok, err := m.IDField(md)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.MissingAnnotatedField(string(md.FullName()), string(FieldID))
	}
	out := proto.Clone(msg)
	if err := splice(out.ProtoReflect(), ptr, id); err != nil {
		return nil, err
	}
	return out, nil
}

// SpliceKey returns a copy of msg with its KEY field set to key (or cleared
// when key is nil). msg must be an object.
func (m *Metadata) SpliceKey(msg proto.Message, key proto.Message) (proto.Message, error) {
	md := msg.ProtoReflect().Descriptor()
	ptr, ok, err := m.KeyField(md)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.MissingAnnotatedField(string(md.FullName()), string(FieldKey))
	}
	var value protoreflect.Value
	if key != nil {
		value = protoreflect.ValueOfMessage(key.ProtoReflect())
	}
	out := proto.Clone(msg)
	if err := splice(out.ProtoReflect(), ptr, value); err != nil {
		return nil, err
	}
	return out, nil
}

// ID returns msg's current ID value. Fails when msg has no ID field.
func (m *Metadata) ID(msg proto.Message) (protoreflect.Value, bool, error) {
	md := msg.ProtoReflect().Descriptor()
	ptr, ok, err := m.IDField(md)
	if err != nil {
		return protoreflect.Value{}, false, err
	}
	if !ok {
		return protoreflect.Value{}, false, errors.MissingAnnotatedField(string(md.FullName()), string(FieldID))
	}
	c := m.PluckPointer(msg, ptr)
	return c.Value, c.Present, nil
}

// Key returns msg's current key message. Fails when msg has no KEY field.
func (m *Metadata) Key(msg proto.Message) (proto.Message, bool, error) {
	md := msg.ProtoReflect().Descriptor()
	ptr, ok, err := m.KeyField(md)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, errors.MissingAnnotatedField(string(md.FullName()), string(FieldKey))
	}
	c := m.PluckPointer(msg, ptr)
	if !c.Present {
		return nil, false, nil
	}
	return c.Value.Message().Interface(), true, nil
}

// Present reports whether msg is a usable message. Nil interfaces, typed nil
// pointers and invalid (read-only empty) messages are absent.
func Present(msg proto.Message) bool {
	if msg == nil {
		return false
	}
	if v := reflect.ValueOf(msg); v.Kind() == reflect.Pointer && v.IsNil() {
		return false
	}
	return msg.ProtoReflect().IsValid()
}

// PopulatedID reports whether v holds a non-zero ID. Proto3 scalars have no
// presence, so an empty string or zero integer counts as unset.
func PopulatedID(v protoreflect.Value) bool {
	switch x := v.Interface().(type) {
	case string:
		return x != ""
	case int32:
		return x != 0
	case int64:
		return x != 0
	case uint32:
		return x != 0
	case uint64:
		return x != 0
	case nil:
		return false
	}
	return true
}

// IDString renders an ID value for logs and keys.
func IDString(v protoreflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	return v.String()
}

func populated(msg protoreflect.Message) bool {
	found := false
	msg.Range(func(protoreflect.FieldDescriptor, protoreflect.Value) bool {
		found = true
		return false
	})
	return found
}

func castError(ptr FieldPointer, value protoreflect.Value) error {
	return errors.Newf(errors.ErrorTypeData, "Failed to set field '%s': value type mismatch.", ptr.Path).
		WithDetail("expected", ptr.Field.Kind().String()).
		WithDetail("actual", fmt.Sprintf("%T", value.Interface()))
}

// assignable reports whether value can be stored in fd without a type conversion.
func assignable(fd protoreflect.FieldDescriptor, value protoreflect.Value) bool {
	v := value.Interface()
	switch {
	case fd.IsMap():
		_, ok := v.(protoreflect.Map)
		return ok
	case fd.IsList():
		_, ok := v.(protoreflect.List)
		return ok
	}

	switch fd.Kind() {
	case protoreflect.BoolKind:
		_, ok := v.(bool)
		return ok
	case protoreflect.EnumKind:
		_, ok := v.(protoreflect.EnumNumber)
		return ok
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		_, ok := v.(int32)
		return ok
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		_, ok := v.(uint32)
		return ok
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		_, ok := v.(int64)
		return ok
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		_, ok := v.(uint64)
		return ok
	case protoreflect.FloatKind:
		_, ok := v.(float32)
		return ok
	case protoreflect.DoubleKind:
		_, ok := v.(float64)
		return ok
	case protoreflect.StringKind:
		_, ok := v.(string)
		return ok
	case protoreflect.BytesKind:
		_, ok := v.([]byte)
		return ok
	case protoreflect.MessageKind, protoreflect.GroupKind:
		msg, ok := v.(protoreflect.Message)
		return ok && msg.Descriptor().FullName() == fd.Message().FullName()
	}
	return false
}
