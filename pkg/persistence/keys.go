package persistence

import (
	"encoding/binary"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/schema"
	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// GenerateID returns a random opaque ID value for an ID field. String IDs
// are UUIDs; integer IDs are positive values drawn from a UUID.
func GenerateID(fd protoreflect.FieldDescriptor) (protoreflect.Value, error) {
	if fd.IsList() || fd.IsMap() {
		return protoreflect.Value{}, errors.Newf(errors.ErrorTypeValidation,
			"Cannot generate ID for repeated field '%s'.", fd.FullName())
	}
	u := uuid.New()
	hi := binary.BigEndian.Uint64(u[:8])
	switch fd.Kind() {
	case protoreflect.StringKind:
		return protoreflect.ValueOfString(u.String()), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return protoreflect.ValueOfInt64(int64(hi>>1) | 1), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return protoreflect.ValueOfUint64(hi>>1 | 1), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return protoreflect.ValueOfInt32(int32(hi>>33) | 1), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return protoreflect.ValueOfUint32(uint32(hi>>33) | 1), nil
	default:
		return protoreflect.Value{}, errors.Newf(errors.ErrorTypeValidation,
			"Cannot generate ID of type '%s' for field '%s'.", fd.Kind(), fd.FullName())
	}
}

// GenerateKey builds a new key for model, shaped like prototype, with a
// random ID. model must carry a KEY field of prototype's type.
func GenerateKey[K proto.Message](meta *schema.Metadata, model proto.Message, prototype K) (K, error) {
	var zero K
	md := model.ProtoReflect().Descriptor()
	keyPtr, ok, err := meta.KeyField(md)
	if err != nil {
		return zero, err
	}
	if !ok || !keyPtr.IsMessage() {
		return zero, errors.MissingAnnotatedField(string(md.FullName()), string(schema.FieldKey))
	}

	keyMD := keyPtr.Field.Message()
	if got := prototype.ProtoReflect().Descriptor().FullName(); got != keyMD.FullName() {
		return zero, errors.Newf(errors.ErrorTypeValidation,
			"Key type '%s' does not match key field type '%s' on model type '%s'.", got, keyMD.FullName(), md.FullName())
	}

	idPtr, ok, err := meta.IDField(keyMD)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, errors.MissingAnnotatedField(string(keyMD.FullName()), string(schema.FieldID))
	}
	id, err := GenerateID(idPtr.Field)
	if err != nil {
		return zero, err
	}

	key, err := meta.SpliceID(prototype.ProtoReflect().New().Interface(), id)
	if err != nil {
		return zero, err
	}
	return key.(K), nil
}
