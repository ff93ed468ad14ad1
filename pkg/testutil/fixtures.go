package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/ajitpratap0/strata/pkg/schema"
	"google.golang.org/genproto/googleapis/type/date"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// FixturePackage is the proto package of every fixture message.
const FixturePackage = "strata.test"

// FixtureSet holds runtime-built descriptors for the test models and an
// annotation table describing them.
type FixtureSet struct {
	File protoreflect.FileDescriptor

	PersonKey    protoreflect.MessageDescriptor
	Person       protoreflect.MessageDescriptor
	ContactInfo  protoreflect.MessageDescriptor
	TypeBuffet   protoreflect.MessageDescriptor
	EnrollEvent  protoreflect.MessageDescriptor
	DualIDRecord protoreflect.MessageDescriptor
	Profile      protoreflect.MessageDescriptor
	TicketKey    protoreflect.MessageDescriptor
	Ticket       protoreflect.MessageDescriptor
	Node         protoreflect.MessageDescriptor
	Color        protoreflect.EnumDescriptor

	// Annotations is a fresh table per Fixtures call, so tests may mutate it.
	Annotations *schema.Annotations
}

var (
	fixtureOnce sync.Once
	fixtureFile protoreflect.FileDescriptor
	fixtureErr  error
)

// Fixtures returns the fixture descriptors. It panics if the descriptors
// fail to build, which only happens when the fixture definitions are broken.
func Fixtures() *FixtureSet {
	fixtureOnce.Do(func() {
		fixtureFile, fixtureErr = protodesc.NewFile(fixtureProto(), protoregistry.GlobalFiles)
	})
	if fixtureErr != nil {
		panic(fmt.Sprintf("testutil: build fixtures: %v", fixtureErr))
	}

	msgs := fixtureFile.Messages()
	return &FixtureSet{
		File:         fixtureFile,
		PersonKey:    msgs.ByName("PersonKey"),
		Person:       msgs.ByName("Person"),
		ContactInfo:  msgs.ByName("ContactInfo"),
		TypeBuffet:   msgs.ByName("TypeBuffet"),
		EnrollEvent:  msgs.ByName("EnrollEvent"),
		DualIDRecord: msgs.ByName("DualIDRecord"),
		Profile:      msgs.ByName("Profile"),
		TicketKey:    msgs.ByName("TicketKey"),
		Ticket:       msgs.ByName("Ticket"),
		Node:         msgs.ByName("Node"),
		Color:        fixtureFile.Enums().ByName("Color"),
		Annotations:  FixtureAnnotations(),
	}
}

// Metadata returns a resolver over the set's annotation table.
func (f *FixtureSet) Metadata() *schema.Metadata {
	return schema.New(f.Annotations)
}

// New creates an empty instance of md.
func (f *FixtureSet) New(md protoreflect.MessageDescriptor) *dynamicpb.Message {
	return dynamicpb.NewMessage(md)
}

// NewPersonKey builds a PersonKey. An empty id leaves the key unset.
func (f *FixtureSet) NewPersonKey(id string) *dynamicpb.Message {
	key := dynamicpb.NewMessage(f.PersonKey)
	if id != "" {
		Set(key, "id", id)
	}
	return key
}

// NewPerson builds a Person. An empty id leaves the key field unset.
func (f *FixtureSet) NewPerson(id, name string, age int32) *dynamicpb.Message {
	person := dynamicpb.NewMessage(f.Person)
	if id != "" {
		Set(person, "key", f.NewPersonKey(id))
	}
	if name != "" {
		Set(person, "name", name)
	}
	if age != 0 {
		Set(person, "age", age)
	}
	return person
}

// NewContactInfo builds a ContactInfo with the given email and phone numbers.
func (f *FixtureSet) NewContactInfo(email string, phones ...string) *dynamicpb.Message {
	info := dynamicpb.NewMessage(f.ContactInfo)
	Set(info, "email_address", email)
	list := info.Mutable(f.ContactInfo.Fields().ByName("phone_e164")).List()
	for _, p := range phones {
		list.Append(protoreflect.ValueOfString(p))
	}
	return info
}

// NewTicketKey builds a TicketKey. A zero id leaves the key unset.
func (f *FixtureSet) NewTicketKey(id int64) *dynamicpb.Message {
	key := dynamicpb.NewMessage(f.TicketKey)
	if id != 0 {
		Set(key, "id", id)
	}
	return key
}

// NewTicket builds a Ticket with a key and title.
func (f *FixtureSet) NewTicket(id int64, title string) *dynamicpb.Message {
	ticket := dynamicpb.NewMessage(f.Ticket)
	if id != 0 {
		Set(ticket, "key", f.NewTicketKey(id))
	}
	if title != "" {
		Set(ticket, "title", title)
	}
	return ticket
}

// Set assigns a Go value to the named top-level field of msg. Messages are
// accepted as proto.Message; enums as protoreflect.EnumNumber.
func Set(msg proto.Message, field string, value interface{}) {
	m := msg.ProtoReflect()
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		panic(fmt.Sprintf("testutil: %s has no field %q", m.Descriptor().FullName(), field))
	}
	if sub, ok := value.(proto.Message); ok {
		m.Set(fd, protoreflect.ValueOfMessage(sub.ProtoReflect()))
		return
	}
	m.Set(fd, protoreflect.ValueOf(value))
}

// Append adds values to the named repeated field of msg.
func Append(msg proto.Message, field string, values ...interface{}) {
	m := msg.ProtoReflect()
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(field))
	list := m.Mutable(fd).List()
	for _, v := range values {
		if sub, ok := v.(proto.Message); ok {
			list.Append(protoreflect.ValueOfMessage(sub.ProtoReflect()))
			continue
		}
		list.Append(protoreflect.ValueOf(v))
	}
}

// Get reads the named top-level field of msg.
func Get(msg proto.Message, field string) protoreflect.Value {
	m := msg.ProtoReflect()
	return m.Get(m.Descriptor().Fields().ByName(protoreflect.Name(field)))
}

// SetTimestamp stores t in the named google.protobuf.Timestamp field of msg.
func SetTimestamp(msg proto.Message, field string, t time.Time) {
	m := msg.ProtoReflect()
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(field))
	ts := m.Mutable(fd).Message()
	pb := timestamppb.New(t)
	ts.Set(ts.Descriptor().Fields().ByName("seconds"), protoreflect.ValueOfInt64(pb.GetSeconds()))
	ts.Set(ts.Descriptor().Fields().ByName("nanos"), protoreflect.ValueOfInt32(pb.GetNanos()))
}

// SetDate stores a calendar date in the named google.type.Date field of msg.
func SetDate(msg proto.Message, field string, year, month, day int32) {
	m := msg.ProtoReflect()
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(field))
	d := m.Mutable(fd).Message()
	d.Set(d.Descriptor().Fields().ByName("year"), protoreflect.ValueOfInt32(year))
	d.Set(d.Descriptor().Fields().ByName("month"), protoreflect.ValueOfInt32(month))
	d.Set(d.Descriptor().Fields().ByName("day"), protoreflect.ValueOfInt32(day))
}

// FixtureAnnotations returns the annotation table for the fixture models.
func FixtureAnnotations() *schema.Annotations {
	name := func(msg string) protoreflect.FullName {
		return protoreflect.FullName(FixturePackage + "." + msg)
	}
	return schema.NewAnnotations().
		Register(name("PersonKey"), schema.MessageAnnotation{
			Role: schema.RoleObjectKey,
			Fields: map[string]schema.FieldAnnotation{
				"id": {Kind: schema.FieldID, Spanner: schema.ColumnOverride{Name: "ID", Size: 240}},
			},
		}).
		Register(name("Person"), schema.MessageAnnotation{
			Role:  schema.RoleObject,
			Table: "People",
			Fields: map[string]schema.FieldAnnotation{
				"key":          {Kind: schema.FieldKey},
				"name":         {Spanner: schema.ColumnOverride{Size: 1024}},
				"contact_info": {JSON: true},
			},
		}).
		Register(name("TypeBuffet"), schema.MessageAnnotation{
			Role:  schema.RoleObject,
			Table: "TypeExamples",
			Fields: map[string]schema.FieldAnnotation{
				"id":                    {Kind: schema.FieldID, Spanner: schema.ColumnOverride{Name: "ID"}},
				"enum_field":            {Spanner: schema.ColumnOverride{Size: 32}},
				"labels":                {Spanner: schema.ColumnOverride{Size: 240}},
				"spanner_numeric_field": {Spanner: schema.ColumnOverride{Type: "NUMERIC"}},
			},
		}).
		Register(name("EnrollEvent"), schema.MessageAnnotation{
			Role: schema.RoleEvent,
			Fields: map[string]schema.FieldAnnotation{
				"id":       {Kind: schema.FieldID},
				"occurred": {Kind: schema.FieldTimestampCreated},
			},
		}).
		Register(name("DualIDRecord"), schema.MessageAnnotation{
			Role: schema.RoleObject,
			Fields: map[string]schema.FieldAnnotation{
				"key": {Kind: schema.FieldKey},
				"id":  {Kind: schema.FieldID},
			},
		}).
		Register(name("Profile"), schema.MessageAnnotation{
			Role:  schema.RoleObject,
			Table: "Profiles",
			Fields: map[string]schema.FieldAnnotation{
				"id":     {Kind: schema.FieldID},
				"secret": {Visibility: schema.VisibilityInternal},
				"legacy": {Column: schema.ColumnOverride{Ignore: true}},
				"display_name": {
					Column:  schema.ColumnOverride{Name: "GenericDisplay"},
					Spanner: schema.ColumnOverride{Name: "DisplayName"},
				},
				"nickname": {Column: schema.ColumnOverride{Name: "Alias"}},
			},
		}).
		Register(name("TicketKey"), schema.MessageAnnotation{
			Role: schema.RoleObjectKey,
			Fields: map[string]schema.FieldAnnotation{
				"id": {Kind: schema.FieldID, Spanner: schema.ColumnOverride{Name: "TicketID"}},
			},
		}).
		Register(name("Ticket"), schema.MessageAnnotation{
			Role:  schema.RoleObject,
			Table: "Tickets",
			Fields: map[string]schema.FieldAnnotation{
				"key":    {Kind: schema.FieldKey},
				"opened": {Kind: schema.FieldTimestampCreated},
			},
		}).
		Register(name("Node"), schema.MessageAnnotation{
			Role:  schema.RoleObject,
			Table: "Nodes",
			Fields: map[string]schema.FieldAnnotation{
				"id": {Kind: schema.FieldID},
			},
		})
}

var (
	timestampType = "." + string((&timestamppb.Timestamp{}).ProtoReflect().Descriptor().FullName())
	dateType      = "." + string((&date.Date{}).ProtoReflect().Descriptor().FullName())
)

func local(name string) string {
	return "." + FixturePackage + "." + name
}

func scalar(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func typed(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
	f := scalar(name, number, typ)
	f.TypeName = proto.String(typeName)
	return f
}

func message(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return typed(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, typeName)
}

func enum(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return typed(name, number, descriptorpb.FieldDescriptorProto_TYPE_ENUM, typeName)
}

func fixtureProto() *descriptorpb.FileDescriptorProto {
	const (
		tString   = descriptorpb.FieldDescriptorProto_TYPE_STRING
		tBool     = descriptorpb.FieldDescriptorProto_TYPE_BOOL
		tBytes    = descriptorpb.FieldDescriptorProto_TYPE_BYTES
		tInt32    = descriptorpb.FieldDescriptorProto_TYPE_INT32
		tInt64    = descriptorpb.FieldDescriptorProto_TYPE_INT64
		tUint32   = descriptorpb.FieldDescriptorProto_TYPE_UINT32
		tUint64   = descriptorpb.FieldDescriptorProto_TYPE_UINT64
		tSint32   = descriptorpb.FieldDescriptorProto_TYPE_SINT32
		tSint64   = descriptorpb.FieldDescriptorProto_TYPE_SINT64
		tFixed32  = descriptorpb.FieldDescriptorProto_TYPE_FIXED32
		tFixed64  = descriptorpb.FieldDescriptorProto_TYPE_FIXED64
		tSfixed32 = descriptorpb.FieldDescriptorProto_TYPE_SFIXED32
		tSfixed64 = descriptorpb.FieldDescriptorProto_TYPE_SFIXED64
		tFloat    = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
		tDouble   = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	)

	msg := func(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
		return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
	}

	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String("strata/test/fixtures.proto"),
		Package:    proto.String(FixturePackage),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/timestamp.proto", "google/type/date.proto"},
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("Color"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("COLOR_UNSPECIFIED"), Number: proto.Int32(0)},
				{Name: proto.String("RED"), Number: proto.Int32(1)},
				{Name: proto.String("BLUE"), Number: proto.Int32(2)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			msg("PersonKey",
				scalar("id", 1, tString)),
			msg("Person",
				message("key", 1, local("PersonKey")),
				scalar("name", 2, tString),
				message("contact_info", 3, local("ContactInfo")),
				scalar("age", 4, tInt32)),
			msg("ContactInfo",
				scalar("email_address", 1, tString),
				repeated(scalar("phone_e164", 2, tString)),
				scalar("name", 3, tString)),
			msg("TypeBuffet",
				scalar("id", 1, tInt64),
				scalar("int_normal", 2, tInt32),
				scalar("int_double", 3, tInt64),
				scalar("uint_normal", 4, tUint32),
				scalar("uint_double", 5, tUint64),
				scalar("sint_normal", 6, tSint32),
				scalar("sint_double", 7, tSint64),
				scalar("fixed_normal", 8, tFixed32),
				scalar("fixed_double", 9, tFixed64),
				scalar("sfixed_normal", 10, tSfixed32),
				scalar("sfixed_double", 11, tSfixed64),
				scalar("string_field", 12, tString),
				scalar("bool_field", 13, tBool),
				scalar("bytes_field", 14, tBytes),
				scalar("float_field", 15, tFloat),
				scalar("double_field", 16, tDouble),
				enum("enum_field", 17, local("Color")),
				repeated(scalar("labels", 18, tString)),
				scalar("spanner_numeric_field", 19, tString),
				message("timestamp", 20, timestampType),
				message("date", 21, dateType)),
			msg("EnrollEvent",
				scalar("id", 1, tString),
				scalar("person_id", 2, tString),
				message("occurred", 3, timestampType)),
			msg("DualIDRecord",
				message("key", 1, local("PersonKey")),
				scalar("id", 2, tString),
				scalar("note", 3, tString)),
			msg("Profile",
				scalar("id", 1, tString),
				message("contact", 2, local("ContactInfo")),
				scalar("secret", 3, tString),
				scalar("legacy", 4, tString),
				scalar("display_name", 5, tString),
				scalar("nickname", 6, tString),
				enum("status", 7, local("Color")),
				repeated(enum("history", 8, local("Color")))),
			msg("TicketKey",
				scalar("id", 1, tInt64)),
			msg("Ticket",
				message("key", 1, local("TicketKey")),
				scalar("title", 2, tString),
				message("opened", 3, timestampType),
				message("due", 4, dateType),
				scalar("payload", 5, tBytes),
				scalar("score", 6, tDouble),
				scalar("open", 7, tBool),
				repeated(scalar("watchers", 8, tInt64)),
				enum("priority", 9, local("Color")),
				repeated(scalar("labels", 10, tString))),
			msg("Node",
				scalar("id", 1, tString),
				message("parent", 2, local("Node")),
				scalar("label", 3, tString)),
		},
	}
}
