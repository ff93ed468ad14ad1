package columnar

import (
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Temporal fields are read by name so both generated and dynamic instances
// of the well-known types convert the same way.

// TimeFromTimestamp converts a google.protobuf.Timestamp message to UTC time.
func TimeFromTimestamp(msg protoreflect.Message) time.Time {
	fields := msg.Descriptor().Fields()
	secs := msg.Get(fields.ByName("seconds")).Int()
	nanos := msg.Get(fields.ByName("nanos")).Int()
	return time.Unix(secs, nanos).UTC()
}

// FillTimestamp writes t into a google.protobuf.Timestamp message.
func FillTimestamp(msg protoreflect.Message, t time.Time) {
	fields := msg.Descriptor().Fields()
	msg.Set(fields.ByName("seconds"), protoreflect.ValueOfInt64(t.Unix()))
	msg.Set(fields.ByName("nanos"), protoreflect.ValueOfInt32(int32(t.Nanosecond())))
}

// DateFromMessage converts a google.type.Date message to a civil date.
func DateFromMessage(msg protoreflect.Message) civil.Date {
	fields := msg.Descriptor().Fields()
	return civil.Date{
		Year:  int(msg.Get(fields.ByName("year")).Int()),
		Month: time.Month(msg.Get(fields.ByName("month")).Int()),
		Day:   int(msg.Get(fields.ByName("day")).Int()),
	}
}

// FillDate writes d into a google.type.Date message.
func FillDate(msg protoreflect.Message, d civil.Date) {
	fields := msg.Descriptor().Fields()
	msg.Set(fields.ByName("year"), protoreflect.ValueOfInt32(int32(d.Year)))
	msg.Set(fields.ByName("month"), protoreflect.ValueOfInt32(int32(d.Month)))
	msg.Set(fields.ByName("day"), protoreflect.ValueOfInt32(int32(d.Day)))
}

// FormatDate renders d as year/month/day without padding.
func FormatDate(d civil.Date) string {
	return strconv.Itoa(d.Year) + "/" + strconv.Itoa(int(d.Month)) + "/" + strconv.Itoa(d.Day)
}
