// Package strings provides pooled, low-allocation string building for Strata,
// including the SQL builder used to render generated DDL.
package strings

import (
	"fmt"
	"sync"
	"unicode"
	"unicode/utf8"
	"unsafe"
)

// BytesToString views b as a string without copying. b must not be modified
// while the string is in use.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// Builder is an append-only byte buffer that can be recycled through the
// package pools.
type Builder struct {
	buf []byte
}

// NewBuilder returns a Builder with the given initial capacity.
func NewBuilder(capacity int) *Builder {
	return &Builder{buf: make([]byte, 0, capacity)}
}

func (b *Builder) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

func (b *Builder) WriteByte(c byte) {
	b.buf = append(b.buf, c)
}

// Write implements io.Writer so the builder can back fmt.Fprintf.
func (b *Builder) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String views the buffer without copying. The result is only valid until the
// builder is reset or returned to a pool.
func (b *Builder) String() string {
	return BytesToString(b.buf)
}

func (b *Builder) Bytes() []byte {
	return b.buf
}

func (b *Builder) Len() int {
	return len(b.buf)
}

func (b *Builder) Reset() {
	b.buf = b.buf[:0]
}

// owned copies the buffer into a string that outlives the builder.
func (b *Builder) owned() string {
	return string(b.buf)
}

// UpperFirst returns s with its first rune upper-cased.
func UpperFirst(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	if unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// BuilderSize selects one of the builder pools.
type BuilderSize int

const (
	Small  BuilderSize = iota // up to 1KB
	Medium                    // up to 16KB
	Large
)

const (
	smallCapacity  = 1 << 10
	mediumCapacity = 16 << 10
	largeCapacity  = 64 << 10
)

var pools = [...]*sync.Pool{
	Small:  {New: func() any { return NewBuilder(smallCapacity) }},
	Medium: {New: func() any { return NewBuilder(mediumCapacity) }},
	Large:  {New: func() any { return NewBuilder(largeCapacity) }},
}

func poolFor(size BuilderSize) *sync.Pool {
	if size < Small || size > Large {
		size = Small
	}
	return pools[size]
}

func sizeFor(n int) BuilderSize {
	switch {
	case n > mediumCapacity:
		return Large
	case n > smallCapacity:
		return Medium
	}
	return Small
}

// GetBuilder takes an empty builder from the pool for size.
func GetBuilder(size BuilderSize) *Builder {
	b := poolFor(size).Get().(*Builder)
	b.Reset()
	return b
}

// PutBuilder returns b to the pool for size. Nil builders are ignored.
func PutBuilder(b *Builder, size BuilderSize) {
	if b == nil {
		return
	}
	b.Reset()
	poolFor(size).Put(b)
}

// Sprintf formats into a pooled builder. It is used for error messages on hot
// paths.
func Sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	size := sizeFor(len(format) + len(args)*16)
	b := GetBuilder(size)
	defer PutBuilder(b, size)

	fmt.Fprintf(b, format, args...)
	return b.owned()
}

// JoinPooled joins parts with sep using a pooled builder.
func JoinPooled(parts []string, sep string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	n := len(sep) * (len(parts) - 1)
	for _, p := range parts {
		n += len(p)
	}
	size := sizeFor(n)
	b := GetBuilder(size)
	defer PutBuilder(b, size)

	writeJoined(b, parts, sep)
	return b.owned()
}

func writeJoined(b *Builder, parts []string, sep string) {
	for i, p := range parts {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(p)
	}
}

// SQLBuilder renders DDL statements on a pooled builder. Close must be called
// once the statement has been taken with String.
type SQLBuilder struct {
	builder *Builder
	size    BuilderSize
}

// NewSQLBuilder takes a builder sized for estimatedLength from the pools.
func NewSQLBuilder(estimatedLength int) *SQLBuilder {
	size := sizeFor(estimatedLength)
	return &SQLBuilder{builder: GetBuilder(size), size: size}
}

// WriteQuery appends raw statement text.
func (sb *SQLBuilder) WriteQuery(query string) *SQLBuilder {
	sb.builder.WriteString(query)
	return sb
}

func (sb *SQLBuilder) WriteSpace() *SQLBuilder {
	sb.builder.WriteByte(' ')
	return sb
}

// WriteIdentifier writes name as-is when it is a plain identifier and
// back-quoted otherwise.
func (sb *SQLBuilder) WriteIdentifier(name string) *SQLBuilder {
	if isPlainIdentifier(name) {
		sb.builder.WriteString(name)
		return sb
	}
	sb.builder.WriteByte('`')
	for i := 0; i < len(name); i++ {
		if name[i] == '`' {
			sb.builder.WriteByte('\\')
		}
		sb.builder.WriteByte(name[i])
	}
	sb.builder.WriteByte('`')
	return sb
}

// WriteJoined appends parts separated by sep.
func (sb *SQLBuilder) WriteJoined(parts []string, sep string) *SQLBuilder {
	writeJoined(sb.builder, parts, sep)
	return sb
}

// String returns a copy of the statement built so far.
func (sb *SQLBuilder) String() string {
	return sb.builder.owned()
}

// Close returns the builder to its pool. It is safe to call more than once.
func (sb *SQLBuilder) Close() {
	if sb.builder != nil {
		PutBuilder(sb.builder, sb.size)
		sb.builder = nil
	}
}

func isPlainIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
