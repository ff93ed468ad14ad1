// Package codec pairs serializers and deserializers that convert models to
// and from an intermediate representation. Every codec is stateless and safe
// for concurrent use; Deserialize(Serialize(x)) is semantically equal to x.
package codec

import (
	"github.com/ajitpratap0/strata/pkg/errors"
)

// Serializer converts a model into its intermediate form R.
type Serializer[M any, R any] interface {
	Serialize(model M) (R, error)
}

// Deserializer converts an intermediate form R back into a model.
type Deserializer[M any, R any] interface {
	Deserialize(data R) (M, error)
}

// Codec composes exactly one serializer and one deserializer for a model type.
type Codec[M any, R any] interface {
	Serializer[M, R]
	Deserializer[M, R]

	// Serializer returns the serialization half of the codec
	Serializer() Serializer[M, R]
	// Deserializer returns the deserialization half of the codec
	Deserializer() Deserializer[M, R]
}

// SerializerFunc adapts a function to the Serializer interface.
type SerializerFunc[M any, R any] func(model M) (R, error)

// Serialize calls f(model).
func (f SerializerFunc[M, R]) Serialize(model M) (R, error) {
	return f(model)
}

// DeserializerFunc adapts a function to the Deserializer interface.
type DeserializerFunc[M any, R any] func(data R) (M, error)

// Deserialize calls f(data).
func (f DeserializerFunc[M, R]) Deserialize(data R) (M, error) {
	return f(data)
}

type pair[M any, R any] struct {
	serializer   Serializer[M, R]
	deserializer Deserializer[M, R]
}

// New composes s and d into a Codec. Failures from either half that are not
// already deflate or inflate errors are wrapped as such.
func New[M any, R any](s Serializer[M, R], d Deserializer[M, R]) Codec[M, R] {
	return &pair[M, R]{serializer: s, deserializer: d}
}

func (p *pair[M, R]) Serializer() Serializer[M, R] {
	return p.serializer
}

func (p *pair[M, R]) Deserializer() Deserializer[M, R] {
	return p.deserializer
}

func (p *pair[M, R]) Serialize(model M) (R, error) {
	out, err := p.serializer.Serialize(model)
	if err != nil && !errors.IsType(err, errors.ErrorTypeDeflate) {
		var zero R
		return zero, errors.ModelDeflate(err)
	}
	return out, err
}

func (p *pair[M, R]) Deserialize(data R) (M, error) {
	out, err := p.deserializer.Deserialize(data)
	if err != nil && !errors.IsType(err, errors.ErrorTypeInflate) {
		var zero M
		return zero, errors.ModelInflate(err)
	}
	return out, err
}
