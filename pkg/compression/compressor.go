// Package compression provides the payload compressors used by the Strata
// record cache. Encoded records are compressed before they are stored and
// decompressed on every hit, so the cache defaults to Snappy.
//
// Snappy and S2 are block formats whose decoded length is known up front.
// Gzip, Deflate and LZ4 are stream formats and are decoded through a bounded
// reader. Zstd uses pooled encoders and decoders.
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Zstd,
//	    Level:     compression.Better,
//	})
//	packed, err := comp.Compress(record)
//	record, err = comp.Decompress(packed)
package compression

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/ajitpratap0/strata/pkg/errors"
	stringpool "github.com/ajitpratap0/strata/pkg/strings"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names a compression format as it appears in configuration.
type Algorithm string

const (
	None    Algorithm = "none"
	Gzip    Algorithm = "gzip"
	Snappy  Algorithm = "snappy"
	LZ4     Algorithm = "lz4"
	Zstd    Algorithm = "zstd"
	S2      Algorithm = "s2" // Snappy compatible
	Deflate Algorithm = "deflate"
)

// ParseAlgorithm maps a configured name to an Algorithm. An empty name is None.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(name); a {
	case "":
		return None, nil
	case None, Gzip, Snappy, LZ4, Zstd, S2, Deflate:
		return a, nil
	default:
		return "", unsupported(a)
	}
}

func unsupported(a Algorithm) error {
	return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported compression algorithm: %s", a))
}

// Level trades compression speed for ratio. Formats without a matching level
// use their own default.
type Level int

const (
	Fastest Level = 1
	Default Level = 5
	Better  Level = 7
	Best    Level = 9
)

// DefaultMaxDecodedSize bounds decompressed payloads.
const DefaultMaxDecodedSize = 64 << 20

// Compressor compresses and decompresses whole payloads. Implementations are
// safe for concurrent use.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	// Decompress fails with an inflate error when the payload is corrupt or
	// decodes to more than the configured limit.
	Decompress(data []byte) ([]byte, error)
	Algorithm() Algorithm
}

// Config selects and tunes a Compressor.
type Config struct {
	Algorithm      Algorithm
	Level          Level
	MaxDecodedSize int64
}

// DefaultConfig returns the cache default: Snappy at the default level.
func DefaultConfig() *Config {
	return &Config{
		Algorithm:      Snappy,
		Level:          Default,
		MaxDecodedSize: DefaultMaxDecodedSize,
	}
}

// NewCompressor builds the compressor described by config. A nil config uses
// DefaultConfig.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	limit := config.MaxDecodedSize
	if limit <= 0 {
		limit = DefaultMaxDecodedSize
	}
	b := bounds{algorithm: config.Algorithm, limit: limit}

	switch config.Algorithm {
	case None, "":
		b.algorithm = None
		return passthrough{b}, nil
	case Snappy:
		return &block{bounds: b, encode: snappy.Encode, decode: snappy.Decode, decodedLen: snappy.DecodedLen}, nil
	case S2:
		return &block{bounds: b, encode: s2.Encode, decode: s2.Decode, decodedLen: s2.DecodedLen}, nil
	case Gzip:
		return gzipStream(b, config.Level), nil
	case Deflate:
		return deflateStream(b, config.Level), nil
	case LZ4:
		return lz4Stream(b, config.Level), nil
	case Zstd:
		return newZstd(b, config.Level), nil
	default:
		return nil, unsupported(config.Algorithm)
	}
}

// bounds carries the algorithm name and the decoded size limit shared by
// every format.
type bounds struct {
	algorithm Algorithm
	limit     int64
}

func (b bounds) Algorithm() Algorithm {
	return b.algorithm
}

func (b bounds) tooLarge() error {
	return errors.New(errors.ErrorTypeInflate,
		fmt.Sprintf("%s: decoded payload exceeds %d bytes", b.algorithm, b.limit))
}

func (b bounds) inflateErr(err error) error {
	return errors.Wrap(err, errors.ErrorTypeInflate, fmt.Sprintf("%s: corrupt payload", b.algorithm))
}

func (b bounds) deflateErr(err error) error {
	return errors.Wrap(err, errors.ErrorTypeDeflate, fmt.Sprintf("%s: compress failed", b.algorithm))
}

// readAll drains r into a fresh slice, stopping one byte past the limit.
func (b bounds) readAll(r io.Reader) ([]byte, error) {
	buf := stringpool.GetBuilder(stringpool.Medium)
	defer stringpool.PutBuilder(buf, stringpool.Medium)

	n, err := io.Copy(buf, io.LimitReader(r, b.limit+1))
	if err != nil {
		return nil, b.inflateErr(err)
	}
	if n > b.limit {
		return nil, b.tooLarge()
	}
	return bytes.Clone(buf.Bytes()), nil
}

type passthrough struct {
	bounds
}

func (passthrough) Compress(data []byte) ([]byte, error)   { return data, nil }
func (passthrough) Decompress(data []byte) ([]byte, error) { return data, nil }

// block adapts a format with one-shot encode and decode functions.
type block struct {
	bounds
	encode     func(dst, src []byte) []byte
	decode     func(dst, src []byte) ([]byte, error)
	decodedLen func(src []byte) (int, error)
}

func (c *block) Compress(data []byte) ([]byte, error) {
	return c.encode(nil, data), nil
}

func (c *block) Decompress(data []byte) ([]byte, error) {
	n, err := c.decodedLen(data)
	if err != nil {
		return nil, c.inflateErr(err)
	}
	if int64(n) > c.limit {
		return nil, c.tooLarge()
	}
	out, err := c.decode(nil, data)
	if err != nil {
		return nil, c.inflateErr(err)
	}
	return out, nil
}

// stream adapts a format exposed as io.WriteCloser and io.Reader wrappers.
type stream struct {
	bounds
	writer func(io.Writer) (io.WriteCloser, error)
	reader func(io.Reader) (io.Reader, error)
}

func (c *stream) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.writer(&buf)
	if err != nil {
		return nil, c.deflateErr(err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, c.deflateErr(err)
	}
	if err := w.Close(); err != nil {
		return nil, c.deflateErr(err)
	}
	return buf.Bytes(), nil
}

func (c *stream) Decompress(data []byte) ([]byte, error) {
	r, err := c.reader(bytes.NewReader(data))
	if err != nil {
		return nil, c.inflateErr(err)
	}
	if closer, ok := r.(io.Closer); ok {
		defer closer.Close()
	}
	return c.readAll(r)
}

func gzipStream(b bounds, level Level) *stream {
	gzLevel := gzip.DefaultCompression
	switch level {
	case Fastest:
		gzLevel = gzip.BestSpeed
	case Best:
		gzLevel = gzip.BestCompression
	}
	return &stream{
		bounds: b,
		writer: func(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriterLevel(w, gzLevel) },
		reader: func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
	}
}

func deflateStream(b bounds, level Level) *stream {
	flLevel := flate.DefaultCompression
	switch level {
	case Fastest:
		flLevel = flate.BestSpeed
	case Best:
		flLevel = flate.BestCompression
	}
	return &stream{
		bounds: b,
		writer: func(w io.Writer) (io.WriteCloser, error) { return flate.NewWriter(w, flLevel) },
		reader: func(r io.Reader) (io.Reader, error) { return flate.NewReader(r), nil },
	}
}

func lz4Stream(b bounds, level Level) *stream {
	lzLevel := lz4.Level5
	switch level {
	case Fastest:
		lzLevel = lz4.Fast
	case Best:
		lzLevel = lz4.Level9
	}
	return &stream{
		bounds: b,
		writer: func(w io.Writer) (io.WriteCloser, error) {
			zw := lz4.NewWriter(w)
			if err := zw.Apply(lz4.CompressionLevelOption(lzLevel)); err != nil {
				return nil, err
			}
			return zw, nil
		},
		reader: func(r io.Reader) (io.Reader, error) { return lz4.NewReader(r), nil },
	}
}

// zstdCodec pools encoders and decoders; both are costly to build.
type zstdCodec struct {
	bounds
	encoders sync.Pool
	decoders sync.Pool
}

func newZstd(b bounds, level Level) *zstdCodec {
	encLevel := zstd.SpeedDefault
	switch level {
	case Fastest:
		encLevel = zstd.SpeedFastest
	case Better:
		encLevel = zstd.SpeedBetterCompression
	case Best:
		encLevel = zstd.SpeedBestCompression
	}
	c := &zstdCodec{bounds: b}
	c.encoders.New = func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
		return enc
	}
	c.decoders.New = func() any {
		dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(b.limit)))
		return dec
	}
	return c
}

func (c *zstdCodec) Compress(data []byte) ([]byte, error) {
	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

func (c *zstdCodec) Decompress(data []byte) ([]byte, error) {
	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, c.inflateErr(err)
	}
	return out, nil
}
