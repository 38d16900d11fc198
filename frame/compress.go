package frame

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// MaxMessageSize bounds the decompressed size of a single message
const MaxMessageSize = 64 << 20

// Compressor is the compression primitive the codec runs payloads through.
// Decompress(Compress(x)) must equal x for every x, including empty input.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Name() string
}

// Zlib produces RFC 1950 zlib streams (2-byte header, DEFLATE body, Adler-32 trailer)
type Zlib struct {
	Level int
}

// NewZlib returns a zlib compressor at the default level
func NewZlib() *Zlib {
	return &Zlib{Level: zlib.DefaultCompression}
}

func (z *Zlib) Name() string { return "zlib" }

func (z *Zlib) Compress(data []byte) ([]byte, error) {
	if err := checkMessageSize(z.Name(), data); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	w, err := zlib.NewWriterLevel(&out, z.Level)
	if err != nil {
		return nil, &CompressionError{Algorithm: z.Name(), InputLen: len(data), Err: err}
	}
	if _, err := w.Write(data); err != nil {
		return nil, &CompressionError{Algorithm: z.Name(), InputLen: len(data), Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &CompressionError{Algorithm: z.Name(), InputLen: len(data), Err: err}
	}
	if out.Len() == 0 {
		return nil, &CompressionError{Algorithm: z.Name(), InputLen: len(data)}
	}
	return out.Bytes(), nil
}

func (z *Zlib) Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &DecompressionError{Algorithm: z.Name(), BodyLen: len(data), Err: err}
	}
	defer r.Close()
	return readAllLimited(r, z.Name(), len(data))
}

// Deflate produces raw RFC 1951 DEFLATE with no header or trailer. This is
// what Apple's Compression framework emits for COMPRESSION_ZLIB, so peers
// built on it need this mode.
type Deflate struct {
	Level int
}

// NewDeflate returns a raw DEFLATE compressor at the default level
func NewDeflate() *Deflate {
	return &Deflate{Level: flate.DefaultCompression}
}

func (d *Deflate) Name() string { return "deflate" }

func (d *Deflate) Compress(data []byte) ([]byte, error) {
	if err := checkMessageSize(d.Name(), data); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	w, err := flate.NewWriter(&out, d.Level)
	if err != nil {
		return nil, &CompressionError{Algorithm: d.Name(), InputLen: len(data), Err: err}
	}
	if _, err := w.Write(data); err != nil {
		return nil, &CompressionError{Algorithm: d.Name(), InputLen: len(data), Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &CompressionError{Algorithm: d.Name(), InputLen: len(data), Err: err}
	}
	if out.Len() == 0 {
		return nil, &CompressionError{Algorithm: d.Name(), InputLen: len(data)}
	}
	return out.Bytes(), nil
}

func (d *Deflate) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, &DecompressionError{Algorithm: d.Name()}
	}
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return readAllLimited(r, d.Name(), len(data))
}

// NewCompressor maps a configured algorithm name to a Compressor
func NewCompressor(name string) (Compressor, error) {
	switch name {
	case "", "zlib":
		return NewZlib(), nil
	case "deflate":
		return NewDeflate(), nil
	default:
		return nil, errors.Errorf("frame: unknown compression %q", name)
	}
}

// checkMessageSize refuses input the receiving side would not decompress
func checkMessageSize(algorithm string, data []byte) error {
	if len(data) <= MaxMessageSize {
		return nil
	}
	return &CompressionError{
		Algorithm: algorithm,
		InputLen:  len(data),
		Err:       errors.Wrapf(ErrFrameTooLarge, "message over %d bytes", MaxMessageSize),
	}
}

func readAllLimited(r io.Reader, algorithm string, bodyLen int) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, MaxMessageSize+1))
	if err != nil {
		return nil, &DecompressionError{Algorithm: algorithm, BodyLen: bodyLen, Err: err}
	}
	if len(out) > MaxMessageSize {
		return nil, &DecompressionError{
			Algorithm: algorithm,
			BodyLen:   bodyLen,
			Err:       errors.Errorf("output exceeds %d bytes", MaxMessageSize),
		}
	}
	return out, nil
}
