package frame

import (
	"fmt"

	"github.com/pkg/errors"
)

// CompressionError is returned when the compressor rejects a payload or
// produces no output. It is fatal to a single send only.
type CompressionError struct {
	Algorithm string
	InputLen  int
	Err       error
}

func (e *CompressionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("frame: %s compression of %d bytes produced no output", e.Algorithm, e.InputLen)
	}
	return fmt.Sprintf("frame: %s compression of %d bytes failed: %v", e.Algorithm, e.InputLen, e.Err)
}

func (e *CompressionError) Unwrap() error { return e.Err }

// DecompressionError is reported for a completed frame whose body could not
// be decompressed. The frame is dropped and extraction carries on.
type DecompressionError struct {
	Algorithm string
	BodyLen   int
	Err       error
}

func (e *DecompressionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("frame: %s body of %d bytes is not decodable", e.Algorithm, e.BodyLen)
	}
	return fmt.Sprintf("frame: %s body of %d bytes is not decodable: %v", e.Algorithm, e.BodyLen, e.Err)
}

func (e *DecompressionError) Unwrap() error { return e.Err }

// ErrFrameTooLarge is reported by LengthFramer when a header declares a body
// larger than MaxFrameSize, and by the encoder for messages a receiver would
// refuse. On receive the buffer is discarded.
var ErrFrameTooLarge = errors.New("frame: declared length exceeds maximum frame size")

// IsCompressionError checks if err (or anything it wraps) is a CompressionError
func IsCompressionError(err error) bool {
	var ce *CompressionError
	return errors.As(err, &ce)
}

// IsDecompressionError checks if err (or anything it wraps) is a DecompressionError
func IsDecompressionError(err error) bool {
	var de *DecompressionError
	return errors.As(err, &de)
}
