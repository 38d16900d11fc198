// Package frame turns application payloads into compressed, delimited wire
// frames and recovers payloads from an accumulating receive buffer.
//
// Wire format with the default MarkerFramer:
//
//	FRAME := "<START>" || compressed payload || "<END>"
//
// The codec does no I/O and holds no per-connection state.
package frame

import "github.com/pkg/errors"

// Codec pairs a Compressor with a Framer
type Codec struct {
	compressor Compressor
	framer     Framer
}

// Extraction is the outcome of one ExtractFrames pass
type Extraction struct {
	// Payloads are the decoded messages in arrival order
	Payloads [][]byte
	// Dropped counts bytes discarded ahead of a consumed frame
	Dropped int
	// Errors holds one entry per frame that could not be decoded
	Errors []error
}

// NewCodec creates a codec. Nil arguments fall back to zlib and marker framing.
func NewCodec(compressor Compressor, framer Framer) *Codec {
	if compressor == nil {
		compressor = NewZlib()
	}
	if framer == nil {
		framer = MarkerFramer{}
	}
	return &Codec{compressor: compressor, framer: framer}
}

// DefaultCodec is zlib compression with <START>/<END> markers
func DefaultCodec() *Codec {
	return NewCodec(nil, nil)
}

// Compressor returns the codec's compression primitive
func (c *Codec) Compressor() Compressor { return c.compressor }

// Framer returns the codec's framing
func (c *Codec) Framer() Framer { return c.framer }

// EncodeFrame compresses payload and frames it. Payloads above
// MaxMessageSize, or bodies the framer's peer would refuse, fail with a
// *CompressionError wrapping ErrFrameTooLarge; chunking happens downstream.
func (c *Codec) EncodeFrame(payload []byte) ([]byte, error) {
	compressed, err := c.compressor.Compress(payload)
	if err != nil {
		return nil, err
	}
	if limit := c.framer.MaxBody(); limit > 0 && len(compressed) > limit {
		return nil, &CompressionError{
			Algorithm: c.compressor.Name(),
			InputLen:  len(payload),
			Err:       errors.Wrapf(ErrFrameTooLarge, "%s body of %d bytes over %d", c.framer.Name(), len(compressed), limit),
		}
	}
	return c.framer.Wrap(compressed), nil
}

// ExtractFrames removes every complete frame from buf and decodes it.
//
// Bytes ahead of a consumed frame are dropped and counted. An incomplete
// trailing frame, or leading bytes with no frame start yet, stay in buf for
// the next call. A frame whose body fails to decompress is removed and
// reported in Errors without stopping the pass.
func (c *Codec) ExtractFrames(buf *Buffer) Extraction {
	var ex Extraction
	for {
		span, ok, err := c.framer.Next(buf.Bytes())
		if err != nil {
			// Framing is unrecoverable; nothing in the buffer can be trusted
			ex.Dropped += buf.Len()
			ex.Errors = append(ex.Errors, err)
			buf.Reset()
			return ex
		}
		if !ok {
			return ex
		}

		data := buf.Bytes()
		body := make([]byte, span.BodyEnd-span.BodyStart)
		copy(body, data[span.BodyStart:span.BodyEnd])
		ex.Dropped += span.Start
		buf.Consume(span.End)

		payload, err := c.compressor.Decompress(body)
		if err != nil {
			ex.Errors = append(ex.Errors, err)
			continue
		}
		ex.Payloads = append(ex.Payloads, payload)
	}
}
