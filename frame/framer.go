package frame

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Wire markers delimiting a compressed body
var (
	StartMarker = []byte("<START>")
	EndMarker   = []byte("<END>")
)

const (
	// LengthHeaderSize is the size of the big-endian length prefix used by LengthFramer
	LengthHeaderSize = 4

	// MaxFrameSize bounds the body length a LengthFramer header may declare
	MaxFrameSize = 16 << 20
)

// Span locates one complete frame inside a buffer.
// Start is where the frame header begins; End is one past its last byte.
type Span struct {
	Start     int
	BodyStart int
	BodyEnd   int
	End       int
}

// Framer delimits compressed bodies on the wire
type Framer interface {
	// Wrap returns the body with framing applied
	Wrap(body []byte) []byte
	// Next locates the first complete frame in buf. It returns false when no
	// complete frame is present yet.
	Next(buf []byte) (Span, bool, error)
	// Abandon returns the bytes that put the peer back in step when only the
	// first sent bytes of frame reached it
	Abandon(frame []byte, sent int) []byte
	// MaxBody is the largest body the peer's Next accepts; zero means no bound
	MaxBody() int
	Name() string
}

// MarkerFramer brackets each body with StartMarker and EndMarker. Bodies are
// not escaped, so a body containing EndMarker splits early.
type MarkerFramer struct{}

func (MarkerFramer) Name() string { return "marker" }

func (MarkerFramer) Wrap(body []byte) []byte {
	out := make([]byte, 0, len(StartMarker)+len(body)+len(EndMarker))
	out = append(out, StartMarker...)
	out = append(out, body...)
	out = append(out, EndMarker...)
	return out
}

func (MarkerFramer) MaxBody() int { return 0 }

// Abandon ends the broken frame early; its truncated body fails to decompress
// and is skipped.
func (MarkerFramer) Abandon(frame []byte, sent int) []byte {
	if sent >= len(frame) {
		return nil
	}
	return append([]byte(nil), EndMarker...)
}

func (MarkerFramer) Next(buf []byte) (Span, bool, error) {
	start := bytes.Index(buf, StartMarker)
	if start < 0 {
		return Span{}, false, nil
	}
	bodyStart := start + len(StartMarker)
	end := bytes.Index(buf[bodyStart:], EndMarker)
	if end < 0 {
		return Span{}, false, nil
	}
	bodyEnd := bodyStart + end
	return Span{
		Start:     start,
		BodyStart: bodyStart,
		BodyEnd:   bodyEnd,
		End:       bodyEnd + len(EndMarker),
	}, true, nil
}

// LengthFramer prefixes each body with its length as a 4-byte big-endian
// integer. It has no marker collision problem but is not understood by
// marker-only peers.
type LengthFramer struct{}

func (LengthFramer) Name() string { return "length" }

func (LengthFramer) Wrap(body []byte) []byte {
	out := make([]byte, LengthHeaderSize+len(body))
	binary.BigEndian.PutUint32(out[:LengthHeaderSize], uint32(len(body)))
	copy(out[LengthHeaderSize:], body)
	return out
}

func (LengthFramer) MaxBody() int { return MaxFrameSize }

// Abandon finishes the frame with its own remaining bytes. The peer counts
// the declared length, so filler could decode as data; the abandoned message
// is delivered instead.
func (LengthFramer) Abandon(frame []byte, sent int) []byte {
	if sent >= len(frame) {
		return nil
	}
	return append([]byte(nil), frame[sent:]...)
}

func (LengthFramer) Next(buf []byte) (Span, bool, error) {
	if len(buf) < LengthHeaderSize {
		return Span{}, false, nil
	}
	n := binary.BigEndian.Uint32(buf[:LengthHeaderSize])
	if n > MaxFrameSize {
		return Span{}, false, errors.Wrapf(ErrFrameTooLarge, "header declares %d bytes", n)
	}
	end := LengthHeaderSize + int(n)
	if len(buf) < end {
		return Span{}, false, nil
	}
	return Span{Start: 0, BodyStart: LengthHeaderSize, BodyEnd: end, End: end}, true, nil
}

// NewFramer maps a configured framing name to a Framer
func NewFramer(name string) (Framer, error) {
	switch name {
	case "", "marker":
		return MarkerFramer{}, nil
	case "length":
		return LengthFramer{}, nil
	default:
		return nil, errors.Errorf("frame: unknown framing %q", name)
	}
}
