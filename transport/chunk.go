package transport

import (
	"github.com/pkg/errors"
)

// DefaultMaxChunk is the largest characteristic write the reference deployment issues
const DefaultMaxChunk = 512

// SplitIntoChunks splits a framed blob into consecutive slices of at most
// maxChunk bytes. The slices cover the blob in order with no gaps or
// overlaps; only the last may be shorter. They alias wire.
func SplitIntoChunks(wire []byte, maxChunk int) ([][]byte, error) {
	if maxChunk <= 0 {
		return nil, errors.Errorf("transport: chunk size must be positive (got %d)", maxChunk)
	}

	chunks := make([][]byte, 0, (len(wire)+maxChunk-1)/maxChunk)
	for offset := 0; offset < len(wire); offset += maxChunk {
		end := offset + maxChunk
		if end > len(wire) {
			end = len(wire)
		}
		chunks = append(chunks, wire[offset:end:end])
	}
	return chunks, nil
}
