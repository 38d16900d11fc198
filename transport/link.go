package transport

import "context"

//go:generate mockgen -source=link.go -destination=link_mock_test.go -package=transport

// Link is the acknowledged write primitive of the underlying connection.
// WriteChunk returns once the peer has acknowledged the chunk or the write
// has failed. Implementations decide their own timeouts; ctx cancellation
// must abort a pending write.
type Link interface {
	WriteChunk(ctx context.Context, chunk []byte) error
}

// LinkFunc adapts a plain function to Link
type LinkFunc func(ctx context.Context, chunk []byte) error

func (f LinkFunc) WriteChunk(ctx context.Context, chunk []byte) error {
	return f(ctx, chunk)
}
