package wire

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/gattstream/transport"
	"github.com/user/gattstream/wire/att"
)

// PeerLink adapts one peer connection to transport.Link
type PeerLink struct {
	wire *Wire
	peer string
}

var _ transport.Link = (*PeerLink)(nil)

// Link returns the chunk writer for peerUUID
func (w *Wire) Link(peerUUID string) *PeerLink {
	return &PeerLink{wire: w, peer: peerUUID}
}

// Peer returns the peer UUID
func (l *PeerLink) Peer() string { return l.peer }

// WriteChunk writes one chunk and waits for the peer's acknowledgment. Losing
// the connection surfaces as transport.ErrDisconnected.
func (l *PeerLink) WriteChunk(ctx context.Context, chunk []byte) error {
	err := l.wire.WriteValue(ctx, l.peer, chunk)
	if errors.Is(err, ErrNotConnected) || errors.Is(err, att.ErrRequestCancelled) {
		return fmt.Errorf("%w: %v", transport.ErrDisconnected, err)
	}
	return err
}
