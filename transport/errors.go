package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrLinkUnavailable is returned by Send when no write destination is bound
	ErrLinkUnavailable = errors.New("transport: no bound link")

	// ErrDisconnected fails a send that was in flight when the link went away
	ErrDisconnected = errors.New("transport: link disconnected")

	// ErrAlreadyBound is returned when binding a connection that already has a link
	ErrAlreadyBound = errors.New("transport: link already bound")
)

// PartialWriteError reports a chunk write that failed mid-message. Chunks
// before Index were acknowledged and are not retracted; the message counts
// as undelivered.
type PartialWriteError struct {
	Index int // failing chunk
	Total int // chunks in the message
	Sent  int // framed bytes acknowledged before the failure
	Err   error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("transport: chunk %d/%d failed after %d bytes: %v", e.Index+1, e.Total, e.Sent, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// Cause lets github.com/pkg/errors.Cause see through the wrapper
func (e *PartialWriteError) Cause() error { return e.Err }
