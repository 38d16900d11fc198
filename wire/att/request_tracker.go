package att

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultTransactionTimeout is the ATT transaction timeout (Core Spec Vol 3, Part F, 3.3.3)
const DefaultTransactionTimeout = 30 * time.Second

var (
	// ErrRequestPending is returned when a second request is started before
	// the first one is answered
	ErrRequestPending = errors.New("att: request already pending")
	// ErrRequestTimeout is delivered when no response arrives in time
	ErrRequestTimeout = errors.New("att: request timeout")
	// ErrRequestCancelled is delivered when the connection goes away
	ErrRequestCancelled = errors.New("att: request cancelled (connection closed)")
)

// RequestTracker manages pending ATT requests and matches them with responses.
// Only one request can be outstanding at a time per connection and direction.
type RequestTracker struct {
	mu              sync.Mutex
	pending         *PendingRequest
	defaultTimeout  time.Duration
	timeoutCallback func(opcode byte, handle uint16)
}

// PendingRequest represents a single outstanding ATT request
type PendingRequest struct {
	Opcode    byte
	Handle    uint16
	ResponseC chan Response
	SentAt    time.Time

	timer *time.Timer
}

// Response represents an ATT response or error
type Response struct {
	Packet interface{} // nil on timeout or cancellation
	Error  error
}

// NewRequestTracker creates a new request tracker
func NewRequestTracker(timeout time.Duration) *RequestTracker {
	if timeout == 0 {
		timeout = DefaultTransactionTimeout
	}
	return &RequestTracker{
		defaultTimeout: timeout,
	}
}

// SetTimeoutCallback sets a callback to be invoked when a request times out
func (rt *RequestTracker) SetTimeoutCallback(cb func(opcode byte, handle uint16)) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.timeoutCallback = cb
}

// StartRequest registers a new ATT request and returns a response channel.
// The channel receives exactly one Response and is then closed.
func (rt *RequestTracker) StartRequest(opcode byte, handle uint16, timeout time.Duration) (<-chan Response, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending != nil {
		return nil, fmt.Errorf("%w (opcode 0x%02X on handle 0x%04X)",
			ErrRequestPending, rt.pending.Opcode, rt.pending.Handle)
	}

	if timeout == 0 {
		timeout = rt.defaultTimeout
	}

	req := &PendingRequest{
		Opcode:    opcode,
		Handle:    handle,
		ResponseC: make(chan Response, 1),
		SentAt:    time.Now(),
	}
	// Each request owns its timer so a late expiry can never hit a newer request
	req.timer = time.AfterFunc(timeout, func() { rt.expire(req) })
	rt.pending = req

	return req.ResponseC, nil
}

func (rt *RequestTracker) expire(req *PendingRequest) {
	rt.mu.Lock()
	if rt.pending != req {
		rt.mu.Unlock()
		return
	}
	rt.pending = nil
	cb := rt.timeoutCallback
	req.ResponseC <- Response{
		Error: fmt.Errorf("%w: opcode 0x%02X, handle 0x%04X", ErrRequestTimeout, req.Opcode, req.Handle),
	}
	close(req.ResponseC)
	rt.mu.Unlock()

	if cb != nil {
		cb(req.Opcode, req.Handle)
	}
}

// finish resolves the pending request. Caller holds mu.
func (rt *RequestTracker) finish(resp Response) {
	req := rt.pending
	rt.pending = nil
	req.timer.Stop()
	req.ResponseC <- resp
	close(req.ResponseC)
}

// CompleteRequest delivers a response to a pending request. An ErrorResponse
// completes the request with an *Error.
func (rt *RequestTracker) CompleteRequest(responseOpcode byte, packet interface{}) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending == nil {
		return fmt.Errorf("att: no pending request for response opcode 0x%02X", responseOpcode)
	}

	expectedResponse := GetResponseOpcode(rt.pending.Opcode)
	if responseOpcode != expectedResponse && responseOpcode != OpErrorResponse {
		return fmt.Errorf("att: unexpected response opcode 0x%02X for request 0x%02X (expected 0x%02X)",
			responseOpcode, rt.pending.Opcode, expectedResponse)
	}

	resp := Response{Packet: packet}
	if errResp, ok := packet.(*ErrorResponse); ok {
		resp.Error = NewError(errResp.ErrorCode, errResp.RequestOpcode, errResp.Handle)
	}
	rt.finish(resp)
	return nil
}

// FailRequest fails a pending request with the given error
func (rt *RequestTracker) FailRequest(err error) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending == nil {
		return fmt.Errorf("att: no pending request to fail")
	}
	rt.finish(Response{Error: err})
	return nil
}

// GetPendingInfo returns the pending request and how long it has been outstanding
func (rt *RequestTracker) GetPendingInfo() (opcode byte, handle uint16, duration time.Duration, hasPending bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending == nil {
		return 0, 0, 0, false
	}
	return rt.pending.Opcode, rt.pending.Handle, time.Since(rt.pending.SentAt), true
}

// CancelPending cancels any pending request (used during disconnection)
func (rt *RequestTracker) CancelPending() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending == nil {
		return
	}
	rt.finish(Response{Error: ErrRequestCancelled})
}

// Await waits for the response on responseC. If ctx ends first the pending
// request is failed with the context's error so the slot is released.
func (rt *RequestTracker) Await(ctx context.Context, responseC <-chan Response) Response {
	select {
	case resp := <-responseC:
		return resp
	case <-ctx.Done():
		err := context.Cause(ctx)
		if err == nil {
			err = ctx.Err()
		}
		rt.mu.Lock()
		if rt.pending != nil && rt.pending.ResponseC == responseC {
			rt.finish(Response{Error: err})
		}
		rt.mu.Unlock()
		// The request may have been resolved concurrently; report whatever landed
		return <-responseC
	}
}
