package att

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func pending(tracker *RequestTracker) bool {
	_, _, _, ok := tracker.GetPendingInfo()
	return ok
}

func TestRequestTracker_SingleRequest(t *testing.T) {
	tracker := NewRequestTracker(100 * time.Millisecond)

	responseC, err := tracker.StartRequest(OpWriteRequest, 0x0010, 0)
	if err != nil {
		t.Fatalf("StartRequest failed: %v", err)
	}

	opcode, handle, _, hasPending := tracker.GetPendingInfo()
	if !hasPending {
		t.Fatal("Expected hasPending=true")
	}
	if opcode != OpWriteRequest {
		t.Errorf("Expected opcode 0x%02X, got 0x%02X", OpWriteRequest, opcode)
	}
	if handle != 0x0010 {
		t.Errorf("Expected handle 0x0010, got 0x%04X", handle)
	}

	if err := tracker.CompleteRequest(OpWriteResponse, &WriteResponse{}); err != nil {
		t.Fatalf("CompleteRequest failed: %v", err)
	}

	select {
	case resp := <-responseC:
		if resp.Error != nil {
			t.Fatalf("Expected no error, got: %v", resp.Error)
		}
		if _, ok := resp.Packet.(*WriteResponse); !ok {
			t.Fatalf("Expected *WriteResponse, got %T", resp.Packet)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Timeout waiting for response")
	}

	if pending(tracker) {
		t.Fatal("Expected no pending request after completion")
	}
}

func TestRequestTracker_OnlyOneRequestAtTime(t *testing.T) {
	tracker := NewRequestTracker(time.Second)

	if _, err := tracker.StartRequest(OpHandleValueIndication, 0x0003, 0); err != nil {
		t.Fatalf("First StartRequest failed: %v", err)
	}

	_, err := tracker.StartRequest(OpWriteRequest, 0x0020, 0)
	if !errors.Is(err, ErrRequestPending) {
		t.Fatalf("Expected ErrRequestPending, got %v", err)
	}

	if err := tracker.CompleteRequest(OpHandleValueConfirmation, &HandleValueConfirmation{}); err != nil {
		t.Fatalf("CompleteRequest failed: %v", err)
	}
	if _, err := tracker.StartRequest(OpWriteRequest, 0x0020, 0); err != nil {
		t.Fatalf("StartRequest after completion failed: %v", err)
	}
}

func TestRequestTracker_Timeout(t *testing.T) {
	tracker := NewRequestTracker(30 * time.Millisecond)

	var callbacks atomic.Int32
	tracker.SetTimeoutCallback(func(opcode byte, handle uint16) {
		callbacks.Add(1)
	})

	responseC, err := tracker.StartRequest(OpWriteRequest, 0x0003, 0)
	if err != nil {
		t.Fatalf("StartRequest failed: %v", err)
	}

	select {
	case resp := <-responseC:
		if !errors.Is(resp.Error, ErrRequestTimeout) {
			t.Fatalf("Expected ErrRequestTimeout, got %v", resp.Error)
		}
	case <-time.After(time.Second):
		t.Fatal("Request never timed out")
	}

	if pending(tracker) {
		t.Error("Expected slot to be released after timeout")
	}
	if callbacks.Load() != 1 {
		t.Errorf("Expected 1 timeout callback, got %d", callbacks.Load())
	}
}

func TestRequestTracker_StaleTimerDoesNotFailNextRequest(t *testing.T) {
	tracker := NewRequestTracker(0)

	// First request completes well before its timer would fire
	_, err := tracker.StartRequest(OpWriteRequest, 0x0003, 40*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if err := tracker.CompleteRequest(OpWriteResponse, &WriteResponse{}); err != nil {
		t.Fatal(err)
	}

	// Second request has a long timeout; the first timer must not touch it
	responseC, err := tracker.StartRequest(OpWriteRequest, 0x0003, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)

	if !pending(tracker) {
		t.Fatal("Second request was failed by the first request's timer")
	}
	if err := tracker.CompleteRequest(OpWriteResponse, &WriteResponse{}); err != nil {
		t.Fatal(err)
	}
	if resp := <-responseC; resp.Error != nil {
		t.Fatalf("Expected success, got %v", resp.Error)
	}
}

func TestRequestTracker_ErrorResponse(t *testing.T) {
	tracker := NewRequestTracker(time.Second)

	responseC, err := tracker.StartRequest(OpWriteRequest, 0x0003, 0)
	if err != nil {
		t.Fatal(err)
	}

	errResp := &ErrorResponse{
		RequestOpcode: OpWriteRequest,
		Handle:        0x0003,
		ErrorCode:     ErrInvalidAttributeValueLength,
	}
	if err := tracker.CompleteRequest(OpErrorResponse, errResp); err != nil {
		t.Fatalf("CompleteRequest failed: %v", err)
	}

	resp := <-responseC
	if !IsATTError(resp.Error, ErrInvalidAttributeValueLength) {
		t.Fatalf("Expected Invalid Attribute Value Length, got %v", resp.Error)
	}
}

func TestRequestTracker_MismatchedResponse(t *testing.T) {
	tracker := NewRequestTracker(time.Second)

	if _, err := tracker.StartRequest(OpWriteRequest, 0x0003, 0); err != nil {
		t.Fatal(err)
	}
	if err := tracker.CompleteRequest(OpHandleValueConfirmation, &HandleValueConfirmation{}); err == nil {
		t.Fatal("Expected error for mismatched response opcode")
	}
	if !pending(tracker) {
		t.Fatal("Mismatched response must not clear the pending request")
	}
	if err := tracker.CompleteRequest(OpWriteResponse, &WriteResponse{}); err != nil {
		t.Fatal(err)
	}
	if err := tracker.CompleteRequest(OpWriteResponse, &WriteResponse{}); err == nil {
		t.Fatal("Expected error completing with nothing pending")
	}
}

func TestRequestTracker_CancelPending(t *testing.T) {
	tracker := NewRequestTracker(time.Second)

	responseC, err := tracker.StartRequest(OpHandleValueIndication, 0x0003, 0)
	if err != nil {
		t.Fatal(err)
	}
	tracker.CancelPending()

	resp := <-responseC
	if !errors.Is(resp.Error, ErrRequestCancelled) {
		t.Fatalf("Expected ErrRequestCancelled, got %v", resp.Error)
	}
	if _, open := <-responseC; open {
		t.Fatal("Response channel must be closed after one response")
	}

	// Cancelling twice is harmless
	tracker.CancelPending()
}

func TestRequestTracker_AwaitContext(t *testing.T) {
	tracker := NewRequestTracker(time.Second)

	responseC, err := tracker.StartRequest(OpWriteRequest, 0x0003, 0)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	resp := tracker.Await(ctx, responseC)
	if !errors.Is(resp.Error, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", resp.Error)
	}
	if pending(tracker) {
		t.Fatal("Await must release the slot when the context ends")
	}
}

func TestRequestTracker_LateResponseAfterAwaitGivesUp(t *testing.T) {
	tracker := NewRequestTracker(time.Second)

	responseC, err := tracker.StartRequest(OpWriteRequest, 0x0003, 0)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if resp := tracker.Await(ctx, responseC); !errors.Is(resp.Error, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", resp.Error)
	}

	// The answer to the abandoned request has nothing to complete
	if err := tracker.CompleteRequest(OpWriteResponse, &WriteResponse{}); err == nil {
		t.Fatal("Late response completed a request that was given up")
	}
}
