package att

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeExchangeMTU(t *testing.T) {
	req := &ExchangeMTURequest{ClientRxMTU: 517}
	encoded, err := EncodePacket(req)
	if err != nil {
		t.Fatalf("EncodePacket failed: %v", err)
	}

	expectedReq := []byte{0x02, 0x05, 0x02} // opcode, MTU (517 = 0x0205 little-endian)
	if !bytes.Equal(encoded, expectedReq) {
		t.Errorf("Encoded = %v, want %v", encoded, expectedReq)
	}

	decoded, err := DecodePacket(encoded)
	if err != nil {
		t.Fatalf("DecodePacket failed: %v", err)
	}
	decodedReq, ok := decoded.(*ExchangeMTURequest)
	if !ok {
		t.Fatalf("Decoded type = %T, want *ExchangeMTURequest", decoded)
	}
	if decodedReq.ClientRxMTU != req.ClientRxMTU {
		t.Errorf("ClientRxMTU = %d, want %d", decodedReq.ClientRxMTU, req.ClientRxMTU)
	}

	resp := &ExchangeMTUResponse{ServerRxMTU: 247}
	encoded, err = EncodePacket(resp)
	if err != nil {
		t.Fatalf("EncodePacket failed: %v", err)
	}
	decoded, err = DecodePacket(encoded)
	if err != nil {
		t.Fatalf("DecodePacket failed: %v", err)
	}
	decodedResp, ok := decoded.(*ExchangeMTUResponse)
	if !ok {
		t.Fatalf("Decoded type = %T, want *ExchangeMTUResponse", decoded)
	}
	if decodedResp.ServerRxMTU != resp.ServerRxMTU {
		t.Errorf("ServerRxMTU = %d, want %d", decodedResp.ServerRxMTU, resp.ServerRxMTU)
	}
}

func rawHandleValue(opcode uint8, handle uint16, value []byte) []byte {
	return append([]byte{opcode, byte(handle), byte(handle >> 8)}, value...)
}

func TestEncodeDecodeHandleValuePackets(t *testing.T) {
	value := []byte("<START>chunk")

	tests := []struct {
		name   string
		pkt    interface{} // nil when only peers send it
		opcode uint8
	}{
		{"WriteRequest", &WriteRequest{Handle: 0x0003, Value: value}, OpWriteRequest},
		{"WriteCommand", nil, OpWriteCommand},
		{"Notification", nil, OpHandleValueNotification},
		{"Indication", &HandleValueIndication{Handle: 0x0003, Value: value}, OpHandleValueIndication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := rawHandleValue(tt.opcode, 0x0003, value)
			if tt.pkt != nil {
				encoded, err := EncodePacket(tt.pkt)
				if err != nil {
					t.Fatalf("EncodePacket failed: %v", err)
				}
				if !bytes.Equal(encoded, raw) {
					t.Errorf("encoded = %v, want %v", encoded, raw)
				}
			}

			decoded, err := DecodePacket(raw)
			if err != nil {
				t.Fatalf("DecodePacket failed: %v", err)
			}

			var got []byte
			var handle uint16
			switch p := decoded.(type) {
			case *WriteRequest:
				got, handle = p.Value, p.Handle
			case *WriteCommand:
				got, handle = p.Value, p.Handle
			case *HandleValueNotification:
				got, handle = p.Value, p.Handle
			case *HandleValueIndication:
				got, handle = p.Value, p.Handle
			default:
				t.Fatalf("unexpected decoded type %T", decoded)
			}
			if handle != 0x0003 {
				t.Errorf("decoded handle = 0x%04X, want 0x0003", handle)
			}
			if !bytes.Equal(got, value) {
				t.Errorf("decoded value = %q, want %q", got, value)
			}
		})
	}
}

func TestDecodedValueDoesNotAliasInput(t *testing.T) {
	encoded, err := EncodePacket(&WriteRequest{Handle: 1, Value: []byte("abc")})
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodePacket(encoded)
	if err != nil {
		t.Fatal(err)
	}
	encoded[3] = 'X'
	if string(decoded.(*WriteRequest).Value) != "abc" {
		t.Error("decoded value shares memory with the input buffer")
	}
}

func TestEncodeDecodeErrorResponse(t *testing.T) {
	errResp := &ErrorResponse{
		RequestOpcode: OpWriteRequest,
		Handle:        0x0003,
		ErrorCode:     ErrInvalidAttributeValueLength,
	}
	encoded, err := EncodePacket(errResp)
	if err != nil {
		t.Fatalf("EncodePacket failed: %v", err)
	}
	expected := []byte{0x01, 0x12, 0x03, 0x00, 0x0D}
	if !bytes.Equal(encoded, expected) {
		t.Errorf("Encoded = %v, want %v", encoded, expected)
	}

	decoded, err := DecodePacket(encoded)
	if err != nil {
		t.Fatalf("DecodePacket failed: %v", err)
	}
	if *decoded.(*ErrorResponse) != *errResp {
		t.Errorf("Decoded = %+v, want %+v", decoded, errResp)
	}
}

func TestDecodePacketErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short MTU request", []byte{OpExchangeMTURequest, 0x17}},
		{"short error response", []byte{OpErrorResponse, 0x12}},
		{"short write request", []byte{OpWriteRequest, 0x03}},
		{"short indication", []byte{OpHandleValueIndication}},
		{"unknown opcode", []byte{0x7F}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePacket(tt.data); err == nil {
				t.Errorf("DecodePacket(%v) succeeded, want error", tt.data)
			}
		})
	}

	if _, err := EncodePacket("not a packet"); err == nil {
		t.Error("EncodePacket of unknown type succeeded, want error")
	}
	if _, err := EncodePacket(&HandleValueNotification{Handle: 3}); err == nil {
		t.Error("EncodePacket of a notification succeeded; the stream never sends one")
	}
}

func TestGetResponseOpcode(t *testing.T) {
	tests := []struct {
		req, resp uint8
	}{
		{OpExchangeMTURequest, OpExchangeMTUResponse},
		{OpWriteRequest, OpWriteResponse},
		{OpHandleValueIndication, OpHandleValueConfirmation},
		{OpWriteCommand, 0},
		{OpHandleValueNotification, 0},
	}
	for _, tt := range tests {
		if got := GetResponseOpcode(tt.req); got != tt.resp {
			t.Errorf("GetResponseOpcode(0x%02X) = 0x%02X, want 0x%02X", tt.req, got, tt.resp)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	err := NewError(ErrInvalidAttributeValueLength, OpWriteRequest, 0x0003)
	want := "ATT Error: Invalid Attribute Value Length (handle 0x0003, request Write Request)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if GetErrorCode(err) != ErrInvalidAttributeValueLength {
		t.Errorf("GetErrorCode = 0x%02X", GetErrorCode(err))
	}
	if GetErrorCode(nil) != 0 {
		t.Error("GetErrorCode(nil) should be 0")
	}

	app := NewError(0x85, OpHandleValueIndication, 1)
	if app.Error() != "ATT Error: Application Error (0x85) (handle 0x0001, request Handle Value Indication)" {
		t.Errorf("unexpected application error text %q", app.Error())
	}
}
