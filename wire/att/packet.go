package att

import (
	"encoding/binary"
	"fmt"
)

// MTU Exchange Request/Response (Opcodes 0x02/0x03)
type ExchangeMTURequest struct {
	ClientRxMTU uint16 // Client's maximum receive MTU
}

type ExchangeMTUResponse struct {
	ServerRxMTU uint16 // Server's maximum receive MTU
}

// Error Response (Opcode 0x01)
type ErrorResponse struct {
	RequestOpcode uint8  // The opcode that caused the error
	Handle        uint16 // The handle that caused the error
	ErrorCode     uint8  // The error code
}

// Write Request/Response (Opcodes 0x12/0x13)
type WriteRequest struct {
	Handle uint16 // Handle of the attribute to write
	Value  []byte // Value to write
}

type WriteResponse struct {
	// Empty on success
}

// Write Command (Opcode 0x52) - no response
type WriteCommand struct {
	Handle uint16
	Value  []byte
}

// Handle Value Notification (Opcode 0x1B) - no confirmation
type HandleValueNotification struct {
	Handle uint16
	Value  []byte
}

// Handle Value Indication (Opcode 0x1D) - requires confirmation
type HandleValueIndication struct {
	Handle uint16
	Value  []byte
}

// Handle Value Confirmation (Opcode 0x1E)
type HandleValueConfirmation struct {
	// Empty
}

func encodeHandleValue(opcode uint8, handle uint16, value []byte) []byte {
	buf := make([]byte, 3+len(value))
	buf[0] = opcode
	binary.LittleEndian.PutUint16(buf[1:3], handle)
	copy(buf[3:], value)
	return buf
}

// EncodePacket encodes an ATT packet to binary format. Write Commands and
// Notifications are only ever decoded: every stream value is acknowledged.
func EncodePacket(pkt interface{}) ([]byte, error) {
	switch p := pkt.(type) {
	case *ExchangeMTURequest:
		buf := make([]byte, 3)
		buf[0] = OpExchangeMTURequest
		binary.LittleEndian.PutUint16(buf[1:3], p.ClientRxMTU)
		return buf, nil

	case *ExchangeMTUResponse:
		buf := make([]byte, 3)
		buf[0] = OpExchangeMTUResponse
		binary.LittleEndian.PutUint16(buf[1:3], p.ServerRxMTU)
		return buf, nil

	case *ErrorResponse:
		buf := make([]byte, 5)
		buf[0] = OpErrorResponse
		buf[1] = p.RequestOpcode
		binary.LittleEndian.PutUint16(buf[2:4], p.Handle)
		buf[4] = p.ErrorCode
		return buf, nil

	case *WriteRequest:
		return encodeHandleValue(OpWriteRequest, p.Handle, p.Value), nil

	case *WriteResponse:
		return []byte{OpWriteResponse}, nil

	case *HandleValueIndication:
		return encodeHandleValue(OpHandleValueIndication, p.Handle, p.Value), nil

	case *HandleValueConfirmation:
		return []byte{OpHandleValueConfirmation}, nil

	default:
		return nil, fmt.Errorf("att: unknown packet type %T", pkt)
	}
}

func decodeHandleValue(name string, data []byte) (uint16, []byte, error) {
	if len(data) < 3 {
		return 0, nil, fmt.Errorf("att: %s too short", name)
	}
	return binary.LittleEndian.Uint16(data[1:3]), append([]byte{}, data[3:]...), nil
}

// DecodePacket decodes binary data into an ATT packet
func DecodePacket(data []byte) (interface{}, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("att: packet too short (need at least 1 byte)")
	}

	opcode := data[0]

	switch opcode {
	case OpExchangeMTURequest:
		if len(data) < 3 {
			return nil, fmt.Errorf("att: ExchangeMTURequest too short")
		}
		return &ExchangeMTURequest{
			ClientRxMTU: binary.LittleEndian.Uint16(data[1:3]),
		}, nil

	case OpExchangeMTUResponse:
		if len(data) < 3 {
			return nil, fmt.Errorf("att: ExchangeMTUResponse too short")
		}
		return &ExchangeMTUResponse{
			ServerRxMTU: binary.LittleEndian.Uint16(data[1:3]),
		}, nil

	case OpErrorResponse:
		if len(data) < 5 {
			return nil, fmt.Errorf("att: ErrorResponse too short")
		}
		return &ErrorResponse{
			RequestOpcode: data[1],
			Handle:        binary.LittleEndian.Uint16(data[2:4]),
			ErrorCode:     data[4],
		}, nil

	case OpWriteRequest:
		handle, value, err := decodeHandleValue("WriteRequest", data)
		if err != nil {
			return nil, err
		}
		return &WriteRequest{Handle: handle, Value: value}, nil

	case OpWriteResponse:
		return &WriteResponse{}, nil

	case OpWriteCommand:
		handle, value, err := decodeHandleValue("WriteCommand", data)
		if err != nil {
			return nil, err
		}
		return &WriteCommand{Handle: handle, Value: value}, nil

	case OpHandleValueNotification:
		handle, value, err := decodeHandleValue("HandleValueNotification", data)
		if err != nil {
			return nil, err
		}
		return &HandleValueNotification{Handle: handle, Value: value}, nil

	case OpHandleValueIndication:
		handle, value, err := decodeHandleValue("HandleValueIndication", data)
		if err != nil {
			return nil, err
		}
		return &HandleValueIndication{Handle: handle, Value: value}, nil

	case OpHandleValueConfirmation:
		return &HandleValueConfirmation{}, nil

	default:
		return nil, fmt.Errorf("att: unknown opcode 0x%02X", opcode)
	}
}
